package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilianp07/trackpilot/app"
	corelayout "github.com/kilianp07/trackpilot/core/layout"
)

var layoutJSON bool

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Inspect the configured layout",
}

var layoutCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report dangling routes, dead ends and loops of the layout",
	RunE:  checkLayout,
}

func init() {
	layoutCheckCmd.Flags().BoolVar(&layoutJSON, "json", false, "print the report as JSON")
	layoutCmd.AddCommand(layoutCheckCmd)
	rootCmd.AddCommand(layoutCmd)
}

func checkLayout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := app.OpenLayout(cfg.Layout)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	blocks, err := store.Blocks()
	if err != nil {
		return err
	}
	routes, err := store.Routes()
	if err != nil {
		return err
	}
	rep := corelayout.Analyze(blocks, routes)
	if err := printReport(cmd.OutOrStdout(), rep, layoutJSON); err != nil {
		return err
	}
	if !rep.Healthy() {
		return errors.New("layout has problems")
	}
	return nil
}

func printReport(w io.Writer, rep corelayout.TopologyReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(w, "blocks: %d\nroutes: %d\n", rep.Blocks, rep.Routes)
	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "%s:\n", name)
		for _, it := range items {
			fmt.Fprintf(w, "  %s\n", it)
		}
	}
	section("dangling routes", rep.DanglingRoutes)
	section("dead ends", rep.DeadEnds)
	section("unreachable", rep.Unreachable)
	for i, loop := range rep.Loops {
		fmt.Fprintf(w, "loop %d: %v\n", i+1, loop)
	}
	return nil
}
