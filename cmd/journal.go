package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/trackpilot/app"
	"github.com/kilianp07/trackpilot/core/autopilot/journal"
)

var (
	journalLocomotive string
	journalKind       string
	journalSince      time.Duration
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print journal records",
	RunE:  printJournal,
}

func init() {
	journalCmd.Flags().StringVar(&journalLocomotive, "locomotive", "", "only records of this locomotive")
	journalCmd.Flags().StringVar(&journalKind, "kind", "", "only records of this kind (leg, ghost, reset)")
	journalCmd.Flags().DurationVar(&journalSince, "since", 0, "only records newer than this duration")
	rootCmd.AddCommand(journalCmd)
}

func printJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := app.OpenJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()

	q := journal.Query{LocomotiveID: journalLocomotive, Kind: journal.Kind(journalKind)}
	if journalSince > 0 {
		q.Start = time.Now().Add(-journalSince)
	}
	recs, err := store.Query(context.Background(), q)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tLOCOMOTIVE\tROUTE\tFROM\tTO\tSENSOR\tDURATION")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Format(time.RFC3339), r.Kind, r.LocomotiveID, r.RouteID,
			r.FromBlockID, r.ToBlockID, r.SensorID, time.Duration(r.DurationMS)*time.Millisecond)
	}
	return w.Flush()
}
