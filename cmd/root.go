package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/trackpilot/app"
	"github.com/kilianp07/trackpilot/config"
	"github.com/kilianp07/trackpilot/infra/logger"
)

var (
	cfgPath   string
	logLevel  string
	autostart bool
)

var rootCmd = &cobra.Command{
	Use:   "trackpilot",
	Short: "Drive model railway locomotives from block to block automatically",
	Long: `trackpilot locks routes, sets turnouts and drives every locomotive on
track from block to block using occupancy sensor feedback. Power is cut as
soon as a sensor fires where no locomotive is expected.`,
	RunE:         serve,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file (yaml or json)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override log_level")
	rootCmd.Flags().BoolVar(&autostart, "autostart", false, "start automode for every locomotive on boot")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.LogLevel = logLevel
	}
	if f := cmd.Flags().Lookup("autostart"); f != nil && f.Changed {
		cfg.AutoPilot.StartOnBoot = autostart
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New(logger.ComponentCLI).Errorf("shutdown: %v", err)
		}
	}()
	return svc.Run(ctx)
}
