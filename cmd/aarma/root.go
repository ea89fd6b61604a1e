package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parthCJ/Aarma-be/pkg/aarma"
)

var version = "dev"

const defaultConfigPath = "./data/config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aarma",
		Short: "Aarma sensor ingestion service",
		Long: `Aarma receives sensor batches over HTTP, MQTT or OPC UA, keeps only the
channels whose value changed significantly, and persists them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the configuration file")

	root.AddCommand(newRunCmd(), newValidateCmd(), newStatsCmd(), newMigrateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the ingestion runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			flow, err := aarma.Conf(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return flow.Run(ctx)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := aarma.LoadConfig(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s is valid (store=%s directory=%s threshold=%g registered_only=%t)\n",
				path, cfg.Store.Driver, cfg.Directory.Driver, cfg.Threshold(), cfg.RegisteredSensorsOnly())
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables the configured store and registry need",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := aarma.LoadConfig(path)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			touched, err := aarma.Migrate(ctx, cfg)
			if err != nil {
				return err
			}
			if len(touched) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "store %q needs no migration\n", cfg.Store.Driver)
				return nil
			}
			for _, t := range touched {
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", t)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall migration timeout")
	return cmd
}
