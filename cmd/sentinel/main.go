package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sentinel-run/sentinel/pkg/app"
	"github.com/sentinel-run/sentinel/pkg/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel - in-process runtime safety monitor",
		Long: `Sentinel watches a process for resource exhaustion, deadlocked task
dependencies and memory leaks, and runs scheduled jobs with bounded
concurrency, exponential-backoff retries and a dead-letter list.

It runs until interrupted (SIGINT/SIGTERM), then shuts the scheduler
down gracefully.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSentinel(cmd.Context(), configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML configuration file (defaults apply when omitted)")

	return cmd
}

// runSentinel loads the configuration, builds the component graph and
// blocks until the process receives an interrupt.
func runSentinel(parent context.Context, configFile string) error {
	manager := config.NewManager()
	if err := manager.Load(configFile); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := manager.Get()

	logger := config.NewLogger(cfg.Log)

	a, err := app.New(app.Options{
		Config:     cfg,
		ConfigPath: configFile,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("config", configFile).Msg("Sentinel starting")
	return a.Run(ctx)
}
