package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/almops/envsync/internal/config"
	"github.com/almops/envsync/internal/reconciler"
)

// newVariablesCmd builds the `envsync variables` command.
func newVariablesCmd() *cobra.Command {
	var (
		file        string
		dryRun      bool
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "variables",
		Short: "Reconcile environment variable values against a desired-state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := runContext(cmd)

			store, err := connect(ctx)
			if err != nil {
				return err
			}

			runOnce := func(ctx context.Context) (reconciler.Report, error) {
				desired, err := config.LoadDesiredState(file)
				if err != nil {
					return reconciler.Report{}, err
				}
				return reconciler.Reconcile(ctx, desired, store, reconciler.Options{DryRun: dryRun})
			}

			if !watch {
				report, err := runOnce(ctx)
				if err != nil {
					return err
				}
				return finish(report)
			}

			return watchLoop(ctx, file, metricsAddr, runOnce)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "desired-state JSON file (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify every key without writing anything")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-reconcile when the file changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address in watch mode (e.g. :9090)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// watchLoop reconciles once, then re-runs whenever the desired-state file
// changes, until interrupted. The exit status reflects the last run.
func watchLoop(ctx context.Context, file, metricsAddr string, runOnce func(context.Context) (reconciler.Report, error)) error {
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = server.Close() }()
		slog.Info("serving metrics", "addr", metricsAddr)
	}

	runs := make(chan struct{}, 1)
	trigger := func() {
		select {
		case runs <- struct{}{}:
		default: // a run is already queued
		}
	}

	watcher, err := config.NewWatcher(file, trigger)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	trigger() // initial run

	var lastErr error
	for {
		select {
		case sig := <-shutdown:
			slog.Info("shutdown signal received", "signal", sig)
			return lastErr
		case <-runs:
			report, err := runOnce(ctx)
			if err != nil {
				slog.Error("reconciliation run failed", "error", err)
				lastErr = err
				continue
			}
			if finishErr := finish(report); finishErr != nil {
				lastErr = fmt.Errorf("reconciliation failed: %w", finishErr)
			} else {
				lastErr = nil
			}
		}
	}
}
