// Package cli wires the envsync commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/almops/envsync/internal/auth"
	"github.com/almops/envsync/internal/config"
	"github.com/almops/envsync/internal/dataverse"
	"github.com/almops/envsync/internal/logging"
	"github.com/almops/envsync/internal/reconciler"
)

// New builds the root envsync command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envsync",
		Short: "Reconcile Power Platform environment configuration",
		Long: `envsync reconciles a Dataverse environment against desired state:
it sets environment variable values from a flat JSON file and activates the
cloud flows contained in a solution. Runs are idempotent and never delete
anything.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newVariablesCmd())
	cmd.AddCommand(newFlowsCmd())

	return cmd
}

// connect loads configuration, acquires a token, and builds the Dataverse
// client. Token acquisition is verified eagerly so an authentication
// failure aborts before any per-key processing.
func connect(ctx context.Context) (*dataverse.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	source, err := auth.NewTokenSource(ctx, &auth.Config{
		TenantID:       cfg.TenantID,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		EnvironmentURL: cfg.EnvironmentURL,
	})
	if err != nil {
		return nil, err
	}

	if err := auth.Verify(source); err != nil {
		return nil, err
	}

	return dataverse.NewClient(&dataverse.Config{
		EnvironmentURL: cfg.EnvironmentURL,
		TokenSource:    source,
		RequestTimeout: cfg.RequestTimeout,
	})
}

// runContext tags the command context with a fresh run ID so every log line
// of one run is correlated.
func runContext(cmd *cobra.Command) context.Context {
	return logging.WithRunID(cmd.Context(), logging.GenerateRunID())
}

// finish logs the report and converts per-key failures into a command
// error, so the process exits non-zero whenever any key failed.
func finish(report reconciler.Report) error {
	for _, failure := range report.Failures() {
		slog.Error("reconciliation failure",
			"key", failure.Key,
			"kind", failure.Kind,
			"message", failure.Message)
	}

	if !report.Succeeded() {
		return fmt.Errorf("%d of %d entries failed", report.Failed, len(report.Outcomes))
	}
	return nil
}
