// Package reconciler computes and applies the minimal set of create and
// update operations needed to make a Dataverse environment's variable
// values match a desired mapping.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/almops/envsync/internal/dataverse"
)

// RemoteStore is the surface of the Dataverse client the variable
// reconciler needs. The store owns variable definitions; this package only
// reads them and never creates or deletes anything but value records.
type RemoteStore interface {
	ListDefinitions(ctx context.Context) ([]dataverse.Definition, error)
	ListValues(ctx context.Context, definitionID string) ([]dataverse.Value, error)
	CreateValue(ctx context.Context, definitionID, value string) (*dataverse.Value, error)
	UpdateValue(ctx context.Context, valueID, value string) error
}

// Options control a reconciliation run.
type Options struct {
	// DryRun classifies every key without issuing any write. Created and
	// Updated outcomes then mean "would create" and "would update".
	DryRun bool
}

// Reconcile diffs the desired mapping against the environment and applies
// creates and updates so the remote values match. Keys are processed in
// sorted order; operations on distinct definitions are independent, so
// order affects only log and report ordering.
//
// Per-key failures (missing definition, remote error) are recorded in the
// report and do not stop the rest of the batch. The returned error is
// non-nil only when the initial definition listing fails, since nothing can
// be diffed without it.
//
// The operation is idempotent: a second run with the same desired mapping
// and no external change classifies every key as Unchanged.
func Reconcile(ctx context.Context, desired map[string]string, store RemoteStore, opts Options) (Report, error) {
	start := time.Now()

	definitions, err := store.ListDefinitions(ctx)
	if err != nil {
		recordRun(targetVariables, "error", time.Since(start).Seconds())
		return Report{}, fmt.Errorf("failed to list variable definitions: %w", err)
	}

	byName := make(map[string]string, len(definitions))
	for _, def := range definitions {
		byName[def.SchemaName] = def.ID
	}

	slog.Info("reconciling environment variables",
		"desired", len(desired),
		"definitions", len(definitions),
		"dry_run", opts.DryRun)

	report := Report{}
	keys := make([]string, 0, len(desired))
	for key := range desired {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		outcome := reconcileKey(ctx, store, byName, key, desired[key], opts.DryRun)
		recordOutcome(targetVariables, outcome.Kind)
		report = report.add(outcome)
	}

	status := "success"
	if !report.Succeeded() {
		status = "error"
	}
	recordRun(targetVariables, status, time.Since(start).Seconds())

	slog.Info("reconciliation finished",
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"duration", time.Since(start))

	return report, nil
}

// reconcileKey classifies and applies one key. Remote errors are captured
// in the outcome, never propagated, so one bad key cannot hide the result
// of the others.
func reconcileKey(ctx context.Context, store RemoteStore, byName map[string]string, key, desiredValue string, dryRun bool) Outcome {
	definitionID, ok := byName[key]
	if !ok {
		slog.Warn("no definition for desired variable", "schema_name", key)
		return Outcome{
			Key:     key,
			Kind:    DefinitionNotFound,
			Message: "no environment variable definition with this schema name",
		}
	}

	values, err := store.ListValues(ctx, definitionID)
	if err != nil {
		slog.Warn("failed to fetch current value", "schema_name", key, "error", err)
		return Outcome{Key: key, Kind: RemoteError, Message: err.Error()}
	}

	if len(values) == 0 {
		if !dryRun {
			if _, err := store.CreateValue(ctx, definitionID, desiredValue); err != nil {
				slog.Warn("failed to create value", "schema_name", key, "error", err)
				return Outcome{Key: key, Kind: RemoteError, Message: err.Error()}
			}
		}
		slog.Info("value created", "schema_name", key, "dry_run", dryRun)
		return Outcome{Key: key, Kind: Created}
	}

	// Dataverse enforces at most one value per definition per environment;
	// tolerate duplicates by using the first record only.
	current := values[0]

	if current.Value == desiredValue {
		slog.Debug("value already matches", "schema_name", key)
		return Outcome{Key: key, Kind: Unchanged}
	}

	if !dryRun {
		if err := store.UpdateValue(ctx, current.ID, desiredValue); err != nil {
			slog.Warn("failed to update value", "schema_name", key, "error", err)
			return Outcome{Key: key, Kind: RemoteError, Message: err.Error()}
		}
	}
	slog.Info("value updated", "schema_name", key, "dry_run", dryRun)
	return Outcome{Key: key, Kind: Updated}
}
