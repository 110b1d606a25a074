package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/almops/envsync/internal/dataverse"
)

// FlowStore is the surface of the Dataverse client needed to activate the
// cloud flows in a solution.
type FlowStore interface {
	GetSolutionByName(ctx context.Context, uniqueName string) (*dataverse.Solution, error)
	ListSolutionFlows(ctx context.Context, solutionID string) ([]dataverse.Flow, error)
	SetFlowState(ctx context.Context, flowID string, state, status int) error
}

// ActivateFlows turns on every cloud flow in the named solution. Flows that
// are already activated are left alone and reported as Unchanged; flows
// switched from draft to activated are reported as Updated.
//
// Resolving the solution and enumerating its flows are run-level
// preconditions: if either fails, an error is returned and no per-flow
// processing happens. Per-flow activation failures are recorded in the
// report and do not stop the remaining flows.
func ActivateFlows(ctx context.Context, solutionName string, store FlowStore, opts Options) (Report, error) {
	start := time.Now()

	solution, err := store.GetSolutionByName(ctx, solutionName)
	if err != nil {
		recordRun(targetFlows, "error", time.Since(start).Seconds())
		return Report{}, fmt.Errorf("failed to resolve solution %q: %w", solutionName, err)
	}
	if solution == nil {
		recordRun(targetFlows, "error", time.Since(start).Seconds())
		return Report{}, fmt.Errorf("no solution with unique name %q", solutionName)
	}

	flows, err := store.ListSolutionFlows(ctx, solution.ID)
	if err != nil {
		recordRun(targetFlows, "error", time.Since(start).Seconds())
		return Report{}, fmt.Errorf("failed to list flows in solution %q: %w", solutionName, err)
	}

	slog.Info("activating cloud flows",
		"solution", solutionName,
		"flows", len(flows),
		"dry_run", opts.DryRun)

	report := Report{}
	for _, flow := range flows {
		outcome := activateFlow(ctx, store, flow, opts.DryRun)
		recordOutcome(targetFlows, outcome.Kind)
		report = report.add(outcome)
	}

	status := "success"
	if !report.Succeeded() {
		status = "error"
	}
	recordRun(targetFlows, status, time.Since(start).Seconds())

	slog.Info("flow activation finished",
		"solution", solutionName,
		"activated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"duration", time.Since(start))

	return report, nil
}

// activateFlow transitions one flow to the activated state if needed.
func activateFlow(ctx context.Context, store FlowStore, flow dataverse.Flow, dryRun bool) Outcome {
	if flow.StateCode == dataverse.WorkflowStateActivated {
		slog.Debug("flow already activated", "flow", flow.Name)
		return Outcome{Key: flow.Name, Kind: Unchanged}
	}

	if !dryRun {
		err := store.SetFlowState(ctx, flow.ID, dataverse.WorkflowStateActivated, dataverse.WorkflowStatusActivated)
		if err != nil {
			slog.Warn("failed to activate flow", "flow", flow.Name, "error", err)
			return Outcome{Key: flow.Name, Kind: RemoteError, Message: err.Error()}
		}
	}
	slog.Info("flow activated", "flow", flow.Name, "dry_run", dryRun)
	return Outcome{Key: flow.Name, Kind: Updated}
}
