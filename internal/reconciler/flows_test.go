package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almops/envsync/internal/dataverse"
)

// MockFlowStore implements FlowStore with overridable behavior.
type MockFlowStore struct {
	GetSolutionByNameFunc func(ctx context.Context, uniqueName string) (*dataverse.Solution, error)
	ListSolutionFlowsFunc func(ctx context.Context, solutionID string) ([]dataverse.Flow, error)
	SetFlowStateFunc      func(ctx context.Context, flowID string, state, status int) error

	activations []string // flow IDs passed to SetFlowState
}

func (m *MockFlowStore) GetSolutionByName(ctx context.Context, uniqueName string) (*dataverse.Solution, error) {
	if m.GetSolutionByNameFunc != nil {
		return m.GetSolutionByNameFunc(ctx, uniqueName)
	}
	return &dataverse.Solution{ID: "sol-1", UniqueName: uniqueName}, nil
}

func (m *MockFlowStore) ListSolutionFlows(ctx context.Context, solutionID string) ([]dataverse.Flow, error) {
	if m.ListSolutionFlowsFunc != nil {
		return m.ListSolutionFlowsFunc(ctx, solutionID)
	}
	return nil, nil
}

func (m *MockFlowStore) SetFlowState(ctx context.Context, flowID string, state, status int) error {
	m.activations = append(m.activations, flowID)
	if m.SetFlowStateFunc != nil {
		return m.SetFlowStateFunc(ctx, flowID, state, status)
	}
	return nil
}

// TestActivateFlows_ActivatesDraftFlows checks that draft flows are turned
// on and already-active flows are left alone.
func TestActivateFlows_ActivatesDraftFlows(t *testing.T) {
	store := &MockFlowStore{
		ListSolutionFlowsFunc: func(ctx context.Context, solutionID string) ([]dataverse.Flow, error) {
			return []dataverse.Flow{
				{ID: "flow-1", Name: "Send welcome mail", StateCode: dataverse.WorkflowStateDraft, Category: 5},
				{ID: "flow-2", Name: "Sync contacts", StateCode: dataverse.WorkflowStateActivated, Category: 5},
			}, nil
		},
	}

	report, err := ActivateFlows(context.Background(), "uat_core", store, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, []string{"flow-1"}, store.activations)
	assert.True(t, report.Succeeded())
}

// TestActivateFlows_UnknownSolutionIsFatal verifies that a missing solution
// aborts the run before any flow is touched.
func TestActivateFlows_UnknownSolutionIsFatal(t *testing.T) {
	store := &MockFlowStore{
		GetSolutionByNameFunc: func(ctx context.Context, uniqueName string) (*dataverse.Solution, error) {
			return nil, nil
		},
	}

	_, err := ActivateFlows(context.Background(), "nope", store, Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Empty(t, store.activations)
}

// TestActivateFlows_PerFlowFailureContinues checks that one failed
// activation does not stop the remaining flows.
func TestActivateFlows_PerFlowFailureContinues(t *testing.T) {
	store := &MockFlowStore{
		ListSolutionFlowsFunc: func(ctx context.Context, solutionID string) ([]dataverse.Flow, error) {
			return []dataverse.Flow{
				{ID: "flow-1", Name: "Broken flow", StateCode: dataverse.WorkflowStateDraft, Category: 5},
				{ID: "flow-2", Name: "Good flow", StateCode: dataverse.WorkflowStateDraft, Category: 5},
			}, nil
		},
		SetFlowStateFunc: func(ctx context.Context, flowID string, state, status int) error {
			if flowID == "flow-1" {
				return &dataverse.RemoteError{Op: "set flow state", StatusCode: 400, Body: "connection references missing"}
			}
			return nil
		},
	}

	report, err := ActivateFlows(context.Background(), "uat_core", store, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Succeeded())

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "Broken flow", failures[0].Key)
	assert.Equal(t, RemoteError, failures[0].Kind)
}

// TestActivateFlows_DryRun verifies dry-run reports activations without
// issuing state changes.
func TestActivateFlows_DryRun(t *testing.T) {
	store := &MockFlowStore{
		ListSolutionFlowsFunc: func(ctx context.Context, solutionID string) ([]dataverse.Flow, error) {
			return []dataverse.Flow{
				{ID: "flow-1", Name: "Draft flow", StateCode: dataverse.WorkflowStateDraft, Category: 5},
			}, nil
		},
	}

	report, err := ActivateFlows(context.Background(), "uat_core", store, Options{DryRun: true})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Empty(t, store.activations)
}
