package dataverse

// Definition identifies an environment variable definition in the remote
// environment. Definitions are created by solution import and are only ever
// read by this tool.
type Definition struct {
	ID          string `json:"environmentvariabledefinitionid"`
	SchemaName  string `json:"schemaname"`
	DisplayName string `json:"displayname"`
}

// Value is the per-environment binding of data to a definition. At most one
// value record exists per definition in an environment; Dataverse enforces
// this, but callers should use only the first record if duplicates appear.
type Value struct {
	ID           string `json:"environmentvariablevalueid"`
	DefinitionID string `json:"_environmentvariabledefinitionid_value"`
	Value        string `json:"value"`
}

// Solution is the subset of a solution record needed to enumerate its
// components.
type Solution struct {
	ID           string `json:"solutionid"`
	UniqueName   string `json:"uniquename"`
	FriendlyName string `json:"friendlyname"`
}

// Workflow state codes used by the flow activation path.
const (
	WorkflowStateDraft     = 0
	WorkflowStateActivated = 1

	WorkflowStatusDraft     = 1
	WorkflowStatusActivated = 2

	// CategoryModernFlow marks a workflow record as a cloud flow.
	CategoryModernFlow = 5
)

// Flow is a cloud flow (workflow record with category 5) belonging to a
// solution.
type Flow struct {
	ID        string `json:"workflowid"`
	Name      string `json:"name"`
	StateCode int    `json:"statecode"`
	Category  int    `json:"category"`
}

// listResponse is the OData collection envelope.
type listResponse[T any] struct {
	Value []T `json:"value"`
}
