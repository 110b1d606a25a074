package reconciler

import "fmt"

// Kind classifies the outcome of reconciling one key.
type Kind string

const (
	// Created means a new value record was bound to the definition.
	Created Kind = "created"
	// Updated means an existing value record was changed.
	Updated Kind = "updated"
	// Unchanged means the remote value already matched; no call was issued.
	Unchanged Kind = "unchanged"
	// DefinitionNotFound means the desired key has no remote definition.
	DefinitionNotFound Kind = "definition_not_found"
	// RemoteError means a fetch, create, or update call failed for this key.
	RemoteError Kind = "remote_error"
)

// Outcome records what happened to a single key.
type Outcome struct {
	Key     string
	Kind    Kind
	Message string // populated for failures
}

// Failed reports whether this outcome counts as a failure.
func (o Outcome) Failed() bool {
	return o.Kind == DefinitionNotFound || o.Kind == RemoteError
}

// String renders the outcome for diagnostic output.
func (o Outcome) String() string {
	if o.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", o.Key, o.Kind, o.Message)
	}
	return fmt.Sprintf("%s: %s", o.Key, o.Kind)
}

// Report is the result of one reconciliation run. It is built by folding
// per-key outcomes and returned as a value; nothing mutates it after the
// run completes.
type Report struct {
	Outcomes []Outcome

	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

// Succeeded reports whether the run completed without any per-key failure.
// A failed run must map to a non-zero process exit.
func (r Report) Succeeded() bool {
	return r.Failed == 0
}

// Failures returns the failing outcomes in run order.
func (r Report) Failures() []Outcome {
	var failures []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failures = append(failures, o)
		}
	}
	return failures
}

// add folds one outcome into the report.
func (r Report) add(o Outcome) Report {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case Created:
		r.Created++
	case Updated:
		r.Updated++
	case Unchanged:
		r.Unchanged++
	default:
		r.Failed++
	}
	return r
}
