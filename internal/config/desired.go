package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DesiredState maps environment variable schema names to the values they
// should hold in the target environment.
type DesiredState map[string]string

// LoadDesiredState reads and parses a desired-state file.
func LoadDesiredState(path string) (DesiredState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open desired state file: %w", err)
	}
	defer func() { _ = f.Close() }()

	state, err := ParseDesiredState(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return state, nil
}

// ParseDesiredState parses a flat JSON object mapping schema names to string
// values. Anything else is rejected at parse time: nested objects, arrays,
// numbers, booleans, nulls, and duplicate keys. No value is ever coerced to
// a string. An empty object is legal.
func ParseDesiredState(r io.Reader) (DesiredState, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid desired state: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("invalid desired state: expected a JSON object, got %v", tok)
	}

	state := DesiredState{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid desired state: %w", err)
		}
		key := keyTok.(string)

		if _, exists := state[key]; exists {
			return nil, fmt.Errorf("invalid desired state: duplicate key %q", key)
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid desired state: %w", err)
		}
		value, ok := valTok.(string)
		if !ok {
			return nil, fmt.Errorf("invalid desired state: value for %q must be a string, got %s", key, describeToken(valTok))
		}

		state[key] = value
	}

	// Consume the closing brace and make sure nothing trails the object.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid desired state: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid desired state: trailing data after object")
	}

	return state, nil
}

// describeToken names a JSON token type for error messages.
func describeToken(tok json.Token) string {
	switch v := tok.(type) {
	case json.Delim:
		if v == '{' {
			return "an object"
		}
		return "an array"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", tok)
	}
}
