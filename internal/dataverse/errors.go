package dataverse

import (
	"errors"
	"fmt"
)

// RemoteError is returned for any non-2xx response or transport failure
// against the Dataverse Web API. StatusCode is zero when the request never
// produced a response.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error returns a formatted description of the failed remote call.
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying transport error, if any.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is worth retrying: transport
// failures, throttling, and server-side errors.
func (e *RemoteError) IsTransient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// isRetryableError reports whether err is a transient RemoteError.
func isRetryableError(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.IsTransient()
	}
	return false
}
