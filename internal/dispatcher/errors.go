package dispatcher

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput means the content was empty after sanitization; no
	// backend was contacted and no statistics changed.
	ErrInvalidInput = errors.New("content is empty")

	// ErrNoAvailableBackend means every configured instance is excluded
	// from selection.
	ErrNoAvailableBackend = errors.New("no available backend")
)

// BackendError attributes a failed inference call to the instance that
// served it. The dispatcher performs no failover; the caller decides
// whether to resubmit.
type BackendError struct {
	Endpoint string
	Model    string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s (%s): %v", e.Endpoint, e.Model, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
