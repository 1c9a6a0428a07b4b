package render

import (
	"errors"
	"fmt"
)

// ErrInconsistentTreeState means the ChangeSet references state the tree
// cannot account for. The turn must fall back to a full render.
var ErrInconsistentTreeState = errors.New("render: inconsistent tree state")

// InconsistentError names the node that broke the diff.
type InconsistentError struct {
	ID     string
	Reason string
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInconsistentTreeState, e.ID, e.Reason)
}

func (e *InconsistentError) Unwrap() error { return ErrInconsistentTreeState }

func inconsistent(id, format string, args ...any) error {
	return &InconsistentError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
