package breakpoint

import (
	"errors"
	"fmt"
)

// ErrUnknownBreakpoint marks an operation naming a breakpoint id the
// coordinator does not track. This is a coordination bug in the caller,
// not a transient condition, and is never retried.
var ErrUnknownBreakpoint = errors.New("unknown breakpoint id")

// ErrDuplicateBreakpoint marks an attempt to create a breakpoint under
// an id that is already registered.
var ErrDuplicateBreakpoint = errors.New("breakpoint id already registered")

// ErrInvalidConfig marks a kind/config combination that can never be
// installed (bad expression, non-positive count). Not retried.
var ErrInvalidConfig = errors.New("invalid breakpoint config")

// ErrCompleted marks an attempt to re-arm a breakpoint whose budget is
// permanently spent for its current generation.
var ErrCompleted = errors.New("breakpoint completed; allocate a new id to reuse")

// AssignmentError reports that a worker could not be covered by a
// breakpoint after the full retry budget. The job must not be left with
// silently partial coverage, so this always surfaces to the controller.
type AssignmentError struct {
	Worker       WorkerID
	BreakpointID string
	Err          error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("assign breakpoint %q to worker %q: %v", e.BreakpointID, e.Worker, e.Err)
}

func (e *AssignmentError) Unwrap() error {
	return e.Err
}
