package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition is returned for a transition out of a terminal state
	// or along an edge the state machine does not define. Callers must not retry.
	ErrInvalidTransition = errors.New("invalid signal transition")

	// ErrStaleSignalState means the signal changed between read and write.
	// Re-read the signal; if it is terminal, the transition is a no-op.
	ErrStaleSignalState = errors.New("stale signal state")

	// ErrInsufficientSignals marks a fusion with no eligible inputs.
	ErrInsufficientSignals = errors.New("insufficient signals")

	// ErrAdapterFailure is reported by the execution adapter. It consumes one attempt.
	ErrAdapterFailure = errors.New("execution adapter failure")

	ErrSignalNotFound     = errors.New("signal not found")
	ErrSignalNotPending   = errors.New("signal not pending")
	ErrDecisionInProgress = errors.New("decision already in progress")
	ErrNoPendingExecution = errors.New("no execution awaiting outcome")
	ErrBelowThreshold     = errors.New("confidence below dispatch threshold")
)

// ValidationError describes malformed Signal or Job input.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError carries the observed state of a rejected transition.
type TransitionError struct {
	SignalID string
	From     Status
	To       Status
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("signal %s: %s -> %s: %v", e.SignalID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }
