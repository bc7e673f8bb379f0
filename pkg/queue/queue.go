package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidJob   = errors.New("invalid job")
	ErrUnknownLane  = errors.New("unknown lane")
	ErrJobNotFound  = errors.New("job not found")
	ErrNotRunning   = errors.New("queue not running")
	ErrLeaseExpired = errors.New("job lease expired")

	// ErrLeaseLost is returned when completing a delivery whose lease was
	// already reclaimed. The job's outcome is owned by a later delivery.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrJobExhausted is the final error of a job that failed maxAttempts times.
	ErrJobExhausted = errors.New("job retries exhausted")

	// ErrJobFailed is the final error of a job that failed permanently.
	ErrJobFailed = errors.New("job failed")
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job ends in StateFailed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Handle tracks an admitted job until it reaches a terminal state.
type Handle struct {
	ID   string
	Lane Lane
	e    *entry
}

// Done is closed once the job is terminal.
func (h *Handle) Done() <-chan struct{} { return h.e.done }

// Wait blocks until the job is terminal or ctx ends. The error is nil for
// succeeded jobs and wraps ErrJobExhausted or ErrJobFailed otherwise.
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	select {
	case <-h.e.done:
		return h.e.final, h.e.err
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// ParsePayload decodes a job payload into T. Payloads built in-process are
// returned as is; payloads decoded from JSON are round-tripped.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("%w: payload type %T", ErrInvalidJob, payload)
	}
}
