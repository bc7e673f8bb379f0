package queue

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Lane is an independent queue partition with its own workers and retry policy.
type Lane uint8

const (
	LaneUnknown Lane = iota
	LaneTrade
	LaneAnalysis
	LaneMonitor
)

var laneNames = map[Lane]string{
	LaneTrade:    "trade",
	LaneAnalysis: "analysis",
	LaneMonitor:  "monitor",
}

// Lanes lists every lane in a stable order.
func Lanes() []Lane { return []Lane{LaneTrade, LaneAnalysis, LaneMonitor} }

func (l Lane) String() string {
	if s, ok := laneNames[l]; ok {
		return s
	}
	return fmt.Sprintf("lane(%d)", uint8(l))
}

func (l Lane) Valid() bool {
	_, ok := laneNames[l]
	return ok
}

func ParseLane(s string) (Lane, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range laneNames {
		if name == s {
			return l, nil
		}
	}
	return LaneUnknown, fmt.Errorf("%w: %q", ErrUnknownLane, s)
}

func (l Lane) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLane, uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *Lane) UnmarshalText(b []byte) error {
	v, err := ParseLane(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// State is the job lifecycle. Succeeded, failed and exhausted are terminal.
type State uint8

const (
	StateUnknown State = iota
	StateQueued
	StateRunning
	StateSucceeded
	StateFailed
	StateExhausted
)

var stateNames = map[State]string{
	StateQueued:    "queued",
	StateRunning:   "running",
	StateSucceeded: "succeeded",
	StateFailed:    "failed",
	StateExhausted: "exhausted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateExhausted
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", string(b))
}

// BackoffKind selects how the retry delay grows with the attempt number.
type BackoffKind uint8

const (
	BackoffFixed BackoffKind = iota
	BackoffExponential
)

func (k BackoffKind) String() string {
	if k == BackoffExponential {
		return "exponential"
	}
	return "fixed"
}

func ParseBackoffKind(s string) (BackoffKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return BackoffFixed, nil
	case "exponential":
		return BackoffExponential, nil
	}
	return BackoffFixed, fmt.Errorf("%w: unknown backoff %q", ErrInvalidJob, s)
}

func (k BackoffKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *BackoffKind) UnmarshalText(b []byte) error {
	v, err := ParseBackoffKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// BackoffPolicy maps a failed attempt to the delay before the next one.
type BackoffPolicy struct {
	Kind BackoffKind   `json:"kind" yaml:"kind"`
	Base time.Duration `json:"base" yaml:"base"`
	Max  time.Duration `json:"max,omitempty" yaml:"max"` // 0 means uncapped
}

// Delay returns base for fixed policies and base*2^attempt for exponential ones.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	if p.Kind == BackoffExponential {
		for i := 0; i < attempt; i++ {
			if d > math.MaxInt64/2 {
				d = math.MaxInt64
				break
			}
			d *= 2
			if p.Max > 0 && d >= p.Max {
				break
			}
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

func (p BackoffPolicy) validate() error {
	if p.Kind != BackoffFixed && p.Kind != BackoffExponential {
		return fmt.Errorf("%w: unknown backoff kind", ErrInvalidJob)
	}
	if p.Base < 0 || p.Max < 0 {
		return fmt.Errorf("%w: negative backoff delay", ErrInvalidJob)
	}
	return nil
}

// Job is a point-in-time snapshot of a queued unit of work.
// Attempt is the 0-based index of the current (or next) delivery.
type Job struct {
	ID             string        `json:"id"`
	Lane           Lane          `json:"lane"`
	Payload        any           `json:"payload"`
	Priority       int           `json:"priority"`
	Attempt        int           `json:"attempt"`
	MaxAttempts    int           `json:"maxAttempts"`
	Backoff        BackoffPolicy `json:"backoff"`
	State          State         `json:"state"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	EnqueuedAt     time.Time     `json:"enqueuedAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	NextRunAt      time.Time     `json:"nextRunAt,omitempty"`
	LastError      string        `json:"lastError,omitempty"`
}

// Handler processes jobs of one lane.
type Handler interface {
	// Name identifies the handler in logs.
	Name() string

	// Lane returns the lane whose jobs the handler consumes.
	Lane() Lane

	// Handle processes one delivery. ctx expires with the delivery's lease.
	// Wrap an error with Permanent to fail the job without retrying.
	Handle(ctx context.Context, job Job) error
}

type funcHandler struct {
	name string
	lane Lane
	fn   func(context.Context, Job) error
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Lane() Lane { return h.lane }

func (h funcHandler) Handle(ctx context.Context, job Job) error { return h.fn(ctx, job) }

// HandlerFunc adapts a function to Handler.
func HandlerFunc(name string, lane Lane, fn func(context.Context, Job) error) Handler {
	return funcHandler{name: name, lane: lane, fn: fn}
}

// EnqueueOptions describes a job to admit. Zero MaxAttempts and nil Backoff
// take the lane defaults.
type EnqueueOptions struct {
	Payload        any
	Priority       int
	MaxAttempts    int
	Backoff        *BackoffPolicy
	IdempotencyKey string
}

// Counts is a consistent snapshot of a lane's job states.
type Counts struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Exhausted int64 `json:"exhausted"`
}

func (c *Counts) add(s State, delta int64) {
	switch s {
	case StateQueued:
		c.Queued += delta
	case StateRunning:
		c.Running += delta
	case StateSucceeded:
		c.Succeeded += delta
	case StateFailed:
		c.Failed += delta
	case StateExhausted:
		c.Exhausted += delta
	}
}

// Status is the aggregate health of all lanes.
type Status struct {
	Running   bool            `json:"running"`
	StartedAt time.Time       `json:"startedAt"`
	Uptime    time.Duration   `json:"uptime"`
	Lanes     map[Lane]Counts `json:"lanes"`
}
