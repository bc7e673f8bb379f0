package models

import "time"

// Signal event kinds published to the bus and archived.
const (
	SignalEventCreated    = "created"
	SignalEventComposite  = "composite"
	SignalEventTransition = "transition"
	SignalEventJob        = "job_attached"
)

// SignalEvent is one stored version of a signal with the reason it was written.
type SignalEvent struct {
	Event  string    `json:"event"`
	Signal *Signal   `json:"signal"`
	At     time.Time `json:"at"`
}

// JobEvent reports a job reaching a terminal state.
type JobEvent struct {
	JobID       string    `json:"jobId"`
	Lane        string    `json:"lane"`
	State       string    `json:"state"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	SignalID    string    `json:"signalId,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// LaneCounts mirrors the queue's per-lane snapshot for reporting.
type LaneCounts struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Exhausted int64 `json:"exhausted"`
}

// StatusEvent is the periodic health snapshot emitted by the monitor lane.
type StatusEvent struct {
	Uptime         time.Duration         `json:"uptime"`
	Lanes          map[string]LaneCounts `json:"lanes"`
	PendingSignals int                   `json:"pendingSignals"`
	At             time.Time             `json:"at"`
}
