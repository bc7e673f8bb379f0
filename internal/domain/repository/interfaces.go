package repository

import (
	"context"

	"FinFuse/internal/domain/models"
)

// SignalFilter narrows List. Zero values match everything.
type SignalFilter struct {
	Symbol string
	Status models.Status
	Source models.Source
	Limit  int
}

// SignalStore is the single source of truth for signal state. Every write is
// conditioned on the version the caller read.
type SignalStore interface {
	Create(ctx context.Context, s *models.Signal) error
	Get(ctx context.Context, id string) (*models.Signal, error)

	// Transition moves a pending signal to a terminal status. It fails with
	// ErrStaleSignalState on a version mismatch and ErrInvalidTransition when
	// the stored status is terminal.
	Transition(ctx context.Context, id string, expectedVersion uint64, to models.Status, meta map[string]any) (*models.Signal, error)

	// AttachJob records the id of the job spawned for a pending signal.
	AttachJob(ctx context.Context, id string, expectedVersion uint64, jobID string) (*models.Signal, error)

	// LatestPending returns the newest pending non-composite signal per source.
	LatestPending(ctx context.Context, symbol string) ([]*models.Signal, error)
	ListPending(ctx context.Context) ([]*models.Signal, error)
	List(ctx context.Context, f SignalFilter) ([]*models.Signal, error)
	Close() error
}

// SignalArchive is the append-only audit trail. Failures never fail the caller.
type SignalArchive interface {
	Init(ctx context.Context) error
	AppendSignal(ctx context.Context, ev models.SignalEvent) error
	AppendFusion(ctx context.Context, r *models.FusionResult) error
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher fans domain events out to the message bus.
type EventPublisher interface {
	PublishSignalEvent(ctx context.Context, ev models.SignalEvent) error
	PublishJobEvent(ctx context.Context, ev models.JobEvent) error
	PublishStatus(ctx context.Context, ev models.StatusEvent) error
	Close() error
}

// ExecutionAdapter performs the real-world trade for an admitted job. The
// outcome arrives later through OutcomeReporter.
type ExecutionAdapter interface {
	Name() string
	Submit(ctx context.Context, order models.TradeOrder) error
	Close() error
}

// OutcomeReporter accepts execution outcomes from adapters.
type OutcomeReporter interface {
	ReportJobOutcome(ctx context.Context, outcome models.JobOutcome) error
}

// ModelClient asks an out-of-process model for its opinion on a symbol.
type ModelClient interface {
	Analyze(ctx context.Context, symbol string, source models.Source, tf models.Timeframe) (*models.SubmitSignalRequest, error)
}

// SignalFeed streams signals pushed by an upstream producer.
type SignalFeed interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.SubmitSignalRequest, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordSignal(source, action string)
	RecordTransition(from, to string)
	RecordFusion(symbol, action string, confidence float64)
	RecordDispatch(outcome string)
	RecordJob(lane, state string)
	RecordLaneCounts(lane string, c models.LaneCounts)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
