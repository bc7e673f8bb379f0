package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/domain/repository"
)

// MemorySignalStore keeps the current version of every signal in process.
// Stored versions are never mutated; writers swap in a new version.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[string]*models.Signal
	now     func() time.Time
}

// MemoryStoreOption configures MemorySignalStore.
type MemoryStoreOption func(*MemorySignalStore)

// WithStoreClock overrides the time source for version timestamps.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemorySignalStore) { s.now = now }
}

func NewMemorySignalStore(opts ...MemoryStoreOption) *MemorySignalStore {
	s := &MemorySignalStore{
		signals: make(map[string]*models.Signal),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.SignalStore = (*MemorySignalStore)(nil)

func (s *MemorySignalStore) Create(ctx context.Context, sig *models.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.signals[sig.ID]; exists {
		return models.NewValidationError("id", "duplicate signal id "+sig.ID)
	}
	s.signals[sig.ID] = sig.Clone()
	return nil
}

func (s *MemorySignalStore) Get(ctx context.Context, id string) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSignalNotFound, id)
	}
	return cur.Clone(), nil
}

func (s *MemorySignalStore) Transition(ctx context.Context, id string, expectedVersion uint64, to models.Status, meta map[string]any) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSignalNotFound, id)
	}
	if err := checkTransition(cur, expectedVersion, to); err != nil {
		return nil, err
	}
	next := cur.WithStatus(to, meta, s.now())
	s.signals[id] = next
	return next.Clone(), nil
}

func (s *MemorySignalStore) AttachJob(ctx context.Context, id string, expectedVersion uint64, jobID string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSignalNotFound, id)
	}
	if err := checkAttach(cur, expectedVersion); err != nil {
		return nil, err
	}
	next := cur.WithJob(jobID, s.now())
	s.signals[id] = next
	return next.Clone(), nil
}

func (s *MemorySignalStore) LatestPending(ctx context.Context, symbol string) ([]*models.Signal, error) {
	symbol = strings.ToUpper(symbol)
	s.mu.RLock()
	candidates := make([]*models.Signal, 0)
	for _, sig := range s.signals {
		if sig.Symbol == symbol {
			candidates = append(candidates, sig)
		}
	}
	out := latestPerSource(candidates)
	for i := range out {
		out[i] = out[i].Clone()
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *MemorySignalStore) ListPending(ctx context.Context) ([]*models.Signal, error) {
	return s.List(ctx, repository.SignalFilter{Status: models.StatusPending})
}

func (s *MemorySignalStore) List(ctx context.Context, f repository.SignalFilter) ([]*models.Signal, error) {
	s.mu.RLock()
	out := make([]*models.Signal, 0)
	for _, sig := range s.signals {
		if matchFilter(sig, f) {
			out = append(out, sig.Clone())
		}
	}
	s.mu.RUnlock()
	return sortAndLimit(out, f.Limit), nil
}

func (s *MemorySignalStore) Close() error { return nil }

// checkTransition applies the CAS rules shared by every backend. A version
// mismatch wins over a terminal status so the loser of a race sees it lost.
func checkTransition(cur *models.Signal, expectedVersion uint64, to models.Status) error {
	if cur.Version != expectedVersion {
		return &models.TransitionError{SignalID: cur.ID, From: cur.Status, To: to, Err: models.ErrStaleSignalState}
	}
	if !cur.Status.CanTransition(to) {
		return &models.TransitionError{SignalID: cur.ID, From: cur.Status, To: to, Err: models.ErrInvalidTransition}
	}
	return nil
}

func checkAttach(cur *models.Signal, expectedVersion uint64) error {
	if cur.Version != expectedVersion {
		return fmt.Errorf("attach job to %s: %w", cur.ID, models.ErrStaleSignalState)
	}
	if cur.Status != models.StatusPending {
		return fmt.Errorf("attach job to %s: %w", cur.ID, models.ErrSignalNotPending)
	}
	return nil
}

// latestPerSource picks the newest pending non-composite signal per source.
func latestPerSource(signals []*models.Signal) []*models.Signal {
	latest := make(map[models.Source]*models.Signal)
	for _, sig := range signals {
		if sig.Status != models.StatusPending || sig.Source == models.SourceComposite {
			continue
		}
		prev, ok := latest[sig.Source]
		if !ok || sig.CreatedAt.After(prev.CreatedAt) ||
			(sig.CreatedAt.Equal(prev.CreatedAt) && sig.ID > prev.ID) {
			latest[sig.Source] = sig
		}
	}
	out := make([]*models.Signal, 0, len(latest))
	for _, src := range models.AnalysisSources() {
		if sig, ok := latest[src]; ok {
			out = append(out, sig)
		}
	}
	return out
}

func matchFilter(sig *models.Signal, f repository.SignalFilter) bool {
	if f.Symbol != "" && sig.Symbol != strings.ToUpper(f.Symbol) {
		return false
	}
	if f.Status != models.StatusUnknown && sig.Status != f.Status {
		return false
	}
	if f.Source != models.SourceUnknown && sig.Source != f.Source {
		return false
	}
	return true
}

// sortAndLimit orders newest first.
func sortAndLimit(out []*models.Signal, limit int) []*models.Signal {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
