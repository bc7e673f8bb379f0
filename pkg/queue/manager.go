package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinFuse/pkg/logger"
	"FinFuse/pkg/scheduler"
)

// Manager owns the three lanes, their workers and the shared scheduler.
type Manager struct {
	logger   *logger.Logger
	sched    *scheduler.DelayQueue
	lanes    map[Lane]*LaneQueue
	handlers map[Lane]Handler

	mu        sync.RWMutex
	wg        sync.WaitGroup
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// ManagerOption configures Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	lanes    map[Lane]LaneConfig
	laneOpts []LaneOption
}

// WithLaneConfig overrides the configuration of one lane.
func WithLaneConfig(lane Lane, cfg LaneConfig) ManagerOption {
	return func(o *managerOptions) { o.lanes[lane] = cfg }
}

// WithLaneOptions applies opts to every lane.
func WithLaneOptions(opts ...LaneOption) ManagerOption {
	return func(o *managerOptions) { o.laneOpts = append(o.laneOpts, opts...) }
}

// NewManager creates the lanes. Retries and leases run on sched, which the
// manager starts and stops with itself.
func NewManager(lgr *logger.Logger, sched *scheduler.DelayQueue, opts ...ManagerOption) *Manager {
	o := &managerOptions{lanes: make(map[Lane]LaneConfig)}
	for _, opt := range opts {
		opt(o)
	}

	m := &Manager{
		logger:   lgr,
		sched:    sched,
		lanes:    make(map[Lane]*LaneQueue, 3),
		handlers: make(map[Lane]Handler, 3),
	}
	for _, lane := range Lanes() {
		cfg, ok := o.lanes[lane]
		if !ok {
			cfg = DefaultLaneConfig()
		}
		m.lanes[lane] = NewLaneQueue(lane, cfg, sched, lgr, o.laneOpts...)
	}
	return m
}

// Register binds a handler to its lane. One handler per lane.
func (m *Manager) Register(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lanes[h.Lane()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLane, h.Lane())
	}
	if m.running {
		return fmt.Errorf("register %s: queue already running", h.Name())
	}
	if prev, exists := m.handlers[h.Lane()]; exists {
		return fmt.Errorf("lane %s already handled by %s", h.Lane(), prev.Name())
	}
	m.handlers[h.Lane()] = h
	m.logger.Info("job handler registered",
		logger.String("job", h.Name()),
		logger.String("lane", h.Lane().String()))
	return nil
}

// OnFinish registers fn on every lane.
func (m *Manager) OnFinish(fn FinishFunc) {
	for _, q := range m.lanes {
		q.OnFinish(fn)
	}
}

// Start launches the scheduler and the workers of every handled lane.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("queue already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.sched.Start(ctx)

	for _, lane := range Lanes() {
		q := m.lanes[lane]
		h, ok := m.handlers[lane]
		if !ok {
			m.logger.Warn("lane has no handler; jobs will wait",
				logger.String("lane", lane.String()))
			continue
		}
		for i := 0; i < q.cfg.Workers; i++ {
			m.wg.Add(1)
			go func(id int) {
				defer m.wg.Done()
				q.work(ctx, h, id)
			}(i)
		}
		m.logger.Info("queue lane started",
			logger.String("lane", lane.String()),
			logger.String("job", h.Name()),
			logger.Int("workers", q.cfg.Workers),
			logger.Int("max_attempts", q.cfg.MaxAttempts),
			logger.Duration("lease_ms", q.cfg.LeaseTimeout))
	}

	m.running = true
	m.startedAt = time.Now()
	return nil
}

// Stop closes the lanes and waits for workers to finish current jobs.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.logger.Info("stopping job queue...")
	for _, q := range m.lanes {
		q.Close()
	}
	// In-flight handlers see cancellation and hand their jobs back.
	m.cancel()
	m.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(doneCh)
	}()

	var err error
	select {
	case <-ctx.Done():
		m.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		err = fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		m.logger.Info("job queue stopped gracefully")
	}
	if serr := m.sched.Stop(ctx); serr != nil && err == nil {
		err = fmt.Errorf("stop scheduler: %w", serr)
	}
	return err
}

// Lane returns the queue of lane.
func (m *Manager) Lane(lane Lane) (*LaneQueue, error) {
	q, ok := m.lanes[lane]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLane, lane)
	}
	return q, nil
}

// Enqueue admits a job on lane.
func (m *Manager) Enqueue(ctx context.Context, lane Lane, opts EnqueueOptions) (*Handle, error) {
	q, err := m.Lane(lane)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, opts)
}

// GetCounts returns a lock-free snapshot of lane's job states.
func (m *Manager) GetCounts(lane Lane) (Counts, error) {
	q, err := m.Lane(lane)
	if err != nil {
		return Counts{}, err
	}
	return q.Counts(), nil
}

// Job finds a live or recently finished job in any lane.
func (m *Manager) Job(id string) (Job, error) {
	for _, lane := range Lanes() {
		if job, ok := m.lanes[lane].Job(id); ok {
			return job, nil
		}
	}
	return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Status reports counts per lane and uptime.
func (m *Manager) Status() Status {
	m.mu.RLock()
	running, started := m.running, m.startedAt
	m.mu.RUnlock()

	st := Status{
		Running:   running,
		StartedAt: started,
		Lanes:     make(map[Lane]Counts, len(m.lanes)),
	}
	if !started.IsZero() {
		st.Uptime = time.Since(started)
	}
	for lane, q := range m.lanes {
		st.Lanes[lane] = q.Counts()
	}
	return st
}

