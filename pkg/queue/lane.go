package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FinFuse/pkg/logger"
	"FinFuse/pkg/scheduler"

	"github.com/google/uuid"
)

// LaneConfig holds the per-lane defaults and worker settings.
type LaneConfig struct {
	Workers      int
	MaxAttempts  int
	Backoff      BackoffPolicy
	LeaseTimeout time.Duration
	HistorySize  int
}

func DefaultLaneConfig() LaneConfig {
	return LaneConfig{
		Workers:      2,
		MaxAttempts:  3,
		Backoff:      BackoffPolicy{Kind: BackoffExponential, Base: time.Second, Max: time.Minute},
		LeaseTimeout: 30 * time.Second,
		HistorySize:  256,
	}
}

func (c LaneConfig) withDefaults() LaneConfig {
	def := DefaultLaneConfig()
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = def.LeaseTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}

// FinishFunc observes every job that reaches a terminal state.
type FinishFunc func(job Job, err error)

// Delivery is one leased execution of a job. Complete it exactly once.
type Delivery struct {
	Job        Job
	LeaseUntil time.Time
	token      uint64
}

type entry struct {
	job   Job
	seq   uint64
	index int
	token uint64
	done  chan struct{}
	final Job
	err   error
}

type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// LaneQueue is a single priority lane with leases, retries and history.
type LaneQueue struct {
	lane  Lane
	cfg   LaneConfig
	log   *logger.Logger
	sched *scheduler.DelayQueue
	now   func() time.Time
	dlq   DeadLetterSink

	mu     sync.Mutex
	ready  readyHeap
	live   map[string]*entry
	idem   map[string]string
	hist   *history
	seq    uint64
	token  uint64
	avail  chan struct{}
	closed bool
	hooks  []FinishFunc

	counts atomic.Pointer[Counts]
}

// LaneOption configures LaneQueue.
type LaneOption func(*LaneQueue)

// WithDeadLetter sets where exhausted jobs are parked.
func WithDeadLetter(sink DeadLetterSink) LaneOption {
	return func(q *LaneQueue) { q.dlq = sink }
}

// WithLaneClock overrides the time source.
func WithLaneClock(now func() time.Time) LaneOption {
	return func(q *LaneQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewLaneQueue creates a lane whose retries and leases run on sched.
func NewLaneQueue(lane Lane, cfg LaneConfig, sched *scheduler.DelayQueue, lgr *logger.Logger, opts ...LaneOption) *LaneQueue {
	cfg = cfg.withDefaults()
	q := &LaneQueue{
		lane:  lane,
		cfg:   cfg,
		log:   lgr,
		sched: sched,
		now:   time.Now,
		live:  make(map[string]*entry),
		idem:  make(map[string]string),
		hist:  newHistory(cfg.HistorySize),
		avail: make(chan struct{}),
	}
	q.counts.Store(&Counts{})
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *LaneQueue) Lane() Lane { return q.lane }

func (q *LaneQueue) Config() LaneConfig { return q.cfg }

// OnFinish registers fn for terminal jobs of this lane.
func (q *LaneQueue) OnFinish(fn FinishFunc) {
	q.mu.Lock()
	q.hooks = append(q.hooks, fn)
	q.mu.Unlock()
}

// Counts returns the current snapshot without taking the lane lock.
func (q *LaneQueue) Counts() Counts { return *q.counts.Load() }

// Enqueue admits a job. With an idempotency key, an enqueue that matches a
// live or succeeded job returns that job's handle instead.
func (q *LaneQueue) Enqueue(ctx context.Context, opts EnqueueOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := q.newJob(opts)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrNotRunning
	}
	if key := job.IdempotencyKey; key != "" {
		if id, ok := q.idem[key]; ok {
			if e := q.lookupLocked(id); e != nil {
				return &Handle{ID: id, Lane: q.lane, e: e}, nil
			}
		}
		q.idem[key] = job.ID
	}

	q.seq++
	e := &entry{job: job, seq: q.seq, index: -1, done: make(chan struct{})}
	q.live[job.ID] = e
	heap.Push(&q.ready, e)
	q.adjust(func(c *Counts) { c.Queued++ })
	q.broadcastLocked()

	return &Handle{ID: job.ID, Lane: q.lane, e: e}, nil
}

func (q *LaneQueue) newJob(opts EnqueueOptions) (Job, error) {
	if opts.Payload == nil {
		return Job{}, fmt.Errorf("%w: payload is required", ErrInvalidJob)
	}
	if opts.MaxAttempts < 0 {
		return Job{}, fmt.Errorf("%w: maxAttempts must be >= 1", ErrInvalidJob)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	backoff := q.cfg.Backoff
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	if err := backoff.validate(); err != nil {
		return Job{}, err
	}

	now := q.now()
	return Job{
		ID:             uuid.NewString(),
		Lane:           q.lane,
		Payload:        opts.Payload,
		Priority:       opts.Priority,
		MaxAttempts:    maxAttempts,
		Backoff:        backoff,
		State:          StateQueued,
		IdempotencyKey: opts.IdempotencyKey,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}, nil
}

// Reserve blocks until a job is ready, then leases it to the caller.
func (q *LaneQueue) Reserve(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrNotRunning
		}
		if q.ready.Len() > 0 {
			e := heap.Pop(&q.ready).(*entry)
			d := q.leaseLocked(e)
			q.mu.Unlock()
			return d, nil
		}
		avail := q.avail
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-avail:
		}
	}
}

func (q *LaneQueue) leaseLocked(e *entry) *Delivery {
	now := q.now()
	q.token++
	e.token = q.token
	e.job.State = StateRunning
	e.job.UpdatedAt = now
	e.job.NextRunAt = time.Time{}

	until := now.Add(q.cfg.LeaseTimeout)
	id, token := e.job.ID, e.token
	q.sched.Schedule(q.leaseKey(id), until, func() { q.expireLease(id, token) })
	q.adjust(func(c *Counts) {
		c.Queued--
		c.Running++
	})

	return &Delivery{Job: e.job, LeaseUntil: until, token: token}
}

// Complete settles a delivery. A nil err succeeds the job; a Permanent error
// fails it; any other error consumes the attempt and schedules a retry.
func (q *LaneQueue) Complete(d *Delivery, err error) error {
	q.mu.Lock()
	e, ok := q.activeLocked(d)
	if !ok {
		q.mu.Unlock()
		return ErrLeaseLost
	}
	q.sched.Cancel(q.leaseKey(e.job.ID))

	var fin *entry
	if err == nil {
		fin = q.finishLocked(e, StateSucceeded, nil)
	} else {
		fin = q.failLocked(e, err)
	}
	q.mu.Unlock()

	q.afterFinish(fin)
	return nil
}

// Release hands a delivery back without consuming an attempt. Used on shutdown.
func (q *LaneQueue) Release(d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.activeLocked(d)
	if !ok {
		return ErrLeaseLost
	}
	q.sched.Cancel(q.leaseKey(e.job.ID))
	e.job.State = StateQueued
	e.job.UpdatedAt = q.now()
	q.adjust(func(c *Counts) {
		c.Running--
		c.Queued++
	})
	heap.Push(&q.ready, e)
	q.broadcastLocked()
	return nil
}

func (q *LaneQueue) activeLocked(d *Delivery) (*entry, bool) {
	if d == nil {
		return nil, false
	}
	e, ok := q.live[d.Job.ID]
	if !ok || e.token != d.token || e.job.State != StateRunning {
		return nil, false
	}
	return e, true
}

func (q *LaneQueue) expireLease(id string, token uint64) {
	q.mu.Lock()
	e, ok := q.live[id]
	if !ok || e.token != token || e.job.State != StateRunning {
		q.mu.Unlock()
		return
	}
	q.log.Warn("job lease expired",
		logger.String("lane", q.lane.String()),
		logger.String("job_id", id),
		logger.Int("attempt", e.job.Attempt))
	fin := q.failLocked(e, ErrLeaseExpired)
	q.mu.Unlock()

	q.afterFinish(fin)
}

// failLocked consumes the current attempt. It returns the entry when the
// failure made the job terminal.
func (q *LaneQueue) failLocked(e *entry, cause error) *entry {
	now := q.now()
	e.job.LastError = cause.Error()
	e.job.UpdatedAt = now

	if IsPermanent(cause) {
		return q.finishLocked(e, StateFailed, fmt.Errorf("%w: %w", ErrJobFailed, cause))
	}
	if e.job.Attempt+1 >= e.job.MaxAttempts {
		e.job.Attempt = e.job.MaxAttempts
		return q.finishLocked(e, StateExhausted,
			fmt.Errorf("%w after %d attempts: %w", ErrJobExhausted, e.job.MaxAttempts, cause))
	}

	delay := e.job.Backoff.Delay(e.job.Attempt)
	e.job.Attempt++
	e.job.State = StateQueued
	q.adjust(func(c *Counts) {
		c.Running--
		c.Queued++
	})

	q.log.Debug("job retry scheduled",
		logger.String("lane", q.lane.String()),
		logger.String("job_id", e.job.ID),
		logger.Int("attempt", e.job.Attempt),
		logger.Duration("delay_ms", delay),
		logger.Error(cause))

	if delay <= 0 {
		heap.Push(&q.ready, e)
		q.broadcastLocked()
		return nil
	}
	e.job.NextRunAt = now.Add(delay)
	id := e.job.ID
	q.sched.Schedule(q.retryKey(id), e.job.NextRunAt, func() { q.requeue(id) })
	return nil
}

func (q *LaneQueue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.live[id]
	if !ok || e.job.State != StateQueued || e.index >= 0 || q.closed {
		return
	}
	e.job.NextRunAt = time.Time{}
	heap.Push(&q.ready, e)
	q.broadcastLocked()
}

func (q *LaneQueue) finishLocked(e *entry, st State, err error) *entry {
	prev := e.job.State
	e.job.State = st
	e.job.UpdatedAt = q.now()
	e.job.NextRunAt = time.Time{}
	delete(q.live, e.job.ID)

	// Only a success keeps its idempotency key claimed.
	if key := e.job.IdempotencyKey; key != "" && st != StateSucceeded && q.idem[key] == e.job.ID {
		delete(q.idem, key)
	}
	if old := q.hist.add(e); old != nil {
		if key := old.final.IdempotencyKey; key != "" && q.idem[key] == old.final.ID {
			delete(q.idem, key)
		}
	}
	q.adjust(func(c *Counts) {
		c.add(prev, -1)
		c.add(st, 1)
	})

	e.final = e.job
	e.err = err
	close(e.done)
	return e
}

func (q *LaneQueue) afterFinish(e *entry) {
	if e == nil {
		return
	}
	job, err := e.final, e.err

	switch job.State {
	case StateSucceeded:
		q.log.Debug("job succeeded",
			logger.String("lane", q.lane.String()),
			logger.String("job_id", job.ID),
			logger.Int("attempt", job.Attempt))
	case StateExhausted:
		q.log.Error("job exhausted",
			logger.String("lane", q.lane.String()),
			logger.String("job_id", job.ID),
			logger.Int("max_attempts", job.MaxAttempts),
			logger.Error(err))
		if q.dlq != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if derr := q.dlq.Push(ctx, job, err); derr != nil {
				q.log.Error("dead-letter push failed",
					logger.String("job_id", job.ID),
					logger.Error(derr))
			}
			cancel()
		}
	case StateFailed:
		q.log.Warn("job failed",
			logger.String("lane", q.lane.String()),
			logger.String("job_id", job.ID),
			logger.Error(err))
	}

	q.mu.Lock()
	hooks := append([]FinishFunc(nil), q.hooks...)
	q.mu.Unlock()
	for _, fn := range hooks {
		fn(job, err)
	}
}

// Job returns the current snapshot of a live or recently finished job.
func (q *LaneQueue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.live[id]; ok {
		return e.job, true
	}
	if e := q.hist.get(id); e != nil {
		return e.final, true
	}
	return Job{}, false
}

func (q *LaneQueue) lookupLocked(id string) *entry {
	if e, ok := q.live[id]; ok {
		return e
	}
	return q.hist.get(id)
}

// Close stops handing out deliveries and wakes every waiting Reserve.
func (q *LaneQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *LaneQueue) broadcastLocked() {
	close(q.avail)
	q.avail = make(chan struct{})
}

// adjust swaps in a new counts snapshot. Readers never observe a torn update.
func (q *LaneQueue) adjust(fn func(*Counts)) {
	for {
		old := q.counts.Load()
		next := *old
		fn(&next)
		if q.counts.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (q *LaneQueue) leaseKey(id string) string {
	return fmt.Sprintf("queue:%s:lease:%s", q.lane, id)
}

func (q *LaneQueue) retryKey(id string) string {
	return fmt.Sprintf("queue:%s:retry:%s", q.lane, id)
}

// work runs one worker until ctx ends or the lane closes.
func (q *LaneQueue) work(ctx context.Context, h Handler, workerID int) {
	q.log.Debug("queue worker started",
		logger.String("lane", q.lane.String()),
		logger.Int("worker_id", workerID))

	for {
		d, err := q.Reserve(ctx)
		if err != nil {
			if errors.Is(err, ErrNotRunning) || ctx.Err() != nil {
				q.log.Debug("queue worker stopping",
					logger.String("lane", q.lane.String()),
					logger.Int("worker_id", workerID))
				return
			}
			continue
		}

		start := time.Now()
		herr := q.invoke(ctx, h, d)
		if herr != nil && ctx.Err() != nil && errors.Is(herr, context.Canceled) {
			_ = q.Release(d)
			continue
		}
		if err := q.Complete(d, herr); err != nil {
			q.log.Warn("job completion rejected",
				logger.String("lane", q.lane.String()),
				logger.String("job", h.Name()),
				logger.String("job_id", d.Job.ID),
				logger.Int64("elapsed_ms", time.Since(start).Milliseconds()),
				logger.Error(err))
		}
	}
}

func (q *LaneQueue) invoke(ctx context.Context, h Handler, d *Delivery) (err error) {
	hctx, cancel := context.WithDeadline(ctx, d.LeaseUntil)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panic: %v", h.Name(), r)
		}
	}()
	return h.Handle(hctx, d.Job)
}

type history struct {
	buf  []*entry
	next int
	byID map[string]*entry
}

func newHistory(size int) *history {
	return &history{buf: make([]*entry, size), byID: make(map[string]*entry, size)}
}

// add stores e and returns the entry it evicted, if any.
func (h *history) add(e *entry) *entry {
	old := h.buf[h.next]
	if old != nil {
		delete(h.byID, old.final.ID)
	}
	h.buf[h.next] = e
	h.byID[e.job.ID] = e
	h.next = (h.next + 1) % len(h.buf)
	return old
}

func (h *history) get(id string) *entry { return h.byID[id] }
