package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is an inspectable view of a scheduled callback.
type Entry struct {
	Key      string
	DueAt    time.Time
	Interval time.Duration // > 0 for recurring entries
}

type item struct {
	key      string
	due      time.Time
	interval time.Duration
	fn       func()
	seq      uint64
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// DelayQueue runs callbacks at their due time. Entries are keyed; scheduling
// an existing key replaces it. A single timer is armed for the earliest entry.
type DelayQueue struct {
	mu      sync.Mutex
	items   itemHeap
	byKey   map[string]*item
	seq     uint64
	wake    chan struct{}
	wg      sync.WaitGroup
	running bool
	cancel  context.CancelFunc
	now     func() time.Time
}

// Option configures DelayQueue.
type Option func(*DelayQueue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *DelayQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// New creates a stopped DelayQueue.
func New(opts ...Option) *DelayQueue {
	q := &DelayQueue{
		byKey: make(map[string]*item),
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Schedule runs fn once at dueAt (immediately if dueAt has passed).
func (q *DelayQueue) Schedule(key string, dueAt time.Time, fn func()) {
	q.add(key, dueAt, 0, fn)
}

// After runs fn once after d.
func (q *DelayQueue) After(key string, d time.Duration, fn func()) {
	q.add(key, q.now().Add(d), 0, fn)
}

// Every runs fn every interval, first after one interval.
func (q *DelayQueue) Every(key string, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	q.add(key, q.now().Add(interval), interval, fn)
}

func (q *DelayQueue) add(key string, due time.Time, interval time.Duration, fn func()) {
	q.mu.Lock()
	if old, ok := q.byKey[key]; ok {
		heap.Remove(&q.items, old.index)
	}
	q.seq++
	it := &item{key: key, due: due, interval: interval, fn: fn, seq: q.seq}
	heap.Push(&q.items, it)
	q.byKey[key] = it
	q.mu.Unlock()
	q.signal()
}

// Cancel removes key. It reports whether an entry was pending.
func (q *DelayQueue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byKey, key)
	return true
}

// Len returns the number of pending entries.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns pending entries ordered by due time.
func (q *DelayQueue) Pending() []Entry {
	q.mu.Lock()
	out := make([]Entry, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, Entry{Key: it.key, DueAt: it.due, Interval: it.interval})
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

// Start launches the dispatch loop. Callbacks run on their own goroutines.
func (q *DelayQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	q.wg.Add(1)
	go q.loop(ctx)
}

// Stop halts dispatch and waits for in-flight callbacks or ctx.
func (q *DelayQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *DelayQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DelayQueue) loop(ctx context.Context) {
	defer q.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := q.fireDue()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// fireDue dispatches every due entry and returns the wait until the next one.
func (q *DelayQueue) fireDue() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for len(q.items) > 0 {
		next := q.items[0]
		if next.due.After(now) {
			return next.due.Sub(now)
		}
		heap.Pop(&q.items)
		delete(q.byKey, next.key)
		if next.interval > 0 {
			q.seq++
			again := &item{key: next.key, due: next.due.Add(next.interval), interval: next.interval, fn: next.fn, seq: q.seq}
			if !again.due.After(now) {
				again.due = now.Add(next.interval)
			}
			heap.Push(&q.items, again)
			q.byKey[again.key] = again
		}
		fn := next.fn
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			fn()
		}()
	}
	return time.Hour
}
