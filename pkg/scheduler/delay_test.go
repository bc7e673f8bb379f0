package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func startQueue(t *testing.T) *DelayQueue {
	t.Helper()
	q := New()
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func TestScheduleFiresOnce(t *testing.T) {
	q := startQueue(t)
	fired := make(chan struct{}, 2)
	q.After("a", 10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected callback to fire")
	}
	select {
	case <-fired:
		t.Fatalf("expected a single firing")
	case <-time.After(50 * time.Millisecond):
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	q := startQueue(t)
	var n atomic.Int32
	q.After("a", 30*time.Millisecond, func() { n.Add(1) })
	if !q.Cancel("a") {
		t.Fatalf("expected pending entry")
	}
	if q.Cancel("a") {
		t.Fatalf("expected second cancel to report nothing pending")
	}
	time.Sleep(80 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("cancelled callback fired")
	}
}

func TestRescheduleReplacesKey(t *testing.T) {
	q := New()
	q.After("k", time.Hour, func() {})
	q.After("k", 2*time.Hour, func() {})
	if q.Len() != 1 {
		t.Fatalf("expected one entry, got %d", q.Len())
	}
	p := q.Pending()
	if len(p) != 1 || p[0].Key != "k" {
		t.Fatalf("unexpected pending %+v", p)
	}
}

func TestPendingOrderedByDue(t *testing.T) {
	q := New()
	now := time.Now()
	q.Schedule("late", now.Add(3*time.Hour), func() {})
	q.Schedule("early", now.Add(time.Hour), func() {})
	q.Schedule("mid", now.Add(2*time.Hour), func() {})

	p := q.Pending()
	if len(p) != 3 || p[0].Key != "early" || p[1].Key != "mid" || p[2].Key != "late" {
		t.Fatalf("unexpected order %+v", p)
	}
}

func TestEveryRepeats(t *testing.T) {
	q := startQueue(t)
	var n atomic.Int32
	q.Every("tick", 10*time.Millisecond, func() { n.Add(1) })

	deadline := time.Now().Add(time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", n.Load())
	}
	if q.Len() != 1 {
		t.Fatalf("recurring entry should stay scheduled")
	}
	q.Cancel("tick")
}

func TestPastDueFiresImmediately(t *testing.T) {
	q := startQueue(t)
	fired := make(chan struct{})
	q.Schedule("past", time.Now().Add(-time.Minute), func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected past-due callback to fire")
	}
}
