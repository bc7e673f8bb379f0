package logger

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) Publish(_ context.Context, topic string, _ []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, value.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "finfuse.logs",
		Service:        "finfuse",
		Publisher:      pub,
	})

	fields := map[string]interface{}{"symbol": "BTC"}
	for i := 0; i < 3; i++ {
		c.AddLog("error", "archive failed", fields, "aggregator.go:10")
	}
	c.AddLog("error", "publish failed", nil, "lifecycle.go:20")
	if got := c.Pending(); got != 2 {
		t.Fatalf("expected 2 unique entries, got %d", got)
	}

	c.Close()

	entries := pub.entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 shipped entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Service != "finfuse" {
			t.Fatalf("service not stamped: %+v", e)
		}
		if e.Message == "archive failed" && e.Count != 3 {
			t.Fatalf("expected count 3, got %d", e.Count)
		}
	}
	if pub.topics[0] != "finfuse.logs" {
		t.Fatalf("unexpected topic %q", pub.topics[0])
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Publisher:      pub,
	})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	if got := c.Pending(); got != 0 {
		t.Fatalf("threshold should have flushed, %d pending", got)
	}

	deadline := time.Now().Add(time.Second)
	for len(pub.entries()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("flush never reached the publisher")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
