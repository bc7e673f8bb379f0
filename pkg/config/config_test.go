package config

import (
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 8080 || c.Server.ShutdownTimeout != 15*time.Second {
		t.Fatalf("server defaults not applied: %+v", c.Server)
	}
	if c.Decision.Threshold != 75 || c.Store.Backend != "memory" || c.Execution.Adapter != "paper" {
		t.Fatalf("domain defaults not applied: threshold=%v store=%s adapter=%s",
			c.Decision.Threshold, c.Store.Backend, c.Execution.Adapter)
	}
	if c.Kafka.Topics.Outcomes != "finfuse.outcomes" || c.Cron.Monitor == "" {
		t.Fatalf("kafka/cron defaults not applied")
	}
	if c.Ingest.Burst != 10 || c.Ingest.RatePerSec != 2 {
		t.Fatalf("ingest defaults = %+v", c.Ingest)
	}
}

func TestParseKeepsExplicitValues(t *testing.T) {
	yml := `
environment: production
server:
  port: 9090
decision:
  threshold: 60
  weights:
    technical: 1.5
    sentiment: 0.5
queue:
  trade:
    workers: 4
    backoff: fixed
    backoff_base: 2s
`
	c, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 9090 || c.Decision.Threshold != 60 {
		t.Fatalf("explicit values lost: port=%d threshold=%v", c.Server.Port, c.Decision.Threshold)
	}
	if c.Decision.Weights["technical"] != 1.5 {
		t.Fatalf("weights = %v", c.Decision.Weights)
	}
	if c.Queue.Trade.Workers != 4 || c.Queue.Trade.BackoffBase != 2*time.Second {
		t.Fatalf("trade lane = %+v", c.Queue.Trade)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"environment":  "environment: moon\n",
		"threshold":    "decision:\n  threshold: 120\n",
		"zero gate":    "decision:\n  threshold: 0\n",
		"weight key":   "decision:\n  weights:\n    composite: 1\n",
		"store":        "store:\n  backend: redis\n",
		"adapter":      "execution:\n  adapter: kafka\n",
		"brokers":      "kafka:\n  enabled: true\n",
		"feed url":     "feed:\n  enabled: true\n  symbols: [BTC]\n",
		"feed symbols": "feed:\n  enabled: true\n  url: ws://localhost:9000/ws\n",
		"lane backoff": "queue:\n  monitor:\n    backoff: linear\n",
		"timeframe":    "analytics:\n  timeframe: 2h\n",
	}
	for name, yml := range cases {
		if _, err := Parse([]byte(yml)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestZeroThresholdFromEnvRejected(t *testing.T) {
	_, err := ParseWithEnv(nil, env(map[string]string{"FINFUSE_DECISION_THRESHOLD": "0"}))
	if err == nil {
		t.Fatalf("threshold 0 must not fall back to the default silently")
	}
}

func TestParseWithEnvOverrides(t *testing.T) {
	c, err := ParseWithEnv([]byte("environment: staging\n"), env(map[string]string{
		"KAFKA_BROKERS":              "k1:9092, k2:9092",
		"REDIS_ADDR":                 "redis:6379",
		"FINFUSE_STORE":              "redis",
		"FINFUSE_PORT":               "7000",
		"FINFUSE_DECISION_THRESHOLD": "80",
		"FINFUSE_SYMBOLS":            "btc,eth",
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Join(c.Kafka.Brokers, ",") != "k1:9092,k2:9092" || !c.Kafka.Enabled {
		t.Fatalf("kafka = %v enabled=%v", c.Kafka.Brokers, c.Kafka.Enabled)
	}
	if c.Redis.Addr != "redis:6379" || !c.Redis.Enabled || c.Store.Backend != "redis" {
		t.Fatalf("redis = %+v store=%s", c.Redis, c.Store.Backend)
	}
	if c.Server.Port != 7000 || c.Decision.Threshold != 80 {
		t.Fatalf("port=%d threshold=%v", c.Server.Port, c.Decision.Threshold)
	}
	if strings.Join(c.Feed.Symbols, ",") != "btc,eth" {
		t.Fatalf("symbols = %v", c.Feed.Symbols)
	}

	if _, err := ParseWithEnv(nil, env(map[string]string{"FINFUSE_PORT": "http"})); err == nil {
		t.Fatalf("non-numeric port accepted")
	}
}

func TestSymbolsDeduplicates(t *testing.T) {
	var c Config
	c.Feed.Symbols = []string{"btc", "ETH"}
	c.Analytics.Symbols = []string{" eth", "sol"}
	if got := strings.Join(c.Symbols(), ","); got != "BTC,ETH,SOL" {
		t.Fatalf("symbols = %s", got)
	}
}
