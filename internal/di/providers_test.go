package di

import (
	"testing"
	"time"

	"FinFuse/internal/repository"
	"FinFuse/pkg/config"
	"FinFuse/pkg/queue"
)

func testConfig(t *testing.T, yml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestInitializeAppInMemory(t *testing.T) {
	cfg := testConfig(t, "environment: test\nlog:\n  level: error\n")
	app, err := InitializeApp(cfg)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if app == nil {
		t.Fatalf("nil app")
	}
}

func TestLaneConfigFallsBackToDefaults(t *testing.T) {
	def := queue.DefaultLaneConfig()
	got := laneConfig(config.Lane{Workers: 6, Backoff: "fixed", BackoffBase: 3 * time.Second})
	if got.Workers != 6 || got.Backoff.Kind != queue.BackoffFixed || got.Backoff.Base != 3*time.Second {
		t.Fatalf("explicit values lost: %+v", got)
	}
	if got.MaxAttempts != def.MaxAttempts || got.LeaseTimeout != def.LeaseTimeout || got.HistorySize != def.HistorySize {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestStoreAndPublisherFallBackWithoutInfra(t *testing.T) {
	cfg := testConfig(t, "environment: test\n")
	if _, ok := ProvideSignalStore(cfg, nil).(*repository.MemorySignalStore); !ok {
		t.Fatalf("expected memory store without redis")
	}
	if _, ok := ProvideEventPublisher(cfg, nil).(repository.NopPublisher); !ok {
		t.Fatalf("expected nop publisher without kafka")
	}
	archive, err := ProvideSignalArchive(nil, nil)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, ok := archive.(repository.NopArchive); !ok {
		t.Fatalf("expected nop archive without clickhouse")
	}
}

func TestExecutionAdapterSelection(t *testing.T) {
	cfg := testConfig(t, "environment: test\n")
	a, err := ProvideExecutionAdapter(cfg, nil, nil)
	if err != nil || a.Name() != "paper" {
		t.Fatalf("paper adapter: %v", err)
	}
	cfg.Execution.Adapter = "kafka"
	if _, err := ProvideExecutionAdapter(cfg, nil, nil); err == nil {
		t.Fatalf("kafka adapter without producer accepted")
	}
}

func TestAggregatorRejectsUnknownWeight(t *testing.T) {
	cfg := testConfig(t, "environment: test\n")
	cfg.Decision.Weights = map[string]float64{"oracle": 2}
	if _, err := ProvideAggregator(cfg, nil, nil, nil, nil, nil); err == nil {
		t.Fatalf("unknown source weight accepted")
	}
}
