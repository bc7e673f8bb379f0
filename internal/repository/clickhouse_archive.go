package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	pkgch "FinFuse/pkg/clickhouse"
	applogger "FinFuse/pkg/logger"

	"github.com/shopspring/decimal"
)

// CHSignalArchive appends signal versions and fusion results to ClickHouse.
type CHSignalArchive struct {
	ch *pkgch.Client
	db string
	l  *applogger.Logger
}

func NewCHSignalArchive(ch *pkgch.Client, l *applogger.Logger) *CHSignalArchive {
	return &CHSignalArchive{ch: ch, db: ch.Database(), l: l}
}

var _ domrepo.SignalArchive = (*CHSignalArchive)(nil)

func (a *CHSignalArchive) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, a.db),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.signal_events (
            at          DateTime64(3, 'UTC'),
            event       LowCardinality(String),
            id          String,
            version     UInt64,
            symbol      LowCardinality(String),
            action      LowCardinality(String),
            confidence  Float64,
            source      LowCardinality(String),
            status      LowCardinality(String),
            timeframe   LowCardinality(String),
            price       String,
            target      String,
            stop_loss   String,
            job_id      String,
            expires_at  DateTime64(3, 'UTC'),
            metadata    String
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(at)
        ORDER BY (symbol, id, version)`, a.db),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.fusion_results (
            at            DateTime64(3, 'UTC'),
            symbol        LowCardinality(String),
            action        LowCardinality(String),
            confidence    Float64,
            buy_weight    Float64,
            sell_weight   Float64,
            hold_weight   Float64,
            contributing  Array(String),
            composite_id  String,
            insufficient  UInt8,
            dispatched    UInt8,
            job_id        String
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(at)
        ORDER BY (symbol, at)`, a.db),
	}
}

// Init creates the archive tables if they are missing.
func (a *CHSignalArchive) Init(ctx context.Context) error {
	if err := a.ch.InitSchema(ctx, a.schema()); err != nil {
		return err
	}
	a.l.Info("clickhouse archive ready", applogger.String("database", a.db))
	return nil
}

func (a *CHSignalArchive) AppendSignal(ctx context.Context, ev models.SignalEvent) error {
	s := ev.Signal
	if s == nil {
		return nil
	}
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s.signal_events
        (at, event, id, version, symbol, action, confidence, source, status, timeframe,
         price, target, stop_loss, job_id, expires_at, metadata)`, a.db)
	row := []any{
		ev.At.UTC(), ev.Event, s.ID, s.Version, s.Symbol, s.Action.String(), s.Confidence,
		s.Source.String(), s.Status.String(), string(s.Timeframe),
		nullDecimalString(s.Price), nullDecimalString(s.TargetPrice), nullDecimalString(s.StopLoss),
		s.JobID, s.ExpiresAt.UTC(), string(meta),
	}
	start := time.Now()
	if err := a.ch.InsertBatch(ctx, q, [][]any{row}); err != nil {
		a.l.Error("clickhouse append signal error",
			applogger.String("id", s.ID),
			applogger.String("event", ev.Event),
			applogger.Error(err))
		return fmt.Errorf("append signal: %w", err)
	}
	a.l.Debug("clickhouse append signal ok",
		applogger.String("id", s.ID),
		applogger.Uint64("version", s.Version),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (a *CHSignalArchive) AppendFusion(ctx context.Context, r *models.FusionResult) error {
	if r == nil {
		return nil
	}
	compositeID := ""
	if r.Composite != nil {
		compositeID = r.Composite.ID
	}
	contributing := r.Contributing
	if contributing == nil {
		contributing = []string{}
	}
	q := fmt.Sprintf(`INSERT INTO %s.fusion_results
        (at, symbol, action, confidence, buy_weight, sell_weight, hold_weight,
         contributing, composite_id, insufficient, dispatched, job_id)`, a.db)
	row := []any{
		r.Timestamp.UTC(), r.Symbol, r.Action.String(), r.Confidence,
		r.BuyWeight, r.SellWeight, r.HoldWeight, contributing, compositeID,
		boolToUInt8(r.Insufficient), boolToUInt8(r.Dispatched), r.JobID,
	}
	if err := a.ch.InsertBatch(ctx, q, [][]any{row}); err != nil {
		a.l.Error("clickhouse append fusion error",
			applogger.String("symbol", r.Symbol),
			applogger.Error(err))
		return fmt.Errorf("append fusion: %w", err)
	}
	return nil
}

func (a *CHSignalArchive) Health(ctx context.Context) error {
	return a.ch.Health(ctx)
}

// Close is a no-op; the client's owner closes the pool.
func (a *CHSignalArchive) Close() error { return nil }

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// NopArchive discards everything. Used when ClickHouse is disabled.
type NopArchive struct{}

var _ domrepo.SignalArchive = NopArchive{}

func (NopArchive) Init(context.Context) error { return nil }
func (NopArchive) AppendSignal(context.Context, models.SignalEvent) error { return nil }
func (NopArchive) AppendFusion(context.Context, *models.FusionResult) error { return nil }
func (NopArchive) Health(context.Context) error { return nil }
func (NopArchive) Close() error { return nil }
