package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata keys written by the core. Everything else in Metadata is opaque.
const (
	MetaContributingSignalIDs = "contributingSignalIds"
	MetaBuyWeight             = "buyWeight"
	MetaSellWeight            = "sellWeight"
	MetaHoldWeight            = "holdWeight"
	MetaCancelReason          = "cancelReason"
	MetaTransitionReason      = "transitionReason"
)

// Signal is a single source's trading opinion. Action and Confidence never
// change after construction; every stored mutation produces a new Version.
type Signal struct {
	ID          string              `json:"id"`
	Symbol      string              `json:"symbol"`
	Action      Action              `json:"action"`
	Confidence  float64             `json:"confidence"`
	Price       decimal.NullDecimal `json:"price"`
	TargetPrice decimal.NullDecimal `json:"targetPrice"`
	StopLoss    decimal.NullDecimal `json:"stopLoss"`
	Source      Source              `json:"source"`
	Timeframe   Timeframe           `json:"timeframe"`
	Status      Status              `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	Version     uint64              `json:"version"`
	JobID       string              `json:"jobId,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// SignalParams is the producer-supplied part of a Signal.
type SignalParams struct {
	Symbol      string
	Action      Action
	Confidence  float64
	Price       decimal.NullDecimal
	TargetPrice decimal.NullDecimal
	StopLoss    decimal.NullDecimal
	Source      Source
	Timeframe   Timeframe
	ExpiresAt   time.Time
	Metadata    map[string]any
}

// NewSignal validates p and builds a pending Signal with a fresh id.
func NewSignal(p SignalParams, now time.Time) (*Signal, error) {
	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if symbol == "" {
		return nil, NewValidationError("symbol", "symbol is required")
	}
	if !p.Action.Valid() {
		return nil, NewValidationError("action", "action must be one of buy, sell, hold")
	}
	if !p.Source.Valid() {
		return nil, NewValidationError("source", "unknown source")
	}
	if err := ValidateConfidence(p.Confidence); err != nil {
		return nil, err
	}
	for field, q := range map[string]decimal.NullDecimal{
		"price": p.Price, "targetPrice": p.TargetPrice, "stopLoss": p.StopLoss,
	} {
		if q.Valid && q.Decimal.IsNegative() {
			return nil, NewValidationError(field, "must not be negative")
		}
	}

	tf := p.Timeframe
	if tf == "" {
		tf = DefaultTimeframe()
	}
	if !IsValidTimeframe(tf) {
		return nil, NewValidationError("timeframe", "unsupported timeframe "+string(tf))
	}

	expiresAt := p.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(SignalTTL(p.Source, tf))
	} else if !expiresAt.After(now) {
		return nil, NewValidationError("expiresAt", "must be after creation time")
	}

	return &Signal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Action:      p.Action,
		Confidence:  p.Confidence,
		Price:       p.Price,
		TargetPrice: p.TargetPrice,
		StopLoss:    p.StopLoss,
		Source:      p.Source,
		Timeframe:   tf,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		UpdatedAt:   now,
		Version:     1,
		Metadata:    copyMetadata(p.Metadata),
	}, nil
}

// ValidateConfidence enforces confidence ∈ [0,100].
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c > 100 {
		return NewValidationError("confidence", "must be within [0,100]")
	}
	return nil
}

// Validate re-checks the invariants of an already built signal, e.g. one
// decoded from an external feed.
func (s *Signal) Validate() error {
	if s == nil {
		return NewValidationError("", "signal is nil")
	}
	if s.ID == "" {
		return NewValidationError("id", "id is required")
	}
	if s.Symbol == "" || s.Symbol != strings.ToUpper(s.Symbol) {
		return NewValidationError("symbol", "symbol must be an uppercase ticker")
	}
	if !s.Action.Valid() {
		return NewValidationError("action", "invalid action")
	}
	if !s.Source.Valid() {
		return NewValidationError("source", "invalid source")
	}
	if !s.Status.Valid() {
		return NewValidationError("status", "invalid status")
	}
	if s.ExpiresAt.IsZero() {
		return NewValidationError("expiresAt", "expiresAt is required")
	}
	return ValidateConfidence(s.Confidence)
}

// IsExpired reports whether now is past the signal's expiry.
func (s *Signal) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy safe to hand out to other goroutines.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = copyMetadata(s.Metadata)
	return &c
}

// WithStatus returns the next version of s in status to, merging meta.
func (s *Signal) WithStatus(to Status, meta map[string]any, now time.Time) *Signal {
	next := s.Clone()
	next.Status = to
	next.Version = s.Version + 1
	next.UpdatedAt = now
	for k, v := range meta {
		if next.Metadata == nil {
			next.Metadata = make(map[string]any, len(meta))
		}
		next.Metadata[k] = v
	}
	return next
}

// WithJob returns the next version of s referencing jobID.
func (s *Signal) WithJob(jobID string, now time.Time) *Signal {
	next := s.Clone()
	next.JobID = jobID
	next.Version = s.Version + 1
	next.UpdatedAt = now
	return next
}

// ContributingIDs extracts the composite's input ids, if any.
func (s *Signal) ContributingIDs() []string {
	switch v := s.Metadata[MetaContributingSignalIDs].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if id, ok := x.(string); ok {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if ids, ok := v.([]string); ok {
			v = append([]string(nil), ids...)
		}
		out[k] = v
	}
	return out
}
