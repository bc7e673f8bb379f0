package models

import "time"

// Requests for the HTTP surface. Defined in domain for consistency and reuse.

type SubmitSignalRequest struct {
	Symbol      string         `json:"symbol" validate:"required,max=32"`
	Action      string         `json:"action" validate:"required,oneof=buy sell hold"`
	Confidence  float64        `json:"confidence" validate:"gte=0,lte=100"`
	Price       *string        `json:"price" validate:"omitempty,numeric"`
	TargetPrice *string        `json:"targetPrice" validate:"omitempty,numeric"`
	StopLoss    *string        `json:"stopLoss" validate:"omitempty,numeric"`
	Source      string         `json:"source" validate:"required,oneof=technical sentiment pattern prediction"`
	Timeframe   string         `json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	ExpiresAt   *time.Time     `json:"expiresAt"`
	Metadata    map[string]any `json:"metadata"`
}

type ListSignalsRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Status string `query:"status" json:"status" validate:"omitempty,oneof=pending executed expired cancelled"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type DeadLettersRequest struct {
	Lane  string `param:"lane" json:"lane"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type CancelSignalRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

type EnqueueJobRequest struct {
	Lane           string         `json:"lane" validate:"required,oneof=trade analysis monitor"`
	Payload        map[string]any `json:"payload" validate:"required"`
	Priority       int            `json:"priority"`
	MaxAttempts    int            `json:"maxAttempts" validate:"gte=0,lte=50"`
	Backoff        string         `json:"backoff" validate:"omitempty,oneof=fixed exponential"`
	BackoffBaseMS  int            `json:"backoffBaseMs" validate:"gte=0"`
	IdempotencyKey string         `json:"idempotencyKey" validate:"max=128"`
}

type JobOutcomeRequest struct {
	Attempt int    `json:"attempt" validate:"gte=0"`
	Success bool   `json:"success"`
	Details string `json:"details" validate:"max=1024"`
}
