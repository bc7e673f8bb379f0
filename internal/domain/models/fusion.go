package models

import "time"

// FusionResult is the Aggregator's output for one symbol.
type FusionResult struct {
	Symbol       string    `json:"symbol"`
	Action       Action    `json:"action"`
	Confidence   float64   `json:"confidence"`
	BuyWeight    float64   `json:"buyWeight"`
	SellWeight   float64   `json:"sellWeight"`
	HoldWeight   float64   `json:"holdWeight"`
	Contributing []string  `json:"contributingSignalIds"`
	Insufficient bool      `json:"insufficient,omitempty"`
	Composite    *Signal   `json:"composite,omitempty"`
	Dispatched   bool      `json:"dispatched"`
	JobID        string    `json:"jobId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradeOrder is what the Execution Adapter receives for an admitted trade job.
type TradeOrder struct {
	JobID       string    `json:"jobId"`
	Attempt     int       `json:"attempt"`
	SignalID    string    `json:"signalId"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Price       *string   `json:"price,omitempty"`
	TargetPrice *string   `json:"targetPrice,omitempty"`
	StopLoss    *string   `json:"stopLoss,omitempty"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// JobOutcome is reported by the Execution Adapter for a trade job. Attempt
// echoes the TradeOrder it answers.
type JobOutcome struct {
	JobID   string `json:"jobId"`
	Attempt int    `json:"attempt"`
	Success bool   `json:"success"`
	Details string `json:"details,omitempty"`
}

// TradePayload is the queue payload of a trade-execution job.
type TradePayload struct {
	SignalID string `json:"signalId"`
}

// AnalysisPayload is the queue payload of an analysis run.
type AnalysisPayload struct {
	Symbol    string    `json:"symbol"`
	Source    Source    `json:"source"`
	Timeframe Timeframe `json:"timeframe"`
}

// MonitorPayload is the queue payload of a monitor tick.
type MonitorPayload struct {
	Tick time.Time `json:"tick"`
}
