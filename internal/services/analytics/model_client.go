package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	drepo "FinFuse/internal/domain/repository"
	svcmetrics "FinFuse/internal/service/metrics"
	"FinFuse/pkg/cache"
	xhttp "FinFuse/pkg/http"
)

// HTTPModelClient asks the model service for an opinion per source. Each
// source maps to POST /signals/<source>.
type HTTPModelClient struct {
	base     *HTTPServiceBase
	cache    cache.Service
	cacheTTL time.Duration
	attempts int
	metrics  *svcmetrics.ModelMetrics
}

// NewHTTPModelClient creates a model client. With a cache, opinions are
// reused for cacheTTL per symbol, source and timeframe.
func NewHTTPModelClient(baseURL string, timeout time.Duration, c cache.Service, cacheTTL time.Duration, opts ...xhttp.ClientOption) *HTTPModelClient {
	return &HTTPModelClient{
		base:     NewHTTPServiceBase(baseURL, timeout, opts...),
		cache:    c,
		cacheTTL: cacheTTL,
		attempts: 3,
	}
}

// SetMetrics enables call metrics.
func (m *HTTPModelClient) SetMetrics(mm *svcmetrics.ModelMetrics) { m.metrics = mm }

type opinionRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type opinionResponse struct {
	Abstain     bool           `json:"abstain"`
	Action      string         `json:"action"`
	Confidence  float64        `json:"confidence"`
	Price       *string        `json:"price"`
	TargetPrice *string        `json:"targetPrice"`
	StopLoss    *string        `json:"stopLoss"`
	ExpiresAt   *time.Time     `json:"expiresAt"`
	Model       string         `json:"model"`
	Features    map[string]any `json:"features"`
}

// Analyze returns nil when the model abstains.
func (m *HTTPModelClient) Analyze(ctx context.Context, symbol string, source models.Source, tf models.Timeframe) (*models.SubmitSignalRequest, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := cache.GenerateKeyWithParams("model", source.String(), symbol, string(tf))

	var resp opinionResponse
	if m.cache != nil && m.cacheTTL > 0 {
		err := m.cache.Get(ctx, key, &resp)
		m.metrics.CacheLookup(err == nil)
		if err == nil {
			return resp.toRequest(symbol, source, tf), nil
		}
	}

	path := "/signals/" + source.String()
	start := time.Now()
	err := m.base.PostJSONWithRetry(ctx, path, opinionRequest{Symbol: symbol, Timeframe: string(tf)}, &resp, m.attempts)
	m.metrics.Observe(source.String(), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", source, err)
	}
	if m.cache != nil && m.cacheTTL > 0 {
		_ = m.cache.Set(ctx, key, resp, m.cacheTTL)
	}
	return resp.toRequest(symbol, source, tf), nil
}

func (r opinionResponse) toRequest(symbol string, source models.Source, tf models.Timeframe) *models.SubmitSignalRequest {
	if r.Abstain {
		return nil
	}
	meta := map[string]any{}
	if r.Model != "" {
		meta["model"] = r.Model
	}
	if len(r.Features) > 0 {
		meta["features"] = r.Features
	}
	return &models.SubmitSignalRequest{
		Symbol:      symbol,
		Action:      r.Action,
		Confidence:  r.Confidence,
		Price:       r.Price,
		TargetPrice: r.TargetPrice,
		StopLoss:    r.StopLoss,
		Source:      source.String(),
		Timeframe:   string(tf),
		ExpiresAt:   r.ExpiresAt,
		Metadata:    meta,
	}
}

var _ drepo.ModelClient = (*HTTPModelClient)(nil)
