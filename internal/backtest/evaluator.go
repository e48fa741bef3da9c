// Package backtest is the client side of the external backtest
// evaluator. The engine is consumed as a pure function of
// (version, theta1, theta2) over a fixed evaluation window; this
// package never simulates fills itself.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/pkg/config"
	"github.com/jmlee/statarb/pkg/httputil"
	"github.com/jmlee/statarb/pkg/logger"
)

// Evaluator scores a (model version, θ) candidate against the external
// engine. Safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error)
}

// EvalRequest identifies one candidate evaluation.
type EvalRequest struct {
	UniverseID string  `json:"universe_id"`
	Version    string  `json:"version"`
	Theta1     float64 `json:"theta1"`
	Theta2     float64 `json:"theta2"`

	// Scenarios requests per-scenario stressed runs alongside the base
	// window (fee shocks, slippage shocks, regime slices).
	Scenarios bool `json:"scenarios"`
}

// EvalResult is the engine's verdict for one candidate.
type EvalResult struct {
	AnnualReturn  float64 `json:"annual_return"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	TradesPerYear float64 `json:"trades_per_year"`
	FalsePositive float64 `json:"false_positive_rate"`
	Sharpe        float64 `json:"sharpe"`

	// ScenarioReturns are annualized returns under each stress scenario,
	// used for the confidence-interval guard.
	ScenarioReturns []float64 `json:"scenario_returns,omitempty"`
}

// Baseline converts the result into the artifact's backtest snapshot.
func (r *EvalResult) Baseline() contracts.BacktestMetrics {
	return contracts.BacktestMetrics{
		Sharpe:        r.Sharpe,
		MaxDrawdown:   r.MaxDrawdown,
		TradesPerYear: r.TradesPerYear,
		AnnualReturn:  r.AnnualReturn,
	}
}

// Client talks to the evaluator over HTTP with retry and client-side
// rate limiting, so an optimizer sweep cannot flood the engine.
type Client struct {
	http    *httputil.Client
	limiter *rate.Limiter
	baseURL string
	log     zerolog.Logger
}

// NewClient builds an evaluator client from the service config.
func NewClient(cfg config.BacktestConfig, log *logger.Logger) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		http:    httputil.NewWithTimeout(log, cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		baseURL: cfg.BaseURL,
		log:     log.Zerolog().With().Str("component", "backtest.client").Logger(),
	}
}

// Evaluate submits one candidate and parses the engine's verdict.
func (c *Client) Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := c.http.PostJSON(ctx, c.baseURL+"/v1/evaluate", req)
	if err != nil {
		return nil, fmt.Errorf("evaluator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("evaluator returned %d: %s", resp.StatusCode, string(body))
	}

	var result EvalResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode evaluator response: %w", err)
	}

	c.log.Debug().
		Str("version", req.Version).
		Float64("theta1", req.Theta1).
		Float64("theta2", req.Theta2).
		Float64("annual_return", result.AnnualReturn).
		Float64("max_drawdown", result.MaxDrawdown).
		Dur("elapsed", time.Since(start)).
		Msg("candidate evaluated")

	return &result, nil
}
