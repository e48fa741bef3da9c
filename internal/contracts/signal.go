package contracts

import (
	"fmt"
	"time"
)

// SignalLeg is one side of a β-neutral position.
type SignalLeg struct {
	Symbol     string    `json:"symbol"`
	Side       TradeSide `json:"side"`
	BetaWeight float64   `json:"beta_weight"`

	// Notional is the leg size after tick/lot/min-notional rounding and
	// position scaling, in the account currency.
	Notional float64 `json:"notional"`
	Quantity float64 `json:"quantity"`
}

// SignalAction is the decision outcome for one tick.
type SignalAction string

const (
	ActionEnter SignalAction = "enter"
	ActionHold  SignalAction = "hold"
)

// Signal is one emitted decision record per pair per inference tick.
// Never mutated; the next tick's signal for the same pair supersedes it.
// Consumers must discard a signal observed past ValidUntil.
type Signal struct {
	SignalID  string    `json:"signal_id"`
	PairID    string    `json:"pair_id"`
	Timestamp time.Time `json:"timestamp"`

	Action     SignalAction `json:"action"`
	ReturnProb float64      `json:"return_prob"`
	RiskScore  float64      `json:"risk_score"`
	RiskFlag   int          `json:"risk_flag"`

	// Thresholds and model version active at generation time.
	Theta1       float64 `json:"theta1"`
	Theta2       float64 `json:"theta2"`
	ModelVersion string  `json:"model_version"`

	PositionScale float64     `json:"position_scale"`
	Legs          []SignalLeg `json:"legs,omitempty"`

	ValidUntil time.Time `json:"valid_until"`

	// LatencyMS is the measured inference-to-emission latency.
	// The 200ms budget is reported, not enforced here.
	LatencyMS float64 `json:"latency_ms"`
}

// Validate checks the signal invariants before emission.
func (s Signal) Validate() error {
	if s.SignalID == "" {
		return fmt.Errorf("signal_id is required")
	}
	if s.PairID == "" {
		return fmt.Errorf("pair_id is required")
	}
	if s.ModelVersion == "" {
		return fmt.Errorf("model_version is required")
	}
	if s.ReturnProb < 0 || s.ReturnProb > 1 {
		return fmt.Errorf("return_prob must be in [0,1], got %f", s.ReturnProb)
	}
	if s.RiskScore < 0 || s.RiskScore > 1 {
		return fmt.Errorf("risk_score must be in [0,1], got %f", s.RiskScore)
	}
	if s.PositionScale < 0 || s.PositionScale > 1 {
		return fmt.Errorf("position_scale must be in [0,1], got %f", s.PositionScale)
	}
	if !s.ValidUntil.After(s.Timestamp) {
		return fmt.Errorf("valid_until must be after timestamp")
	}
	if s.Action == ActionEnter && len(s.Legs) == 0 {
		return fmt.Errorf("enter signal requires legs")
	}
	return nil
}
