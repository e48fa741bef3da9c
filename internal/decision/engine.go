package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/universe"
	"github.com/jmlee/statarb/pkg/logger"
)

// TickInput is one pair's inference input for one tick. The feature
// vector and prices must come from the same upstream bar.
type TickInput struct {
	PairID    string
	Timestamp time.Time
	Features  contracts.FeatureVector
	Prices    LegPrices

	// GrossNotional is the pre-scale budget for both legs combined, in
	// the account currency.
	GrossNotional decimal.Decimal
}

// Config bounds the engine's staleness and validity windows.
type Config struct {
	SignalTTL time.Duration
	FXMaxAge  time.Duration
}

// ErrOutOfSession means the tick fell outside the pair's trading-hours
// calendar; no signal is emitted.
var ErrOutOfSession = errors.New("pair outside trading session")

// Engine applies the active (model pair, θ) snapshot to live feature
// vectors. One engine instance serves one worker process; Evaluate is
// called from a single goroutine per pair partition, so the
// per-pair tick bookkeeping needs no lock.
type Engine struct {
	holder   *Holder
	universe *universe.Universe
	fx       FXSource
	config   Config
	log      zerolog.Logger

	lastTick map[string]time.Time
}

// NewEngine wires the engine against the deployed-snapshot holder.
func NewEngine(holder *Holder, u *universe.Universe, fx FXSource, cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		holder:   holder,
		universe: u,
		fx:       fx,
		config:   cfg,
		log:      log.Zerolog().With().Str("component", "decision.engine").Logger(),
		lastTick: make(map[string]time.Time),
	}
}

// Evaluate produces the pair's signal for one tick. Fails closed: a
// stale FX rate or a non-advancing tick suppresses the signal with a
// STALE_INPUT fault rather than emitting anything.
func (e *Engine) Evaluate(ctx context.Context, in TickInput) (*contracts.Signal, error) {
	start := time.Now()

	snap := e.holder.Load()
	if snap == nil {
		return nil, fmt.Errorf("no deployed model snapshot")
	}
	if err := in.Features.Validate(); err != nil {
		return nil, fmt.Errorf("pair %s: %w", in.PairID, err)
	}

	pair, ok := e.universe.PairByID(in.PairID)
	if !ok {
		return nil, fmt.Errorf("pair %s not in universe", in.PairID)
	}
	if !pair.Hours.Contains(in.Timestamp) {
		return nil, fmt.Errorf("pair %s at %s: %w", in.PairID, in.Timestamp.Format(time.RFC3339), ErrOutOfSession)
	}

	// A probability/score pair is valid for exactly one tick. Reusing
	// inputs from an already-emitted bar is a staleness violation.
	if last, ok := e.lastTick[in.PairID]; ok && !in.Timestamp.After(last) {
		return nil, contracts.NewFault(contracts.ReasonStaleInput, contracts.StageDecision,
			"pair %s: tick %s does not advance past emitted tick %s",
			in.PairID, in.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	returnProb := snap.AI1.PredictProb(in.Features)
	riskScore := snap.AI2.PredictProb(in.Features)
	// Same mapping the labeler stores as the sizing-model target; a
	// trained third model would replace this.
	positionScale := clamp01(1 - (returnProb+riskScore)/2)

	theta1, theta2 := snap.Theta.Theta1, snap.Theta.Theta2
	riskFlag := 0
	if riskScore >= theta2 {
		riskFlag = 1
	}

	signal := &contracts.Signal{
		SignalID:      uuid.NewString(),
		PairID:        in.PairID,
		Timestamp:     in.Timestamp,
		Action:        contracts.ActionHold,
		ReturnProb:    returnProb,
		RiskScore:     riskScore,
		RiskFlag:      riskFlag,
		Theta1:        theta1,
		Theta2:        theta2,
		ModelVersion:  snap.Version,
		PositionScale: positionScale,
		ValidUntil:    in.Timestamp.Add(e.config.SignalTTL),
	}

	if returnProb > theta1 && riskScore < theta2 {
		legs, err := e.enter(ctx, pair, in, positionScale)
		if err != nil {
			return nil, err
		}
		signal.Action = contracts.ActionEnter
		signal.Legs = legs
	}

	if err := signal.Validate(); err != nil {
		return nil, fmt.Errorf("pair %s: %w", in.PairID, err)
	}

	signal.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	e.lastTick[in.PairID] = in.Timestamp

	e.log.Debug().
		Str("pair_id", in.PairID).
		Str("action", string(signal.Action)).
		Float64("return_prob", returnProb).
		Float64("risk_score", riskScore).
		Int("risk_flag", riskFlag).
		Float64("latency_ms", signal.LatencyMS).
		Msg("signal generated")

	return signal, nil
}

// enter builds the β-neutral legs, converting quoted prices into the
// account currency first. A reference rate older than the staleness
// bound suppresses the entry.
func (e *Engine) enter(ctx context.Context, pair universe.Pair, in TickInput, positionScale float64) ([]contracts.SignalLeg, error) {
	instA, okA := e.universe.InstrumentBySymbol(pair.LegA)
	instB, okB := e.universe.InstrumentBySymbol(pair.LegB)
	if !okA || !okB {
		return nil, fmt.Errorf("pair %s: unknown leg instrument", pair.PairID)
	}

	prices := in.Prices
	var err error
	if prices.PriceA, err = e.toAccountCurrency(ctx, instA, prices.PriceA); err != nil {
		return nil, err
	}
	if prices.PriceB, err = e.toAccountCurrency(ctx, instB, prices.PriceB); err != nil {
		return nil, err
	}

	direction := contracts.SideLong
	if in.Features[contracts.FeatureZ] > 0 {
		direction = contracts.SideShort
	}

	return buildLegs(pair, instA, instB, direction, prices, in.GrossNotional, positionScale)
}

func (e *Engine) toAccountCurrency(ctx context.Context, inst universe.Instrument, price decimal.Decimal) (decimal.Decimal, error) {
	if inst.QuoteCurrency == "" {
		return price, nil
	}
	rate, asOf, err := e.fx.Rate(ctx, inst.QuoteCurrency)
	if err != nil {
		return decimal.Zero, contracts.WrapFault(contracts.ReasonStaleInput, contracts.StageDecision,
			err, fmt.Sprintf("reference rate unavailable for %s", inst.QuoteCurrency))
	}
	if age := time.Since(asOf); age > e.config.FXMaxAge {
		return decimal.Zero, contracts.NewFault(contracts.ReasonStaleInput, contracts.StageDecision,
			"reference rate for %s is %s old, bound is %s", inst.QuoteCurrency, age.Round(time.Second), e.config.FXMaxAge)
	}
	return price.Mul(decimal.NewFromFloat(rate)), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
