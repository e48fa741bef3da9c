package decision

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/universe"
)

// LegPrices are the current reference prices for both legs, in each
// instrument's quote currency.
type LegPrices struct {
	PriceA decimal.Decimal
	PriceB decimal.Decimal
}

// buildLegs constructs the β-neutral leg pair. Gross notional is
// reduced by the pair's expected round-trip cost, split so the notional
// exposure ratio legB/legA approximates the hedge beta, then each leg
// is scaled by positionScale and rounded down to the instrument's lot
// step. A leg falling under its minimum notional rejects the entry as
// a whole.
func buildLegs(pair universe.Pair, instA, instB universe.Instrument, direction contracts.TradeSide,
	prices LegPrices, grossNotional decimal.Decimal, positionScale float64) ([]contracts.SignalLeg, error) {

	if prices.PriceA.Sign() <= 0 || prices.PriceB.Sign() <= 0 {
		return nil, fmt.Errorf("pair %s: non-positive reference price", pair.PairID)
	}

	costRate := pair.Costs.RoundTripRate()
	if costRate >= 1 {
		return nil, fmt.Errorf("pair %s: round-trip cost rate %.4f consumes the entire notional", pair.PairID, costRate)
	}

	beta := decimal.NewFromFloat(pair.HedgeBeta).Abs()
	scale := decimal.NewFromFloat(positionScale)
	scaled := grossNotional.Mul(scale).Mul(decimal.NewFromFloat(1 - costRate))

	// notionalA + |β|·notionalA = gross
	notionalA := scaled.Div(decimal.NewFromInt(1).Add(beta))
	notionalB := notionalA.Mul(beta)

	sideA, sideB := contracts.SideLong, contracts.SideShort
	if direction == contracts.SideShort {
		sideA, sideB = contracts.SideShort, contracts.SideLong
	}
	// A negative hedge beta means the legs move together; both sides
	// match in that case.
	if pair.HedgeBeta < 0 {
		sideB = sideA
	}

	legA, err := roundLeg(instA, sideA, notionalA, prices.PriceA, 1.0)
	if err != nil {
		return nil, fmt.Errorf("pair %s leg %s: %w", pair.PairID, instA.Symbol, err)
	}
	legB, err := roundLeg(instB, sideB, notionalB, prices.PriceB, pair.HedgeBeta)
	if err != nil {
		return nil, fmt.Errorf("pair %s leg %s: %w", pair.PairID, instB.Symbol, err)
	}
	return []contracts.SignalLeg{legA, legB}, nil
}

// roundLeg converts a target notional into an executable leg: quantity
// floored to the lot step at a tick-aligned price, with the minimum
// notional enforced after rounding.
func roundLeg(inst universe.Instrument, side contracts.TradeSide,
	notional, price decimal.Decimal, betaWeight float64) (contracts.SignalLeg, error) {

	tickPrice := price.Div(inst.TickSize).Round(0).Mul(inst.TickSize)
	if tickPrice.Sign() <= 0 {
		return contracts.SignalLeg{}, fmt.Errorf("price %s rounds to zero at tick %s", price, inst.TickSize)
	}

	qty := notional.Div(tickPrice).Div(inst.LotStep).Floor().Mul(inst.LotStep)
	if qty.Sign() <= 0 {
		return contracts.SignalLeg{}, fmt.Errorf("target notional %s rounds to zero quantity", notional)
	}

	rounded := qty.Mul(tickPrice)
	if rounded.LessThan(inst.MinNotional) {
		return contracts.SignalLeg{}, fmt.Errorf("rounded notional %s below minimum %s", rounded, inst.MinNotional)
	}

	notionalF, _ := rounded.Float64()
	qtyF, _ := qty.Float64()
	return contracts.SignalLeg{
		Symbol:     inst.Symbol,
		Side:       side,
		BetaWeight: betaWeight,
		Notional:   notionalF,
		Quantity:   qtyF,
	}, nil
}
