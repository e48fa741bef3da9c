package decision

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/universe"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sizingFixtures() (universe.Pair, universe.Instrument, universe.Instrument) {
	pair := universe.Pair{PairID: "BTC-ETH", LegA: "BTC", LegB: "ETH", HedgeBeta: 1.5}
	btc := universe.Instrument{Symbol: "BTC", TickSize: dec("0.1"), LotStep: dec("0.001"), MinNotional: dec("10")}
	eth := universe.Instrument{Symbol: "ETH", TickSize: dec("0.01"), LotStep: dec("0.01"), MinNotional: dec("10")}
	return pair, btc, eth
}

func TestBuildLegs_BetaNeutralSplit(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	legs, err := buildLegs(pair, btc, eth, contracts.SideShort, prices, dec("100000"), 1.0)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	// Notional ratio legB/legA approximates the hedge beta after
	// rounding.
	assert.InDelta(t, 1.5, legs[1].Notional/legs[0].Notional, 0.01)
	assert.Equal(t, contracts.SideShort, legs[0].Side)
	assert.Equal(t, contracts.SideLong, legs[1].Side)
	assert.InDelta(t, 1.5, legs[1].BetaWeight, 1e-9)
}

func TestBuildLegs_LotStepFloor(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	legs, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 1.0)
	require.NoError(t, err)

	// Quantities land exactly on the lot grid.
	qtyA := decimal.NewFromFloat(legs[0].Quantity)
	assert.True(t, qtyA.Mod(btc.LotStep).IsZero(), "quantity %s not on lot step %s", qtyA, btc.LotStep)
	qtyB := decimal.NewFromFloat(legs[1].Quantity)
	assert.True(t, qtyB.Mod(eth.LotStep).IsZero())
}

func TestBuildLegs_CostTableShrinksNotional(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	free, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 1.0)
	require.NoError(t, err)

	// commission 10bp and slippage 5bp per side, spread 20bp, swap 10bp:
	// 60bp of gross is reserved for costs.
	pair.Costs = universe.CostTable{Commission: 0.001, Slippage: 0.0005, Spread: 0.002, Swap: 0.001}
	assert.InDelta(t, 0.006, pair.Costs.RoundTripRate(), 1e-9)

	costed, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 1.0)
	require.NoError(t, err)

	deployedFree := free[0].Notional + free[1].Notional
	deployedCosted := costed[0].Notional + costed[1].Notional
	assert.Less(t, deployedCosted, deployedFree)
	assert.InDelta(t, deployedFree*(1-0.006), deployedCosted, deployedFree*0.01)
}

func TestBuildLegs_PositionScaleShrinksNotional(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	full, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 1.0)
	require.NoError(t, err)
	half, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 0.5)
	require.NoError(t, err)

	assert.Less(t, half[0].Notional, full[0].Notional)
	assert.InDelta(t, 0.5, half[0].Notional/full[0].Notional, 0.05)
}

func TestBuildLegs_MinNotionalRejectsEntry(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	btc.MinNotional = dec("1000000")
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	_, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
}

func TestBuildLegs_ZeroQuantityRejected(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	// Budget too small for even one BTC lot step.
	_, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("20"), 1.0)
	require.Error(t, err)
}

func TestBuildLegs_NegativeBetaAlignsSides(t *testing.T) {
	pair, btc, eth := sizingFixtures()
	pair.HedgeBeta = -1.5
	prices := LegPrices{PriceA: dec("50000"), PriceB: dec("3000")}

	legs, err := buildLegs(pair, btc, eth, contracts.SideLong, prices, dec("100000"), 1.0)
	require.NoError(t, err)
	assert.Equal(t, legs[0].Side, legs[1].Side)
}
