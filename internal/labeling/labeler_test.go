package labeling

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
)

func testConfig() strategy.Labeling {
	return strategy.Labeling{
		EntryZ:         2.0,
		ExitZ:          0.5,
		Lookahead:      48,
		SpeedMax:       0.12,
		RhoVarMax:      0.025,
		ATRRatioMax:    1.8,
		DrawdownMax:    0.07,
		MaxClassWeight: 5.0,
	}
}

func testPartition() contracts.DatasetPartition {
	return contracts.DatasetPartition{
		Timeframe:     "5m",
		Symbol:        "XAUUSD-XAGUSD",
		Year:          2026,
		Month:         6,
		LastTimestamp: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		BarsWritten:   200,
		DataHash:      "sha256:cafe",
	}
}

// quietBar builds a bar with no risk triggers.
func quietBar(z float64) contracts.FeatureVector {
	return contracts.FeatureVector{
		contracts.FeatureZ:        z,
		contracts.FeatureDeltaZ:   0.05,
		contracts.FeatureRhoVar:   0.01,
		contracts.FeatureATRRatio: 1.0,
		contracts.FeatureDrawdown: 0.01,
	}
}

func TestLabeler_AI1_ReversionWithinWindow(t *testing.T) {
	l := NewLabeler(testConfig(), zerolog.Nop())

	// z=2.3 at bar 0, reaches |z|=0.4 at bar 30 (within M=48),
	// EMA|Δz| stays at 0.05 (<= 0.10) throughout → label 1, short direction.
	features := make([]contracts.FeatureVector, 60)
	for i := range features {
		features[i] = quietBar(1.0)
	}
	features[0] = quietBar(2.3)
	features[30] = quietBar(0.4)

	samples, err := l.Label(testPartition(), features)
	require.NoError(t, err)

	assert.True(t, samples[0].AI1Eligible)
	assert.Equal(t, 1, samples[0].LabelAI1)
	assert.Equal(t, contracts.SideShort, samples[0].Direction)
}

func TestLabeler_AI1_NoReversion(t *testing.T) {
	l := NewLabeler(testConfig(), zerolog.Nop())

	// Episode starts but |z| never reaches 0.5 within the window.
	features := make([]contracts.FeatureVector, 60)
	for i := range features {
		features[i] = quietBar(1.5)
	}
	features[0] = quietBar(-2.4)

	samples, err := l.Label(testPartition(), features)
	require.NoError(t, err)

	assert.True(t, samples[0].AI1Eligible)
	assert.Equal(t, 0, samples[0].LabelAI1)
	assert.Equal(t, contracts.SideLong, samples[0].Direction)
}

func TestLabeler_AI1_RegimeBreakExcludesEpisode(t *testing.T) {
	l := NewLabeler(testConfig(), zerolog.Nop())

	features := make([]contracts.FeatureVector, 60)
	for i := range features {
		features[i] = quietBar(1.0)
	}
	features[0] = quietBar(2.5)
	// Speed spike inside the window before reversion: regime break.
	features[10][contracts.FeatureDeltaZ] = 0.20
	features[30] = quietBar(0.3)

	samples, err := l.Label(testPartition(), features)
	require.NoError(t, err)

	// Excluded entirely, neither 0 nor 1.
	assert.False(t, samples[0].AI1Eligible)
	assert.Equal(t, 0, samples[0].LabelAI1)
}

func TestLabeler_AI2_AnyTriggerFlags(t *testing.T) {
	l := NewLabeler(testConfig(), zerolog.Nop())

	tests := []struct {
		name   string
		mutate func(contracts.FeatureVector)
		want   int
	}{
		{"no triggers", func(f contracts.FeatureVector) {}, 0},
		{"atr ratio 2.1 alone flags", func(f contracts.FeatureVector) {
			f[contracts.FeatureATRRatio] = 2.1
		}, 1},
		{"rho variance", func(f contracts.FeatureVector) {
			f[contracts.FeatureRhoVar] = 0.03
		}, 1},
		{"speed", func(f contracts.FeatureVector) {
			f[contracts.FeatureDeltaZ] = -0.15 // absolute value counts
		}, 1},
		{"drawdown", func(f contracts.FeatureVector) {
			f[contracts.FeatureDrawdown] = 0.08
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := quietBar(0.5)
			tt.mutate(bar)

			samples, err := l.Label(testPartition(), []contracts.FeatureVector{bar})
			require.NoError(t, err)
			assert.Equal(t, tt.want, samples[0].LabelAI2)
		})
	}
}

func TestLabeler_MissingFeatureKey(t *testing.T) {
	l := NewLabeler(testConfig(), zerolog.Nop())

	bar := quietBar(0.5)
	delete(bar, contracts.FeatureATRRatio)

	_, err := l.Label(testPartition(), []contracts.FeatureVector{bar})
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonDataQuality, contracts.CodeOf(err))
}

func TestLabeler_Idempotent(t *testing.T) {
	l := NewLabeler(testConfig(), zerolog.Nop())

	features := make([]contracts.FeatureVector, 120)
	for i := range features {
		z := 2.5 - float64(i)*0.04
		features[i] = quietBar(z)
	}

	first, err := l.Label(testPartition(), features)
	require.NoError(t, err)
	second, err := l.Label(testPartition(), features)
	require.NoError(t, err)

	assert.Equal(t, LabelSetHash(first), LabelSetHash(second))
	assert.Equal(t, first, second)
}

func TestPositiveClassWeight_Cap(t *testing.T) {
	// 1:20 imbalance capped at 1:5
	assert.Equal(t, 5.0, PositiveClassWeight(10, 200, 5.0))
	// mild imbalance passes through
	assert.Equal(t, 3.0, PositiveClassWeight(10, 30, 5.0))
	// balanced or inverted stays at 1
	assert.Equal(t, 1.0, PositiveClassWeight(30, 30, 5.0))
	assert.Equal(t, 1.0, PositiveClassWeight(40, 20, 5.0))
	// degenerate distributions
	assert.Equal(t, 1.0, PositiveClassWeight(0, 50, 5.0))
}
