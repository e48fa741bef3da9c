package quality

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
)

func testConfig() strategy.Quality {
	return strategy.Quality{
		MaxMissingRate: 0.02,
		MaxOutlierRate: 0.01,
		MinRows:        100,
	}
}

func validPartition() contracts.DatasetPartition {
	return contracts.DatasetPartition{
		Timeframe:     "5m",
		Symbol:        "XAUUSD-XAGUSD",
		Year:          2026,
		Month:         6,
		LastTimestamp: time.Date(2026, 6, 30, 23, 55, 0, 0, time.UTC),
		BarsWritten:   8000,
		MissingBars:   10,
		OutlierBars:   5,
		DataHash:      "sha256:deadbeef",
	}
}

type memIndex struct {
	verdicts []contracts.PartitionVerdict
}

func (m *memIndex) WriteVerdicts(_ context.Context, vs []contracts.PartitionVerdict) error {
	m.verdicts = append(m.verdicts, vs...)
	return nil
}

func TestGate_Evaluate(t *testing.T) {
	gate := NewGate(testConfig(), nil, zerolog.Nop())

	tests := []struct {
		name     string
		mutate   func(*contracts.DatasetPartition)
		included bool
		reason   string
	}{
		{
			name:     "clean partition included",
			mutate:   func(p *contracts.DatasetPartition) {},
			included: true,
		},
		{
			name: "missing rate above threshold",
			mutate: func(p *contracts.DatasetPartition) {
				p.MissingBars = 400 // 400/8400 ≈ 4.8%
			},
			reason: contracts.ExcludeReasonMissingRate,
		},
		{
			name: "outlier rate above threshold",
			mutate: func(p *contracts.DatasetPartition) {
				p.OutlierBars = 200
			},
			reason: contracts.ExcludeReasonOutlierRate,
		},
		{
			name: "upstream quarantine propagates",
			mutate: func(p *contracts.DatasetPartition) {
				p.QuarantineFlag = true
			},
			reason: contracts.ExcludeReasonUpstreamQuarantine,
		},
		{
			name: "too few rows",
			mutate: func(p *contracts.DatasetPartition) {
				p.BarsWritten = 50
			},
			reason: contracts.ExcludeReasonInsufficientRows,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPartition()
			tt.mutate(&p)

			verdict, err := gate.Evaluate(p)
			require.NoError(t, err)
			assert.Equal(t, tt.included, verdict.Included)
			if !tt.included {
				assert.Equal(t, tt.reason, verdict.Reason)
			}
		})
	}
}

func TestGate_Evaluate_MalformedCounters(t *testing.T) {
	gate := NewGate(testConfig(), nil, zerolog.Nop())

	p := validPartition()
	p.MissingBars = -3

	verdict, err := gate.Evaluate(p)
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonDataQuality, contracts.CodeOf(err))
	assert.False(t, verdict.Included)
	assert.Equal(t, contracts.ExcludeReasonMalformedCounters, verdict.Reason)
}

func TestGate_Run_RecordsExclusions(t *testing.T) {
	index := &memIndex{}
	gate := NewGate(testConfig(), index, zerolog.Nop())

	clean := validPartition()
	dirty := validPartition()
	dirty.Symbol = "USDJPY-EURJPY"
	dirty.QuarantineFlag = true

	included, excluded, err := gate.Run(context.Background(), []contracts.DatasetPartition{clean, dirty})
	require.NoError(t, err)

	assert.Len(t, included, 1)
	assert.Equal(t, clean.ID(), included[0].ID())

	// Every excluded partition carries a reason and lands in the index
	require.Len(t, excluded, 1)
	assert.NotEmpty(t, excluded[0].Reason)
	assert.Len(t, index.verdicts, 1)
}
