package quality

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
)

// IndexWriter persists the filtered index of excluded partitions for audit.
type IndexWriter interface {
	WriteVerdicts(ctx context.Context, verdicts []contracts.PartitionVerdict) error
}

// Gate filters dataset partitions by completeness and outlier ratios.
// ⭐ SSOT: S0 quality decisions are made here only
type Gate struct {
	config strategy.Quality
	index  IndexWriter
	log    zerolog.Logger
}

// NewGate creates a new quality gate.
func NewGate(config strategy.Quality, index IndexWriter, log zerolog.Logger) *Gate {
	return &Gate{
		config: config,
		index:  index,
		log:    log.With().Str("component", "quality.gate").Logger(),
	}
}

// Evaluate decides inclusion for a single partition.
// Malformed counters (negative counts, rate above one) produce a
// data-integrity fault and exclude the partition; rates are never clamped.
func (g *Gate) Evaluate(p contracts.DatasetPartition) (contracts.PartitionVerdict, error) {
	verdict := contracts.PartitionVerdict{
		Partition: p,
		CheckedAt: time.Now().UTC(),
	}

	if err := p.Validate(); err != nil {
		verdict.Reason = contracts.ExcludeReasonMalformedCounters
		return verdict, contracts.WrapFault(contracts.ReasonDataQuality, contracts.StageQuality,
			err, "malformed partition "+p.ID())
	}
	if p.MissingBars < 0 || p.OutlierBars < 0 {
		verdict.Reason = contracts.ExcludeReasonMalformedCounters
		return verdict, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageQuality,
			"partition %s: negative counters missing=%d outlier=%d", p.ID(), p.MissingBars, p.OutlierBars)
	}

	totalBars := p.BarsWritten + p.MissingBars
	verdict.MissingRate = float64(p.MissingBars) / float64(totalBars)
	verdict.OutlierRate = float64(p.OutlierBars) / float64(totalBars)

	if verdict.MissingRate > 1 || verdict.OutlierRate > 1 {
		verdict.Reason = contracts.ExcludeReasonMalformedCounters
		return verdict, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageQuality,
			"partition %s: rate above 1 (missing=%.4f outlier=%.4f)", p.ID(), verdict.MissingRate, verdict.OutlierRate)
	}

	switch {
	case p.QuarantineFlag:
		verdict.Reason = contracts.ExcludeReasonUpstreamQuarantine
	case verdict.MissingRate > g.config.MaxMissingRate:
		verdict.Reason = contracts.ExcludeReasonMissingRate
	case verdict.OutlierRate > g.config.MaxOutlierRate:
		verdict.Reason = contracts.ExcludeReasonOutlierRate
	case p.BarsWritten < g.config.MinRows:
		verdict.Reason = contracts.ExcludeReasonInsufficientRows
	default:
		verdict.Included = true
	}

	return verdict, nil
}

// Run evaluates a batch of partitions, writes the exclusion index, and
// returns the included partitions. Exclusions never abort the run.
func (g *Gate) Run(ctx context.Context, partitions []contracts.DatasetPartition) ([]contracts.DatasetPartition, []contracts.PartitionVerdict, error) {
	included := make([]contracts.DatasetPartition, 0, len(partitions))
	excluded := make([]contracts.PartitionVerdict, 0)

	for _, p := range partitions {
		verdict, err := g.Evaluate(p)
		if err != nil {
			g.log.Warn().Err(err).Str("partition", p.ID()).Msg("partition excluded with integrity error")
			excluded = append(excluded, verdict)
			continue
		}
		if !verdict.Included {
			g.log.Info().
				Str("partition", p.ID()).
				Str("reason", verdict.Reason).
				Float64("missing_rate", verdict.MissingRate).
				Float64("outlier_rate", verdict.OutlierRate).
				Msg("partition excluded")
			excluded = append(excluded, verdict)
			continue
		}
		included = append(included, p)
	}

	if len(excluded) > 0 && g.index != nil {
		if err := g.index.WriteVerdicts(ctx, excluded); err != nil {
			return nil, nil, contracts.WrapFault(contracts.ReasonDataQuality, contracts.StageQuality,
				err, "write exclusion index")
		}
	}

	g.log.Info().
		Int("total", len(partitions)).
		Int("included", len(included)).
		Int("excluded", len(excluded)).
		Msg("quality gate completed")

	return included, excluded, nil
}
