package contracts

import (
	"fmt"
	"time"
)

// DatasetPartition identifies one (timeframe, symbol, year-month) slice of
// the upstream bar feed. Immutable once written; re-ingestion supersedes it
// under a new content hash, it is never mutated in place.
type DatasetPartition struct {
	Timeframe     string    `json:"timeframe"`
	Symbol        string    `json:"symbol"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	LastTimestamp time.Time `json:"last_timestamp"`

	// Summary counters from upstream ingestion.
	BarsWritten int `json:"bars_written"`
	MissingBars int `json:"missing_bars"`
	OutlierBars int `json:"outlier_bars"`

	// QuarantineFlag propagates an explicit upstream quarantine marker.
	QuarantineFlag bool `json:"quarantine_flag"`

	DataHash string `json:"data_hash"`
}

// ID returns the canonical partition identifier.
func (p DatasetPartition) ID() string {
	return fmt.Sprintf("%s:%s:%04d-%02d", p.Timeframe, p.Symbol, p.Year, p.Month)
}

// Validate checks structural invariants mirrored from the ingestion contract.
func (p DatasetPartition) Validate() error {
	if p.Timeframe == "" {
		return fmt.Errorf("timeframe is required")
	}
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month must be in 1..12, got %d", p.Month)
	}
	if p.BarsWritten <= 0 {
		return fmt.Errorf("bars_written must be positive, got %d", p.BarsWritten)
	}
	if p.DataHash == "" {
		return fmt.Errorf("data_hash is required")
	}
	return nil
}

// PartitionVerdict is the quality gate's inclusion decision for one
// partition, threaded explicitly through every downstream stage.
type PartitionVerdict struct {
	Partition DatasetPartition `json:"partition"`
	Included  bool             `json:"included"`

	// Reason is empty for included partitions and one of the
	// ExcludeReason* constants otherwise.
	Reason string `json:"reason,omitempty"`

	MissingRate float64 `json:"missing_rate"`
	OutlierRate float64 `json:"outlier_rate"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Exclusion reason codes recorded in the filtered index.
const (
	ExcludeReasonUpstreamQuarantine = "UPSTREAM_QUARANTINE"
	ExcludeReasonMissingRate        = "MISSING_RATE_EXCEEDED"
	ExcludeReasonOutlierRate        = "OUTLIER_RATE_EXCEEDED"
	ExcludeReasonMalformedCounters  = "MALFORMED_COUNTERS"
	ExcludeReasonInsufficientRows   = "INSUFFICIENT_ROWS"
)
