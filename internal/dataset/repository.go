// Package dataset reads the curated bar/feature store written by the
// upstream ingestion and feature-computation pipeline. Read-only from
// this engine's point of view.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmlee/statarb/internal/contracts"
)

// Repository loads dataset partitions and their feature vectors from
// PostgreSQL. Partitions are immutable; a re-ingested slice appears
// under a new data hash.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new dataset repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Partitions lists the universe's partitions in chronological order,
// superseded hashes excluded.
func (r *Repository) Partitions(ctx context.Context, universeID string) ([]contracts.DatasetPartition, error) {
	query := `
		SELECT DISTINCT ON (timeframe, symbol, year, month)
			timeframe, symbol, year, month, last_timestamp,
			bars_written, missing_bars, outlier_bars, quarantine_flag, data_hash
		FROM dataset.partitions
		WHERE universe_id = $1
		ORDER BY timeframe, symbol, year, month, ingested_at DESC
	`
	rows, err := r.pool.Query(ctx, query, universeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query partitions: %w", err)
	}
	defer rows.Close()

	var partitions []contracts.DatasetPartition
	for rows.Next() {
		var p contracts.DatasetPartition
		if err := rows.Scan(&p.Timeframe, &p.Symbol, &p.Year, &p.Month, &p.LastTimestamp,
			&p.BarsWritten, &p.MissingBars, &p.OutlierBars, &p.QuarantineFlag, &p.DataHash); err != nil {
			return nil, fmt.Errorf("failed to scan partition: %w", err)
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

// Features returns the partition's bar-ordered feature vectors and
// timestamps.
func (r *Repository) Features(ctx context.Context, partition contracts.DatasetPartition) ([]contracts.FeatureVector, []time.Time, error) {
	query := `
		SELECT ts, features
		FROM dataset.features
		WHERE timeframe = $1 AND symbol = $2 AND data_hash = $3
		ORDER BY ts ASC
	`
	rows, err := r.pool.Query(ctx, query, partition.Timeframe, partition.Symbol, partition.DataHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query features for %s: %w", partition.ID(), err)
	}
	defer rows.Close()

	var features []contracts.FeatureVector
	var timestamps []time.Time
	for rows.Next() {
		var ts time.Time
		var raw []byte
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		var f contracts.FeatureVector
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, nil, fmt.Errorf("failed to parse feature row at %s: %w", ts, err)
		}
		features = append(features, f)
		timestamps = append(timestamps, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(features) != partition.BarsWritten {
		return nil, nil, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageQuality,
			"partition %s: feature rows %d do not match bars_written %d",
			partition.ID(), len(features), partition.BarsWritten)
	}
	return features, timestamps, nil
}
