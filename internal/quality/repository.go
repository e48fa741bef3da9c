package quality

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmlee/statarb/internal/contracts"
)

// Repository persists quality gate verdicts to PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new quality repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// WriteVerdicts appends excluded-partition rows to the filtered index.
func (r *Repository) WriteVerdicts(ctx context.Context, verdicts []contracts.PartitionVerdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO quality.partition_exclusions
			(partition_id, data_hash, reason, missing_rate, outlier_rate, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (partition_id, data_hash) DO UPDATE SET
			reason = EXCLUDED.reason,
			missing_rate = EXCLUDED.missing_rate,
			outlier_rate = EXCLUDED.outlier_rate,
			checked_at = EXCLUDED.checked_at
	`
	for _, v := range verdicts {
		batch.Queue(query,
			v.Partition.ID(),
			v.Partition.DataHash,
			v.Reason,
			v.MissingRate,
			v.OutlierRate,
			v.CheckedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range verdicts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert partition exclusion: %w", err)
		}
	}
	return nil
}

// ListExclusions returns the recorded exclusions for a given reason, most
// recent first. Used by the audit CLI.
func (r *Repository) ListExclusions(ctx context.Context, reason string, limit int) ([]contracts.PartitionVerdict, error) {
	query := `
		SELECT partition_id, data_hash, reason, missing_rate, outlier_rate, checked_at
		FROM quality.partition_exclusions
		WHERE ($1 = '' OR reason = $1)
		ORDER BY checked_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, reason, limit)
	if err != nil {
		return nil, fmt.Errorf("query partition exclusions: %w", err)
	}
	defer rows.Close()

	var verdicts []contracts.PartitionVerdict
	for rows.Next() {
		var v contracts.PartitionVerdict
		var partitionID string
		if err := rows.Scan(&partitionID, &v.Partition.DataHash, &v.Reason,
			&v.MissingRate, &v.OutlierRate, &v.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan partition exclusion: %w", err)
		}
		v.Partition.Symbol = partitionID
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}
