package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmlee/statarb/internal/contracts"
)

// LiveMetricsRepository reads realized performance rows written by the
// downstream execution stack. Read-only here.
type LiveMetricsRepository struct {
	pool *pgxpool.Pool
}

// NewLiveMetricsRepository creates a live metrics reader.
func NewLiveMetricsRepository(pool *pgxpool.Pool) *LiveMetricsRepository {
	return &LiveMetricsRepository{pool: pool}
}

// LiveMetrics returns the latest realized performance window for the
// universe, ok=false when none has been recorded yet.
func (r *LiveMetricsRepository) LiveMetrics(ctx context.Context, universeID string) (contracts.BacktestMetrics, bool, error) {
	query := `
		SELECT sharpe, max_drawdown, trades_per_year, annual_return
		FROM lifecycle.live_metrics
		WHERE universe_id = $1
		ORDER BY window_end DESC
		LIMIT 1
	`
	var m contracts.BacktestMetrics
	err := r.pool.QueryRow(ctx, query, universeID).Scan(
		&m.Sharpe, &m.MaxDrawdown, &m.TradesPerYear, &m.AnnualReturn)
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.BacktestMetrics{}, false, nil
	}
	if err != nil {
		return contracts.BacktestMetrics{}, false, fmt.Errorf("failed to load live metrics: %w", err)
	}
	return m, true, nil
}
