package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/pkg/logger"
)

// ErrStateConflict means a state update found a different current state
// than expected. Under single-writer discipline this can only happen
// when a second writer exists, which is a stop-the-line condition.
var ErrStateConflict = errors.New("lifecycle state conflict: concurrent writer detected")

// ErrVersionNotFound means the requested version is not registered.
var ErrVersionNotFound = errors.New("version not found")

// VersionEntry is one registered artifact pair with its thresholds and
// lifecycle state.
type VersionEntry struct {
	Artifact contracts.ModelArtifact  `json:"artifact"`
	Theta    contracts.ThetaParams    `json:"theta"`
	State    contracts.LifecycleState `json:"state"`

	// PriorVersion is the version this one superseded at deploy time;
	// rollback restores it.
	PriorVersion string `json:"prior_version,omitempty"`
}

// Registry persists the version registry and the append-only transition
// log.
type Registry interface {
	SaveVersion(ctx context.Context, entry VersionEntry) error
	GetVersion(ctx context.Context, universeID, version string) (*VersionEntry, error)

	// UpdateState moves a version from an expected state to a new one.
	// Returns ErrStateConflict when the stored state differs from the
	// expected one.
	UpdateState(ctx context.Context, universeID, version string, from, to contracts.LifecycleState) error

	// SetPriorVersion records the supersession link at deploy time.
	SetPriorVersion(ctx context.Context, universeID, version, prior string) error

	// Deployed returns the currently deployed version, nil when none.
	Deployed(ctx context.Context, universeID string) (*VersionEntry, error)

	// ListVersions returns all versions, newest first.
	ListVersions(ctx context.Context, universeID string) ([]VersionEntry, error)

	AppendTransition(ctx context.Context, record contracts.LifecycleRecord) error

	// PruneVersions deletes the oldest versions beyond keep, never
	// touching the deployed one. Returns the number removed.
	PruneVersions(ctx context.Context, universeID string, keep int) (int, error)

	// Transact runs fn against a transactional registry view; all of
	// fn's writes commit together or not at all.
	Transact(ctx context.Context, fn func(Registry) error) error
}

// querier is the subset of pgxpool.Pool and pgx.Tx the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres Registry.
type Repository struct {
	db   querier
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository wraps the shared connection pool.
func NewRepository(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{
		db:   pool,
		pool: pool,
		log:  log.Zerolog().With().Str("component", "lifecycle.repository").Logger(),
	}
}

// Transact begins a transaction and runs fn against a repository bound
// to it. Already inside a transaction, fn runs directly.
func (r *Repository) Transact(ctx context.Context, fn func(Registry) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin registry transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{db: tx, log: r.log}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit registry transaction: %w", err)
	}
	return nil
}

func (r *Repository) SaveVersion(ctx context.Context, entry VersionEntry) error {
	artifact, err := json.Marshal(entry.Artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	theta, err := json.Marshal(entry.Theta)
	if err != nil {
		return fmt.Errorf("failed to marshal theta: %w", err)
	}

	query := `
		INSERT INTO lifecycle.versions (universe_id, version, state, artifact, theta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.Exec(ctx, query,
		entry.Artifact.UniverseID, entry.Artifact.Version, string(entry.State),
		artifact, theta, entry.Artifact.CreatedAt); err != nil {
		return fmt.Errorf("failed to save version %s: %w", entry.Artifact.Version, err)
	}
	return nil
}

func (r *Repository) GetVersion(ctx context.Context, universeID, version string) (*VersionEntry, error) {
	query := `
		SELECT state, artifact, theta, COALESCE(prior_version, '')
		FROM lifecycle.versions
		WHERE universe_id = $1 AND version = $2
	`
	return r.scanEntry(r.db.QueryRow(ctx, query, universeID, version))
}

func (r *Repository) UpdateState(ctx context.Context, universeID, version string, from, to contracts.LifecycleState) error {
	query := `
		UPDATE lifecycle.versions
		SET state = $1, updated_at = NOW()
		WHERE universe_id = $2 AND version = $3 AND state = $4
	`
	tag, err := r.db.Exec(ctx, query, string(to), universeID, version, string(from))
	if err != nil {
		return fmt.Errorf("failed to update state of %s: %w", version, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the version is missing or its state moved under us.
		if _, err := r.GetVersion(ctx, universeID, version); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

func (r *Repository) SetPriorVersion(ctx context.Context, universeID, version, prior string) error {
	query := `
		UPDATE lifecycle.versions
		SET prior_version = $1, updated_at = NOW()
		WHERE universe_id = $2 AND version = $3
	`
	tag, err := r.db.Exec(ctx, query, prior, universeID, version)
	if err != nil {
		return fmt.Errorf("failed to set prior version of %s: %w", version, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionNotFound
	}
	return nil
}

func (r *Repository) Deployed(ctx context.Context, universeID string) (*VersionEntry, error) {
	query := `
		SELECT state, artifact, theta, COALESCE(prior_version, '')
		FROM lifecycle.versions
		WHERE universe_id = $1 AND state = 'deployed'
	`
	entry, err := r.scanEntry(r.db.QueryRow(ctx, query, universeID))
	if errors.Is(err, ErrVersionNotFound) {
		return nil, nil
	}
	return entry, err
}

func (r *Repository) ListVersions(ctx context.Context, universeID string) ([]VersionEntry, error) {
	query := `
		SELECT state, artifact, theta, COALESCE(prior_version, '')
		FROM lifecycle.versions
		WHERE universe_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, universeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var entries []VersionEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (r *Repository) AppendTransition(ctx context.Context, record contracts.LifecycleRecord) error {
	query := `
		INSERT INTO lifecycle.transitions (universe_id, version, from_state, to_state, actor, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.Exec(ctx, query,
		record.UniverseID, record.Version, string(record.FromState), string(record.ToState),
		record.Actor, record.Reason, record.OccurredAt); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (r *Repository) PruneVersions(ctx context.Context, universeID string, keep int) (int, error) {
	query := `
		DELETE FROM lifecycle.versions
		WHERE universe_id = $1
		  AND state != 'deployed'
		  AND version NOT IN (
			SELECT version FROM lifecycle.versions
			WHERE universe_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		  )
	`
	tag, err := r.db.Exec(ctx, query, universeID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune versions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanEntry(row rowScanner) (*VersionEntry, error) {
	var state, prior string
	var artifactJSON, thetaJSON []byte
	if err := row.Scan(&state, &artifactJSON, &thetaJSON, &prior); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	var entry VersionEntry
	entry.State = contracts.LifecycleState(state)
	entry.PriorVersion = prior
	if err := json.Unmarshal(artifactJSON, &entry.Artifact); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if err := json.Unmarshal(thetaJSON, &entry.Theta); err != nil {
		return nil, fmt.Errorf("failed to parse theta: %w", err)
	}
	return &entry, nil
}
