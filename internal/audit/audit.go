// Package audit is the append-only operational audit trail. Every
// lifecycle transition and threshold adoption is recorded with the
// acting identity, the reason, and a payload snapshot. Rows are never
// updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/pkg/logger"
)

// EventKind classifies audit entries.
type EventKind string

const (
	KindTransition   EventKind = "lifecycle_transition"
	KindThetaAdopted EventKind = "theta_adopted"
	KindRollback     EventKind = "rollback"
	KindRetention    EventKind = "retention_prune"
)

// Event is one audit row.
type Event struct {
	Kind       EventKind   `json:"kind"`
	UniverseID string      `json:"universe_id"`
	Version    string      `json:"version,omitempty"`
	Actor      string      `json:"actor"`
	Reason     string      `json:"reason"`
	Payload    interface{} `json:"payload,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Recorder appends audit events. Implementations must never mutate
// prior entries.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Repository is the Postgres-backed audit trail.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository wraps the shared connection pool.
func NewRepository(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{
		pool: pool,
		log:  log.Zerolog().With().Str("component", "audit.repository").Logger(),
	}
}

// Record inserts one event. Insert only; the table carries no update
// path.
func (r *Repository) Record(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	var payload []byte
	if event.Payload != nil {
		var err error
		payload, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
	}

	query := `
		INSERT INTO audit.events (kind, universe_id, version, actor, reason, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.pool.Exec(ctx, query,
		string(event.Kind), event.UniverseID, event.Version,
		event.Actor, event.Reason, payload, event.OccurredAt); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	r.log.Debug().
		Str("kind", string(event.Kind)).
		Str("universe_id", event.UniverseID).
		Str("version", event.Version).
		Str("actor", event.Actor).
		Msg("audit event recorded")
	return nil
}
