// Package handlers holds the read-only status endpoint handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/internal/scheduler"
	"github.com/jmlee/statarb/internal/universe"
	"github.com/jmlee/statarb/pkg/database"
	"github.com/jmlee/statarb/pkg/logger"
	"github.com/jmlee/statarb/pkg/redis"
)

const workerHeartbeatPrefix = "statarb:heartbeat:worker:"

// StatusHandler serves operational state: health, the deployed version
// and its thresholds, recent signals, job statistics, and worker
// liveness. Strictly read-only.
// ⭐ SSOT: status API handlers live here only
type StatusHandler struct {
	db         *database.DB
	redis      *redis.Client
	registry   lifecycle.Registry
	holder     *decision.Holder
	sched      *scheduler.Scheduler
	universe   *universe.Universe
	universeID string
	logger     *logger.Logger
}

// NewStatusHandler creates a status handler. holder and sched may be nil
// when the serving process runs neither inference nor the scheduler.
func NewStatusHandler(db *database.DB, rdb *redis.Client, registry lifecycle.Registry,
	holder *decision.Holder, sched *scheduler.Scheduler, uni *universe.Universe,
	log *logger.Logger) *StatusHandler {
	return &StatusHandler{
		db:         db,
		redis:      rdb,
		registry:   registry,
		holder:     holder,
		sched:      sched,
		universe:   uni,
		universeID: uni.UniverseID,
		logger:     log,
	}
}

// Health reports database and Redis reachability.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus, err := h.db.HealthCheck(ctx)
	dbHealthy := err == nil && dbStatus.Healthy

	redisErr := h.redis.Redis().Ping(ctx).Err()

	status := map[string]interface{}{
		"status":  "ok",
		"service": "statarb-engine",
		"db":      dbHealthy,
		"redis":   redisErr == nil,
	}
	code := http.StatusOK
	if !dbHealthy || redisErr != nil {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// deploymentResponse is the active version and threshold pair.
type deploymentResponse struct {
	UniverseID string                    `json:"universe_id"`
	Version    string                    `json:"version,omitempty"`
	State      string                    `json:"state,omitempty"`
	Theta      *contracts.ThetaParams    `json:"theta,omitempty"`
	Baseline   *contracts.BacktestMetrics `json:"baseline,omitempty"`

	// ServingVersion is what the in-process inference holder currently
	// serves; it can lag the registry briefly during a swap.
	ServingVersion string `json:"serving_version,omitempty"`
}

// Deployment reports the deployed version, its thresholds, and its
// backtest baseline.
func (h *StatusHandler) Deployment(w http.ResponseWriter, r *http.Request) {
	deployed, err := h.registry.Deployed(r.Context(), h.universeID)
	if err != nil {
		h.logger.WithError(err).Error("deployment lookup failed")
		writeError(w, http.StatusInternalServerError, "deployment lookup failed")
		return
	}

	resp := deploymentResponse{UniverseID: h.universeID}
	if deployed != nil {
		resp.Version = deployed.Artifact.Version
		resp.State = string(deployed.State)
		resp.Theta = &deployed.Theta
		resp.Baseline = &deployed.Artifact.Baseline
	}
	if h.holder != nil {
		if snap := h.holder.Load(); snap != nil {
			resp.ServingVersion = snap.Version
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// versionSummary is one registry entry without the model payloads.
type versionSummary struct {
	Version      string    `json:"version"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	Sharpe       float64   `json:"sharpe"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	PriorVersion string    `json:"prior_version,omitempty"`
}

// Versions lists the retained versions newest first.
func (h *StatusHandler) Versions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.ListVersions(r.Context(), h.universeID)
	if err != nil {
		h.logger.WithError(err).Error("version listing failed")
		writeError(w, http.StatusInternalServerError, "version listing failed")
		return
	}

	out := make([]versionSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, versionSummary{
			Version:      e.Artifact.Version,
			State:        string(e.State),
			CreatedAt:    e.Artifact.CreatedAt,
			Sharpe:       e.Artifact.Baseline.Sharpe,
			MaxDrawdown:  e.Artifact.Baseline.MaxDrawdown,
			PriorVersion: e.PriorVersion,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"universe_id": h.universeID,
		"versions":    out,
	})
}

// signalStatus is the live signal view for one pair.
type signalStatus struct {
	PairID     string    `json:"pair_id"`
	Action     string    `json:"action,omitempty"`
	ReturnProb float64   `json:"return_prob,omitempty"`
	RiskScore  float64   `json:"risk_score,omitempty"`
	LatencyMS  float64   `json:"latency_ms,omitempty"`
	ValidUntil time.Time `json:"valid_until,omitempty"`
	Present    bool      `json:"present"`
}

// Signals reports the latest unexpired signal per pair plus latency
// aggregates over the present ones.
func (h *StatusHandler) Signals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	out := make([]signalStatus, 0, len(h.universe.Pairs))
	var sum, max float64
	var present int

	for _, pair := range h.universe.Pairs {
		status := signalStatus{PairID: pair.PairID}
		raw, err := h.redis.Redis().Get(ctx, "statarb:signal:"+pair.PairID).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			// expired or never emitted
		case err != nil:
			h.logger.WithError(err).Error("signal read failed")
			writeError(w, http.StatusInternalServerError, "signal read failed")
			return
		default:
			var sig contracts.Signal
			if err := json.Unmarshal([]byte(raw), &sig); err == nil {
				status.Present = true
				status.Action = string(sig.Action)
				status.ReturnProb = sig.ReturnProb
				status.RiskScore = sig.RiskScore
				status.LatencyMS = sig.LatencyMS
				status.ValidUntil = sig.ValidUntil
				sum += sig.LatencyMS
				if sig.LatencyMS > max {
					max = sig.LatencyMS
				}
				present++
			}
		}
		out = append(out, status)
	}

	resp := map[string]interface{}{
		"universe_id": h.universeID,
		"signals":     out,
	}
	if present > 0 {
		resp["latency_ms_avg"] = sum / float64(present)
		resp["latency_ms_max"] = max
	}
	writeJSON(w, http.StatusOK, resp)
}

// Jobs reports scheduler job statistics.
func (h *StatusHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": map[string]scheduler.JobStats{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.sched.GetJobStats()})
}

// workerStatus is one inference worker's liveness view.
type workerStatus struct {
	WorkerID string  `json:"worker_id"`
	AgeSec   float64 `json:"age_sec"`
	Alive    bool    `json:"alive"`
}

// Workers reports heartbeat ages for every live inference worker. A
// worker whose heartbeat key has expired simply does not appear; its
// absence is the stuck-process indication.
func (h *StatusHandler) Workers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var workers []workerStatus
	iter := h.redis.Redis().Scan(ctx, 0, workerHeartbeatPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		workerID := strings.TrimPrefix(iter.Val(), workerHeartbeatPrefix)
		age, ok, err := redis.Age(ctx, h.redis, "worker", workerID)
		if err != nil {
			h.logger.WithError(err).Error("heartbeat read failed")
			writeError(w, http.StatusInternalServerError, "heartbeat read failed")
			return
		}
		if !ok {
			continue
		}
		workers = append(workers, workerStatus{
			WorkerID: workerID,
			AgeSec:   age.Seconds(),
			Alive:    true,
		})
	}
	if err := iter.Err(); err != nil {
		h.logger.WithError(err).Error("heartbeat scan failed")
		writeError(w, http.StatusInternalServerError, "heartbeat scan failed")
		return
	}

	if workers == nil {
		workers = []workerStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workers": workers})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
