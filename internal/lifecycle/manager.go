package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/audit"
	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/internal/training"
	"github.com/jmlee/statarb/pkg/logger"
)

// Locker is the per-universe mutual exclusion for deploy and rollback.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// LockFactory builds the run lock for a universe.
type LockFactory func(universeID string) Locker

// ModelLoader reads a calibrated model from an artifact path.
type ModelLoader func(path string) (*training.CalibratedModel, error)

// Manager owns the model lifecycle: registration, promotion gates,
// deployment, live rollback, and retention. It is the single writer of
// the registry and the active snapshot; every other component reads
// them only. A detected second writer is surfaced as a consistency
// violation requiring manual intervention, never auto-resolved.
type Manager struct {
	registry Registry
	holder   *decision.Holder
	audit    audit.Recorder
	locks    LockFactory
	loader   ModelLoader
	config   strategy.Lifecycle
	log      zerolog.Logger
}

// NewManager wires the lifecycle manager. A nil loader uses the
// artifact store's model reader.
func NewManager(registry Registry, holder *decision.Holder, recorder audit.Recorder,
	locks LockFactory, loader ModelLoader, cfg strategy.Lifecycle, log *logger.Logger) *Manager {
	if loader == nil {
		loader = training.LoadModel
	}
	return &Manager{
		registry: registry,
		holder:   holder,
		audit:    recorder,
		locks:    locks,
		loader:   loader,
		config:   cfg,
		log:      log.Zerolog().With().Str("component", "lifecycle.manager").Logger(),
	}
}

// Register stores a freshly trained artifact pair with its candidate
// thresholds as a draft, then prunes versions beyond the retention
// floor.
func (m *Manager) Register(ctx context.Context, artifact contracts.ModelArtifact, theta contracts.ThetaParams, actor string) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("artifact rejected: %w", err)
	}
	if err := theta.Validate(); err != nil {
		return fmt.Errorf("theta rejected: %w", err)
	}

	entry := VersionEntry{Artifact: artifact, Theta: theta, State: contracts.StateDraft}
	if err := m.registry.SaveVersion(ctx, entry); err != nil {
		return err
	}

	removed, err := m.registry.PruneVersions(ctx, artifact.UniverseID, m.config.MinRetainedVersions)
	if err != nil {
		return fmt.Errorf("retention prune failed: %w", err)
	}
	if removed > 0 {
		m.recordAudit(ctx, audit.Event{
			Kind: audit.KindRetention, UniverseID: artifact.UniverseID,
			Actor: actor, Reason: fmt.Sprintf("pruned %d versions beyond retention floor %d", removed, m.config.MinRetainedVersions),
		})
	}

	m.log.Info().
		Str("universe_id", artifact.UniverseID).
		Str("version", artifact.Version).
		Msg("version registered as draft")
	return nil
}

// Submit moves a draft into candidate.
func (m *Manager) Submit(ctx context.Context, universeID, version, actor string) error {
	return m.transition(ctx, universeID, version, contracts.StateDraft, contracts.StateCandidate, actor, "submitted for review")
}

// Approve applies the promotion gates to a candidate. A miss on any
// floor or on non-inferiority against the deployed version moves the
// candidate to rejected and returns PROMOTION_BLOCKED.
func (m *Manager) Approve(ctx context.Context, universeID, version, actor string) error {
	entry, err := m.registry.GetVersion(ctx, universeID, version)
	if err != nil {
		return err
	}
	if entry.State != contracts.StateCandidate {
		return fmt.Errorf("version %s is %s, only candidates can be approved", version, entry.State)
	}

	deployed, err := m.registry.Deployed(ctx, universeID)
	if err != nil {
		return err
	}

	if reason := m.gateFailure(entry.Artifact.Baseline, deployed); reason != "" {
		if err := m.transition(ctx, universeID, version, contracts.StateCandidate, contracts.StateRejected, actor, reason); err != nil {
			return err
		}
		return contracts.NewFault(contracts.ReasonPromotionBlocked, contracts.StageLifecycle,
			"version %s rejected: %s", version, reason)
	}

	return m.transition(ctx, universeID, version, contracts.StateCandidate, contracts.StateApproved, actor, "promotion gates passed")
}

// gateFailure returns a human-readable reason when the baseline misses
// a floor, or "" when all gates pass.
func (m *Manager) gateFailure(baseline contracts.BacktestMetrics, deployed *VersionEntry) string {
	if baseline.Sharpe <= m.config.MinSharpe {
		return fmt.Sprintf("sharpe %.3f at or below floor %.3f", baseline.Sharpe, m.config.MinSharpe)
	}
	if baseline.MaxDrawdown >= m.config.MaxDrawdown {
		return fmt.Sprintf("max drawdown %.3f at or above ceiling %.3f", baseline.MaxDrawdown, m.config.MaxDrawdown)
	}
	if baseline.TradesPerYear < m.config.MinTradesYear {
		return fmt.Sprintf("trades/year %.0f below floor %.0f", baseline.TradesPerYear, m.config.MinTradesYear)
	}
	if deployed != nil {
		old := deployed.Artifact.Baseline
		if baseline.Sharpe < m.config.SharpeRatioMin*old.Sharpe {
			return fmt.Sprintf("sharpe %.3f below non-inferiority bound %.3f", baseline.Sharpe, m.config.SharpeRatioMin*old.Sharpe)
		}
		if baseline.MaxDrawdown > old.MaxDrawdown+m.config.MaxDDSlack {
			return fmt.Sprintf("max drawdown %.3f above non-inferiority bound %.3f", baseline.MaxDrawdown, old.MaxDrawdown+m.config.MaxDDSlack)
		}
	}
	return ""
}

// Deploy swaps an approved version in as the active one under the
// universe run lock. The superseded deployment returns to approved and
// is linked as the new version's rollback target.
func (m *Manager) Deploy(ctx context.Context, universeID, version, actor string) error {
	lock := m.locks(universeID)
	if err := lock.Acquire(ctx); err != nil {
		return contracts.WrapFault(contracts.ReasonLifecycleConflict, contracts.StageLifecycle,
			err, fmt.Sprintf("deploy of %s rejected, universe %s is locked", version, universeID))
	}
	defer lock.Release(ctx)

	entry, err := m.registry.GetVersion(ctx, universeID, version)
	if err != nil {
		return err
	}
	if entry.State != contracts.StateApproved {
		return fmt.Errorf("version %s is %s, only approved versions deploy", version, entry.State)
	}

	snapshot, err := m.buildSnapshot(entry)
	if err != nil {
		return fmt.Errorf("failed to load models for %s: %w", version, err)
	}

	previous, err := m.registry.Deployed(ctx, universeID)
	if err != nil {
		return err
	}

	// Demotion of the previous version and promotion of the new one
	// commit together; a crash can never leave zero deployed versions.
	err = m.registry.Transact(ctx, func(reg Registry) error {
		if previous != nil {
			if err := m.transitionIn(ctx, reg, universeID, previous.Artifact.Version,
				contracts.StateDeployed, contracts.StateApproved, actor,
				fmt.Sprintf("superseded by %s", version)); err != nil {
				return err
			}
			if err := reg.SetPriorVersion(ctx, universeID, version, previous.Artifact.Version); err != nil {
				return err
			}
		}
		return m.transitionIn(ctx, reg, universeID, version, contracts.StateApproved, contracts.StateDeployed, actor, "deployed")
	})
	if err != nil {
		return err
	}

	// Readers observe the new (model pair, θ) in a single swap.
	m.holder.Swap(snapshot)

	m.recordAudit(ctx, audit.Event{
		Kind: audit.KindThetaAdopted, UniverseID: universeID, Version: version,
		Actor: actor, Reason: "thresholds adopted with deployment", Payload: entry.Theta,
	})

	m.log.Info().
		Str("universe_id", universeID).
		Str("version", version).
		Float64("theta1", entry.Theta.Theta1).
		Float64("theta2", entry.Theta.Theta2).
		Msg("version deployed")
	return nil
}

// EvaluateLive compares live performance against the deployed version's
// own backtest baseline and rolls back when a trigger fires. Returns
// true when a rollback happened.
func (m *Manager) EvaluateLive(ctx context.Context, universeID string, live contracts.BacktestMetrics, actor string) (bool, error) {
	deployed, err := m.registry.Deployed(ctx, universeID)
	if err != nil {
		return false, err
	}
	if deployed == nil {
		return false, nil
	}

	baseline := deployed.Artifact.Baseline
	var reason string
	switch {
	case live.Sharpe <= baseline.Sharpe*(1-m.config.RollbackSharpeDrop):
		reason = fmt.Sprintf("live sharpe %.3f degraded at least %.0f%% from baseline %.3f",
			live.Sharpe, m.config.RollbackSharpeDrop*100, baseline.Sharpe)
	case live.MaxDrawdown >= baseline.MaxDrawdown+m.config.RollbackDDRise:
		reason = fmt.Sprintf("live max drawdown %.3f exceeds baseline %.3f by %.1fpp",
			live.MaxDrawdown, baseline.MaxDrawdown, m.config.RollbackDDRise*100)
	default:
		return false, nil
	}

	m.log.Warn().
		Str("universe_id", universeID).
		Str("version", deployed.Artifact.Version).
		Str("reason", reason).
		Msg("rollback trigger fired")

	if err := m.Rollback(ctx, universeID, actor, reason); err != nil {
		return false, err
	}
	return true, nil
}

// Rollback retires the deployed version and restores the prior artifact
// pair together with its own thresholds, never one without the other.
func (m *Manager) Rollback(ctx context.Context, universeID, actor, reason string) error {
	lock := m.locks(universeID)
	if err := lock.Acquire(ctx); err != nil {
		return contracts.WrapFault(contracts.ReasonLifecycleConflict, contracts.StageLifecycle,
			err, fmt.Sprintf("rollback rejected, universe %s is locked", universeID))
	}
	defer lock.Release(ctx)

	deployed, err := m.registry.Deployed(ctx, universeID)
	if err != nil {
		return err
	}
	if deployed == nil {
		return fmt.Errorf("nothing deployed for universe %s", universeID)
	}
	if deployed.PriorVersion == "" {
		return fmt.Errorf("version %s has no rollback target", deployed.Artifact.Version)
	}

	prior, err := m.registry.GetVersion(ctx, universeID, deployed.PriorVersion)
	if err != nil {
		return fmt.Errorf("rollback target %s: %w", deployed.PriorVersion, err)
	}

	// Both models and the prior θ load before any state changes, so a
	// failed load leaves the deployment untouched.
	snapshot, err := m.buildSnapshot(prior)
	if err != nil {
		return fmt.Errorf("failed to load rollback target %s: %w", deployed.PriorVersion, err)
	}

	// Retiring the bad version and restoring the prior one commit
	// together, preserving the one-deployed-version invariant.
	err = m.registry.Transact(ctx, func(reg Registry) error {
		if err := m.transitionIn(ctx, reg, universeID, deployed.Artifact.Version,
			contracts.StateDeployed, contracts.StateRolledBack, actor, reason); err != nil {
			return err
		}
		return m.transitionIn(ctx, reg, universeID, prior.Artifact.Version,
			contracts.StateApproved, contracts.StateDeployed, actor,
			fmt.Sprintf("restored by rollback of %s", deployed.Artifact.Version))
	})
	if err != nil {
		return err
	}

	m.holder.Swap(snapshot)

	m.recordAudit(ctx, audit.Event{
		Kind: audit.KindRollback, UniverseID: universeID, Version: prior.Artifact.Version,
		Actor: actor, Reason: reason,
		Payload: map[string]string{"rolled_back": deployed.Artifact.Version},
	})

	m.log.Warn().
		Str("universe_id", universeID).
		Str("rolled_back", deployed.Artifact.Version).
		Str("restored", prior.Artifact.Version).
		Msg("rollback completed")
	return nil
}

// transition applies one state change against the manager's registry.
func (m *Manager) transition(ctx context.Context, universeID, version string,
	from, to contracts.LifecycleState, actor, reason string) error {
	return m.transitionIn(ctx, m.registry, universeID, version, from, to, actor, reason)
}

// transitionIn applies one state change, appends the transition log
// row, and records the audit event. A state conflict is surfaced
// unwrapped so callers can stop the line. reg may be a transactional
// registry view when the change must commit with others.
func (m *Manager) transitionIn(ctx context.Context, reg Registry, universeID, version string,
	from, to contracts.LifecycleState, actor, reason string) error {

	record := contracts.LifecycleRecord{
		Version:    version,
		UniverseID: universeID,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return err
	}

	if err := reg.UpdateState(ctx, universeID, version, from, to); err != nil {
		if errors.Is(err, ErrStateConflict) {
			m.log.Error().
				Str("universe_id", universeID).
				Str("version", version).
				Str("from", string(from)).
				Str("to", string(to)).
				Msg("single-writer violation: manual intervention required")
		}
		return err
	}
	if err := reg.AppendTransition(ctx, record); err != nil {
		return err
	}

	m.recordAudit(ctx, audit.Event{
		Kind: audit.KindTransition, UniverseID: universeID, Version: version,
		Actor: actor, Reason: reason, Payload: record,
	})
	return nil
}

func (m *Manager) buildSnapshot(entry *VersionEntry) (*decision.ActiveSnapshot, error) {
	ai1, err := m.loader(entry.Artifact.AI1Path)
	if err != nil {
		return nil, err
	}
	ai2, err := m.loader(entry.Artifact.AI2Path)
	if err != nil {
		return nil, err
	}
	return &decision.ActiveSnapshot{
		Version: entry.Artifact.Version,
		AI1:     ai1,
		AI2:     ai2,
		Theta:   entry.Theta,
	}, nil
}

// recordAudit logs and swallows audit sink failures; the audit trail is
// best effort and never blocks a lifecycle action already committed.
func (m *Manager) recordAudit(ctx context.Context, event audit.Event) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, event); err != nil {
		m.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("audit record failed")
	}
}
