package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/audit"
	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/internal/training"
	"github.com/jmlee/statarb/pkg/config"
	"github.com/jmlee/statarb/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "json"})
}

func testLifecycleConfig() strategy.Lifecycle {
	return strategy.Lifecycle{
		MinSharpe:           1.2,
		MaxDrawdown:         0.12,
		MinTradesYear:       150,
		SharpeRatioMin:      0.95,
		MaxDDSlack:          0.03,
		RollbackSharpeDrop:  0.20,
		RollbackDDRise:      0.03,
		MinRetainedVersions: 5,
	}
}

// memRegistry is an in-memory Registry for manager tests.
type memRegistry struct {
	mu          sync.Mutex
	entries     map[string]*VersionEntry
	transitions []contracts.LifecycleRecord
}

func newMemRegistry() *memRegistry {
	return &memRegistry{entries: make(map[string]*VersionEntry)}
}

func key(universeID, version string) string { return universeID + "/" + version }

func (r *memRegistry) SaveVersion(ctx context.Context, entry VersionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := entry
	r.entries[key(entry.Artifact.UniverseID, entry.Artifact.Version)] = &e
	return nil
}

func (r *memRegistry) GetVersion(ctx context.Context, universeID, version string) (*VersionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key(universeID, version)]
	if !ok {
		return nil, ErrVersionNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *memRegistry) UpdateState(ctx context.Context, universeID, version string, from, to contracts.LifecycleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key(universeID, version)]
	if !ok {
		return ErrVersionNotFound
	}
	if e.State != from {
		return ErrStateConflict
	}
	e.State = to
	return nil
}

func (r *memRegistry) SetPriorVersion(ctx context.Context, universeID, version, prior string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key(universeID, version)]
	if !ok {
		return ErrVersionNotFound
	}
	e.PriorVersion = prior
	return nil
}

func (r *memRegistry) Deployed(ctx context.Context, universeID string) (*VersionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Artifact.UniverseID == universeID && e.State == contracts.StateDeployed {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) ListVersions(ctx context.Context, universeID string) ([]VersionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []VersionEntry
	for _, e := range r.entries {
		if e.Artifact.UniverseID == universeID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Artifact.CreatedAt.After(out[j].Artifact.CreatedAt)
	})
	return out, nil
}

func (r *memRegistry) AppendTransition(ctx context.Context, record contracts.LifecycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, record)
	return nil
}

func (r *memRegistry) PruneVersions(ctx context.Context, universeID string, keep int) (int, error) {
	entries, _ := r.ListVersions(ctx, universeID)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for i, e := range entries {
		if i < keep || e.State == contracts.StateDeployed {
			continue
		}
		delete(r.entries, key(universeID, e.Artifact.Version))
		removed++
	}
	return removed, nil
}

func (r *memRegistry) Transact(ctx context.Context, fn func(Registry) error) error {
	return fn(r)
}

// txSpyRegistry records whether state writes happen inside Transact.
type txSpyRegistry struct {
	*memRegistry
	inTx     bool
	inTxOps  []string
	outTxOps []string
}

func (r *txSpyRegistry) record(op string) {
	if r.inTx {
		r.inTxOps = append(r.inTxOps, op)
	} else {
		r.outTxOps = append(r.outTxOps, op)
	}
}

func (r *txSpyRegistry) reset() {
	r.inTxOps = nil
	r.outTxOps = nil
}

func (r *txSpyRegistry) Transact(ctx context.Context, fn func(Registry) error) error {
	r.inTx = true
	defer func() { r.inTx = false }()
	return fn(r)
}

func (r *txSpyRegistry) UpdateState(ctx context.Context, universeID, version string, from, to contracts.LifecycleState) error {
	r.record(fmt.Sprintf("state:%s:%s", version, to))
	return r.memRegistry.UpdateState(ctx, universeID, version, from, to)
}

func (r *txSpyRegistry) SetPriorVersion(ctx context.Context, universeID, version, prior string) error {
	r.record("prior:" + version)
	return r.memRegistry.SetPriorVersion(ctx, universeID, version, prior)
}

type stubLocker struct {
	held bool
}

func (l *stubLocker) Acquire(ctx context.Context) error {
	if l.held {
		return errors.New("lock already held")
	}
	return nil
}

func (l *stubLocker) Release(ctx context.Context) error { return nil }

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAudit) Record(ctx context.Context, event audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) kinds() []audit.EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.EventKind
	for _, e := range a.events {
		out = append(out, e.Kind)
	}
	return out
}

func stubLoader(path string) (*training.CalibratedModel, error) {
	return &training.CalibratedModel{
		Base: &training.LogisticModel{Weights: make([]float64, len(contracts.RequiredFeatureKeys))},
		Cal:  &training.Calibrator{Thresholds: []float64{0}, Values: []float64{0.5}},
	}, nil
}

func testArtifact(version string, createdAt time.Time, baseline contracts.BacktestMetrics) contracts.ModelArtifact {
	return contracts.ModelArtifact{
		Version:    version,
		UniverseID: "crypto-major",
		CreatedAt:  createdAt,
		CreatedBy:  "retrain-job",
		DataHash:   "datahash",
		CodeHash:   "codehash",
		Seed:       42,
		AI1Path:    "/artifacts/" + version + "/ai1.json",
		AI2Path:    "/artifacts/" + version + "/ai2.json",
		Baseline:   baseline,
	}
}

func testTheta(t1, t2 float64) contracts.ThetaParams {
	return contracts.ThetaParams{
		Theta1: t1, Theta2: t2, TrialID: "trial-001",
		UpdatedAt: time.Now().UTC(), UpdatedBy: "theta-optimizer",
		DeltaOK: true, SamplesOK: true, CIGuardOK: true,
	}
}

type fixture struct {
	manager  *Manager
	registry *memRegistry
	holder   *decision.Holder
	audit    *memAudit
	lock     *stubLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: newMemRegistry(),
		holder:   &decision.Holder{},
		audit:    &memAudit{},
		lock:     &stubLocker{},
	}
	f.manager = NewManager(f.registry, f.holder, f.audit,
		func(universeID string) Locker { return f.lock },
		stubLoader, testLifecycleConfig(), testLogger())
	return f
}

// promote walks a version through register → submit → approve → deploy.
func (f *fixture) promote(t *testing.T, version string, createdAt time.Time, baseline contracts.BacktestMetrics, theta contracts.ThetaParams) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.manager.Register(ctx, testArtifact(version, createdAt, baseline), theta, "op"))
	require.NoError(t, f.manager.Submit(ctx, "crypto-major", version, "op"))
	require.NoError(t, f.manager.Approve(ctx, "crypto-major", version, "op"))
	require.NoError(t, f.manager.Deploy(ctx, "crypto-major", version, "op"))
}

func TestManager_PromotionPath(t *testing.T) {
	f := newFixture(t)
	baseline := contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200, AnnualReturn: 0.25}
	f.promote(t, "v1", time.Now(), baseline, testTheta(0.72, 0.31))

	entry, err := f.registry.GetVersion(context.Background(), "crypto-major", "v1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateDeployed, entry.State)

	snap := f.holder.Load()
	require.NotNil(t, snap)
	assert.Equal(t, "v1", snap.Version)
	assert.InDelta(t, 0.72, snap.Theta.Theta1, 1e-9)

	assert.Contains(t, f.audit.kinds(), audit.KindThetaAdopted)
}

func TestManager_ApproveBlocksOnFloors(t *testing.T) {
	cases := []struct {
		name     string
		baseline contracts.BacktestMetrics
	}{
		{"sharpe at floor", contracts.BacktestMetrics{Sharpe: 1.2, MaxDrawdown: 0.08, TradesPerYear: 200}},
		{"drawdown at ceiling", contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.12, TradesPerYear: 200}},
		{"too few trades", contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 149}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.manager.Register(ctx, testArtifact("v1", time.Now(), tc.baseline), testTheta(0.72, 0.31), "op"))
			require.NoError(t, f.manager.Submit(ctx, "crypto-major", "v1", "op"))

			err := f.manager.Approve(ctx, "crypto-major", "v1", "op")
			require.Error(t, err)
			assert.Equal(t, contracts.ReasonPromotionBlocked, contracts.CodeOf(err))

			entry, err := f.registry.GetVersion(ctx, "crypto-major", "v1")
			require.NoError(t, err)
			assert.Equal(t, contracts.StateRejected, entry.State)
		})
	}
}

func TestManager_NonInferiorityAgainstDeployed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promote(t, "v1", time.Now().Add(-time.Hour),
		contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}, testTheta(0.72, 0.31))

	// 1.40 < 0.95 * 1.50: blocked even though the absolute floor passes.
	require.NoError(t, f.manager.Register(ctx, testArtifact("v2", time.Now(),
		contracts.BacktestMetrics{Sharpe: 1.40, MaxDrawdown: 0.08, TradesPerYear: 200}), testTheta(0.73, 0.30), "op"))
	require.NoError(t, f.manager.Submit(ctx, "crypto-major", "v2", "op"))

	err := f.manager.Approve(ctx, "crypto-major", "v2", "op")
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonPromotionBlocked, contracts.CodeOf(err))
}

func TestManager_DeploySupersedesAndLinksPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promote(t, "v1", time.Now().Add(-time.Hour),
		contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}, testTheta(0.72, 0.31))
	f.promote(t, "v2", time.Now(),
		contracts.BacktestMetrics{Sharpe: 1.6, MaxDrawdown: 0.07, TradesPerYear: 210}, testTheta(0.74, 0.29))

	v1, err := f.registry.GetVersion(ctx, "crypto-major", "v1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateApproved, v1.State)

	v2, err := f.registry.GetVersion(ctx, "crypto-major", "v2")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateDeployed, v2.State)
	assert.Equal(t, "v1", v2.PriorVersion)

	assert.Equal(t, "v2", f.holder.Load().Version)
}

func TestManager_RollbackOnSharpeDegradation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promote(t, "v1", time.Now().Add(-time.Hour),
		contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}, testTheta(0.72, 0.31))
	f.promote(t, "v2", time.Now(),
		contracts.BacktestMetrics{Sharpe: 1.6, MaxDrawdown: 0.07, TradesPerYear: 210}, testTheta(0.74, 0.29))

	// Live sharpe down 20% from the deployed baseline of 1.6.
	rolled, err := f.manager.EvaluateLive(ctx, "crypto-major",
		contracts.BacktestMetrics{Sharpe: 1.28, MaxDrawdown: 0.07}, "monitor")
	require.NoError(t, err)
	assert.True(t, rolled)

	// Prior artifact pair and its own thresholds restored together.
	snap := f.holder.Load()
	assert.Equal(t, "v1", snap.Version)
	assert.InDelta(t, 0.72, snap.Theta.Theta1, 1e-9)

	v2, err := f.registry.GetVersion(ctx, "crypto-major", "v2")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateRolledBack, v2.State)

	v1, err := f.registry.GetVersion(ctx, "crypto-major", "v1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateDeployed, v1.State)

	assert.Contains(t, f.audit.kinds(), audit.KindRollback)
}

func TestManager_RollbackOnDrawdownRise(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promote(t, "v1", time.Now().Add(-time.Hour),
		contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}, testTheta(0.72, 0.31))
	f.promote(t, "v2", time.Now(),
		contracts.BacktestMetrics{Sharpe: 1.6, MaxDrawdown: 0.07, TradesPerYear: 210}, testTheta(0.74, 0.29))

	rolled, err := f.manager.EvaluateLive(ctx, "crypto-major",
		contracts.BacktestMetrics{Sharpe: 1.6, MaxDrawdown: 0.10}, "monitor")
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.Equal(t, "v1", f.holder.Load().Version)
}

func TestManager_NoRollbackWithinBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.promote(t, "v1", time.Now(),
		contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}, testTheta(0.72, 0.31))

	rolled, err := f.manager.EvaluateLive(ctx, "crypto-major",
		contracts.BacktestMetrics{Sharpe: 1.25, MaxDrawdown: 0.10}, "monitor")
	require.NoError(t, err)
	assert.False(t, rolled)
	assert.Equal(t, "v1", f.holder.Load().Version)
}

func TestManager_DeployRejectedWhileLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	baseline := contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}
	require.NoError(t, f.manager.Register(ctx, testArtifact("v1", time.Now(), baseline), testTheta(0.72, 0.31), "op"))
	require.NoError(t, f.manager.Submit(ctx, "crypto-major", "v1", "op"))
	require.NoError(t, f.manager.Approve(ctx, "crypto-major", "v1", "op"))

	f.lock.held = true
	err := f.manager.Deploy(ctx, "crypto-major", "v1", "op")
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonLifecycleConflict, contracts.CodeOf(err))

	// Existing deployment state wins; nothing swapped.
	assert.Nil(t, f.holder.Load())
}

func TestManager_StateConflictSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	baseline := contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}
	require.NoError(t, f.manager.Register(ctx, testArtifact("v1", time.Now(), baseline), testTheta(0.72, 0.31), "op"))

	// A second writer moved the version already.
	require.NoError(t, f.registry.UpdateState(ctx, "crypto-major", "v1", contracts.StateDraft, contracts.StateCandidate))

	err := f.manager.Submit(ctx, "crypto-major", "v1", "op")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateConflict))
}

func TestManager_RetentionKeepsFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	baseline := contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}

	for i := 0; i < 8; i++ {
		version := fmt.Sprintf("v%d", i)
		createdAt := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, f.manager.Register(ctx, testArtifact(version, createdAt, baseline), testTheta(0.72, 0.31), "op"))
	}

	versions, err := f.registry.ListVersions(ctx, "crypto-major")
	require.NoError(t, err)
	assert.Len(t, versions, 5)
	assert.Equal(t, "v7", versions[0].Artifact.Version)
}

func TestManager_DeployCommitsSupersessionAtomically(t *testing.T) {
	registry := &txSpyRegistry{memRegistry: newMemRegistry()}
	manager := NewManager(registry, &decision.Holder{}, &memAudit{},
		func(universeID string) Locker { return &stubLocker{} },
		stubLoader, testLifecycleConfig(), testLogger())
	ctx := context.Background()
	baseline := contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}

	promoteVia := func(version string, createdAt time.Time) {
		require.NoError(t, manager.Register(ctx, testArtifact(version, createdAt, baseline), testTheta(0.72, 0.31), "op"))
		require.NoError(t, manager.Submit(ctx, "crypto-major", version, "op"))
		require.NoError(t, manager.Approve(ctx, "crypto-major", version, "op"))
		require.NoError(t, manager.Deploy(ctx, "crypto-major", version, "op"))
	}
	promoteVia("v1", time.Now())

	require.NoError(t, manager.Register(ctx, testArtifact("v2", time.Now().Add(time.Minute), baseline), testTheta(0.73, 0.31), "op"))
	require.NoError(t, manager.Submit(ctx, "crypto-major", "v2", "op"))
	require.NoError(t, manager.Approve(ctx, "crypto-major", "v2", "op"))

	// Demote v1, link prior, promote v2: all inside one transaction,
	// nothing on the deploy path outside it.
	registry.reset()
	require.NoError(t, manager.Deploy(ctx, "crypto-major", "v2", "op"))
	assert.Equal(t, []string{"state:v1:approved", "prior:v2", "state:v2:deployed"}, registry.inTxOps)
	assert.Empty(t, registry.outTxOps)
}

func TestManager_RollbackCommitsRestoreAtomically(t *testing.T) {
	registry := &txSpyRegistry{memRegistry: newMemRegistry()}
	manager := NewManager(registry, &decision.Holder{}, &memAudit{},
		func(universeID string) Locker { return &stubLocker{} },
		stubLoader, testLifecycleConfig(), testLogger())
	ctx := context.Background()
	baseline := contracts.BacktestMetrics{Sharpe: 1.5, MaxDrawdown: 0.08, TradesPerYear: 200}

	for i, version := range []string{"v1", "v2"} {
		createdAt := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, manager.Register(ctx, testArtifact(version, createdAt, baseline), testTheta(0.72, 0.31), "op"))
		require.NoError(t, manager.Submit(ctx, "crypto-major", version, "op"))
		require.NoError(t, manager.Approve(ctx, "crypto-major", version, "op"))
		require.NoError(t, manager.Deploy(ctx, "crypto-major", version, "op"))
	}

	registry.reset()
	require.NoError(t, manager.Rollback(ctx, "crypto-major", "op", "manual rollback"))
	assert.Equal(t, []string{"state:v2:rolled_back", "state:v1:deployed"}, registry.inTxOps)
	assert.Empty(t, registry.outTxOps)
}
