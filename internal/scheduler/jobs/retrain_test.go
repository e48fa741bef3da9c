package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/backtest"
	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/labeling"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/internal/quality"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/internal/theta"
	"github.com/jmlee/statarb/internal/training"
	"github.com/jmlee/statarb/internal/validation"
	"github.com/jmlee/statarb/pkg/config"
	"github.com/jmlee/statarb/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "json"})
}

func testStrategyConfig() *strategy.Config {
	return &strategy.Config{
		Meta: strategy.Meta{StrategyID: "statarb-reversion", UniverseID: "crypto-major"},
		Quality: strategy.Quality{
			MaxMissingRate: 0.05, MaxOutlierRate: 0.02, MinRows: 240,
		},
		Labeling: strategy.Labeling{
			EntryZ: 2.0, ExitZ: 0.5, Lookahead: 48, SpeedMax: 0.12,
			RhoVarMax: 0.025, ATRRatioMax: 1.8, DrawdownMax: 0.07,
			MaxClassWeight: 5.0,
		},
		Validation: strategy.Validation{
			Folds: 5, PurgeBars: 24, EmbargoBars: 24, MinBlockBars: 240, MinTrailingDays: 360,
		},
		Training: strategy.Training{
			Seed: 42, LearningRate: 0.1, Epochs: 30, L2: 0.001, MaxCalError: 0.45,
		},
		Theta: strategy.Theta{
			Theta1Min: 0.60, Theta1Max: 0.85, Theta2Min: 0.20, Theta2Max: 0.45,
			GridStep: 0.05, MinTrials: 10, MaxTrials: 20, EarlyStop: 5,
			LambdaDD: 2.0, LambdaTrades: 0.05, LambdaStop: 0.10,
			MaxDDTarget: 0.12, MinTradesYear: 150,
			MaxDelta: 0.03, SmoothANew: 0.7, MinSamples: 1000, CIConfidence: 0.95,
		},
		Lifecycle: strategy.Lifecycle{
			MinSharpe: 1.2, MaxDrawdown: 0.12, MinTradesYear: 150,
			SharpeRatioMin: 0.95, MaxDDSlack: 0.03,
			RollbackSharpeDrop: 0.20, RollbackDDRise: 0.03,
			MinRetainedVersions: 5, RunLockTTL: time.Hour,
		},
	}
}

// syntheticFeed builds deterministic episode blocks: each 60-bar block
// opens with an eligible episode whose outcome and features are chosen
// so both classifiers have a learnable signal.
type syntheticFeed struct {
	bars int
}

func (f *syntheticFeed) Partitions(ctx context.Context, universeID string) ([]contracts.DatasetPartition, error) {
	return []contracts.DatasetPartition{{
		Timeframe: "1h", Symbol: "BTC-ETH", Year: 2024, Month: 1,
		LastTimestamp: time.Now(), BarsWritten: f.bars,
		DataHash: "feedhash",
	}}, nil
}

func (f *syntheticFeed) Features(ctx context.Context, partition contracts.DatasetPartition) ([]contracts.FeatureVector, []time.Time, error) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	features := make([]contracts.FeatureVector, f.bars)
	times := make([]time.Time, f.bars)

	for i := 0; i < f.bars; i++ {
		block := i / 60
		pos := i % 60
		reverts := block%2 == 0

		z := 1.0
		switch {
		case pos == 0:
			z = 2.3 // episode start
		case reverts && pos >= 10:
			z = 0.4 // reversion reached inside the lookahead window
		case !reverts:
			z = 1.5 // stays stretched past the window
		}

		rhoVar := 0.02
		atr := 1.2
		if reverts {
			rhoVar = 0.002
			atr = 2.0 // flags the avoidance rule, separable for AI2
		}

		features[i] = contracts.FeatureVector{
			contracts.FeatureZ:        z,
			contracts.FeatureDeltaZ:   0.05,
			contracts.FeatureRhoVar:   rhoVar,
			contracts.FeatureATRRatio: atr,
			contracts.FeatureDrawdown: 0.02,
		}
		times[i] = base.Add(time.Duration(i) * time.Hour)
	}
	return features, times, nil
}

// peakEvaluator behaves like the theta tests' quadratic engine with
// promotion-worthy base metrics.
type peakEvaluator struct{}

func (e *peakEvaluator) Evaluate(ctx context.Context, req backtest.EvalRequest) (*backtest.EvalResult, error) {
	d1 := req.Theta1 - 0.72
	d2 := req.Theta2 - 0.31
	ret := 0.30 - 2.0*(d1*d1+d2*d2)
	result := &backtest.EvalResult{
		AnnualReturn: ret, MaxDrawdown: 0.08, TradesPerYear: 200,
		FalsePositive: 0.10, Sharpe: 1.5,
	}
	if req.Scenarios {
		result.ScenarioReturns = []float64{ret - 0.02, ret, ret + 0.02, ret - 0.01, ret + 0.01}
	}
	return result, nil
}

type memIndex struct {
	verdicts []contracts.PartitionVerdict
}

func (m *memIndex) WriteVerdicts(ctx context.Context, verdicts []contracts.PartitionVerdict) error {
	m.verdicts = append(m.verdicts, verdicts...)
	return nil
}

type memRegistry struct {
	mu          sync.Mutex
	entries     map[string]*lifecycle.VersionEntry
	transitions []contracts.LifecycleRecord
}

func newMemRegistry() *memRegistry {
	return &memRegistry{entries: make(map[string]*lifecycle.VersionEntry)}
}

func (r *memRegistry) SaveVersion(ctx context.Context, entry lifecycle.VersionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := entry
	r.entries[entry.Artifact.Version] = &e
	return nil
}

func (r *memRegistry) GetVersion(ctx context.Context, universeID, version string) (*lifecycle.VersionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[version]
	if !ok {
		return nil, lifecycle.ErrVersionNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *memRegistry) UpdateState(ctx context.Context, universeID, version string, from, to contracts.LifecycleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[version]
	if !ok {
		return lifecycle.ErrVersionNotFound
	}
	if e.State != from {
		return lifecycle.ErrStateConflict
	}
	e.State = to
	return nil
}

func (r *memRegistry) SetPriorVersion(ctx context.Context, universeID, version, prior string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[version]; ok {
		e.PriorVersion = prior
	}
	return nil
}

func (r *memRegistry) Deployed(ctx context.Context, universeID string) (*lifecycle.VersionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.State == contracts.StateDeployed {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) ListVersions(ctx context.Context, universeID string) ([]lifecycle.VersionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lifecycle.VersionEntry
	for _, e := range r.entries {
		out = append(out, *e)
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
	return 0, nil
}

func (r *memRegistry) Transact(ctx context.Context, fn func(lifecycle.Registry) error) error {
	return fn(r)
}

// fakeLockKey stands in for the Redis run-lock key shared by every
// lock instance of one universe.
type fakeLockKey struct {
	mu     sync.Mutex
	holder *fakeRunLock
}

// fakeRunLock mirrors the production run lock: SET NX exclusion across
// instances, re-entrant acquires on the holding instance.
type fakeRunLock struct {
	key   *fakeLockKey
	depth int
}

func (l *fakeRunLock) Acquire(ctx context.Context) error {
	l.key.mu.Lock()
	defer l.key.mu.Unlock()
	if l.key.holder == l {
		l.depth++
		return nil
	}
	if l.key.holder != nil {
		return errors.New("run lock already held")
	}
	l.key.holder = l
	l.depth = 1
	return nil
}

func (l *fakeRunLock) Release(ctx context.Context) error {
	l.key.mu.Lock()
	defer l.key.mu.Unlock()
	if l.key.holder != l {
		return nil
	}
	l.depth--
	if l.depth == 0 {
		l.key.holder = nil
	}
	return nil
}

func TestRetrainJob_EndToEnd(t *testing.T) {
	log := testLogger()
	cfg := testStrategyConfig()

	store, err := training.NewStore(t.TempDir())
	require.NoError(t, err)

	registry := newMemRegistry()
	holder := &decision.Holder{}

	// The job and the manager share one lock instance per universe, as
	// the production factory hands out; the deploy acquire nests inside
	// the cycle's own hold instead of conflicting with it.
	lockKey := &fakeLockKey{}
	lock := &fakeRunLock{key: lockKey}
	locks := func(universeID string) lifecycle.Locker { return lock }
	manager := lifecycle.NewManager(registry, holder, nil, locks,
		nil, cfg.Lifecycle, log)

	eval := &peakEvaluator{}
	deps := RetrainDeps{
		Source:    &syntheticFeed{bars: 10000}, // ~416 days of hourly bars
		Gate:      quality.NewGate(cfg.Quality, &memIndex{}, log.Zerolog()),
		Labeler:   labeling.NewLabeler(cfg.Labeling, log.Zerolog()),
		Planner:   validation.NewPlanner(cfg.Validation, cfg.Labeling.Lookahead, log.Zerolog()),
		Trainer:   training.New(cfg.Training, nil, log),
		Store:     store,
		Evaluator: eval,
		Optimizer: theta.NewOptimizer(cfg.Theta, eval, log),
		Registry:  registry,
		Manager:   manager,
		Locks:     locks,
	}

	job := NewRetrainJob("crypto-major", cfg, deps, "0 0 2 1 * *", true, log)
	assert.Equal(t, "retrain-crypto-major", job.Name())

	require.NoError(t, job.Run(context.Background()))

	// A version ended up deployed with its thresholds live.
	deployed, err := registry.Deployed(context.Background(), "crypto-major")
	require.NoError(t, err)
	require.NotNil(t, deployed)
	assert.Equal(t, contracts.StateDeployed, deployed.State)
	assert.InDelta(t, 1.5, deployed.Artifact.Baseline.Sharpe, 1e-9)

	snap := holder.Load()
	require.NotNil(t, snap)
	assert.Equal(t, deployed.Artifact.Version, snap.Version)
	assert.InDelta(t, deployed.Theta.Theta1, snap.Theta.Theta1, 1e-9)

	// Full transition history: draft → candidate → approved → deployed.
	require.Len(t, registry.transitions, 3)
	assert.Equal(t, contracts.StateCandidate, registry.transitions[0].ToState)
	assert.Equal(t, contracts.StateApproved, registry.transitions[1].ToState)
	assert.Equal(t, contracts.StateDeployed, registry.transitions[2].ToState)

	// The cycle released the run lock all the way back out.
	assert.Nil(t, lockKey.holder)
}

func TestRetrainJob_RunLockConflict(t *testing.T) {
	log := testLogger()
	cfg := testStrategyConfig()

	// Another process already holds the universe's lock key.
	lockKey := &fakeLockKey{}
	other := &fakeRunLock{key: lockKey}
	require.NoError(t, other.Acquire(context.Background()))

	deps := RetrainDeps{
		Locks: func(universeID string) lifecycle.Locker { return &fakeRunLock{key: lockKey} },
	}
	job := NewRetrainJob("crypto-major", cfg, deps, "@monthly", true, log)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonLifecycleConflict, contracts.CodeOf(err))
}
