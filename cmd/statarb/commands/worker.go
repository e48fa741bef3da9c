package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/internal/training"
)

// workerCmd runs the inference worker for one pair partition.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an inference worker",
	Long: `Runs the decision engine for a disjoint partition of pairs, emitting
one signal per pair per tick plus a liveness heartbeat.

The worker loads the deployed (model pair, θ) snapshot at startup and
re-checks the registry once a minute; a new deployment or rollback is
picked up atomically between ticks.

Example:
  go run ./cmd/statarb worker --pairs BTC-ETH,ETH-SOL`,
	RunE: runWorker,
}

var workerPairs string

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerPairs, "pairs", "", "comma-separated pair ids (default: all universe pairs)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Statarb Inference Worker ===")
	fmt.Println()

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	pairs, err := resolvePairs(deps)
	if err != nil {
		return err
	}
	if deps.cfg.Worker.WorkerID == "" {
		return fmt.Errorf("WORKER_ID is required for worker mode")
	}

	holder := &decision.Holder{}
	registry := lifecycle.NewRepository(deps.db.Pool, deps.log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := refreshSnapshot(ctx, registry, holder, deps.universe.UniverseID); err != nil {
		return fmt.Errorf("load deployed snapshot: %w", err)
	}
	snap := holder.Load()
	if snap == nil {
		return fmt.Errorf("no deployed version for universe %s", deps.universe.UniverseID)
	}
	fmt.Printf("Serving model %s (θ1=%.3f θ2=%.3f)\n", snap.Version, snap.Theta.Theta1, snap.Theta.Theta2)

	engine := decision.NewEngine(holder, deps.universe, decision.NewRedisFXSource(deps.rdb),
		decision.Config{
			SignalTTL: deps.cfg.Worker.SignalTTL,
			FXMaxAge:  deps.cfg.Worker.FXMaxAge,
		}, deps.log)
	sink := decision.NewSink(deps.rdb, deps.log)
	feed := decision.NewRedisFeatureFeed(deps.rdb)
	worker := decision.NewWorker(engine, sink, feed, pairs, deps.cfg.Worker, deps.rdb, deps.log)

	go watchDeployment(ctx, registry, holder, deps.universe.UniverseID)

	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		fmt.Println("\nShutting down worker...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	fmt.Println("Worker stopped")
	return nil
}

func resolvePairs(deps *appDeps) ([]string, error) {
	if workerPairs == "" {
		pairs := make([]string, 0, len(deps.universe.Pairs))
		for _, p := range deps.universe.Pairs {
			pairs = append(pairs, p.PairID)
		}
		return pairs, nil
	}

	var pairs []string
	for _, id := range strings.Split(workerPairs, ",") {
		id = strings.TrimSpace(id)
		if _, ok := deps.universe.PairByID(id); !ok {
			return nil, fmt.Errorf("unknown pair id %q", id)
		}
		pairs = append(pairs, id)
	}
	return pairs, nil
}

// refreshSnapshot loads the registry's deployed version into the holder
// when it differs from what is being served. Model files load before
// the swap, so readers never observe a partial snapshot.
func refreshSnapshot(ctx context.Context, registry lifecycle.Registry, holder *decision.Holder, universeID string) error {
	deployed, err := registry.Deployed(ctx, universeID)
	if err != nil {
		return err
	}
	if deployed == nil {
		return nil
	}
	if current := holder.Load(); current != nil && current.Version == deployed.Artifact.Version {
		return nil
	}

	ai1, err := training.LoadModel(deployed.Artifact.AI1Path)
	if err != nil {
		return err
	}
	ai2, err := training.LoadModel(deployed.Artifact.AI2Path)
	if err != nil {
		return err
	}

	holder.Swap(&decision.ActiveSnapshot{
		Version: deployed.Artifact.Version,
		AI1:     ai1,
		AI2:     ai2,
		Theta:   deployed.Theta,
	})
	return nil
}

// watchDeployment polls for deployments and rollbacks.
func watchDeployment(ctx context.Context, registry lifecycle.Registry, holder *decision.Holder, universeID string) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Keep serving the current snapshot on transient errors.
			_ = refreshSnapshot(ctx, registry, holder, universeID)
		}
	}
}
