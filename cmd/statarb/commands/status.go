package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/pkg/redis"
)

// statusCmd prints the current deployment and infrastructure state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deployment and infrastructure status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Statarb Status ===")
	fmt.Println()

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Infrastructure
	fmt.Println("📡 Infrastructure")
	if status, err := deps.db.HealthCheck(ctx); err == nil && status.Healthy {
		fmt.Printf("  Database: ok (%s)\n", status.ResponseTime.Round(time.Millisecond))
	} else {
		fmt.Println("  Database: ⚠ unreachable")
	}
	if err := deps.rdb.Redis().Ping(ctx).Err(); err == nil {
		fmt.Println("  Redis:    ok")
	} else {
		fmt.Println("  Redis:    ⚠ unreachable")
	}
	fmt.Println()

	// Deployment
	_, registry := deps.newManager(&decision.Holder{})
	deployed, err := registry.Deployed(ctx, deps.universe.UniverseID)
	if err != nil {
		return err
	}

	fmt.Printf("🚀 Deployment (%s)\n", deps.universe.UniverseID)
	if deployed == nil {
		fmt.Println("  No version deployed")
	} else {
		fmt.Printf("  Version:  %s\n", deployed.Artifact.Version)
		fmt.Printf("  θ1/θ2:    %.3f / %.3f\n", deployed.Theta.Theta1, deployed.Theta.Theta2)
		fmt.Printf("  Baseline: sharpe=%.2f maxdd=%.3f trades/yr=%.0f\n",
			deployed.Artifact.Baseline.Sharpe,
			deployed.Artifact.Baseline.MaxDrawdown,
			deployed.Artifact.Baseline.TradesPerYear)
		if deployed.PriorVersion != "" {
			fmt.Printf("  Rollback: %s\n", deployed.PriorVersion)
		}
	}
	fmt.Println()

	// Workers
	fmt.Println("👷 Workers")
	alive := 0
	iter := deps.rdb.Redis().Scan(ctx, 0, "statarb:heartbeat:worker:*", 100).Iterator()
	for iter.Next(ctx) {
		workerID := iter.Val()[len("statarb:heartbeat:worker:"):]
		if age, ok, err := redis.Age(ctx, deps.rdb, "worker", workerID); err == nil && ok {
			fmt.Printf("  %s: alive (heartbeat %s ago)\n", workerID, age.Round(time.Second))
			alive++
		}
	}
	if alive == 0 {
		fmt.Println("  No live workers")
	}

	return nil
}
