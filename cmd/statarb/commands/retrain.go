package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// retrainCmd runs one retraining cycle in the foreground.
var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Run one retraining cycle now",
	Long: `Runs the full retraining pipeline once for the configured universe:
quality gate, labeling, walk-forward validation, training, threshold
search, and the promotion decision.

A rejected threshold candidate or a blocked promotion ends the cycle
cleanly; the previous deployment keeps serving.

Example:
  go run ./cmd/statarb retrain
  go run ./cmd/statarb retrain --deploy`,
	RunE: runRetrain,
}

var retrainDeploy bool

func init() {
	rootCmd.AddCommand(retrainCmd)
	retrainCmd.Flags().BoolVar(&retrainDeploy, "deploy", false, "deploy immediately when promotion gates pass")
}

func runRetrain(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Statarb Retraining ===")
	fmt.Println()

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	schedulerAutoDeploy = retrainDeploy
	sched, watchdog, err := buildScheduler(deps)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchdog.Run(ctx)

	jobName := "retrain-" + deps.universe.UniverseID
	start := time.Now()
	fmt.Printf("Running %s...\n", jobName)

	if err := sched.RunJob(jobName); err != nil {
		return fmt.Errorf("run retraining: %w", err)
	}

	// RunJob is asynchronous; poll the history for the outcome.
	for {
		time.Sleep(2 * time.Second)
		history, err := sched.GetJobHistory(jobName)
		if err != nil {
			continue
		}
		results := history.GetLatestResults(1)
		if len(results) == 0 || results[0].StartTime.Before(start) {
			continue
		}
		if results[0].Success {
			fmt.Printf("✅ Retraining completed in %s\n", results[0].Duration.Round(time.Second))
			return nil
		}
		return fmt.Errorf("retraining failed: %s", results[0].Error)
	}
}
