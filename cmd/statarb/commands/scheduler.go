package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmlee/statarb/internal/backtest"
	"github.com/jmlee/statarb/internal/dataset"
	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/labeling"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/internal/quality"
	"github.com/jmlee/statarb/internal/scheduler"
	"github.com/jmlee/statarb/internal/scheduler/jobs"
	"github.com/jmlee/statarb/internal/theta"
	"github.com/jmlee/statarb/internal/training"
	"github.com/jmlee/statarb/internal/validation"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Scheduler management",
	Long: `Starts the scheduler daemon or inspects its jobs.

Registered jobs:
- retrain-<universe>: monthly retraining pipeline (02:00 on the 1st)
- monitor-<universe>: hourly live performance check with rollback

Subcommands:
  start   - start the scheduler daemon
  list    - list registered jobs
  run     - run one job immediately
  status  - show job execution statistics

Example:
  go run ./cmd/statarb scheduler start
  go run ./cmd/statarb scheduler run retrain-crypto-major`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long: `Starts the scheduler and schedules all registered jobs.

The daemon also runs the stuck-task watchdog: a retraining run whose
heartbeat goes silent is cancelled and left to the scheduler's retry.

Stop with Ctrl+C.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show job execution statistics",
		RunE:  showJobStatus,
	}

	schedulerAutoDeploy bool
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)

	schedulerCmd.PersistentFlags().BoolVar(&schedulerAutoDeploy, "auto-deploy", false,
		"deploy approved versions without operator confirmation")
}

// watchdogInterval is the heartbeat cadence for scheduled tasks; a task
// whose heartbeat is older than this is considered stuck.
const watchdogInterval = time.Minute

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Statarb Scheduler ===")
	fmt.Println()

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	sched, watchdog, err := buildScheduler(deps)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchdog.Run(ctx)

	sched.Start()

	fmt.Println("✅ Scheduler started")
	fmt.Println()
	fmt.Println("Registered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	cancel()
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	sched, _, err := buildScheduler(deps)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Println("Registered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	sched, watchdog, err := buildScheduler(deps)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchdog.Run(ctx)

	fmt.Printf("Running job: %s\n", jobName)
	if err := sched.RunJob(jobName); err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	fmt.Println("Job started (running in background)")
	return nil
}

func showJobStatus(cmd *cobra.Command, args []string) error {
	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	sched, _, err := buildScheduler(deps)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	stats := sched.GetJobStats()

	fmt.Println("Job Statistics:")
	fmt.Println()

	for jobName, stat := range stats {
		fmt.Printf("📊 %s\n", jobName)
		fmt.Printf("   Schedule: %s\n", stat.Schedule)
		fmt.Printf("   Total Runs: %d\n", stat.TotalRuns)
		fmt.Printf("   Success: %d (%.1f%%)\n", stat.SuccessCount, stat.SuccessRate*100)
		fmt.Printf("   Failures: %d\n", stat.FailureCount)

		if stat.LastRun != nil {
			fmt.Printf("   Last Run: %s\n", stat.LastRun.Format("2006-01-02 15:04:05"))
		}
		if stat.LastSuccess != nil {
			fmt.Printf("   Last Success: %s\n", stat.LastSuccess.Format("2006-01-02 15:04:05"))
		}
		if stat.LastFailure != nil {
			fmt.Printf("   Last Failure: %s\n", stat.LastFailure.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}

	return nil
}

// buildScheduler wires the retraining pipeline and the live monitor for
// the configured universe.
func buildScheduler(deps *appDeps) (*scheduler.Scheduler, *scheduler.Watchdog, error) {
	cfg := deps.strategy
	universeID := deps.universe.UniverseID

	store, err := training.NewStore(deps.cfg.ArtifactDir)
	if err != nil {
		return nil, nil, err
	}

	// The scheduler process deploys by registry state; its own holder
	// only mirrors the swap locally.
	holder := &decision.Holder{}
	manager, registry := deps.newManager(holder)

	evaluator := backtest.NewClient(deps.cfg.Backtest, deps.log)
	watchdog := scheduler.NewWatchdog(deps.rdb, watchdogInterval, deps.log)

	retrainDeps := jobs.RetrainDeps{
		Source:    dataset.NewRepository(deps.db.Pool),
		Gate:      quality.NewGate(cfg.Quality, quality.NewRepository(deps.db.Pool), deps.log.Zerolog()),
		Labeler:   labeling.NewLabeler(cfg.Labeling, deps.log.Zerolog()),
		Planner:   validation.NewPlanner(cfg.Validation, cfg.Labeling.Lookahead, deps.log.Zerolog()),
		Trainer:   training.New(cfg.Training, nil, deps.log),
		Store:     store,
		Evaluator: evaluator,
		Optimizer: theta.NewOptimizer(cfg.Theta, evaluator, deps.log),
		Registry:  registry,
		Manager:   manager,
		Locks:     deps.lockFactory(),
		Watchdog:  watchdog,
	}

	sched := scheduler.New(deps.log)
	if err := sched.AddJob(jobs.NewRetrainJob(universeID, cfg, retrainDeps,
		"0 0 2 1 * *", schedulerAutoDeploy, deps.log)); err != nil {
		return nil, nil, err
	}
	if err := sched.AddJob(jobs.NewMonitorJob(universeID,
		lifecycle.NewLiveMetricsRepository(deps.db.Pool), manager, "@hourly", deps.log)); err != nil {
		return nil, nil, err
	}

	return sched, watchdog, nil
}
