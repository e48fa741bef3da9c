package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmlee/statarb/internal/api"
	"github.com/jmlee/statarb/internal/api/handlers"
	"github.com/jmlee/statarb/internal/lifecycle"
)

// apiCmd runs the read-only status server.
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the status API server",
	Long: `Starts the read-only operational status server.

Endpoints:
  GET /health                  - database and Redis reachability
  GET /api/status/deployment   - deployed version and active thresholds
  GET /api/status/versions     - retained version history
  GET /api/status/signals      - latest signal per pair with latency
  GET /api/status/jobs         - scheduler job statistics
  GET /api/status/workers      - inference worker heartbeat ages

Example:
  go run ./cmd/statarb api`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Statarb Status API ===")
	fmt.Println()

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	registry := lifecycle.NewRepository(deps.db.Pool, deps.log)
	status := handlers.NewStatusHandler(deps.db, deps.rdb, registry, nil, nil,
		deps.universe, deps.log)
	server := api.New(deps.cfg, deps.log, api.NewRouter(status, deps.log))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("Listening on :%s\n", deps.cfg.OpsPort)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}
