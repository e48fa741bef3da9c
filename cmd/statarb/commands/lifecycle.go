package commands

import (
	"context"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/jmlee/statarb/internal/decision"
)

// lifecycleCmd groups the operator-facing model lifecycle actions.
var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Model lifecycle operations",
	Long: `Operator actions on the model version registry.

All actions are audited with the invoking OS user as the actor. The
deploy and rollback actions take the universe run lock; they fail when
a retraining run is in flight.

Subcommands:
  list      - list retained versions
  approve   - run promotion gates on a candidate
  deploy    - deploy an approved version
  rollback  - roll the deployed version back to its predecessor

Example:
  go run ./cmd/statarb lifecycle list
  go run ./cmd/statarb lifecycle deploy m20260801T021504-3fa81c22`,
}

var (
	lifecycleListCmd = &cobra.Command{
		Use:   "list",
		Short: "List retained versions",
		RunE:  runLifecycleList,
	}

	lifecycleApproveCmd = &cobra.Command{
		Use:   "approve [version]",
		Short: "Run promotion gates on a candidate",
		Args:  cobra.ExactArgs(1),
		RunE:  runLifecycleApprove,
	}

	lifecycleDeployCmd = &cobra.Command{
		Use:   "deploy [version]",
		Short: "Deploy an approved version",
		Args:  cobra.ExactArgs(1),
		RunE:  runLifecycleDeploy,
	}

	lifecycleRollbackCmd = &cobra.Command{
		Use:   "rollback",
		Short: "Roll the deployed version back to its predecessor",
		RunE:  runLifecycleRollback,
	}
)

func init() {
	rootCmd.AddCommand(lifecycleCmd)
	lifecycleCmd.AddCommand(lifecycleListCmd)
	lifecycleCmd.AddCommand(lifecycleApproveCmd)
	lifecycleCmd.AddCommand(lifecycleDeployCmd)
	lifecycleCmd.AddCommand(lifecycleRollbackCmd)
}

func actorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "operator:" + u.Username
	}
	return "operator"
}

func runLifecycleList(cmd *cobra.Command, args []string) error {
	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	_, registry := deps.newManager(&decision.Holder{})
	entries, err := registry.ListVersions(context.Background(), deps.universe.UniverseID)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No versions registered")
		return nil
	}

	fmt.Printf("Versions for %s:\n\n", deps.universe.UniverseID)
	for _, e := range entries {
		marker := "  "
		if e.State == "deployed" {
			marker = "▶ "
		}
		fmt.Printf("%s%s  %-10s  sharpe=%.2f  maxdd=%.3f  created=%s\n",
			marker, e.Artifact.Version, e.State,
			e.Artifact.Baseline.Sharpe, e.Artifact.Baseline.MaxDrawdown,
			e.Artifact.CreatedAt.Format("2006-01-02 15:04"))
		if e.PriorVersion != "" {
			fmt.Printf("    rollback target: %s\n", e.PriorVersion)
		}
	}
	return nil
}

func runLifecycleApprove(cmd *cobra.Command, args []string) error {
	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	manager, _ := deps.newManager(&decision.Holder{})
	if err := manager.Approve(context.Background(), deps.universe.UniverseID, args[0], actorName()); err != nil {
		return err
	}
	fmt.Printf("✅ %s approved\n", args[0])
	return nil
}

func runLifecycleDeploy(cmd *cobra.Command, args []string) error {
	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	manager, _ := deps.newManager(&decision.Holder{})
	if err := manager.Deploy(context.Background(), deps.universe.UniverseID, args[0], actorName()); err != nil {
		return err
	}
	fmt.Printf("✅ %s deployed (workers pick it up within a minute)\n", args[0])
	return nil
}

func runLifecycleRollback(cmd *cobra.Command, args []string) error {
	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	manager, registry := deps.newManager(&decision.Holder{})
	if err := manager.Rollback(context.Background(), deps.universe.UniverseID, actorName(), "manual rollback"); err != nil {
		return err
	}

	deployed, err := registry.Deployed(context.Background(), deps.universe.UniverseID)
	if err == nil && deployed != nil {
		fmt.Printf("✅ Rolled back to %s\n", deployed.Artifact.Version)
	} else {
		fmt.Println("✅ Rollback completed")
	}
	return nil
}
