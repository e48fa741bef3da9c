package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmlee/statarb/internal/dataset"
	"github.com/jmlee/statarb/internal/quality"
)

// qualityCmd runs the data quality gate once and prints the verdicts.
var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Run the data quality gate",
	Long: `Runs the partition quality gate against the current dataset and
prints which partitions would enter the next retraining run.

Exclusions are also written to the filtered index for audit.

Example:
  go run ./cmd/statarb quality`,
	RunE: runQuality,
}

func init() {
	rootCmd.AddCommand(qualityCmd)
}

func runQuality(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Data Quality Gate ===")
	fmt.Println()

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.close()

	ctx := context.Background()
	repo := dataset.NewRepository(deps.db.Pool)
	partitions, err := repo.Partitions(ctx, deps.universe.UniverseID)
	if err != nil {
		return err
	}
	if len(partitions) == 0 {
		fmt.Println("No partitions found")
		return nil
	}

	gate := quality.NewGate(deps.strategy.Quality, quality.NewRepository(deps.db.Pool), deps.log.Zerolog())
	included, excluded, err := gate.Run(ctx, partitions)
	if err != nil {
		return err
	}

	fmt.Printf("Included: %d partitions\n", len(included))
	for _, p := range included {
		fmt.Printf("  ✅ %s (%d bars)\n", p.ID(), p.BarsWritten)
	}

	if len(excluded) > 0 {
		fmt.Printf("\nExcluded: %d partitions\n", len(excluded))
		for _, v := range excluded {
			fmt.Printf("  ⚠  %s  %s (missing=%.2f%% outlier=%.2f%%)\n",
				v.Partition.ID(), v.Reason, v.MissingRate*100, v.OutlierRate*100)
		}
	}
	return nil
}
