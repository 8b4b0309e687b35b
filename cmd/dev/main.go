package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"repliscope/adapters/postgres"
	"repliscope/adapters/rng"
	"repliscope/adapters/tabular"
	"repliscope/adapters/zcurve"
	"repliscope/app"
	"repliscope/internal/config"
	"repliscope/internal/testkit"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "repliscope-dev",
		Short: "Repliscope development tools",
	}

	rootCmd.AddCommand(
		newSeedCmd(),
		newSmokeTestCmd(),
		newDeterminismTestCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSeedCmd() *cobra.Command {
	var studies int
	var seed int64
	var outDir string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a synthetic p-value table for development",
		Long: `Write a deterministic synthetic table as csv and xlsx fixtures.
With DATABASE_URL set, the table is also loaded into the observations
table, replacing its contents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateSeedData(cmd.Context(), studies, seed, outDir)
		},
	}

	cmd.Flags().IntVar(&studies, "studies", 40, "Number of synthetic studies")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for the synthetic table")
	cmd.Flags().StringVar(&outDir, "out", "testdata", "Output directory for fixtures")

	return cmd
}

func newSmokeTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run smoke tests against the estimation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmokeTests(cmd.Context())
		},
	}
	return cmd
}

func newDeterminismTestCmd() *cobra.Command {
	var seed int64
	var repetitions int

	cmd := &cobra.Command{
		Use:   "determinism [table-file]",
		Short: "Verify bit-identical results across worker counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return testDeterminism(cmd.Context(), args[0], seed, repetitions)
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	cmd.Flags().IntVar(&repetitions, "repetitions", 100, "Repetitions per pass")

	return cmd
}

func generateSeedData(ctx context.Context, studies int, seed int64, outDir string) error {
	fmt.Printf("Generating synthetic table: %d studies, seed %d\n", studies, seed)

	table, err := testkit.SyntheticTable(studies, seed)
	if err != nil {
		return fmt.Errorf("failed to build synthetic table: %w", err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	csvPath := filepath.Join(outDir, "observations.csv")
	if err := tabular.WriteCSV(table, csvPath); err != nil {
		return fmt.Errorf("failed to write csv fixture: %w", err)
	}
	fmt.Printf("Wrote %s\n", csvPath)

	xlsxPath := filepath.Join(outDir, "observations.xlsx")
	if err := tabular.WriteXLSX(table, xlsxPath); err != nil {
		return fmt.Errorf("failed to write xlsx fixture: %w", err)
	}
	fmt.Printf("Wrote %s\n", xlsxPath)

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := sqlx.Connect("postgres", databaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		source := postgres.NewObservationSource(db)
		if err := source.InsertTable(ctx, table); err != nil {
			return fmt.Errorf("failed to load observations table: %w", err)
		}
		fmt.Printf("Loaded %d observations into the database\n", table.Len())
	}

	fmt.Println("Seed data generation completed successfully")
	return nil
}

func runSmokeTests(ctx context.Context) error {
	fmt.Println("Running smoke tests...")

	estimation := config.EstimationConfig{
		Repetitions:          20,
		BootstrapRepetitions: 20,
		Seed:                 42,
		Workers:              2,
		Alpha:                0.05,
		ConfidenceLevel:      0.95,
		MinSignificant:       3,
	}

	tests := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"synthetic_table", func(ctx context.Context) error {
			table, err := testkit.SyntheticTable(10, 42)
			if err != nil {
				return err
			}
			if table.Len() == 0 {
				return fmt.Errorf("no observations generated")
			}
			return nil
		}},
		{"overall_analysis", func(ctx context.Context) error {
			service, err := newSmokeService(estimation)
			if err != nil {
				return err
			}
			result, err := service.Run(ctx, app.AnalysisRequest{})
			if err != nil {
				return err
			}
			if result.Overall.Bootstrap.Completed == 0 {
				return fmt.Errorf("no replicates completed")
			}
			return nil
		}},
		{"grouped_analysis", func(ctx context.Context) error {
			service, err := newSmokeService(estimation)
			if err != nil {
				return err
			}
			result, err := service.Run(ctx, app.AnalysisRequest{Dimensions: []string{"field"}})
			if err != nil {
				return err
			}
			if len(result.Subgroups) != 1 || len(result.Subgroups[0].Groups) == 0 {
				return fmt.Errorf("no subgroup results")
			}
			return nil
		}},
	}

	passed := 0
	for _, test := range tests {
		fmt.Printf("  Running %s...", test.name)
		if err := test.fn(ctx); err != nil {
			fmt.Printf(" FAILED: %v\n", err)
		} else {
			fmt.Println(" PASSED")
			passed++
		}
	}

	fmt.Printf("\nSmoke tests: %d/%d passed\n", passed, len(tests))
	if passed < len(tests) {
		return fmt.Errorf("some smoke tests failed")
	}

	return nil
}

func newSmokeService(estimation config.EstimationConfig) (*app.AnalysisService, error) {
	return app.NewAnalysisService(app.AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: testkit.MustSyntheticTable(20, 42)},
		Fitter:     zcurve.NewFitter(zcurve.DefaultConfig()),
		RNG:        rng.NewStreamAdapter(),
		Estimation: estimation,
	})
}

func testDeterminism(ctx context.Context, tableFile string, seed int64, repetitions int) error {
	fmt.Printf("Testing determinism on %s (seed %d, %d repetitions)\n", tableFile, seed, repetitions)

	run := func(workers int) (interface{}, error) {
		service, err := app.NewAnalysisService(app.AnalysisServiceDeps{
			Source: tabular.NewLoader(tableFile),
			Fitter: zcurve.NewFitter(zcurve.DefaultConfig()),
			RNG:    rng.NewStreamAdapter(),
			Estimation: config.EstimationConfig{
				Repetitions:          repetitions,
				BootstrapRepetitions: repetitions,
				Seed:                 seed,
				Workers:              workers,
				Alpha:                0.05,
				ConfidenceLevel:      0.95,
				MinSignificant:       3,
			},
		})
		if err != nil {
			return nil, err
		}
		result, err := service.Run(ctx, app.AnalysisRequest{})
		if err != nil {
			return nil, err
		}
		return result.Overall, nil
	}

	first, err := run(1)
	if err != nil {
		return fmt.Errorf("single-worker run failed: %w", err)
	}

	for _, workers := range []int{2, 4, 8} {
		other, err := run(workers)
		if err != nil {
			return fmt.Errorf("%d-worker run failed: %w", workers, err)
		}
		if !reflect.DeepEqual(first, other) {
			return fmt.Errorf("results diverge between 1 and %d workers", workers)
		}
		fmt.Printf("  %d workers: identical\n", workers)
	}

	fmt.Println("Determinism verified: all worker counts agree bit for bit")
	return nil
}
