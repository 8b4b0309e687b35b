package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"repliscope/adapters/report"
	"repliscope/adapters/rng"
	"repliscope/adapters/tabular"
	"repliscope/adapters/zcurve"
	"repliscope/app"
	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal/config"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "repliscope-cli",
		Short: "Replicability estimation over reported p-value tables",
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newODRCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAnalyzeCmd() *cobra.Command {
	var (
		seed            int64
		repetitions     int
		bootstrapReps   int
		workers         int
		alpha           float64
		confidenceLevel float64
		minSignificant  int
		dimensions      []string
		collapseSpecs   []string
		jsonOutput      bool
		reportFile      string
	)

	cmd := &cobra.Command{
		Use:   "analyze [table-file]",
		Short: "Run the full replicability analysis on a p-value table",
		Long: `Run the Monte Carlo replicability analysis on a csv or xlsx table of
reported p-values. The table needs article_id, study_id and p_value
columns; any further columns become grouping dimensions.

Example: repliscope-cli analyze studies.csv --seed 42 --dimensions field --collapse field:social=psychology`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			estimation := config.EstimationConfig{
				Repetitions:          repetitions,
				BootstrapRepetitions: bootstrapReps,
				Seed:                 seed,
				Workers:              workers,
				Alpha:                alpha,
				ConfidenceLevel:      confidenceLevel,
				MinSignificant:       minSignificant,
			}
			collapse, err := parseCollapseSpecs(collapseSpecs)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), args[0], estimation, dimensions, collapse, jsonOutput, reportFile)
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for deterministic operations")
	cmd.Flags().IntVar(&repetitions, "repetitions", 500, "Monte Carlo repetitions for the point estimate")
	cmd.Flags().IntVar(&bootstrapReps, "bootstrap-repetitions", 500, "Bootstrap repetitions for the confidence interval")
	cmd.Flags().IntVar(&workers, "workers", 4, "Parallel replicate workers")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Two-sided significance threshold")
	cmd.Flags().Float64Var(&confidenceLevel, "confidence", 0.95, "Confidence level for intervals")
	cmd.Flags().IntVar(&minSignificant, "min-significant", 3, "Fewest significant results a fit accepts")
	cmd.Flags().StringSliceVar(&dimensions, "dimensions", nil, "Grouping dimensions to analyze as subgroups")
	cmd.Flags().StringSliceVar(&collapseSpecs, "collapse", nil, "Label collapse rules, dim:fine=coarse")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	cmd.Flags().StringVar(&reportFile, "report", "", "Write a markdown report to this file")

	return cmd
}

func newODRCmd() *cobra.Command {
	var alpha float64
	var confidenceLevel float64

	cmd := &cobra.Command{
		Use:   "odr [table-file]",
		Short: "Compute the observed discovery rate without model fitting",
		Long: `Count the fraction of reported p-values below the significance
threshold, over every row of the table, with a normal-approximation
confidence interval.

Example: repliscope-cli odr studies.csv --alpha 0.05`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runODR(cmd.Context(), args[0], alpha, confidenceLevel)
		},
	}

	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Two-sided significance threshold")
	cmd.Flags().Float64Var(&confidenceLevel, "confidence", 0.95, "Confidence level for the interval")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("repliscope-cli %s\n", version)
			return nil
		},
	}
}

func runAnalyze(ctx context.Context, tableFile string, estimation config.EstimationConfig, dimensions []string, collapse map[string]study.CollapseMap, jsonOutput bool, reportFile string) error {
	service, err := newFileService(tableFile, estimation)
	if err != nil {
		return err
	}

	result, err := service.Run(ctx, app.AnalysisRequest{
		Dimensions: dimensions,
		Collapse:   collapse,
	})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printResult(result)
	}

	if reportFile != "" {
		markdown := report.NewGenerator().Markdown(result)
		if err := os.WriteFile(reportFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("\nReport written to %s\n", reportFile)
	}

	return nil
}

func runODR(ctx context.Context, tableFile string, alpha, confidenceLevel float64) error {
	estimation := config.EstimationConfig{
		Repetitions:          1,
		BootstrapRepetitions: 1,
		Seed:                 42,
		Workers:              1,
		Alpha:                alpha,
		ConfidenceLevel:      confidenceLevel,
		MinSignificant:       1,
	}
	service, err := newFileService(tableFile, estimation)
	if err != nil {
		return err
	}

	odr, err := service.ODR(ctx)
	if err != nil {
		return fmt.Errorf("discovery rate failed: %w", err)
	}

	fmt.Printf("=== OBSERVED DISCOVERY RATE ===\n")
	fmt.Printf("Significant: %d / %d reported p-values (alpha %.3f)\n", odr.Significant, odr.Total, odr.Alpha)
	fmt.Printf("Rate: %.3f\n", odr.Rate)
	fmt.Printf("%.0f%% CI: [%.3f, %.3f]\n", confidenceLevel*100, odr.CILower, odr.CIUpper)
	return nil
}

func newFileService(tableFile string, estimation config.EstimationConfig) (*app.AnalysisService, error) {
	return app.NewAnalysisService(app.AnalysisServiceDeps{
		Source: tabular.NewLoader(tableFile),
		Fitter: zcurve.NewFitter(zcurve.Config{
			Alpha:          estimation.Alpha,
			MinSignificant: estimation.MinSignificant,
		}),
		RNG:        rng.NewStreamAdapter(),
		Estimation: estimation,
	})
}

// parseCollapseSpecs parses repeated dim:fine=coarse rules into per-dimension
// collapse maps.
func parseCollapseSpecs(specs []string) (map[string]study.CollapseMap, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	collapse := make(map[string]study.CollapseMap)
	for _, spec := range specs {
		dimensionAndRule := strings.SplitN(spec, ":", 2)
		if len(dimensionAndRule) != 2 {
			return nil, fmt.Errorf("invalid collapse rule %q (expected dim:fine=coarse)", spec)
		}
		rule := strings.SplitN(dimensionAndRule[1], "=", 2)
		if len(rule) != 2 || rule[0] == "" || rule[1] == "" {
			return nil, fmt.Errorf("invalid collapse rule %q (expected dim:fine=coarse)", spec)
		}
		dimension := dimensionAndRule[0]
		if collapse[dimension] == nil {
			collapse[dimension] = study.CollapseMap{}
		}
		collapse[dimension][rule[0]] = rule[1]
	}
	return collapse, nil
}

func printResult(result *estimate.RunResult) {
	fmt.Printf("=== REPLICABILITY ANALYSIS ===\n")
	fmt.Printf("Run ID: %s\n", result.RunID)
	fmt.Printf("Table Fingerprint: %s\n", result.TableFingerprint)
	fmt.Printf("Seed: %d | Repetitions: %d + %d bootstrap | Runtime: %d ms\n",
		result.Settings.Seed, result.Settings.Repetitions,
		result.Settings.BootstrapRepetitions, result.RuntimeMs)

	overall := result.Overall
	fmt.Printf("\n=== OVERALL (%d studies, %d observations) ===\n", overall.Studies, overall.Observations)
	printSummary(overall.Resampling, overall.Bootstrap)
	fmt.Printf("ODR: %.3f [%.3f, %.3f] (%d/%d significant)\n",
		overall.ODR.Rate, overall.ODR.CILower, overall.ODR.CIUpper,
		overall.ODR.Significant, overall.ODR.Total)
	fmt.Printf("Replicates: %d/%d completed, %d degenerate\n",
		overall.Bootstrap.Completed, overall.Bootstrap.Requested, overall.Bootstrap.Failed)

	for _, subgroup := range result.Subgroups {
		fmt.Printf("\n=== SUBGROUPS: %s ===\n", subgroup.Dimension)
		for _, group := range subgroup.Groups {
			fmt.Printf("%s (%d studies, %d observations):\n", group.Label, group.Studies, group.Observations)
			printMetricLine("  ARP", group.Bootstrap.ARP)
			printMetricLine("  ERR", group.Bootstrap.ERR)
			printMetricLine("  EDR", group.Bootstrap.EDR)
			fmt.Printf("  ODR: %.3f [%.3f, %.3f]\n", group.ODR.Rate, group.ODR.CILower, group.ODR.CIUpper)
		}
		for _, contrast := range subgroup.Contrasts {
			fmt.Printf("%s minus %s:\n", contrast.First, contrast.Second)
			printMetricLine("  dERR", contrast.ERR)
			printMetricLine("  dEDR", contrast.EDR)
			printMetricLine("  dARP", contrast.ARP)
		}
	}
}

func printSummary(resampling, bootstrap estimate.Summary) {
	metrics := []struct {
		name  string
		point estimate.MetricSummary
		ci    estimate.MetricSummary
	}{
		{"ERR", resampling.ERR, bootstrap.ERR},
		{"EDR", resampling.EDR, bootstrap.EDR},
		{"ARP", resampling.ARP, bootstrap.ARP},
	}
	for _, m := range metrics {
		if m.point.N == 0 {
			fmt.Printf("%s: no completed replicates\n", m.name)
			continue
		}
		fmt.Printf("%s: %.3f [%.3f, %.3f]\n", m.name, m.point.Mean, m.ci.CILower, m.ci.CIUpper)
	}
}

func printMetricLine(name string, summary estimate.MetricSummary) {
	if summary.N == 0 {
		fmt.Printf("%s: n/a\n", name)
		return
	}
	fmt.Printf("%s: %.3f [%.3f, %.3f] (n=%d)\n", name, summary.Mean, summary.CILower, summary.CIUpper, summary.N)
}
