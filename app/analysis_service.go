package app

import (
	"context"
	"time"

	"repliscope/domain/core"
	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal"
	"repliscope/internal/config"
	"repliscope/internal/engine"
	"repliscope/internal/errors"
	"repliscope/ports"
)

// AnalysisRequest defines one analysis run over the configured source.
type AnalysisRequest struct {
	// Dimensions lists the grouping columns to analyze as subgroups.
	Dimensions []string
	// Collapse optionally folds fine labels into coarse ones, per dimension.
	Collapse map[string]study.CollapseMap
	// Persist stores the run through the results repository when one is
	// configured.
	Persist bool
}

// AnalysisServiceDeps carries the ports and configuration the service
// composes. Repository is optional; everything else is required.
type AnalysisServiceDeps struct {
	Source     ports.ObservationSourcePort
	Fitter     ports.CurveFitterPort
	RNG        ports.RNGPort
	Repository ports.ResultsRepositoryPort
	Estimation config.EstimationConfig
	Logger     *internal.Logger
}

// AnalysisService runs the full estimation workflow: load, fingerprint,
// two Monte Carlo passes, discovery-rate baseline, subgroups, contrasts,
// optional persistence.
type AnalysisService struct {
	source     ports.ObservationSourcePort
	repository ports.ResultsRepositoryPort
	estimation config.EstimationConfig
	logger     *internal.Logger

	driver     *engine.MonteCarloDriver
	aggregator *engine.SubgroupAggregator
	reporter   *engine.SummaryReporter
}

// NewAnalysisService validates dependencies and wires the engine.
func NewAnalysisService(deps AnalysisServiceDeps) (*AnalysisService, error) {
	if deps.Source == nil {
		return nil, errors.InvalidInput("observation source is required")
	}
	if deps.Fitter == nil {
		return nil, errors.InvalidInput("curve fitter is required")
	}
	if deps.RNG == nil {
		return nil, errors.InvalidInput("rng port is required")
	}
	if err := config.ValidateEstimation(&deps.Estimation); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}

	estimator, err := engine.NewReplicateEstimator(engine.NewDependencyResolver(), deps.Fitter)
	if err != nil {
		return nil, err
	}
	driver, err := engine.NewMonteCarloDriver(estimator, deps.RNG, logger)
	if err != nil {
		return nil, err
	}
	aggregator, err := engine.NewSubgroupAggregator(driver, logger)
	if err != nil {
		return nil, err
	}
	reporter, err := engine.NewSummaryReporter(deps.Estimation.ConfidenceLevel)
	if err != nil {
		return nil, err
	}

	return &AnalysisService{
		source:     deps.Source,
		repository: deps.Repository,
		estimation: deps.Estimation,
		logger:     logger.Prefixed("analysis"),
		driver:     driver,
		aggregator: aggregator,
		reporter:   reporter,
	}, nil
}

// Run executes one analysis end to end.
func (s *AnalysisService) Run(ctx context.Context, req AnalysisRequest) (*estimate.RunResult, error) {
	startTime := time.Now()

	table, err := s.source.LoadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading observation table")
	}
	fingerprint := core.ComputeTableFingerprint(table.CanonicalRows())
	s.logger.Info("loaded table: %d observations, %d studies, fingerprint %.12s",
		table.Len(), table.StudyCount(), fingerprint)

	result := estimate.NewRunResult(fingerprint, s.settings())

	overall, err := s.analyzeOverall(ctx, table)
	if err != nil {
		return nil, err
	}
	result.Overall = overall

	for _, dimension := range dedupe(req.Dimensions) {
		subgroup, err := s.analyzeDimension(ctx, table, dimension, req.Collapse[dimension])
		if err != nil {
			return nil, errors.Wrapf(err, "analyzing dimension %q", dimension)
		}
		result.Subgroups = append(result.Subgroups, subgroup)
	}

	result.RuntimeMs = time.Since(startTime).Milliseconds()

	if req.Persist {
		if s.repository == nil {
			s.logger.Warn("persistence requested but no repository configured; run %s not stored", result.RunID)
		} else if err := s.repository.SaveRun(ctx, result); err != nil {
			return nil, errors.Wrap(err, "persisting run")
		}
	}

	s.logger.Info("run %s complete in %dms (%d/%d bootstrap replicates, %d subgroup dimensions)",
		result.RunID, result.RuntimeMs,
		result.Overall.Bootstrap.Completed, result.Overall.Bootstrap.Requested,
		len(result.Subgroups))
	return result, nil
}

// GetRun loads a persisted run.
func (s *AnalysisService) GetRun(ctx context.Context, runID core.RunID) (*estimate.RunResult, error) {
	if s.repository == nil {
		return nil, errors.ConfigInvalid("no results repository configured")
	}
	return s.repository.GetRun(ctx, runID)
}

// ListRuns lists persisted runs, newest first.
func (s *AnalysisService) ListRuns(ctx context.Context, limit int) ([]ports.RunSummaryRecord, error) {
	if s.repository == nil {
		return nil, errors.ConfigInvalid("no results repository configured")
	}
	return s.repository.ListRuns(ctx, limit)
}

// ODR computes the discovery-rate baseline without running the Monte Carlo
// passes.
func (s *AnalysisService) ODR(ctx context.Context) (estimate.ODRResult, error) {
	table, err := s.source.LoadTable(ctx)
	if err != nil {
		return estimate.ODRResult{}, errors.Wrap(err, "loading observation table")
	}
	return s.reporter.ODR(table, s.estimation.Alpha)
}

// analyzeOverall runs both Monte Carlo passes and the baseline over the
// whole corpus. The resampling pass carries the headline point estimate;
// the bootstrap pass carries the interval.
func (s *AnalysisService) analyzeOverall(ctx context.Context, table *study.Table) (estimate.OverallAnalysis, error) {
	resamplingDist, err := s.driver.Run(ctx, table, s.options(s.estimation.Repetitions, false))
	if err != nil {
		return estimate.OverallAnalysis{}, errors.Wrap(err, "resampling pass")
	}
	resampling, err := s.reporter.SummarizeAll(resamplingDist)
	if err != nil {
		return estimate.OverallAnalysis{}, errors.Wrap(err, "summarizing resampling pass")
	}
	s.logger.Debug("resampling pass: %d/%d replicates completed", resampling.Completed, resampling.Requested)

	bootstrapDist, err := s.driver.Run(ctx, table, s.options(s.estimation.BootstrapRepetitions, true))
	if err != nil {
		return estimate.OverallAnalysis{}, errors.Wrap(err, "bootstrap pass")
	}
	bootstrap, err := s.reporter.SummarizeAll(bootstrapDist)
	if err != nil {
		return estimate.OverallAnalysis{}, errors.Wrap(err, "summarizing bootstrap pass")
	}
	s.logger.Debug("bootstrap pass: %d/%d replicates completed", bootstrap.Completed, bootstrap.Requested)

	odr, err := s.reporter.ODR(table, s.estimation.Alpha)
	if err != nil {
		return estimate.OverallAnalysis{}, errors.Wrap(err, "computing observed discovery rate")
	}

	return estimate.OverallAnalysis{
		Resampling:   resampling,
		Bootstrap:    bootstrap,
		ODR:          odr,
		Studies:      table.StudyCount(),
		Observations: table.Len(),
	}, nil
}

// analyzeDimension partitions the table, runs grouped bootstrap passes with
// matched replicate indices, and summarizes every group and label pair.
func (s *AnalysisService) analyzeDimension(ctx context.Context, table *study.Table, dimension string, collapse study.CollapseMap) (estimate.SubgroupAnalysis, error) {
	partition, err := s.aggregator.PartitionTable(table, dimension, collapse)
	if err != nil {
		return estimate.SubgroupAnalysis{}, err
	}

	opts := s.options(s.estimation.BootstrapRepetitions, true)
	distributions, err := s.aggregator.RunGrouped(ctx, partition, opts)
	if err != nil {
		return estimate.SubgroupAnalysis{}, err
	}

	labels := partition.Labels()
	analysis := estimate.SubgroupAnalysis{
		Dimension: dimension,
		Collapsed: len(collapse) > 0,
		Groups:    make([]estimate.GroupAnalysis, 0, len(labels)),
	}

	for _, label := range labels {
		groupTable, _ := partition.Group(label)
		summary, err := s.reporter.SummarizeAll(distributions[label])
		if err != nil {
			return estimate.SubgroupAnalysis{}, errors.Wrapf(err, "summarizing group %q", label)
		}
		odr, err := s.reporter.ODR(groupTable, s.estimation.Alpha)
		if err != nil {
			return estimate.SubgroupAnalysis{}, errors.Wrapf(err, "discovery rate for group %q", label)
		}
		analysis.Groups = append(analysis.Groups, estimate.GroupAnalysis{
			Label:        label,
			Studies:      groupTable.StudyCount(),
			Observations: groupTable.Len(),
			Bootstrap:    summary,
			ODR:          odr,
		})
		s.logger.Debug("group %s=%q: %d/%d replicates completed",
			dimension, label, summary.Completed, summary.Requested)
	}

	// Pairwise contrasts over sorted labels, delta = first minus second.
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			deltas, err := s.reporter.Contrast(distributions[labels[i]], distributions[labels[j]])
			if err != nil {
				return estimate.SubgroupAnalysis{}, errors.Wrapf(err, "contrasting %q vs %q", labels[i], labels[j])
			}
			summary := s.reporter.SummarizeContrast(deltas)
			analysis.Contrasts = append(analysis.Contrasts, estimate.ContrastAnalysis{
				First:     labels[i],
				Second:    labels[j],
				ERR:       summary.ERR,
				EDR:       summary.EDR,
				ARP:       summary.ARP,
				Completed: summary.Completed,
				Failed:    summary.Failed,
			})
		}
	}
	return analysis, nil
}

func (s *AnalysisService) settings() estimate.Settings {
	return estimate.Settings{
		Seed:                 s.estimation.Seed,
		Repetitions:          s.estimation.Repetitions,
		BootstrapRepetitions: s.estimation.BootstrapRepetitions,
		Workers:              s.estimation.Workers,
		Alpha:                s.estimation.Alpha,
		ConfidenceLevel:      s.estimation.ConfidenceLevel,
		MinSignificant:       s.estimation.MinSignificant,
	}
}

func (s *AnalysisService) options(repetitions int, bootstrap bool) engine.Options {
	return engine.Options{
		Repetitions: repetitions,
		Bootstrap:   bootstrap,
		Seed:        s.estimation.Seed,
		Workers:     s.estimation.Workers,
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
