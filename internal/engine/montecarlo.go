package engine

import (
	"context"
	"sync"

	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal"
	"repliscope/internal/errors"
	"repliscope/ports"
)

// Options configures one Monte Carlo run.
type Options struct {
	// Repetitions is the number of replicates to execute.
	Repetitions int
	// Bootstrap enables case resampling after dependency resolution.
	Bootstrap bool
	// Seed is the base seed every replicate stream derives from.
	Seed int64
	// Workers bounds concurrent replicate execution.
	Workers int
}

// Validate rejects settings the driver cannot run with.
func (o Options) Validate() error {
	if o.Repetitions <= 0 {
		return errors.ConfigInvalidf("repetitions must be positive, got %d", o.Repetitions)
	}
	if o.Workers <= 0 {
		return errors.ConfigInvalidf("workers must be positive, got %d", o.Workers)
	}
	return nil
}

// MonteCarloDriver executes replicates across a worker pool. Every replicate
// draws from its own rng stream derived from (seed, index), so results are
// bit-identical for a given seed no matter how many workers run or in what
// order they finish.
type MonteCarloDriver struct {
	estimator *ReplicateEstimator
	rngPort   ports.RNGPort
	logger    *internal.Logger
}

func NewMonteCarloDriver(estimator *ReplicateEstimator, rngPort ports.RNGPort, logger *internal.Logger) (*MonteCarloDriver, error) {
	if estimator == nil {
		return nil, errors.InvalidInput("replicate estimator is required")
	}
	if rngPort == nil {
		return nil, errors.InvalidInput("rng port is required")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &MonteCarloDriver{
		estimator: estimator,
		rngPort:   rngPort,
		logger:    logger.Prefixed("montecarlo"),
	}, nil
}

type replicateOutcome struct {
	result estimate.ReplicateResult
	err    error
}

// Run executes opts.Repetitions replicates against the table and collects
// them into an index-ordered distribution. Degenerate fits land in the
// distribution as absent entries; any other replicate error aborts the run.
func (d *MonteCarloDriver) Run(ctx context.Context, table *study.Table, opts Options) (*estimate.Distribution, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if table == nil || table.Len() == 0 {
		return nil, errors.InvalidInput("observation table is empty")
	}

	numWorkers := opts.Workers
	if numWorkers > opts.Repetitions {
		numWorkers = opts.Repetitions
	}

	workChan := make(chan int, opts.Repetitions)
	resultChan := make(chan replicateOutcome, opts.Repetitions)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.replicateWorker(ctx, table, opts, workChan, resultChan)
		}()
	}

	go func() {
		for i := 0; i < opts.Repetitions; i++ {
			workChan <- i
		}
		close(workChan)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Results arrive in completion order; the index on each outcome puts
	// them back into replicate order.
	results := make([]estimate.ReplicateResult, opts.Repetitions)
	var firstErr error
	for outcome := range resultChan {
		if outcome.err != nil {
			if firstErr == nil {
				firstErr = outcome.err
			}
			continue
		}
		results[outcome.result.Index] = outcome.result
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "monte carlo run cancelled")
	}

	dist, err := estimate.NewDistribution(results)
	if err != nil {
		return nil, errors.Wrap(err, "assembling replicate distribution")
	}
	d.logger.Debug("run complete: %d replicates, %d estimated, %d degenerate",
		dist.Len(), dist.Completed(), dist.Failed())
	return dist, nil
}

func (d *MonteCarloDriver) replicateWorker(ctx context.Context, table *study.Table, opts Options, workChan <-chan int, resultChan chan<- replicateOutcome) {
	for index := range workChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rng, err := d.rngPort.ReplicateStream(ctx, opts.Seed, index)
		if err != nil {
			resultChan <- replicateOutcome{err: errors.Wrapf(err, "replicate %d: deriving rng stream", index)}
			continue
		}
		result, err := d.estimator.EstimateReplicate(ctx, table, opts.Bootstrap, rng, index)
		if err != nil {
			resultChan <- replicateOutcome{err: err}
			continue
		}
		resultChan <- replicateOutcome{result: result}
	}
}
