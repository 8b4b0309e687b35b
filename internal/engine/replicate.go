package engine

import (
	"context"
	"math/rand"

	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal/errors"
	"repliscope/ports"
)

// ReplicateEstimator produces one replicate estimate: resolve dependencies,
// optionally case-bootstrap the resolved sample, then fit the curve. The
// bootstrap stage always runs after resolution; resampling the raw table
// would let dependent values from one study re-enter the same sample.
type ReplicateEstimator struct {
	resolver *DependencyResolver
	fitter   ports.CurveFitterPort
}

func NewReplicateEstimator(resolver *DependencyResolver, fitter ports.CurveFitterPort) (*ReplicateEstimator, error) {
	if resolver == nil {
		return nil, errors.InvalidInput("dependency resolver is required")
	}
	if fitter == nil {
		return nil, errors.InvalidInput("curve fitter is required")
	}
	return &ReplicateEstimator{resolver: resolver, fitter: fitter}, nil
}

// EstimateReplicate runs the full pipeline for one replicate index. A
// degenerate fit yields an absent result with a nil error so the caller can
// count it without aborting the run; any other failure is returned as-is.
func (e *ReplicateEstimator) EstimateReplicate(ctx context.Context, table *study.Table, bootstrap bool, rng *rand.Rand, index int) (estimate.ReplicateResult, error) {
	sample, err := e.resolver.Resolve(table, rng)
	if err != nil {
		return estimate.ReplicateResult{}, errors.Wrapf(err, "replicate %d: resolving dependencies", index)
	}

	pValues := sample.PValues()
	if bootstrap {
		pValues = caseResample(pValues, rng)
	}

	coeffs, err := e.fitter.Fit(ctx, pValues)
	if err != nil {
		if errors.IsDegenerateFit(err) {
			return estimate.AbsentReplicateResult(index), nil
		}
		return estimate.ReplicateResult{}, errors.Wrapf(err, "replicate %d: fitting curve", index)
	}
	return estimate.NewReplicateResult(index, coeffs), nil
}

// caseResample draws len(pValues) values with replacement from the resolved
// sample. Duplicates are expected, so the result is a plain slice rather
// than an independent sample.
func caseResample(pValues []float64, rng *rand.Rand) []float64 {
	resampled := make([]float64, len(pValues))
	for i := range resampled {
		resampled[i] = pValues[rng.Intn(len(pValues))]
	}
	return resampled
}
