package ports

import (
	"context"

	"repliscope/domain/estimate"
)

// CurveFitterPort fits a selection model to an independent sample of
// p-values and returns the replication coefficients. Implementations must
// be pure functions of their input: no internal randomness, so a replicate
// is reproducible from its resolved sample alone.
type CurveFitterPort interface {
	// Fit estimates {ERR, EDR} from independent p-values. A sample the
	// model cannot fit (too few significant values, no variance,
	// non-convergence) surfaces as a DEGENERATE_FIT error; the caller
	// drops that replicate and counts it.
	Fit(ctx context.Context, pValues []float64) (estimate.Coefficients, error)
}
