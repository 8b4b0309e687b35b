package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"repliscope/adapters/rng"
	"repliscope/domain/core"
	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal/errors"
	"repliscope/ports"
)

// TestKit provides fixtures and fake adapters for pipeline tests.
type TestKit struct {
	repo *InMemoryResultsRepository
}

// NewTestKit creates a test kit with a shared in-memory results store.
func NewTestKit() *TestKit {
	return &TestKit{repo: NewInMemoryResultsRepository()}
}

// ResultsRepository returns the shared in-memory repository so service and
// assertion code see the same storage.
func (t *TestKit) ResultsRepository() *InMemoryResultsRepository {
	return t.repo
}

// RNGAdapter returns the production stream adapter. It is already
// deterministic and cheap, so tests use the real thing.
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return rng.NewStreamAdapter()
}

// ============================================================================
// Fake curve fitters
// ============================================================================

// FixedFitter always returns the same coefficients.
type FixedFitter struct {
	Coeffs estimate.Coefficients
}

var _ ports.CurveFitterPort = (*FixedFitter)(nil)

func (f *FixedFitter) Fit(ctx context.Context, pValues []float64) (estimate.Coefficients, error) {
	if len(pValues) == 0 {
		return estimate.Coefficients{}, errors.DegenerateFit("empty sample")
	}
	return f.Coeffs, nil
}

// MeanFitter derives coefficients from the sample itself, so equal inputs
// always produce equal outputs. The rate falls as the mean p-value rises,
// which makes resampling visible in the output without any model fitting.
type MeanFitter struct{}

var _ ports.CurveFitterPort = (*MeanFitter)(nil)

func (f *MeanFitter) Fit(ctx context.Context, pValues []float64) (estimate.Coefficients, error) {
	if len(pValues) == 0 {
		return estimate.Coefficients{}, errors.DegenerateFit("empty sample")
	}
	sum := 0.0
	for _, p := range pValues {
		sum += p
	}
	mean := sum / float64(len(pValues))
	rate := 1 - mean
	if rate < 0.01 {
		rate = 0.01
	}
	return estimate.Coefficients{ERR: rate, EDR: rate / 2}, nil
}

// FailEveryNthFitter wraps another fitter and reports a degenerate fit on
// every nth call (calls n, 2n, 3n, ...). Call order equals replicate order
// only when the driver runs a single worker.
type FailEveryNthFitter struct {
	N     int
	Inner ports.CurveFitterPort

	mu    sync.Mutex
	calls int
}

var _ ports.CurveFitterPort = (*FailEveryNthFitter)(nil)

func (f *FailEveryNthFitter) Fit(ctx context.Context, pValues []float64) (estimate.Coefficients, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.N > 0 && call%f.N == 0 {
		return estimate.Coefficients{}, errors.DegenerateFitf("scripted degenerate fit on call %d", call)
	}
	return f.Inner.Fit(ctx, pValues)
}

// Calls returns how many times Fit ran.
func (f *FailEveryNthFitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ErrorFitter always fails with a non-degenerate error, for abort-path tests.
type ErrorFitter struct {
	Err error
}

var _ ports.CurveFitterPort = (*ErrorFitter)(nil)

func (f *ErrorFitter) Fit(ctx context.Context, pValues []float64) (estimate.Coefficients, error) {
	if f.Err != nil {
		return estimate.Coefficients{}, f.Err
	}
	return estimate.Coefficients{}, errors.InternalError("scripted fitter failure")
}

// ============================================================================
// Fake observation source
// ============================================================================

// StaticSource serves a fixed table, or a scripted error.
type StaticSource struct {
	Table *study.Table
	Err   error
}

var _ ports.ObservationSourcePort = (*StaticSource)(nil)

func (s *StaticSource) LoadTable(ctx context.Context) (*study.Table, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Table, nil
}

// ============================================================================
// Table fixtures
// ============================================================================

// SyntheticTable builds a corpus of studies with two to five p-values each,
// a mix of strong and marginal evidence, and two grouping dimensions
// ("field" alternates per study, "design" alternates per article).
func SyntheticTable(studies int, seed int64) (*study.Table, error) {
	if studies <= 0 {
		return nil, fmt.Errorf("studies must be positive, got %d", studies)
	}
	rnd := rand.New(rand.NewSource(seed))
	fields := []string{"psychology", "economics"}
	designs := []string{"between", "within"}

	var observations []study.Observation
	for s := 0; s < studies; s++ {
		articleID := fmt.Sprintf("article_%03d", s/2+1)
		studyID := fmt.Sprintf("study_%03d", s+1)
		groups := map[string]string{
			"field":  fields[s%len(fields)],
			"design": designs[(s/2)%len(designs)],
		}

		count := 2 + rnd.Intn(4)
		for k := 0; k < count; k++ {
			var p float64
			if rnd.Float64() < 0.6 {
				// Strong evidence, clearly below threshold.
				p = math.Pow(10, -1.5-4*rnd.Float64())
			} else {
				p = 0.01 + 0.8*rnd.Float64()
			}
			obs, err := study.NewObservation(articleID, studyID, p, groups)
			if err != nil {
				return nil, err
			}
			observations = append(observations, obs)
		}
	}
	return study.NewTable(observations)
}

// MustSyntheticTable builds a synthetic table or panics (for tests).
func MustSyntheticTable(studies int, seed int64) *study.Table {
	table, err := SyntheticTable(studies, seed)
	if err != nil {
		panic(fmt.Sprintf("synthetic table: %v", err))
	}
	return table
}

// SingleStudyTable builds a table with exactly one study carrying the given
// p-values, for boundary tests.
func SingleStudyTable(pValues ...float64) (*study.Table, error) {
	observations := make([]study.Observation, 0, len(pValues))
	for _, p := range pValues {
		obs, err := study.NewObservation("article_001", "study_001", p, map[string]string{"field": "solo"})
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return study.NewTable(observations)
}

// ============================================================================
// In-memory results repository
// ============================================================================

// InMemoryResultsRepository implements ResultsRepositoryPort with map
// storage, insertion-ordered for listing.
type InMemoryResultsRepository struct {
	runs  map[core.RunID]*estimate.RunResult
	order []core.RunID
	mu    sync.RWMutex
}

var _ ports.ResultsRepositoryPort = (*InMemoryResultsRepository)(nil)

func NewInMemoryResultsRepository() *InMemoryResultsRepository {
	return &InMemoryResultsRepository{
		runs: make(map[core.RunID]*estimate.RunResult),
	}
}

func (r *InMemoryResultsRepository) SaveRun(ctx context.Context, result *estimate.RunResult) error {
	if result == nil {
		return errors.InvalidInput("run result is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[result.RunID]; !exists {
		r.order = append(r.order, result.RunID)
	}
	r.runs[result.RunID] = result
	return nil
}

func (r *InMemoryResultsRepository) GetRun(ctx context.Context, runID core.RunID) (*estimate.RunResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.runs[runID]
	if !ok {
		return nil, core.NewNotFoundError("analysis run", string(runID))
	}
	return result, nil
}

func (r *InMemoryResultsRepository) ListRuns(ctx context.Context, limit int) ([]ports.RunSummaryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]ports.RunSummaryRecord, 0, len(r.order))
	for _, runID := range r.order {
		result := r.runs[runID]
		records = append(records, ports.RunSummaryRecord{
			RunID:            result.RunID,
			TableFingerprint: result.TableFingerprint,
			Seed:             result.Settings.Seed,
			MeanARP:          result.Overall.Resampling.ARP.Mean,
			CreatedAt:        result.CreatedAt,
		})
	}
	// Most recent first.
	sort.SliceStable(records, func(i, j int) bool {
		return records[j].CreatedAt.Before(records[i].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Len returns how many runs are stored.
func (r *InMemoryResultsRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
