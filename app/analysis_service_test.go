package app

import (
	"context"
	"fmt"
	"testing"

	"repliscope/adapters/zcurve"
	"repliscope/domain/core"
	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal/config"
	"repliscope/internal/errors"
	"repliscope/internal/testkit"
	"repliscope/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockResultsRepository struct {
	mock.Mock
	saved []*estimate.RunResult
}

func (m *mockResultsRepository) SaveRun(ctx context.Context, result *estimate.RunResult) error {
	args := m.Called(ctx, result)
	m.saved = append(m.saved, result)
	return args.Error(0)
}

func (m *mockResultsRepository) GetRun(ctx context.Context, runID core.RunID) (*estimate.RunResult, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*estimate.RunResult), args.Error(1)
}

func (m *mockResultsRepository) ListRuns(ctx context.Context, limit int) ([]ports.RunSummaryRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ports.RunSummaryRecord), args.Error(1)
}

func testEstimation() config.EstimationConfig {
	return config.EstimationConfig{
		Repetitions:          100,
		BootstrapRepetitions: 100,
		Seed:                 42,
		Workers:              4,
		Alpha:                0.05,
		ConfidenceLevel:      0.95,
		MinSignificant:       3,
	}
}

func newTestService(t *testing.T, deps AnalysisServiceDeps) *AnalysisService {
	t.Helper()
	if deps.RNG == nil {
		deps.RNG = testkit.NewTestKit().RNGAdapter()
	}
	service, err := NewAnalysisService(deps)
	if err != nil {
		t.Fatalf("NewAnalysisService failed: %v", err)
	}
	return service
}

func TestRunEndToEnd(t *testing.T) {
	table := testkit.MustSyntheticTable(20, 42)
	kit := testkit.NewTestKit()
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: table},
		Fitter:     zcurve.NewFitter(zcurve.DefaultConfig()),
		RNG:        kit.RNGAdapter(),
		Repository: kit.ResultsRepository(),
		Estimation: testEstimation(),
	})

	result, err := service.Run(context.Background(), AnalysisRequest{
		Dimensions: []string{"field"},
		Persist:    true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("expected a run ID")
	}
	want := core.ComputeTableFingerprint(table.CanonicalRows())
	if result.TableFingerprint != want {
		t.Errorf("fingerprint = %s, want %s", result.TableFingerprint, want)
	}
	if result.Settings.Seed != 42 || result.Settings.Repetitions != 100 {
		t.Errorf("settings not echoed: %+v", result.Settings)
	}

	overall := result.Overall
	if overall.Resampling.Requested != 100 || overall.Bootstrap.Requested != 100 {
		t.Errorf("requested counts = %d/%d, want 100/100",
			overall.Resampling.Requested, overall.Bootstrap.Requested)
	}
	if overall.Resampling.Completed == 0 {
		t.Fatal("resampling pass completed no replicates")
	}
	if overall.Studies != 20 {
		t.Errorf("Studies = %d, want 20", overall.Studies)
	}
	if overall.Observations != table.Len() {
		t.Errorf("Observations = %d, want %d", overall.Observations, table.Len())
	}
	if overall.ODR.Total != table.Len() {
		t.Errorf("ODR.Total = %d, want every reported p-value (%d)", overall.ODR.Total, table.Len())
	}
	if overall.Bootstrap.ERR.CILower > overall.Bootstrap.ERR.CIUpper {
		t.Errorf("ERR interval inverted: [%f, %f]",
			overall.Bootstrap.ERR.CILower, overall.Bootstrap.ERR.CIUpper)
	}

	if len(result.Subgroups) != 1 {
		t.Fatalf("expected 1 subgroup analysis, got %d", len(result.Subgroups))
	}
	subgroup := result.Subgroups[0]
	if subgroup.Dimension != "field" {
		t.Errorf("Dimension = %q, want field", subgroup.Dimension)
	}
	if len(subgroup.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(subgroup.Groups))
	}
	if subgroup.Groups[0].Label != "economics" || subgroup.Groups[1].Label != "psychology" {
		t.Errorf("group order = [%s %s], want sorted [economics psychology]",
			subgroup.Groups[0].Label, subgroup.Groups[1].Label)
	}
	if len(subgroup.Contrasts) != 1 {
		t.Fatalf("expected 1 contrast, got %d", len(subgroup.Contrasts))
	}
	contrast := subgroup.Contrasts[0]
	if contrast.First != "economics" || contrast.Second != "psychology" {
		t.Errorf("contrast pair = %s vs %s, want economics vs psychology",
			contrast.First, contrast.Second)
	}
	if contrast.Completed+contrast.Failed != 100 {
		t.Errorf("contrast accounting: %d completed + %d failed != 100",
			contrast.Completed, contrast.Failed)
	}

	if result.RuntimeMs < 0 {
		t.Errorf("RuntimeMs = %d", result.RuntimeMs)
	}

	// Persisted and retrievable.
	if kit.ResultsRepository().Len() != 1 {
		t.Fatalf("repository holds %d runs, want 1", kit.ResultsRepository().Len())
	}
	stored, err := service.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.RunID != result.RunID {
		t.Errorf("stored run ID = %s, want %s", stored.RunID, result.RunID)
	}
	records, err := service.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(records) != 1 || records[0].RunID != result.RunID {
		t.Errorf("ListRuns = %+v, want the stored run", records)
	}
}

func TestRunDeterministicAcrossServices(t *testing.T) {
	table := testkit.MustSyntheticTable(20, 42)
	run := func(workers int) (estimate.OverallAnalysis, estimate.SubgroupAnalysis, core.TableFingerprint) {
		estimation := testEstimation()
		estimation.Workers = workers
		service := newTestService(t, AnalysisServiceDeps{
			Source:     &testkit.StaticSource{Table: table},
			Fitter:     zcurve.NewFitter(zcurve.DefaultConfig()),
			Estimation: estimation,
		})
		result, err := service.Run(context.Background(), AnalysisRequest{Dimensions: []string{"field"}})
		if err != nil {
			t.Fatalf("Run with %d workers failed: %v", workers, err)
		}
		return result.Overall, result.Subgroups[0], result.TableFingerprint
	}

	overall1, grouped1, fp1 := run(1)
	overall2, grouped2, fp2 := run(4)

	if fp1 != fp2 {
		t.Errorf("fingerprints differ: %s vs %s", fp1, fp2)
	}
	if overall1 != overall2 {
		t.Errorf("overall analyses differ across worker counts:\n%+v\n%+v", overall1, overall2)
	}
	// SubgroupAnalysis holds slices, so compare the rendered form.
	if got, want := fmt.Sprintf("%+v", grouped1), fmt.Sprintf("%+v", grouped2); got != want {
		t.Errorf("subgroup analyses differ across worker counts:\n%s\n%s", got, want)
	}
}

func TestRunCollapsesLabels(t *testing.T) {
	table := testkit.MustSyntheticTable(12, 7)
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: table},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})

	result, err := service.Run(context.Background(), AnalysisRequest{
		Dimensions: []string{"field"},
		Collapse: map[string]study.CollapseMap{
			"field": {"psychology": "social", "economics": "social"},
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	subgroup := result.Subgroups[0]
	if !subgroup.Collapsed {
		t.Error("Collapsed flag not set")
	}
	if len(subgroup.Groups) != 1 || subgroup.Groups[0].Label != "social" {
		t.Fatalf("groups = %+v, want single group social", subgroup.Groups)
	}
	if subgroup.Groups[0].Studies != 12 {
		t.Errorf("collapsed group has %d studies, want 12", subgroup.Groups[0].Studies)
	}
	if len(subgroup.Contrasts) != 0 {
		t.Errorf("single group produced %d contrasts", len(subgroup.Contrasts))
	}
}

func TestRunContrastAccountingWithCleanFitter(t *testing.T) {
	table := testkit.MustSyntheticTable(10, 3)
	estimation := testEstimation()
	estimation.BootstrapRepetitions = 50
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: table},
		Fitter:     &testkit.MeanFitter{},
		Estimation: estimation,
	})

	result, err := service.Run(context.Background(), AnalysisRequest{Dimensions: []string{"field", "design"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Subgroups) != 2 {
		t.Fatalf("expected 2 dimensions, got %d", len(result.Subgroups))
	}
	for _, subgroup := range result.Subgroups {
		for _, contrast := range subgroup.Contrasts {
			if contrast.Failed != 0 {
				t.Errorf("%s: %s vs %s reported %d failures with a clean fitter",
					subgroup.Dimension, contrast.First, contrast.Second, contrast.Failed)
			}
			if contrast.Completed != 50 {
				t.Errorf("%s: %s vs %s completed %d deltas, want 50",
					subgroup.Dimension, contrast.First, contrast.Second, contrast.Completed)
			}
			if contrast.ERR.N != contrast.Completed {
				t.Errorf("ERR.N = %d, want %d", contrast.ERR.N, contrast.Completed)
			}
		}
	}
}

func TestRunDuplicateDimensionsAnalyzedOnce(t *testing.T) {
	table := testkit.MustSyntheticTable(8, 5)
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: table},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})

	result, err := service.Run(context.Background(), AnalysisRequest{
		Dimensions: []string{"field", "field", ""},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Subgroups) != 1 {
		t.Errorf("expected 1 subgroup analysis, got %d", len(result.Subgroups))
	}
}

func TestRunUnknownDimensionFails(t *testing.T) {
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: testkit.MustSyntheticTable(8, 5)},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})

	_, err := service.Run(context.Background(), AnalysisRequest{Dimensions: []string{"country"}})
	if err == nil {
		t.Fatal("expected error for unknown dimension")
	}
	if !errors.IsEmptyGroup(err) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeEmptyGroup)
	}
}

func TestRunPersistWithoutRepository(t *testing.T) {
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: testkit.MustSyntheticTable(8, 5)},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})

	result, err := service.Run(context.Background(), AnalysisRequest{Persist: true})
	if err != nil {
		t.Fatalf("Run failed without repository: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result despite missing repository")
	}
}

func TestRunPersistStoresCompleteRun(t *testing.T) {
	repo := &mockResultsRepository{}
	repo.On("SaveRun", mock.Anything, mock.AnythingOfType("*estimate.RunResult")).Return(nil).Once()

	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: testkit.MustSyntheticTable(8, 5)},
		Fitter:     &testkit.MeanFitter{},
		Repository: repo,
		Estimation: testEstimation(),
	})

	result, err := service.Run(context.Background(), AnalysisRequest{Persist: true})
	assert.NoError(t, err)
	repo.AssertExpectations(t)

	if assert.Len(t, repo.saved, 1) {
		assert.Equal(t, result.RunID, repo.saved[0].RunID)
		assert.Equal(t, result.TableFingerprint, repo.saved[0].TableFingerprint)
	}
}

func TestRunPersistFailureSurfaces(t *testing.T) {
	repo := &mockResultsRepository{}
	repo.On("SaveRun", mock.Anything, mock.Anything).Return(errors.StorageError("insert failed", nil))

	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: testkit.MustSyntheticTable(8, 5)},
		Fitter:     &testkit.MeanFitter{},
		Repository: repo,
		Estimation: testEstimation(),
	})

	_, err := service.Run(context.Background(), AnalysisRequest{Persist: true})
	assert.Error(t, err)
	assert.Equal(t, errors.CodeStorageError, errors.GetCode(err))
}

func TestRunPropagatesSourceFailure(t *testing.T) {
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Err: errors.StorageError("table unavailable", nil)},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})

	_, err := service.Run(context.Background(), AnalysisRequest{})
	if err == nil {
		t.Fatal("expected source failure to propagate")
	}
	if errors.GetCode(err) != errors.CodeStorageError {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeStorageError)
	}
}

func TestServiceODR(t *testing.T) {
	table := testkit.MustSyntheticTable(15, 11)
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: table},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})

	odr, err := service.ODR(context.Background())
	if err != nil {
		t.Fatalf("ODR failed: %v", err)
	}
	significant := 0
	for _, p := range table.PValues() {
		if p < 0.05 {
			significant++
		}
	}
	if odr.Significant != significant || odr.Total != table.Len() {
		t.Errorf("ODR counts = %d/%d, want %d/%d", odr.Significant, odr.Total, significant, table.Len())
	}
}

func TestNewAnalysisServiceValidation(t *testing.T) {
	table := testkit.MustSyntheticTable(4, 1)
	source := &testkit.StaticSource{Table: table}
	fitter := &testkit.MeanFitter{}
	rngAdapter := testkit.NewTestKit().RNGAdapter()
	badEstimation := testEstimation()
	badEstimation.Repetitions = 0

	tests := []struct {
		name string
		deps AnalysisServiceDeps
	}{
		{"missing source", AnalysisServiceDeps{Fitter: fitter, RNG: rngAdapter, Estimation: testEstimation()}},
		{"missing fitter", AnalysisServiceDeps{Source: source, RNG: rngAdapter, Estimation: testEstimation()}},
		{"missing rng", AnalysisServiceDeps{Source: source, Fitter: fitter, Estimation: testEstimation()}},
		{"invalid estimation", AnalysisServiceDeps{Source: source, Fitter: fitter, RNG: rngAdapter, Estimation: badEstimation}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAnalysisService(tt.deps); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestGetRunWithoutRepository(t *testing.T) {
	service := newTestService(t, AnalysisServiceDeps{
		Source:     &testkit.StaticSource{Table: testkit.MustSyntheticTable(4, 1)},
		Fitter:     &testkit.MeanFitter{},
		Estimation: testEstimation(),
	})
	if _, err := service.GetRun(context.Background(), core.NewRunID()); !errors.IsConfigInvalid(err) {
		t.Errorf("GetRun error code = %s, want %s", errors.GetCode(err), errors.CodeConfigInvalid)
	}
	if _, err := service.ListRuns(context.Background(), 5); !errors.IsConfigInvalid(err) {
		t.Errorf("ListRuns error code = %s, want %s", errors.GetCode(err), errors.CodeConfigInvalid)
	}
}
