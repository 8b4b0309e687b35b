package engine

import (
	"math"
	"math/rand"
	"testing"

	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal/errors"
)

func distributionFromValues(t *testing.T, values []float64) *estimate.Distribution {
	t.Helper()
	results := make([]estimate.ReplicateResult, len(values))
	for i, v := range values {
		results[i] = estimate.NewReplicateResult(i, estimate.Coefficients{ERR: v, EDR: v / 2})
	}
	return estimate.MustNewDistribution(results)
}

func TestSummarizeMeanAndPercentiles(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i+1) / 100.0
	}
	dist := distributionFromValues(t, values)

	reporter, err := NewSummaryReporter(0.95)
	if err != nil {
		t.Fatalf("NewSummaryReporter failed: %v", err)
	}
	summary, err := reporter.Summarize(dist, estimate.MetricERR)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if math.Abs(summary.Mean-0.505) > 1e-12 {
		t.Errorf("Mean = %g, want 0.505", summary.Mean)
	}
	// Interpolated 2.5th percentile of 0.01..1.00 sits between the 3rd and
	// 4th order statistics.
	if math.Abs(summary.CILower-0.03475) > 1e-12 {
		t.Errorf("CILower = %g, want 0.03475", summary.CILower)
	}
	if math.Abs(summary.CIUpper-0.97525) > 1e-12 {
		t.Errorf("CIUpper = %g, want 0.97525", summary.CIUpper)
	}
	if summary.N != 100 {
		t.Errorf("N = %d, want 100", summary.N)
	}
	if summary.CILower > summary.Mean || summary.Mean > summary.CIUpper {
		t.Errorf("Mean %g outside interval [%g, %g]", summary.Mean, summary.CILower, summary.CIUpper)
	}
}

func TestSummarizeContainment(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	normal := make([]float64, 200)
	for i := range normal {
		normal[i] = rng.NormFloat64()
	}
	uniformShort := make([]float64, 41)
	for i := range uniformShort {
		uniformShort[i] = float64(i+1) / 41.0
	}
	uniformLong := make([]float64, 200)
	for i := range uniformLong {
		uniformLong[i] = float64(i+1) / 200.0
	}

	tests := []struct {
		name   string
		values []float64
	}{
		{"normal n=200", normal},
		{"uniform n=41", uniformShort},
		{"uniform n=200", uniformLong},
	}
	reporter, err := NewSummaryReporter(0.95)
	if err != nil {
		t.Fatalf("NewSummaryReporter failed: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist := distributionFromValues(t, tt.values)
			summary, err := reporter.Summarize(dist, estimate.MetricERR)
			if err != nil {
				t.Fatalf("Summarize failed: %v", err)
			}
			inside := 0
			for _, v := range tt.values {
				if v >= summary.CILower && v <= summary.CIUpper {
					inside++
				}
			}
			// A 95% interval over n points must hold at least ceil(0.95n)
			// of them.
			minInside := int(math.Ceil(0.95 * float64(len(tt.values))))
			if inside < minInside {
				t.Errorf("%d of %d values inside [%g, %g], want at least %d",
					inside, len(tt.values), summary.CILower, summary.CIUpper, minInside)
			}
		})
	}
}

func TestSummarizeSingleValue(t *testing.T) {
	dist := distributionFromValues(t, []float64{0.42})

	reporter, _ := NewSummaryReporter(0.95)
	summary, err := reporter.Summarize(dist, estimate.MetricERR)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Mean != 0.42 || summary.CILower != 0.42 || summary.CIUpper != 0.42 {
		t.Errorf("Single value must collapse the interval onto itself, got %+v", summary)
	}
}

func TestSummarizeAllAbsent(t *testing.T) {
	results := []estimate.ReplicateResult{
		estimate.AbsentReplicateResult(0),
		estimate.AbsentReplicateResult(1),
	}
	dist := estimate.MustNewDistribution(results)
	reporter, _ := NewSummaryReporter(0.95)

	if _, err := reporter.Summarize(dist, estimate.MetricERR); err == nil {
		t.Error("Summarize over zero completed replicates must fail")
	}

	summary, err := reporter.SummarizeAll(dist)
	if err != nil {
		t.Fatalf("SummarizeAll failed: %v", err)
	}
	if summary.Requested != 2 || summary.Completed != 0 || summary.Failed != 2 {
		t.Errorf("Counts wrong: %+v", summary)
	}
	if summary.ERR.N != 0 {
		t.Errorf("Metric summaries must stay empty, got N=%d", summary.ERR.N)
	}
}

func TestContrastMatchedDeltas(t *testing.T) {
	first := estimate.MustNewDistribution([]estimate.ReplicateResult{
		estimate.NewReplicateResult(0, estimate.Coefficients{ERR: 0.8, EDR: 0.4}),
		estimate.AbsentReplicateResult(1),
		estimate.NewReplicateResult(2, estimate.Coefficients{ERR: 0.6, EDR: 0.3}),
	})
	second := estimate.MustNewDistribution([]estimate.ReplicateResult{
		estimate.NewReplicateResult(0, estimate.Coefficients{ERR: 0.5, EDR: 0.2}),
		estimate.NewReplicateResult(1, estimate.Coefficients{ERR: 0.5, EDR: 0.2}),
		estimate.AbsentReplicateResult(2),
	})

	reporter, _ := NewSummaryReporter(0.95)
	deltas, err := reporter.Contrast(first, second)
	if err != nil {
		t.Fatalf("Contrast failed: %v", err)
	}

	if len(deltas) != 3 {
		t.Fatalf("Expected 3 deltas, got %d", len(deltas))
	}
	if !deltas[0].OK {
		t.Fatal("Delta 0 should be present")
	}
	if math.Abs(deltas[0].ERR-0.3) > 1e-15 || math.Abs(deltas[0].EDR-0.2) > 1e-15 {
		t.Errorf("Delta 0 wrong: %+v", deltas[0])
	}
	if deltas[1].OK || deltas[2].OK {
		t.Error("Deltas with an absent side must be absent")
	}
}

// TestContrastAntisymmetry swaps the operands and expects exact negation at
// every index.
func TestContrastAntisymmetry(t *testing.T) {
	first := distributionFromValues(t, []float64{0.81, 0.64, 0.49, 0.36})
	second := distributionFromValues(t, []float64{0.25, 0.49, 0.81, 0.16})

	reporter, _ := NewSummaryReporter(0.95)
	forward, err := reporter.Contrast(first, second)
	if err != nil {
		t.Fatalf("Contrast failed: %v", err)
	}
	backward, err := reporter.Contrast(second, first)
	if err != nil {
		t.Fatalf("Reversed contrast failed: %v", err)
	}

	for i := range forward {
		if forward[i].ERR != -backward[i].ERR ||
			forward[i].EDR != -backward[i].EDR ||
			forward[i].ARP != -backward[i].ARP {
			t.Errorf("Index %d not antisymmetric: %+v vs %+v", i, forward[i], backward[i])
		}
	}
}

func TestContrastLengthMismatchFailsFast(t *testing.T) {
	first := distributionFromValues(t, []float64{0.1, 0.2, 0.3})
	second := distributionFromValues(t, []float64{0.1, 0.2})

	reporter, _ := NewSummaryReporter(0.95)
	_, err := reporter.Contrast(first, second)
	if !errors.IsMismatchedContrast(err) {
		t.Errorf("Expected MISMATCHED_CONTRAST, got %v", err)
	}
}

func TestSummarizeContrastCounts(t *testing.T) {
	deltas := []estimate.ContrastResult{
		{Index: 0, ERR: 0.1, EDR: 0.05, ARP: 0.075, OK: true},
		{Index: 1, OK: false},
		{Index: 2, ERR: -0.1, EDR: -0.05, ARP: -0.075, OK: true},
	}

	reporter, _ := NewSummaryReporter(0.95)
	summary := reporter.SummarizeContrast(deltas)

	if summary.Requested != 3 || summary.Completed != 2 || summary.Failed != 1 {
		t.Errorf("Counts wrong: %+v", summary)
	}
	if math.Abs(summary.ERR.Mean) > 1e-15 {
		t.Errorf("Symmetric deltas must average to zero, got %g", summary.ERR.Mean)
	}
	if summary.ERR.N != 2 {
		t.Errorf("N = %d, want 2", summary.ERR.N)
	}
}

func TestODRCountsAndInterval(t *testing.T) {
	pValues := []float64{0.001, 0.01, 0.02, 0.04, 0.06, 0.10, 0.20, 0.30, 0.50, 0.90}
	observations := make([]study.Observation, len(pValues))
	for i, p := range pValues {
		observations[i] = study.MustNewObservation("a1", "s1", p, nil)
	}
	table := study.MustNewTable(observations)

	reporter, _ := NewSummaryReporter(0.95)
	odr, err := reporter.ODR(table, 0.05)
	if err != nil {
		t.Fatalf("ODR failed: %v", err)
	}

	if odr.Significant != 4 || odr.Total != 10 {
		t.Errorf("Counted %d/%d significant, want 4/10", odr.Significant, odr.Total)
	}
	if math.Abs(odr.Rate-0.4) > 1e-15 {
		t.Errorf("Rate = %g, want 0.4", odr.Rate)
	}
	// Wald interval: 0.4 +/- 1.96 * sqrt(0.4*0.6/10)
	if math.Abs(odr.CILower-0.09636) > 1e-4 {
		t.Errorf("CILower = %g, want about 0.0964", odr.CILower)
	}
	if math.Abs(odr.CIUpper-0.70364) > 1e-4 {
		t.Errorf("CIUpper = %g, want about 0.7036", odr.CIUpper)
	}
}

func TestODRBoundaryRates(t *testing.T) {
	allSig := study.MustNewTable([]study.Observation{
		study.MustNewObservation("a1", "s1", 0.001, nil),
		study.MustNewObservation("a2", "s2", 0.002, nil),
	})
	noneSig := study.MustNewTable([]study.Observation{
		study.MustNewObservation("a1", "s1", 0.50, nil),
		study.MustNewObservation("a2", "s2", 0.90, nil),
	})

	reporter, _ := NewSummaryReporter(0.95)

	odr, err := reporter.ODR(allSig, 0.05)
	if err != nil {
		t.Fatalf("ODR failed: %v", err)
	}
	if odr.Rate != 1 || odr.CILower != 1 || odr.CIUpper != 1 {
		t.Errorf("Degenerate rate 1 must collapse its interval, got %+v", odr)
	}

	odr, err = reporter.ODR(noneSig, 0.05)
	if err != nil {
		t.Fatalf("ODR failed: %v", err)
	}
	if odr.Rate != 0 || odr.CILower != 0 || odr.CIUpper != 0 {
		t.Errorf("Degenerate rate 0 must collapse its interval, got %+v", odr)
	}
}

// TestODRUsesEveryReportedValue confirms no dependency resolution happens
// for the baseline: all three values of the single study count.
func TestODRUsesEveryReportedValue(t *testing.T) {
	table := study.MustNewTable([]study.Observation{
		study.MustNewObservation("a1", "s1", 0.01, nil),
		study.MustNewObservation("a1", "s1", 0.20, nil),
		study.MustNewObservation("a1", "s1", 0.30, nil),
	})

	reporter, _ := NewSummaryReporter(0.95)
	odr, err := reporter.ODR(table, 0.05)
	if err != nil {
		t.Fatalf("ODR failed: %v", err)
	}
	if odr.Total != 3 || odr.Significant != 1 {
		t.Errorf("Expected 1/3 significant over the dependent table, got %d/%d", odr.Significant, odr.Total)
	}
}

func TestODRThresholdIsExclusive(t *testing.T) {
	table := study.MustNewTable([]study.Observation{
		study.MustNewObservation("a1", "s1", 0.05, nil),
		study.MustNewObservation("a2", "s2", 0.04999, nil),
	})

	reporter, _ := NewSummaryReporter(0.95)
	odr, err := reporter.ODR(table, 0.05)
	if err != nil {
		t.Fatalf("ODR failed: %v", err)
	}
	if odr.Significant != 1 {
		t.Errorf("p equal to alpha must not count as significant, got %d", odr.Significant)
	}
}

func TestNewSummaryReporterValidation(t *testing.T) {
	for _, level := range []float64{0, 1, -0.5, 1.5} {
		if _, err := NewSummaryReporter(level); !errors.IsConfigInvalid(err) {
			t.Errorf("Level %g: expected CONFIG_INVALID, got %v", level, err)
		}
	}
}

func TestPercentileInterpolation(t *testing.T) {
	data := []float64{4, 1, 3, 2}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{50, 2.5},
		{100, 4},
		{25, 1.75},
	}
	for _, tt := range tests {
		if got := percentile(data, tt.p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("percentile(%g) = %g, want %g", tt.p, got, tt.want)
		}
	}
}
