package engine

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"repliscope/domain/estimate"
	"repliscope/domain/study"
	"repliscope/internal/errors"
)

// SummaryReporter reduces replicate distributions to reportable numbers:
// mean point estimates, empirical percentile intervals, matched-index
// contrasts, and the raw observed discovery rate baseline.
type SummaryReporter struct {
	confidenceLevel float64
	lowerPercentile float64
	upperPercentile float64
}

func NewSummaryReporter(confidenceLevel float64) (*SummaryReporter, error) {
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		return nil, errors.ConfigInvalidf("confidence level must be in (0, 1), got %g", confidenceLevel)
	}
	tail := (1 - confidenceLevel) / 2 * 100
	return &SummaryReporter{
		confidenceLevel: confidenceLevel,
		lowerPercentile: tail,
		upperPercentile: 100 - tail,
	}, nil
}

// ConfidenceLevel returns the interval coverage this reporter was built with.
func (r *SummaryReporter) ConfidenceLevel() float64 {
	return r.confidenceLevel
}

// Summarize reduces one metric of a distribution to its mean and empirical
// percentile interval over completed replicates only.
func (r *SummaryReporter) Summarize(dist *estimate.Distribution, metric estimate.Metric) (estimate.MetricSummary, error) {
	if dist == nil {
		return estimate.MetricSummary{}, errors.InvalidInput("distribution is required")
	}
	values := dist.Values(metric)
	if len(values) == 0 {
		return estimate.MetricSummary{}, errors.InvalidInputf("no completed replicates to summarize for %s", metric)
	}
	return r.summarizeValues(metric, values), nil
}

// SummarizeAll reduces every metric of a distribution. A distribution with
// zero completed replicates yields counts only; each metric summary stays
// zero-valued with N == 0 so consumers can tell absent from estimated.
func (r *SummaryReporter) SummarizeAll(dist *estimate.Distribution) (estimate.Summary, error) {
	if dist == nil {
		return estimate.Summary{}, errors.InvalidInput("distribution is required")
	}
	summary := estimate.Summary{
		Requested: dist.Len(),
		Completed: dist.Completed(),
		Failed:    dist.Failed(),
	}
	if dist.Completed() == 0 {
		return summary, nil
	}
	summary.ERR = r.summarizeValues(estimate.MetricERR, dist.Values(estimate.MetricERR))
	summary.EDR = r.summarizeValues(estimate.MetricEDR, dist.Values(estimate.MetricEDR))
	summary.ARP = r.summarizeValues(estimate.MetricARP, dist.Values(estimate.MetricARP))
	return summary, nil
}

// Contrast computes per-replicate deltas (first minus second) between two
// groups' distributions at matched indices. Length or index disagreement is
// a pairing violation and fails the whole call; truncating to the shorter
// side would silently unpair the replicates.
func (r *SummaryReporter) Contrast(first, second *estimate.Distribution) ([]estimate.ContrastResult, error) {
	if first == nil || second == nil {
		return nil, errors.InvalidInput("both distributions are required for a contrast")
	}
	if first.Len() != second.Len() {
		return nil, errors.MismatchedContrastf("distribution lengths differ: %d vs %d", first.Len(), second.Len())
	}

	deltas := make([]estimate.ContrastResult, first.Len())
	for i := 0; i < first.Len(); i++ {
		a, b := first.At(i), second.At(i)
		if a.Index != b.Index {
			return nil, errors.MismatchedContrastf("replicate indices differ at position %d: %d vs %d", i, a.Index, b.Index)
		}
		if !a.OK || !b.OK {
			deltas[i] = estimate.ContrastResult{Index: i, OK: false}
			continue
		}
		deltas[i] = estimate.ContrastResult{
			Index: i,
			ERR:   a.ERR - b.ERR,
			EDR:   a.EDR - b.EDR,
			ARP:   a.ARP - b.ARP,
			OK:    true,
		}
	}
	return deltas, nil
}

// SummarizeContrast reduces per-replicate deltas the same way a
// distribution is reduced. Requested counts every index, completed only
// those where both sides estimated.
func (r *SummaryReporter) SummarizeContrast(deltas []estimate.ContrastResult) estimate.Summary {
	summary := estimate.Summary{Requested: len(deltas)}
	values := map[estimate.Metric][]float64{}
	for _, d := range deltas {
		if !d.OK {
			summary.Failed++
			continue
		}
		summary.Completed++
		for _, metric := range estimate.Metrics() {
			v, _ := d.Value(metric)
			values[metric] = append(values[metric], v)
		}
	}
	if summary.Completed == 0 {
		return summary
	}
	summary.ERR = r.summarizeValues(estimate.MetricERR, values[estimate.MetricERR])
	summary.EDR = r.summarizeValues(estimate.MetricEDR, values[estimate.MetricEDR])
	summary.ARP = r.summarizeValues(estimate.MetricARP, values[estimate.MetricARP])
	return summary
}

// ODR computes the observed discovery rate over the full dependent table
// with a closed-form normal-approximation interval. No dependency
// resolution here: the baseline deliberately uses every reported value.
func (r *SummaryReporter) ODR(table *study.Table, alpha float64) (estimate.ODRResult, error) {
	if table == nil || table.Len() == 0 {
		return estimate.ODRResult{}, errors.InvalidInput("observation table is empty")
	}
	if alpha <= 0 || alpha >= 1 {
		return estimate.ODRResult{}, errors.ConfigInvalidf("alpha must be in (0, 1), got %g", alpha)
	}

	pValues := table.PValues()
	significant := 0
	for _, p := range pValues {
		if p < alpha {
			significant++
		}
	}
	total := len(pValues)
	rate := float64(significant) / float64(total)

	// Wald interval. At rate 0 or 1 the standard error vanishes and the
	// interval collapses to a point.
	z := distuv.UnitNormal.Quantile(1 - (1-r.confidenceLevel)/2)
	se := math.Sqrt(rate * (1 - rate) / float64(total))
	return estimate.ODRResult{
		Rate:        rate,
		CILower:     clamp01(rate - z*se),
		CIUpper:     clamp01(rate + z*se),
		Significant: significant,
		Total:       total,
		Alpha:       alpha,
	}, nil
}

func (r *SummaryReporter) summarizeValues(metric estimate.Metric, values []float64) estimate.MetricSummary {
	mean, _ := stats.Mean(values)
	return estimate.MetricSummary{
		Metric:  metric,
		Mean:    mean,
		CILower: percentile(values, r.lowerPercentile),
		CIUpper: percentile(values, r.upperPercentile),
		N:       len(values),
	}
}

// percentile returns the interpolated p-th percentile of data. Unlike
// nearest-rank it stays defined for any sample size down to one.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
