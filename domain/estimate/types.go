package estimate

import (
	"fmt"
)

// ============================================================================
// METRICS (Canonical, never change)
// ============================================================================

// Metric names one replicability estimate produced by the model fit.
type Metric string

const (
	// MetricERR is the expected replication rate: the model-estimated
	// probability that a significant result replicates.
	MetricERR Metric = "err"
	// MetricEDR is the expected discovery rate: the model-estimated
	// probability that a conducted study yields a significant result.
	MetricEDR Metric = "edr"
	// MetricARP is the average replication prediction, mean of ERR and EDR.
	MetricARP Metric = "arp"
)

// Metrics lists the model-based metrics in reporting order.
func Metrics() []Metric {
	return []Metric{MetricERR, MetricEDR, MetricARP}
}

// Coefficients is the output of one successful curve fit.
type Coefficients struct {
	ERR float64 `json:"err"`
	EDR float64 `json:"edr"`
}

// ============================================================================
// REPLICATE RESULTS (One per Monte Carlo repetition)
// ============================================================================

// ReplicateResult carries the estimates of one repetition, or an explicit
// absent marker when the fit was degenerate. Absent replicates are excluded
// from aggregation, never treated as zero estimates.
type ReplicateResult struct {
	Index int     `json:"index"`
	ERR   float64 `json:"err,omitempty"`
	EDR   float64 `json:"edr,omitempty"`
	ARP   float64 `json:"arp,omitempty"`
	OK    bool    `json:"ok"`
}

// NewReplicateResult creates a successful replicate result with
// ARP = (ERR+EDR)/2.
func NewReplicateResult(index int, coeffs Coefficients) ReplicateResult {
	return ReplicateResult{
		Index: index,
		ERR:   coeffs.ERR,
		EDR:   coeffs.EDR,
		ARP:   (coeffs.ERR + coeffs.EDR) / 2.0,
		OK:    true,
	}
}

// AbsentReplicateResult marks a repetition whose fit was degenerate.
func AbsentReplicateResult(index int) ReplicateResult {
	return ReplicateResult{Index: index, OK: false}
}

// Value returns the named metric and whether it is present.
func (r ReplicateResult) Value(metric Metric) (float64, bool) {
	if !r.OK {
		return 0, false
	}
	switch metric {
	case MetricERR:
		return r.ERR, true
	case MetricEDR:
		return r.EDR, true
	case MetricARP:
		return r.ARP, true
	default:
		return 0, false
	}
}

// ============================================================================
// DISTRIBUTIONS (Index-ordered, absent slots preserved)
// ============================================================================

// Distribution is the ordered result of a Monte Carlo run. Every requested
// repetition keeps its slot, absent or not, so replicate indices stay
// aligned across grouped runs for paired contrasts. The completed entries
// form the estimate distribution proper.
type Distribution struct {
	results []ReplicateResult
	failed  int
}

// NewDistribution validates slot ordering (results must cover a contiguous
// index range starting at zero, in order).
func NewDistribution(results []ReplicateResult) (*Distribution, error) {
	failed := 0
	for i, r := range results {
		if r.Index != i {
			return nil, fmt.Errorf("result at position %d carries index %d", i, r.Index)
		}
		if !r.OK {
			failed++
		}
	}
	return &Distribution{results: results, failed: failed}, nil
}

// MustNewDistribution creates a distribution or panics (for tests)
func MustNewDistribution(results []ReplicateResult) *Distribution {
	d, err := NewDistribution(results)
	if err != nil {
		panic(fmt.Sprintf("invalid distribution: %v", err))
	}
	return d
}

// Len returns the number of requested repetitions (slots).
func (d *Distribution) Len() int {
	return len(d.results)
}

// Completed returns the number of successful replicates.
func (d *Distribution) Completed() int {
	return len(d.results) - d.failed
}

// Failed returns the number of absent replicates.
func (d *Distribution) Failed() int {
	return d.failed
}

// Results returns all slots in index order, absent ones included.
func (d *Distribution) Results() []ReplicateResult {
	return d.results
}

// At returns the slot at a replicate index.
func (d *Distribution) At(index int) ReplicateResult {
	return d.results[index]
}

// Values extracts the named metric from completed replicates in index order.
func (d *Distribution) Values(metric Metric) []float64 {
	values := make([]float64, 0, d.Completed())
	for _, r := range d.results {
		if v, ok := r.Value(metric); ok {
			values = append(values, v)
		}
	}
	return values
}

// ============================================================================
// CONTRASTS (Matched-index group deltas)
// ============================================================================

// ContrastResult is the per-replicate difference between two groups'
// estimates at the same Monte Carlo index. Absent when either side is.
type ContrastResult struct {
	Index int     `json:"index"`
	ERR   float64 `json:"err,omitempty"`
	EDR   float64 `json:"edr,omitempty"`
	ARP   float64 `json:"arp,omitempty"`
	OK    bool    `json:"ok"`
}

// Value returns the named delta and whether it is present.
func (c ContrastResult) Value(metric Metric) (float64, bool) {
	if !c.OK {
		return 0, false
	}
	switch metric {
	case MetricERR:
		return c.ERR, true
	case MetricEDR:
		return c.EDR, true
	case MetricARP:
		return c.ARP, true
	default:
		return 0, false
	}
}

// ============================================================================
// SUMMARIES (Reduced form consumed by reporting)
// ============================================================================

// MetricSummary reduces one metric's distribution to its central estimate
// and empirical percentile interval.
type MetricSummary struct {
	Metric  Metric  `json:"metric"`
	Mean    float64 `json:"mean"`
	CILower float64 `json:"ci_lower"`
	CIUpper float64 `json:"ci_upper"`
	N       int     `json:"n"`
}

// Summary bundles the per-metric summaries of one distribution together
// with its failure accounting.
type Summary struct {
	ERR       MetricSummary `json:"err"`
	EDR       MetricSummary `json:"edr"`
	ARP       MetricSummary `json:"arp"`
	Requested int           `json:"requested"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
}

// MetricSummary returns the summary for one metric.
func (s Summary) MetricSummary(metric Metric) (MetricSummary, bool) {
	switch metric {
	case MetricERR:
		return s.ERR, true
	case MetricEDR:
		return s.EDR, true
	case MetricARP:
		return s.ARP, true
	default:
		return MetricSummary{}, false
	}
}

// ODRResult is the raw observed discovery rate over the full dependent
// p-value table with its closed-form normal-approximation interval. It is
// the naive baseline the model-based metrics are compared against.
type ODRResult struct {
	Rate        float64 `json:"rate"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`
	Significant int     `json:"significant"`
	Total       int     `json:"total"`
	Alpha       float64 `json:"alpha"`
}
