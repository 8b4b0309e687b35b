package engine

import (
	"context"
	"testing"

	"repliscope/adapters/zcurve"
	"repliscope/internal/testkit"
)

// TestPipelineEndToEnd runs the full stack over a synthetic corpus of 20
// studies with 2-5 p-values each: resolve, bootstrap, fit, summarize.
func TestPipelineEndToEnd(t *testing.T) {
	table := testkit.MustSyntheticTable(20, 42)

	fitter := zcurve.NewFitter(zcurve.DefaultConfig())
	driver := newTestDriver(t, fitter)
	opts := Options{Repetitions: 100, Bootstrap: true, Seed: 42, Workers: 4}

	dist, err := driver.Run(context.Background(), table, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dist.Len() != 100 {
		t.Fatalf("Expected 100 slots, got %d", dist.Len())
	}
	if dist.Completed() == 0 {
		t.Fatal("A 20-study corpus with strong evidence must complete replicates")
	}

	reporter, err := NewSummaryReporter(0.95)
	if err != nil {
		t.Fatalf("NewSummaryReporter failed: %v", err)
	}
	summary, err := reporter.SummarizeAll(dist)
	if err != nil {
		t.Fatalf("SummarizeAll failed: %v", err)
	}

	checks := []struct {
		name    string
		mean    float64
		lower   float64
		upper   float64
		entries int
	}{
		{"err", summary.ERR.Mean, summary.ERR.CILower, summary.ERR.CIUpper, summary.ERR.N},
		{"edr", summary.EDR.Mean, summary.EDR.CILower, summary.EDR.CIUpper, summary.EDR.N},
		{"arp", summary.ARP.Mean, summary.ARP.CILower, summary.ARP.CIUpper, summary.ARP.N},
	}
	for _, c := range checks {
		if c.mean < 0 || c.mean > 1 {
			t.Errorf("%s mean %g outside [0, 1]", c.name, c.mean)
		}
		if c.lower > c.upper {
			t.Errorf("%s interval inverted: [%g, %g]", c.name, c.lower, c.upper)
		}
		if c.lower < 0 || c.upper > 1 {
			t.Errorf("%s interval [%g, %g] outside [0, 1]", c.name, c.lower, c.upper)
		}
		if c.entries != dist.Completed() {
			t.Errorf("%s summarized %d entries, want %d", c.name, c.entries, dist.Completed())
		}
	}

	// Per replicate the discovery rate cannot exceed the replication rate,
	// so the means inherit the ordering.
	if summary.EDR.Mean > summary.ERR.Mean+1e-12 {
		t.Errorf("EDR mean %g exceeds ERR mean %g", summary.EDR.Mean, summary.ERR.Mean)
	}

	// The whole pipeline again, same seed: byte-for-byte identical summary.
	repeat, err := driver.Run(context.Background(), table, opts)
	if err != nil {
		t.Fatalf("Repeat run failed: %v", err)
	}
	assertDistributionsEqual(t, dist, repeat)
}

// TestPipelineGroupedContrast runs the grouped scenario: two fields, 50
// repetitions, matched streams, and the contrast identity delta = first
// minus second at every index.
func TestPipelineGroupedContrast(t *testing.T) {
	table := testkit.MustSyntheticTable(20, 42)

	fitter := zcurve.NewFitter(zcurve.DefaultConfig())
	aggregator := newTestAggregator(t, fitter)
	opts := Options{Repetitions: 50, Bootstrap: true, Seed: 42, Workers: 4}

	partition, err := aggregator.PartitionTable(table, "field", nil)
	if err != nil {
		t.Fatalf("PartitionTable failed: %v", err)
	}
	grouped, err := aggregator.RunGrouped(context.Background(), partition, opts)
	if err != nil {
		t.Fatalf("RunGrouped failed: %v", err)
	}

	labels := partition.Labels()
	if len(labels) != 2 {
		t.Fatalf("Expected 2 groups, got %v", labels)
	}
	first, second := grouped[labels[0]], grouped[labels[1]]

	reporter, err := NewSummaryReporter(0.95)
	if err != nil {
		t.Fatalf("NewSummaryReporter failed: %v", err)
	}
	deltas, err := reporter.Contrast(first, second)
	if err != nil {
		t.Fatalf("Contrast failed: %v", err)
	}

	for i, d := range deltas {
		a, b := first.At(i), second.At(i)
		if d.OK != (a.OK && b.OK) {
			t.Errorf("Index %d: delta presence %v, sides %v/%v", i, d.OK, a.OK, b.OK)
			continue
		}
		if !d.OK {
			continue
		}
		if d.ERR != a.ERR-b.ERR || d.EDR != a.EDR-b.EDR || d.ARP != a.ARP-b.ARP {
			t.Errorf("Index %d: delta not exactly first minus second", i)
		}
	}
}
