package report

import (
	"strings"
	"testing"

	"repliscope/domain/estimate"
)

func sampleRunResult() *estimate.RunResult {
	result := estimate.NewRunResult("abc123", estimate.Settings{
		Seed:                 42,
		Repetitions:          100,
		BootstrapRepetitions: 200,
		Workers:              4,
		Alpha:                0.05,
		ConfidenceLevel:      0.95,
		MinSignificant:       3,
	})
	result.Overall = estimate.OverallAnalysis{
		Resampling: estimate.Summary{
			ERR:       estimate.MetricSummary{Metric: estimate.MetricERR, Mean: 0.72, CILower: 0.60, CIUpper: 0.84, N: 100},
			EDR:       estimate.MetricSummary{Metric: estimate.MetricEDR, Mean: 0.41, CILower: 0.30, CIUpper: 0.55, N: 100},
			ARP:       estimate.MetricSummary{Metric: estimate.MetricARP, Mean: 0.565, CILower: 0.45, CIUpper: 0.69, N: 100},
			Requested: 100, Completed: 100,
		},
		Bootstrap: estimate.Summary{
			ERR:       estimate.MetricSummary{Metric: estimate.MetricERR, Mean: 0.71, CILower: 0.58, CIUpper: 0.83, N: 195},
			EDR:       estimate.MetricSummary{Metric: estimate.MetricEDR, Mean: 0.40, CILower: 0.28, CIUpper: 0.54, N: 195},
			ARP:       estimate.MetricSummary{Metric: estimate.MetricARP, Mean: 0.555, CILower: 0.43, CIUpper: 0.68, N: 195},
			Requested: 200, Completed: 195, Failed: 5,
		},
		ODR:          estimate.ODRResult{Rate: 0.6, CILower: 0.5, CIUpper: 0.7, Significant: 30, Total: 50, Alpha: 0.05},
		Studies:      20,
		Observations: 50,
	}
	result.Subgroups = []estimate.SubgroupAnalysis{
		{
			Dimension: "field",
			Groups: []estimate.GroupAnalysis{
				{Label: "economics", Studies: 10, Observations: 24,
					Bootstrap: estimate.Summary{
						ARP:       estimate.MetricSummary{Metric: estimate.MetricARP, Mean: 0.50, CILower: 0.35, CIUpper: 0.66, N: 180},
						Requested: 200, Completed: 180, Failed: 20,
					},
					ODR: estimate.ODRResult{Rate: 0.5, CILower: 0.3, CIUpper: 0.7, Significant: 12, Total: 24, Alpha: 0.05}},
				{Label: "psychology", Studies: 10, Observations: 26,
					Bootstrap: estimate.Summary{
						ARP:       estimate.MetricSummary{Metric: estimate.MetricARP, Mean: 0.61, CILower: 0.47, CIUpper: 0.75, N: 200},
						Requested: 200, Completed: 200,
					},
					ODR: estimate.ODRResult{Rate: 0.69, CILower: 0.5, CIUpper: 0.86, Significant: 18, Total: 26, Alpha: 0.05}},
			},
			Contrasts: []estimate.ContrastAnalysis{
				{First: "economics", Second: "psychology",
					ARP:       estimate.MetricSummary{Metric: estimate.MetricARP, Mean: -0.11, CILower: -0.3, CIUpper: 0.08, N: 180},
					Completed: 180, Failed: 20},
			},
		},
	}
	result.RuntimeMs = 1234
	return result
}

func TestMarkdownReportSections(t *testing.T) {
	md := NewGenerator().Markdown(sampleRunResult())

	wantFragments := []string{
		"# Replicability Analysis",
		"Table fingerprint: `abc123`",
		"Seed: 42",
		"## Overall",
		"20 studies, 50 reported p-values",
		"| ERR | 0.720 | [0.580, 0.830] | 195 |",
		"Observed discovery rate: 0.600 [0.500, 0.700]",
		"195 of 200 bootstrap replicates completed; 5 degenerate fits were dropped",
		"## Subgroups: field",
		"| economics | 10 |",
		"### Contrasts (first minus second)",
		"| economics vs psychology |",
	}
	for _, fragment := range wantFragments {
		if !strings.Contains(md, fragment) {
			t.Errorf("Markdown missing %q\n---\n%s", fragment, md)
		}
	}
}

func TestMarkdownEmptyMetrics(t *testing.T) {
	result := sampleRunResult()
	result.Overall.Resampling = estimate.Summary{Requested: 10, Failed: 10}
	result.Overall.Bootstrap = estimate.Summary{Requested: 10, Failed: 10}

	md := NewGenerator().Markdown(result)
	if !strings.Contains(md, "(no completed replicates)") {
		t.Error("Markdown must mark metrics with zero completed replicates")
	}
}

func TestMarkdownNilResult(t *testing.T) {
	if md := NewGenerator().Markdown(nil); md != "" {
		t.Errorf("Nil result must render empty, got %q", md)
	}
}

func TestHTMLRendering(t *testing.T) {
	htmlBytes := NewGenerator().HTML(sampleRunResult())
	html := string(htmlBytes)

	for _, fragment := range []string{"<h1", "<table>", "<td>economics</td>"} {
		if !strings.Contains(html, fragment) {
			t.Errorf("HTML missing %q", fragment)
		}
	}
}
