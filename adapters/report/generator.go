package report

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"repliscope/domain/estimate"
)

// Generator renders a run result as a markdown report, with an HTML
// rendering on top for the API and saved artifacts.
type Generator struct{}

// NewGenerator creates a new report generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Markdown renders the full run report.
func (g *Generator) Markdown(result *estimate.RunResult) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Replicability Analysis %s\n\n", result.RunID.String())
	fmt.Fprintf(&b, "- Created: %s\n", result.CreatedAt.String())
	fmt.Fprintf(&b, "- Table fingerprint: `%s`\n", result.TableFingerprint)
	fmt.Fprintf(&b, "- Seed: %d\n", result.Settings.Seed)
	fmt.Fprintf(&b, "- Repetitions: %d (point estimate), %d (bootstrap interval)\n",
		result.Settings.Repetitions, result.Settings.BootstrapRepetitions)
	fmt.Fprintf(&b, "- Runtime: %d ms\n\n", result.RuntimeMs)

	g.writeOverall(&b, result.Overall, result.Settings.ConfidenceLevel)
	for _, subgroup := range result.Subgroups {
		g.writeSubgroup(&b, subgroup)
	}
	return b.String()
}

// HTML renders the markdown report to HTML.
func (g *Generator) HTML(result *estimate.RunResult) []byte {
	md := []byte(g.Markdown(result))

	// Parser instances are single use.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.ToHTML(md, p, renderer)
}

func (g *Generator) writeOverall(b *strings.Builder, overall estimate.OverallAnalysis, confidenceLevel float64) {
	fmt.Fprintf(b, "## Overall\n\n")
	fmt.Fprintf(b, "%d studies, %d reported p-values.\n\n", overall.Studies, overall.Observations)

	g.writeSummaryTable(b, overall.Resampling, overall.Bootstrap, confidenceLevel)

	fmt.Fprintf(b, "Observed discovery rate: %s over all %d reported values (%d significant at alpha %.3g).\n\n",
		formatRateCI(overall.ODR.Rate, overall.ODR.CILower, overall.ODR.CIUpper),
		overall.ODR.Total, overall.ODR.Significant, overall.ODR.Alpha)

	g.writeCounts(b, overall.Bootstrap)
}

func (g *Generator) writeSubgroup(b *strings.Builder, subgroup estimate.SubgroupAnalysis) {
	fmt.Fprintf(b, "## Subgroups: %s", subgroup.Dimension)
	if subgroup.Collapsed {
		fmt.Fprintf(b, " (collapsed)")
	}
	fmt.Fprintf(b, "\n\n")

	fmt.Fprintf(b, "| Group | Studies | ARP | ERR | EDR | ODR | Completed |\n")
	fmt.Fprintf(b, "|---|---|---|---|---|---|---|\n")
	for _, group := range subgroup.Groups {
		fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s | %d/%d |\n",
			group.Label,
			group.Studies,
			formatMetricCI(group.Bootstrap.ARP),
			formatMetricCI(group.Bootstrap.ERR),
			formatMetricCI(group.Bootstrap.EDR),
			formatRateCI(group.ODR.Rate, group.ODR.CILower, group.ODR.CIUpper),
			group.Bootstrap.Completed, group.Bootstrap.Requested)
	}
	fmt.Fprintf(b, "\n")

	if len(subgroup.Contrasts) == 0 {
		return
	}
	fmt.Fprintf(b, "### Contrasts (first minus second)\n\n")
	fmt.Fprintf(b, "| Pair | dARP | dERR | dEDR | Paired |\n")
	fmt.Fprintf(b, "|---|---|---|---|---|\n")
	for _, contrast := range subgroup.Contrasts {
		fmt.Fprintf(b, "| %s vs %s | %s | %s | %s | %d/%d |\n",
			contrast.First, contrast.Second,
			formatMetricCI(contrast.ARP),
			formatMetricCI(contrast.ERR),
			formatMetricCI(contrast.EDR),
			contrast.Completed, contrast.Completed+contrast.Failed)
	}
	fmt.Fprintf(b, "\n")
}

func (g *Generator) writeSummaryTable(b *strings.Builder, resampling, bootstrap estimate.Summary, confidenceLevel float64) {
	fmt.Fprintf(b, "| Metric | Point estimate | %.0f%% CI | N |\n", confidenceLevel*100)
	fmt.Fprintf(b, "|---|---|---|---|\n")
	rows := []struct {
		name  string
		point estimate.MetricSummary
		ci    estimate.MetricSummary
	}{
		{"ERR", resampling.ERR, bootstrap.ERR},
		{"EDR", resampling.EDR, bootstrap.EDR},
		{"ARP", resampling.ARP, bootstrap.ARP},
	}
	for _, row := range rows {
		if row.point.N == 0 {
			fmt.Fprintf(b, "| %s | (no completed replicates) | | 0 |\n", row.name)
			continue
		}
		fmt.Fprintf(b, "| %s | %.3f | [%.3f, %.3f] | %d |\n",
			row.name, row.point.Mean, row.ci.CILower, row.ci.CIUpper, row.ci.N)
	}
	fmt.Fprintf(b, "\n")
}

func (g *Generator) writeCounts(b *strings.Builder, summary estimate.Summary) {
	if summary.Failed == 0 {
		fmt.Fprintf(b, "All %d bootstrap replicates completed.\n\n", summary.Requested)
		return
	}
	fmt.Fprintf(b, "%d of %d bootstrap replicates completed; %d degenerate fits were dropped from the interval.\n\n",
		summary.Completed, summary.Requested, summary.Failed)
}

func formatMetricCI(m estimate.MetricSummary) string {
	if m.N == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.3f [%.3f, %.3f]", m.Mean, m.CILower, m.CIUpper)
}

func formatRateCI(rate, lower, upper float64) string {
	return fmt.Sprintf("%.3f [%.3f, %.3f]", rate, lower, upper)
}
