package estimate

import (
	"repliscope/domain/core"
)

// ============================================================================
// RUN REPORTS (Reduced form handed to reporting, persistence, API)
// ============================================================================

// Settings echoes the estimation configuration a run was produced with,
// so results stay diagnosable and reproducible.
type Settings struct {
	Seed                 int64   `json:"seed"`
	Repetitions          int     `json:"repetitions"`
	BootstrapRepetitions int     `json:"bootstrap_repetitions"`
	Workers              int     `json:"workers"`
	Alpha                float64 `json:"alpha"`
	ConfidenceLevel      float64 `json:"confidence_level"`
	MinSignificant       int     `json:"min_significant"`
}

// OverallAnalysis holds the whole-corpus results: both Monte Carlo passes
// plus the raw discovery-rate baseline computed on the dependent table.
type OverallAnalysis struct {
	Resampling Summary   `json:"resampling"`
	Bootstrap  Summary   `json:"bootstrap"`
	ODR        ODRResult `json:"odr"`
	Studies    int       `json:"studies"`
	// Observations counts all p-values including dependent ones.
	Observations int `json:"observations"`
}

// GroupAnalysis holds one subgroup's bootstrap distribution summary.
type GroupAnalysis struct {
	Label        string    `json:"label"`
	Studies      int       `json:"studies"`
	Observations int       `json:"observations"`
	Bootstrap    Summary   `json:"bootstrap"`
	ODR          ODRResult `json:"odr"`
}

// ContrastAnalysis summarizes the matched-index delta distribution between
// two groups. Delta orientation: First minus Second.
type ContrastAnalysis struct {
	First     string        `json:"first"`
	Second    string        `json:"second"`
	ERR       MetricSummary `json:"err"`
	EDR       MetricSummary `json:"edr"`
	ARP       MetricSummary `json:"arp"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
}

// SubgroupAnalysis holds a full dimension's grouped results and pairwise
// contrasts. When a collapse map was applied, Collapsed is true and labels
// are the coarse ones.
type SubgroupAnalysis struct {
	Dimension string             `json:"dimension"`
	Collapsed bool               `json:"collapsed,omitempty"`
	Groups    []GroupAnalysis    `json:"groups"`
	Contrasts []ContrastAnalysis `json:"contrasts,omitempty"`
}

// RunResult is the complete artifact of one analysis run.
type RunResult struct {
	RunID            core.RunID            `json:"run_id"`
	TableFingerprint core.TableFingerprint `json:"table_fingerprint"`
	Settings         Settings              `json:"settings"`
	Overall          OverallAnalysis       `json:"overall"`
	Subgroups        []SubgroupAnalysis    `json:"subgroups,omitempty"`
	RuntimeMs        int64                 `json:"runtime_ms"`
	CreatedAt        core.Timestamp        `json:"created_at"`
}

// NewRunResult creates a run result shell with identity and timestamps set;
// the analysis fills the sections as passes complete.
func NewRunResult(fingerprint core.TableFingerprint, settings Settings) *RunResult {
	return &RunResult{
		RunID:            core.NewRunID(),
		TableFingerprint: fingerprint,
		Settings:         settings,
		Subgroups:        []SubgroupAnalysis{},
		CreatedAt:        core.Now(),
	}
}
