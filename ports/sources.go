package ports

import (
	"context"

	"repliscope/domain/core"
	"repliscope/domain/estimate"
	"repliscope/domain/study"
)

// ObservationSourcePort yields the screened p-value table. Extraction and
// inclusion screening happen upstream; implementations only load and
// validate the final table.
type ObservationSourcePort interface {
	LoadTable(ctx context.Context) (*study.Table, error)
}

// RunSummaryRecord is the listing row for persisted runs.
type RunSummaryRecord struct {
	RunID            core.RunID            `json:"run_id"`
	TableFingerprint core.TableFingerprint `json:"table_fingerprint"`
	Seed             int64                 `json:"seed"`
	MeanARP          float64               `json:"mean_arp"`
	CreatedAt        core.Timestamp        `json:"created_at"`
}

// ResultsRepositoryPort persists analysis runs and serves them back to the
// API and CLI. Persistence is optional; callers must tolerate a nil port.
type ResultsRepositoryPort interface {
	// SaveRun stores the complete run artifact.
	SaveRun(ctx context.Context, result *estimate.RunResult) error

	// GetRun loads one run by id. Missing runs surface as NOT_FOUND.
	GetRun(ctx context.Context, runID core.RunID) (*estimate.RunResult, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunSummaryRecord, error)
}
