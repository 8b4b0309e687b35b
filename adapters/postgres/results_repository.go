package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"repliscope/domain/core"
	"repliscope/domain/estimate"
	"repliscope/ports"
)

// ResultsRepository persists completed analysis runs. The full result
// document goes into a JSONB column; listing reads only the denormalized
// columns next to it.
type ResultsRepository struct {
	db *sqlx.DB
}

var _ ports.ResultsRepositoryPort = (*ResultsRepository)(nil)

// NewResultsRepository creates a new results repository
func NewResultsRepository(db *sqlx.DB) *ResultsRepository {
	return &ResultsRepository{db: db}
}

// SaveRun stores one completed run. Saving the same run id again replaces
// the stored document.
func (r *ResultsRepository) SaveRun(ctx context.Context, result *estimate.RunResult) error {
	if result == nil {
		return fmt.Errorf("run result is required")
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}

	query := `
		INSERT INTO analysis_runs (id, table_fingerprint, seed, mean_arp, runtime_ms, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			table_fingerprint = EXCLUDED.table_fingerprint,
			seed = EXCLUDED.seed,
			mean_arp = EXCLUDED.mean_arp,
			runtime_ms = EXCLUDED.runtime_ms,
			result = EXCLUDED.result`

	_, err = r.db.ExecContext(ctx, query,
		result.RunID.String(),
		string(result.TableFingerprint),
		result.Settings.Seed,
		result.Overall.Resampling.ARP.Mean,
		result.RuntimeMs,
		resultJSON,
		result.CreatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (r *ResultsRepository) GetRun(ctx context.Context, runID core.RunID) (*estimate.RunResult, error) {
	query := `SELECT result FROM analysis_runs WHERE id = $1`

	var resultJSON []byte
	err := r.db.QueryRowContext(ctx, query, runID.String()).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, core.NewNotFoundError("analysis run", runID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis run: %w", err)
	}

	var result estimate.RunResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run result: %w", err)
	}
	return &result, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *ResultsRepository) ListRuns(ctx context.Context, limit int) ([]ports.RunSummaryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, table_fingerprint, seed, mean_arp, created_at
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()

	var records []ports.RunSummaryRecord
	for rows.Next() {
		var (
			record      ports.RunSummaryRecord
			id          string
			fingerprint string
			createdAt   time.Time
		)
		if err := rows.Scan(&id, &fingerprint, &record.Seed, &record.MeanARP, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis run row: %w", err)
		}
		record.RunID = core.RunID(id)
		record.TableFingerprint = core.TableFingerprint(fingerprint)
		record.CreatedAt = core.NewTimestamp(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analysis runs: %w", err)
	}
	return records, nil
}
