package migration

import (
	"context"

	"repliscope/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createObservationsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create observations table")
	}

	if err := r.createAnalysisRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create analysis_runs table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

// createObservationsTable holds the screened p-value corpus. One row per
// reported result; groups carries the categorical dimensions as JSONB.
func (r *MigrationRunner) createObservationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS observations (
			id BIGSERIAL PRIMARY KEY,
			article_id VARCHAR(255) NOT NULL DEFAULT '',
			study_id VARCHAR(255) NOT NULL,
			p_value DOUBLE PRECISION NOT NULL CHECK (p_value >= 0 AND p_value <= 1),
			groups JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

// createAnalysisRunsTable stores completed runs: the full result document
// as JSONB plus denormalized columns for listing without unmarshaling.
func (r *MigrationRunner) createAnalysisRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analysis_runs (
			id UUID PRIMARY KEY,
			table_fingerprint VARCHAR(64) NOT NULL,
			seed BIGINT NOT NULL,
			mean_arp DOUBLE PRECISION NOT NULL DEFAULT 0,
			runtime_ms BIGINT NOT NULL DEFAULT 0,
			result JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_observations_study_id ON observations(study_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_created_at ON analysis_runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_fingerprint ON analysis_runs(table_fingerprint)`,
	}
	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return err
		}
	}
	return nil
}
