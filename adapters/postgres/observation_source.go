package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"repliscope/domain/study"
	"repliscope/ports"
)

// ObservationSource loads the screened p-value corpus from the
// observations table.
type ObservationSource struct {
	db *sqlx.DB
}

var _ ports.ObservationSourcePort = (*ObservationSource)(nil)

// NewObservationSource creates a new observation source
func NewObservationSource(db *sqlx.DB) *ObservationSource {
	return &ObservationSource{db: db}
}

// LoadTable reads every observation row and builds the validated table.
func (s *ObservationSource) LoadTable(ctx context.Context) (*study.Table, error) {
	query := `
		SELECT article_id, study_id, p_value, groups
		FROM observations
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []study.Observation
	for rows.Next() {
		var (
			articleID  string
			studyID    string
			pValue     float64
			groupsJSON []byte
		)
		if err := rows.Scan(&articleID, &studyID, &pValue, &groupsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}

		var groups map[string]string
		if len(groupsJSON) > 0 {
			if err := json.Unmarshal(groupsJSON, &groups); err != nil {
				return nil, fmt.Errorf("failed to unmarshal groups for study %s: %w", studyID, err)
			}
		}

		obs, err := study.NewObservation(articleID, studyID, pValue, groups)
		if err != nil {
			return nil, fmt.Errorf("invalid observation for study %s: %w", studyID, err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate observations: %w", err)
	}

	table, err := study.NewTable(observations)
	if err != nil {
		return nil, fmt.Errorf("building observation table: %w", err)
	}
	log.Printf("[ObservationSource] Loaded %d observations across %d studies", table.Len(), table.StudyCount())
	return table, nil
}

// InsertTable writes a full table into the observations store, replacing
// whatever was there. Used by the dev seeding tools.
func (s *ObservationSource) InsertTable(ctx context.Context, table *study.Table) error {
	if table == nil || table.Len() == 0 {
		return fmt.Errorf("table is empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return fmt.Errorf("failed to clear observations: %w", err)
	}

	query := `
		INSERT INTO observations (article_id, study_id, p_value, groups)
		VALUES ($1, $2, $3, $4)`
	for _, obs := range table.Observations() {
		var groupsJSON []byte
		if len(obs.Groups) > 0 {
			groupsJSON, err = json.Marshal(obs.Groups)
			if err != nil {
				return fmt.Errorf("failed to marshal groups for study %s: %w", obs.StudyID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, query, obs.ArticleID, obs.StudyID, obs.PValue, groupsJSON); err != nil {
			return fmt.Errorf("failed to insert observation for study %s: %w", obs.StudyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observations: %w", err)
	}
	return nil
}
