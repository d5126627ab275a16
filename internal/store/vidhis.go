package store

import (
	"encoding/json"
	"fmt"

	"chitragupta/internal/logging"
	"chitragupta/internal/vidhi"
)

// SaveVidhi upserts one learned procedure. Implements vidhi.Storage.
func (s *Store) SaveVidhi(v vidhi.Vidhi) error {
	stepsJSON, err := json.Marshal(v.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps for %s: %w", v.ID, err)
	}
	triggersJSON, err := json.Marshal(v.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers for %s: %w", v.ID, err)
	}
	schemaJSON, err := json.Marshal(v.ParameterSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter schema for %s: %w", v.ID, err)
	}
	learnedJSON, err := json.Marshal(v.LearnedFrom)
	if err != nil {
		return fmt.Errorf("failed to marshal learned_from for %s: %w", v.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.stmtSaveVidhi.Exec(
		v.ID, v.Project, v.Name, string(stepsJSON), string(triggersJSON),
		string(schemaJSON), string(learnedJSON), v.Confidence,
		v.SuccessCount, v.FailureCount, v.SuccessRate,
		v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save vidhi %s: %w", v.ID, err)
	}
	return nil
}

// DeleteVidhi removes one vidhi. Implements vidhi.Storage.
func (s *Store) DeleteVidhi(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.stmtDeleteVidhi.Exec(id); err != nil {
		return fmt.Errorf("failed to delete vidhi %s: %w", id, err)
	}
	return nil
}

// LoadVidhis returns every vidhi for a project. Rows that fail to decode are
// logged and skipped; one corrupt row must not hide the rest.
func (s *Store) LoadVidhis(project string) ([]vidhi.Vidhi, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, project, name, steps_json, triggers_json,
		       parameter_schema_json, learned_from_json, confidence,
		       success_count, failure_count, success_rate, created_at, updated_at
		FROM vidhis WHERE project = ? ORDER BY updated_at DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query vidhis: %w", err)
	}
	defer rows.Close()

	var out []vidhi.Vidhi
	for rows.Next() {
		var v vidhi.Vidhi
		var stepsJSON, triggersJSON, schemaJSON, learnedJSON string
		if err := rows.Scan(&v.ID, &v.Project, &v.Name, &stepsJSON,
			&triggersJSON, &schemaJSON, &learnedJSON, &v.Confidence,
			&v.SuccessCount, &v.FailureCount, &v.SuccessRate,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vidhi: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &v.Steps); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping vidhi %s: bad steps_json: %v", v.ID, err)
			continue
		}
		if err := json.Unmarshal([]byte(triggersJSON), &v.Triggers); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping vidhi %s: bad triggers_json: %v", v.ID, err)
			continue
		}
		if err := json.Unmarshal([]byte(schemaJSON), &v.ParameterSchema); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping vidhi %s: bad parameter_schema_json: %v", v.ID, err)
			continue
		}
		if err := json.Unmarshal([]byte(learnedJSON), &v.LearnedFrom); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping vidhi %s: bad learned_from_json: %v", v.ID, err)
			continue
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
