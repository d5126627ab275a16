package store

import (
	"encoding/json"
	"fmt"
	"time"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// SaveSession records a completed session for later mining.
func (s *Store) SaveSession(session types.Session) error {
	turnsJSON, err := json.Marshal(session.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns for %s: %w", session.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.stmtSaveSession.Exec(session.ID, session.Project,
		string(turnsJSON), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// LoadSessions returns every session for a project, oldest first. Implements
// vidhi.Storage. Undecodable rows are logged and skipped.
func (s *Store) LoadSessions(project string) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, project, turns_json FROM sessions
		WHERE project = ? ORDER BY created_at, id`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		var session types.Session
		var turnsJSON string
		if err := rows.Scan(&session.ID, &session.Project, &turnsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(turnsJSON), &session.Turns); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping session %s: bad turns_json: %v", session.ID, err)
			continue
		}
		out = append(out, session)
	}
	return out, rows.Err()
}
