package store

import (
	"fmt"
	"time"

	"chitragupta/internal/kaala"
	"chitragupta/internal/types"
)

// SaveHeartbeat upserts one heartbeat row. Implements kaala.Persister.
func (s *Store) SaveHeartbeat(hb kaala.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.stmtSaveHeartbeat.Exec(
		string(hb.AgentID), string(hb.ParentID), hb.Depth, hb.Purpose,
		hb.StartedAt.UnixMilli(), hb.LastBeat.UnixMilli(),
		hb.TurnCount, hb.TokenUsage, hb.TokenBudget, string(hb.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save heartbeat %s: %w", hb.AgentID, err)
	}
	return nil
}

// DeleteHeartbeat removes one heartbeat row. Implements kaala.Persister.
func (s *Store) DeleteHeartbeat(id types.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.stmtDeleteHeartbeat.Exec(string(id)); err != nil {
		return fmt.Errorf("failed to delete heartbeat %s: %w", id, err)
	}
	return nil
}

// LoadHeartbeats returns every persisted heartbeat, the last known tree.
func (s *Store) LoadHeartbeats() ([]kaala.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT agent_id, parent_id, depth, purpose, started_at, last_beat,
		       turn_count, token_usage, token_budget, status
		FROM heartbeats ORDER BY depth, agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	defer rows.Close()

	var out []kaala.Heartbeat
	for rows.Next() {
		var hb kaala.Heartbeat
		var agentID, parentID, status string
		var startedAt, lastBeat int64
		if err := rows.Scan(&agentID, &parentID, &hb.Depth, &hb.Purpose,
			&startedAt, &lastBeat, &hb.TurnCount, &hb.TokenUsage,
			&hb.TokenBudget, &status); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		hb.AgentID = types.AgentID(agentID)
		hb.ParentID = types.AgentID(parentID)
		hb.StartedAt = time.UnixMilli(startedAt)
		hb.LastBeat = time.UnixMilli(lastBeat)
		hb.Status = types.AgentStatus(status)
		out = append(out, hb)
	}
	return out, rows.Err()
}
