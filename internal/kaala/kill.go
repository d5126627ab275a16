package kaala

import (
	"fmt"
	"sort"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// KillAgent terminates the target and its entire subtree. Only a proper
// ancestor of the target may request the kill; an agent ends itself through
// MarkCompleted or MarkError, never through KillAgent. The cascade is
// bottom-up: no agent is killed before all of its descendants are.
func (m *Manager) KillAgent(requesterID, targetID types.AgentID, reason string) KillResult {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return KillResult{Reason: ErrDisposed.Error()}
	}
	target, ok := m.beats[targetID]
	if !ok {
		m.mu.Unlock()
		return KillResult{Reason: fmt.Sprintf("agent %s not found", targetID)}
	}
	if !m.isAncestorLocked(requesterID, targetID) {
		m.mu.Unlock()
		logging.Get(logging.CategoryKaala).Warn("kill of %s denied: %s is not an ancestor", targetID, requesterID)
		return KillResult{Reason: fmt.Sprintf("agent %s is not an ancestor of %s", requesterID, targetID)}
	}
	if target.Status.IsTerminal() {
		m.mu.Unlock()
		return KillResult{Reason: fmt.Sprintf("agent %s is already %s", targetID, target.Status)}
	}

	killed, freed, tr := m.cascadeKillLocked(targetID)
	m.mu.Unlock()

	logging.Kaala("killed %s and %d descendants (requester=%s reason=%q freed=%d tokens)",
		targetID, len(killed)-1, requesterID, reason, freed)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditAgentKilled,
		AgentID:   string(targetID),
		Success:   true,
		Fields: map[string]interface{}{
			"requester": string(requesterID),
			"reason":    reason,
			"cascade":   len(killed),
			"freed":     freed,
		},
	})
	m.notify(tr)

	return KillResult{
		Success:      true,
		KilledIDs:    killed,
		CascadeCount: len(killed),
		FreedTokens:  freed,
	}
}

// HealAgent restores a stale or error agent to alive. Only a proper
// ancestor may heal; alive agents need no heal and dead agents belong to
// the sweep's cascade, so both are rejected.
func (m *Manager) HealAgent(requesterID, targetID types.AgentID) error {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	target, ok := m.beats[targetID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s not found", targetID)
	}
	if !m.isAncestorLocked(requesterID, targetID) {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s is not an ancestor of %s", requesterID, targetID)
	}
	if target.Status != types.StatusStale && target.Status != types.StatusError {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s is %s and cannot be healed", targetID, target.Status)
	}

	tr := []transition{m.setStatusLocked(target, types.StatusAlive)}
	delete(m.stuckReasons, targetID)
	m.persistLocked(target)
	m.mu.Unlock()

	logging.Kaala("healed agent %s (requester=%s)", targetID, requesterID)
	m.notify(tr)
	return nil
}

// ---------------------------------------------------------------------------
// traversal
// ---------------------------------------------------------------------------

// isAncestorLocked walks the parent chain of descendant looking for ancestor.
// Cycles cannot form (parents are fixed at registration) but the walk is
// still bounded by the map size.
func (m *Manager) isAncestorLocked(ancestor, descendant types.AgentID) bool {
	if ancestor == "" || ancestor == descendant {
		return false
	}
	cur, ok := m.beats[descendant]
	for steps := 0; ok && steps <= len(m.beats); steps++ {
		if cur.ParentID == ancestor {
			return true
		}
		if cur.ParentID == "" {
			return false
		}
		cur, ok = m.beats[cur.ParentID]
	}
	return false
}

// collectSubtreeLocked returns the root plus every transitive descendant.
func (m *Manager) collectSubtreeLocked(root types.AgentID) []*Heartbeat {
	var out []*Heartbeat
	queue := []types.AgentID{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		hb, ok := m.beats[id]
		if !ok {
			continue
		}
		out = append(out, hb)
		for cid, child := range m.beats {
			if child.ParentID == id {
				queue = append(queue, cid)
			}
		}
	}
	return out
}

// sortedByDepthDescLocked orders agents deepest-first, ties by ID so
// cascade order is deterministic.
func (m *Manager) sortedByDepthDescLocked(ids []types.AgentID) []*Heartbeat {
	hbs := make([]*Heartbeat, 0, len(ids))
	for _, id := range ids {
		if hb, ok := m.beats[id]; ok {
			hbs = append(hbs, hb)
		}
	}
	sort.Slice(hbs, func(i, j int) bool {
		if hbs[i].Depth != hbs[j].Depth {
			return hbs[i].Depth > hbs[j].Depth
		}
		return hbs[i].AgentID < hbs[j].AgentID
	})
	return hbs
}

// cascadeKillLocked kills the subtree rooted at id, deepest-first, and
// returns the kill order, freed tokens, and queued notifications.
func (m *Manager) cascadeKillLocked(id types.AgentID) (killed []types.AgentID, freed int, tr []transition) {
	subtree := m.collectSubtreeLocked(id)
	sort.Slice(subtree, func(i, j int) bool {
		if subtree[i].Depth != subtree[j].Depth {
			return subtree[i].Depth > subtree[j].Depth
		}
		return subtree[i].AgentID < subtree[j].AgentID
	})
	for _, hb := range subtree {
		if hb.Status.IsTerminal() {
			continue
		}
		if unused := hb.TokenBudget - hb.TokenUsage; unused > 0 {
			freed += unused
		}
		tr = append(tr, m.setStatusLocked(hb, types.StatusKilled))
		killed = append(killed, hb.AgentID)
		delete(m.stuckReasons, hb.AgentID)
		m.persistLocked(hb)
	}
	return killed, freed, tr
}
