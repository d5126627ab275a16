package kaala

import (
	"sort"
	"time"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// HealTree runs one maintenance sweep over the forest:
//
//  1. promote silent agents (alive -> stale -> dead)
//  2. cascade-kill every dead branch
//  3. reap terminal agents from the registry
//  4. apply the orphan policy to agents whose parent is gone
//  5. kill agents that exceeded their token budget
//
// The sweep is idempotent: running it twice on a steady-state tree reports
// all zeros the second time.
func (m *Manager) HealTree() HealReport {
	m.mu.Lock()

	report := HealReport{Timestamp: m.clock.Now()}
	if m.disposed {
		m.mu.Unlock()
		return report
	}

	var tr []transition
	now := m.clock.Now()

	// 1. Promotion by silence.
	for _, hb := range m.sortedByDepthDescLocked(m.allIDsLocked()) {
		if hb.Status.IsTerminal() || hb.Status == types.StatusError {
			continue
		}
		silence := now.Sub(hb.LastBeat)
		switch {
		case silence >= m.cfg.DeadThreshold:
			if hb.Status != types.StatusDead {
				tr = append(tr, m.setStatusLocked(hb, types.StatusDead))
				// setStatusLocked refreshed LastBeat; keep the original
				// silence so the agent stays dead on the next sweep.
				hb.LastBeat = now.Add(-silence)
				m.persistLocked(hb)
			}
		case silence >= m.cfg.StaleThreshold:
			if hb.Status == types.StatusAlive {
				tr = append(tr, m.setStatusLocked(hb, types.StatusStale))
				hb.LastBeat = now.Add(-silence)
				m.persistLocked(hb)
			}
		}
	}

	// 2. Dead branches: the dead agent and everything under it is killed.
	for _, hb := range m.sortedByDepthDescLocked(m.allIDsLocked()) {
		if hb.Status != types.StatusDead {
			continue
		}
		killed, _, killTr := m.cascadeKillLocked(hb.AgentID)
		report.KilledStaleCount += len(killed)
		tr = append(tr, killTr...)
	}

	// 3. Reap terminal agents. Error agents stay visible until killed or
	// healed by an ancestor.
	for id, hb := range m.beats {
		if hb.Status.IsTerminal() {
			delete(m.beats, id)
			delete(m.stuckReasons, id)
			m.unpersistLocked(id)
			report.ReapedCount++
		}
	}

	// 4. Orphans: parent heartbeat no longer exists.
	orphanTr := m.handleOrphansLocked(&report)
	tr = append(tr, orphanTr...)

	// 5. Budget enforcement.
	for _, hb := range m.sortedByDepthDescLocked(m.allIDsLocked()) {
		if hb.Status.IsTerminal() {
			continue
		}
		if hb.TokenBudget > 0 && hb.TokenUsage > hb.TokenBudget {
			logging.Get(logging.CategoryKaala).Warn("agent %s over budget (%d > %d), killing subtree",
				hb.AgentID, hb.TokenUsage, hb.TokenBudget)
			killed, _, killTr := m.cascadeKillLocked(hb.AgentID)
			report.OverBudgetKilled += len(killed)
			tr = append(tr, killTr...)
		}
	}

	m.mu.Unlock()

	if report.ReapedCount+report.KilledStaleCount+report.OrphansHandled+report.OverBudgetKilled > 0 {
		logging.Kaala("sweep: reaped=%d staleKilled=%d orphans=%d overBudget=%d",
			report.ReapedCount, report.KilledStaleCount, report.OrphansHandled, report.OverBudgetKilled)
	}
	m.notify(tr)
	return report
}

// handleOrphansLocked applies the configured orphan policy. Orphans are
// grouped by their missing parent so promote can elect one sibling.
func (m *Manager) handleOrphansLocked(report *HealReport) []transition {
	byMissingParent := make(map[types.AgentID][]*Heartbeat)
	for _, hb := range m.beats {
		if hb.ParentID == "" {
			continue
		}
		if _, ok := m.beats[hb.ParentID]; !ok {
			byMissingParent[hb.ParentID] = append(byMissingParent[hb.ParentID], hb)
		}
	}
	if len(byMissingParent) == 0 {
		return nil
	}

	var tr []transition
	for _, orphans := range byMissingParent {
		sort.Slice(orphans, func(i, j int) bool {
			if !orphans[i].StartedAt.Equal(orphans[j].StartedAt) {
				return orphans[i].StartedAt.Before(orphans[j].StartedAt)
			}
			return orphans[i].AgentID < orphans[j].AgentID
		})

		switch m.cfg.OrphanPolicy {
		case OrphanCascade:
			for _, hb := range orphans {
				killed, _, killTr := m.cascadeKillLocked(hb.AgentID)
				report.OrphansHandled += len(killed)
				tr = append(tr, killTr...)
				// Reap immediately; the reap pass already ran this sweep.
				for _, id := range killed {
					delete(m.beats, id)
					m.unpersistLocked(id)
				}
			}

		case OrphanReparent:
			for _, hb := range orphans {
				hb.ParentID = ""
				m.rebaseDepthLocked(hb, 0)
				report.OrphansHandled++
			}

		case OrphanPromote:
			// The oldest sibling becomes the new local root; the rest
			// re-attach under it.
			elected := orphans[0]
			elected.ParentID = ""
			m.rebaseDepthLocked(elected, 0)
			report.OrphansHandled++
			for _, hb := range orphans[1:] {
				hb.ParentID = elected.AgentID
				m.rebaseDepthLocked(hb, elected.Depth+1)
				report.OrphansHandled++
			}
		}
	}
	return tr
}

// rebaseDepthLocked sets an agent's depth and recomputes its subtree.
func (m *Manager) rebaseDepthLocked(root *Heartbeat, depth int) {
	root.Depth = depth
	m.persistLocked(root)
	for _, hb := range m.beats {
		if hb.ParentID == root.AgentID {
			m.rebaseDepthLocked(hb, depth+1)
		}
	}
}

// StartMonitoring launches the periodic sweep goroutine. The next sweep is
// scheduled interval minus the time the previous sweep took, floored at
// zero, so long sweeps do not drift the schedule.
func (m *Manager) StartMonitoring() {
	m.mu.Lock()
	if m.disposed || m.monitorStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.monitorStop = stop
	m.monitorDone = done
	interval := m.cfg.HeartbeatInterval
	m.mu.Unlock()

	logging.Kaala("monitoring started (interval %v)", interval)
	go func() {
		defer close(done)
		delay := interval
		for {
			timer := time.NewTimer(delay)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			start := m.clock.Now()
			m.HealTree()
			elapsed := m.clock.Now().Sub(start)
			delay = m.Config().HeartbeatInterval - elapsed
			if delay < 0 {
				delay = 0
			}
		}
	}()
}

// StopMonitoring stops the sweep goroutine and waits for it to exit.
func (m *Manager) StopMonitoring() {
	m.mu.Lock()
	stop := m.monitorStop
	done := m.monitorDone
	m.monitorStop = nil
	m.monitorDone = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	logging.Kaala("monitoring stopped")
}
