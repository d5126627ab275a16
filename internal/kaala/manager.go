package kaala

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// ErrDisposed is returned by mutating methods after Dispose.
var ErrDisposed = errors.New("kaala: manager disposed")

// Persister optionally mirrors heartbeats into durable storage so a restart
// can observe the last known tree. All persistence is best-effort.
type Persister interface {
	SaveHeartbeat(hb Heartbeat) error
	DeleteHeartbeat(id types.AgentID) error
}

// Manager supervises the agent tree. All state lives in the heartbeat map;
// agents are referenced only by ID.
type Manager struct {
	mu           sync.RWMutex
	cfg          Config
	clock        types.Clock
	beats        map[types.AgentID]*Heartbeat
	stuckReasons map[types.AgentID]string
	listeners    []StatusListener
	persister    Persister
	disposed     bool

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// transition is a queued status-change notification. Notifications fire
// after the mutation completes, in mutation order.
type transition struct {
	agentID   types.AgentID
	oldStatus types.AgentStatus
	newStatus types.AgentStatus
	parentID  types.AgentID
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, clock types.Clock) *Manager {
	if clock == nil {
		clock = types.SystemClock{}
	}
	cfg = cfg.clamped()
	logging.Kaala("creating lifecycle manager (interval %v, stale %v, dead %v, policy %s)",
		cfg.HeartbeatInterval, cfg.StaleThreshold, cfg.DeadThreshold, cfg.OrphanPolicy)
	return &Manager{
		cfg:          cfg,
		clock:        clock,
		beats:        make(map[types.AgentID]*Heartbeat),
		stuckReasons: make(map[types.AgentID]string),
	}
}

// SetConfig replaces the configuration, clamping to system ceilings.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.clamped()
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetPersister wires the optional durable mirror.
func (m *Manager) SetPersister(p Persister) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persister = p
}

// OnStatusChange registers a status-transition listener.
func (m *Manager) OnStatusChange(cb StatusListener) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, cb)
}

// RegisterAgent creates a heartbeat for a new agent. Depth is derived from
// the parent; budget defaults to the root budget or the decayed parent
// budget when not supplied.
func (m *Manager) RegisterAgent(req RegisterRequest) (*Heartbeat, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("kaala: agent id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, ErrDisposed
	}
	if _, exists := m.beats[req.AgentID]; exists {
		return nil, fmt.Errorf("kaala: agent %s already registered", req.AgentID)
	}

	depth := 0
	budget := req.TokenBudget
	if req.ParentID != "" {
		parent, ok := m.beats[req.ParentID]
		if !ok {
			return nil, fmt.Errorf("kaala: parent %s not found", req.ParentID)
		}
		if check := m.canSpawnLocked(parent); !check.Allowed {
			return nil, fmt.Errorf("kaala: parent %s may not spawn: %s", req.ParentID, check.Reason)
		}
		depth = parent.Depth + 1
		if budget <= 0 {
			budget = m.childBudgetLocked(parent)
		}
	} else {
		if m.countActiveLocked() >= m.cfg.GlobalMaxAgents {
			return nil, fmt.Errorf("kaala: global agent limit reached (%d)", m.cfg.GlobalMaxAgents)
		}
		if budget <= 0 {
			budget = m.cfg.RootTokenBudget
		}
	}

	now := m.clock.Now()
	hb := &Heartbeat{
		AgentID:     req.AgentID,
		ParentID:    req.ParentID,
		Depth:       depth,
		Purpose:     req.Purpose,
		StartedAt:   now,
		LastBeat:    now,
		TokenBudget: budget,
		Status:      types.StatusAlive,
	}
	m.beats[req.AgentID] = hb
	m.persistLocked(hb)

	logging.Kaala("registered agent %s (parent=%s depth=%d budget=%d purpose=%q)",
		req.AgentID, req.ParentID, depth, budget, req.Purpose)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditAgentRegister,
		AgentID:   string(req.AgentID),
		Success:   true,
		Fields:    map[string]interface{}{"depth": depth, "budget": budget},
	})

	out := hb.clone()
	return &out, nil
}

// RestoreHeartbeats reinstalls persisted heartbeats, statuses and times
// included. Used at startup to resume supervision of the last known tree;
// existing entries are not overwritten.
func (m *Manager) RestoreHeartbeats(beats []Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}
	restored := 0
	for i := range beats {
		hb := beats[i]
		if hb.AgentID == "" {
			continue
		}
		if _, exists := m.beats[hb.AgentID]; exists {
			continue
		}
		m.beats[hb.AgentID] = &hb
		restored++
	}
	logging.Kaala("restored %d heartbeats", restored)
	return nil
}

// RecordHeartbeat refreshes an agent's liveness and applies optional metric
// updates. A stale agent that beats is restored to alive.
func (m *Manager) RecordHeartbeat(id types.AgentID, update *HeartbeatUpdate) error {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	hb, ok := m.beats[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s not found", id)
	}
	if hb.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s is %s", id, hb.Status)
	}

	hb.LastBeat = m.clock.Now()
	if update != nil {
		if update.TurnCount != nil {
			hb.TurnCount = *update.TurnCount
		}
		if update.TokenUsage != nil {
			hb.TokenUsage = *update.TokenUsage
		}
		if update.Purpose != nil {
			hb.Purpose = *update.Purpose
		}
	}

	var tr []transition
	if hb.Status == types.StatusStale {
		tr = append(tr, m.setStatusLocked(hb, types.StatusAlive))
	}
	m.persistLocked(hb)
	m.mu.Unlock()

	m.notify(tr)
	return nil
}

// MarkCompleted transitions an agent to completed.
func (m *Manager) MarkCompleted(id types.AgentID) error {
	return m.markStatus(id, types.StatusCompleted)
}

// MarkError transitions an agent to error.
func (m *Manager) MarkError(id types.AgentID) error {
	return m.markStatus(id, types.StatusError)
}

func (m *Manager) markStatus(id types.AgentID, status types.AgentStatus) error {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	hb, ok := m.beats[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s not found", id)
	}
	if hb.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s is already %s", id, hb.Status)
	}

	tr := []transition{m.setStatusLocked(hb, status)}
	m.persistLocked(hb)
	m.mu.Unlock()

	m.notify(tr)
	return nil
}

// ReportStuck flags an agent as stuck. An existing reason is kept; only the
// first report records one.
func (m *Manager) ReportStuck(id types.AgentID, reason string) error {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	hb, ok := m.beats[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s not found", id)
	}
	if hb.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("kaala: agent %s is %s", id, hb.Status)
	}

	if _, has := m.stuckReasons[id]; !has && reason != "" {
		m.stuckReasons[id] = reason
	}

	var tr []transition
	if hb.Status != types.StatusError {
		tr = append(tr, m.setStatusLocked(hb, types.StatusError))
	}
	m.persistLocked(hb)
	m.mu.Unlock()

	logging.Get(logging.CategoryKaala).Warn("agent %s reported stuck: %s", id, reason)
	m.notify(tr)
	return nil
}

// CanSpawn reports whether the agent may create a child right now.
func (m *Manager) CanSpawn(id types.AgentID) SpawnCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hb, ok := m.beats[id]
	if !ok {
		return SpawnCheck{Reason: fmt.Sprintf("agent %s not found", id)}
	}
	return m.canSpawnLocked(hb)
}

func (m *Manager) canSpawnLocked(hb *Heartbeat) SpawnCheck {
	if hb.Status != types.StatusAlive {
		return SpawnCheck{Reason: fmt.Sprintf("agent %s is %s, not alive", hb.AgentID, hb.Status)}
	}
	maxDepth := m.cfg.MaxAgentDepth
	if hb.Depth+1 > maxDepth {
		return SpawnCheck{Reason: fmt.Sprintf("max depth %d reached", maxDepth)}
	}
	if n := m.childCountLocked(hb.AgentID); n >= m.cfg.MaxSubAgents {
		return SpawnCheck{Reason: fmt.Sprintf("max sub-agents %d reached", m.cfg.MaxSubAgents)}
	}
	if m.countActiveLocked() >= m.cfg.GlobalMaxAgents {
		return SpawnCheck{Reason: fmt.Sprintf("global agent limit %d reached", m.cfg.GlobalMaxAgents)}
	}
	if child := m.childBudgetLocked(hb); child < m.cfg.MinTokenBudgetForSpawn {
		return SpawnCheck{Reason: fmt.Sprintf("child budget %d below minimum %d", child, m.cfg.MinTokenBudgetForSpawn)}
	}
	return SpawnCheck{Allowed: true}
}

// ComputeChildBudget returns the token budget a child of this parent would
// receive. The decay factor applies once per spawn.
func (m *Manager) ComputeChildBudget(parentID types.AgentID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hb, ok := m.beats[parentID]
	if !ok {
		return 0
	}
	return m.childBudgetLocked(hb)
}

func (m *Manager) childBudgetLocked(parent *Heartbeat) int {
	return int(math.Floor(float64(parent.TokenBudget) * m.cfg.BudgetDecayFactor))
}

// GetHeartbeat returns a copy of one heartbeat.
func (m *Manager) GetHeartbeat(id types.AgentID) (Heartbeat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hb, ok := m.beats[id]
	if !ok {
		return Heartbeat{}, false
	}
	return hb.clone(), true
}

// GetTreeHealth snapshots the whole forest.
func (m *Manager) GetTreeHealth() TreeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	th := TreeHealth{
		ByStatus:  make(map[types.AgentStatus]int),
		Timestamp: m.clock.Now(),
	}
	for _, hb := range m.beats {
		th.TotalAgents++
		th.ByStatus[hb.Status]++
		th.TotalTokens += hb.TokenUsage
		th.TotalBudget += hb.TokenBudget
		if hb.Depth > th.MaxDepth {
			th.MaxDepth = hb.Depth
		}
	}
	return th
}

// GetAgentHealth snapshots one agent.
func (m *Manager) GetAgentHealth(id types.AgentID) (AgentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hb, ok := m.beats[id]
	if !ok {
		return AgentHealth{}, false
	}
	return AgentHealth{
		Heartbeat:     hb.clone(),
		ChildCount:    m.childCountLocked(id),
		StuckReason:   m.stuckReasons[id],
		SinceLastBeat: m.clock.Now().Sub(hb.LastBeat),
	}, true
}

// Dispose stops monitoring, kills every non-terminal agent and clears all
// state. Mutating calls afterwards return ErrDisposed.
func (m *Manager) Dispose() {
	m.StopMonitoring()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	var tr []transition
	for _, hb := range m.sortedByDepthDescLocked(m.allIDsLocked()) {
		if !hb.Status.IsTerminal() {
			tr = append(tr, m.setStatusLocked(hb, types.StatusKilled))
		}
	}
	m.beats = make(map[types.AgentID]*Heartbeat)
	m.stuckReasons = make(map[types.AgentID]string)
	m.disposed = true
	m.mu.Unlock()

	logging.Kaala("lifecycle manager disposed (%d agents killed)", len(tr))
	m.notify(tr)
}

// Disposed reports whether Dispose has run.
func (m *Manager) Disposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}

// ---------------------------------------------------------------------------
// internal helpers
// ---------------------------------------------------------------------------

// setStatusLocked is the single write path for status. No-ops on equal
// status, refreshes LastBeat, and queues the listener notification.
func (m *Manager) setStatusLocked(hb *Heartbeat, status types.AgentStatus) transition {
	if hb.Status == status {
		return transition{}
	}
	old := hb.Status
	hb.Status = status
	hb.LastBeat = m.clock.Now()
	return transition{agentID: hb.AgentID, oldStatus: old, newStatus: status, parentID: hb.ParentID}
}

// notify fires queued transitions in order, isolating listener panics.
func (m *Manager) notify(transitions []transition) {
	if len(transitions) == 0 {
		return
	}
	m.mu.RLock()
	listeners := make([]StatusListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, tr := range transitions {
		if tr.agentID == "" {
			continue
		}
		logging.AuditStatusChange(string(tr.agentID), string(tr.oldStatus), string(tr.newStatus))
		for _, cb := range listeners {
			m.safeNotify(cb, tr)
		}
	}
}

func (m *Manager) safeNotify(cb StatusListener, tr transition) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryKaala).Error("status listener panic for %s: %v", tr.agentID, r)
		}
	}()
	cb(tr.agentID, tr.oldStatus, tr.newStatus, tr.parentID)
}

// countActiveLocked counts alive+stale agents toward the global ceiling.
func (m *Manager) countActiveLocked() int {
	n := 0
	for _, hb := range m.beats {
		if hb.Status == types.StatusAlive || hb.Status == types.StatusStale {
			n++
		}
	}
	return n
}

func (m *Manager) childCountLocked(id types.AgentID) int {
	n := 0
	for _, hb := range m.beats {
		if hb.ParentID == id {
			n++
		}
	}
	return n
}

func (m *Manager) allIDsLocked() []types.AgentID {
	ids := make([]types.AgentID, 0, len(m.beats))
	for id := range m.beats {
		ids = append(ids, id)
	}
	return ids
}

// persistLocked mirrors a heartbeat to durable storage, best-effort.
func (m *Manager) persistLocked(hb *Heartbeat) {
	if m.persister == nil {
		return
	}
	if err := m.persister.SaveHeartbeat(hb.clone()); err != nil {
		logging.Get(logging.CategoryKaala).Warn("heartbeat persist failed for %s: %v", hb.AgentID, err)
	}
}

func (m *Manager) unpersistLocked(id types.AgentID) {
	if m.persister == nil {
		return
	}
	if err := m.persister.DeleteHeartbeat(id); err != nil {
		logging.Get(logging.CategoryKaala).Warn("heartbeat delete failed for %s: %v", id, err)
	}
}
