package kaala

import (
	"time"

	"chitragupta/internal/types"
)

// Heartbeat is Kaala's view of one agent. The tree is formed by ParentID;
// traversals go through the heartbeat map, never through object pointers.
type Heartbeat struct {
	AgentID     types.AgentID
	ParentID    types.AgentID     // empty for roots
	Depth       int               // root = 0
	Purpose     string
	StartedAt   time.Time
	LastBeat    time.Time
	TurnCount   int
	TokenUsage  int
	TokenBudget int
	Status      types.AgentStatus
}

// clone returns a value copy for external readers.
func (h *Heartbeat) clone() Heartbeat { return *h }

// HeartbeatUpdate carries the optional fields of a heartbeat tick.
// Nil fields are left unchanged.
type HeartbeatUpdate struct {
	TurnCount  *int
	TokenUsage *int
	Purpose    *string
}

// RegisterRequest describes a new agent.
type RegisterRequest struct {
	AgentID     types.AgentID
	ParentID    types.AgentID // empty for a root agent
	Purpose     string
	TokenBudget int // 0 = derive (root budget, or parent budget decayed)
}

// StatusListener observes status transitions. Listeners run synchronously
// after the mutation; a panicking listener is isolated.
type StatusListener func(agentID types.AgentID, oldStatus, newStatus types.AgentStatus, parentID types.AgentID)

// KillResult reports the outcome of a kill cascade.
type KillResult struct {
	Success      bool
	Reason       string
	KilledIDs    []types.AgentID // strictly deepest-first
	CascadeCount int
	FreedTokens  int
}

// SpawnCheck reports whether an agent may spawn a child.
type SpawnCheck struct {
	Allowed bool
	Reason  string
}

// HealReport summarizes one sweep.
type HealReport struct {
	ReapedCount      int
	KilledStaleCount int
	OrphansHandled   int
	OverBudgetKilled int
	Timestamp        time.Time
}

// TreeHealth is a snapshot of the whole forest.
type TreeHealth struct {
	TotalAgents int
	ByStatus    map[types.AgentStatus]int
	MaxDepth    int
	TotalTokens int
	TotalBudget int
	Timestamp   time.Time
}

// AgentHealth is a snapshot of one agent.
type AgentHealth struct {
	Heartbeat     Heartbeat
	ChildCount    int
	StuckReason   string
	SinceLastBeat time.Duration
}
