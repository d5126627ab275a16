// Package types holds the shared value types of the lifecycle core.
// Components communicate through these records and through agent IDs; no
// component holds a direct reference to another agent.
package types

import (
	"time"
)

// AgentID uniquely identifies an agent. Opaque and immutable.
type AgentID string

// AgentStatus is the lifecycle status of an agent as seen by Kaala.
type AgentStatus string

const (
	StatusAlive     AgentStatus = "alive"
	StatusStale     AgentStatus = "stale"
	StatusDead      AgentStatus = "dead"
	StatusKilled    AgentStatus = "killed"
	StatusCompleted AgentStatus = "completed"
	StatusError     AgentStatus = "error"
)

// IsTerminal reports whether the status permits no further transitions.
func (s AgentStatus) IsTerminal() bool {
	return s == StatusKilled || s == StatusCompleted
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// Message is one entry in an agent's conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-result messages
}

// Clone returns a top-level copy of the message list. Elements are value
// copies; callers must not mutate nested maps of a cloned list.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// AgentState is the mutable per-agent conversation state the wrapper guards.
// Replaced wholesale between turns, never mutated in place by observers.
type AgentState struct {
	AgentID      AgentID
	Messages     []Message
	TokenCount   int // estimated tokens currently in Messages
	ContextLimit int
}

// Timestamped carries creation/update times, embedded by value where needed.
type Timestamped struct {
	CreatedAt int64 `json:"created_at"` // Unix milliseconds
	UpdatedAt int64 `json:"updated_at"`
}

// Touch refreshes UpdatedAt, setting CreatedAt on first use.
func (t *Timestamped) Touch(now time.Time) {
	ms := now.UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = ms
	}
	t.UpdatedAt = ms
}

// Clock abstracts time so sweeps and metrics can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	Current time.Time
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time { return c.Current }

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }
