// Package kaala implements the agent lifecycle manager: heartbeat tracking,
// stale/dead detection, ancestor-only kill and heal, orphan handling, and
// token budget enforcement over a dynamic tree of agents.
package kaala

import (
	"time"
)

// Hard system ceilings. Configuration may tighten these, never exceed them.
const (
	SystemMaxDepth     = 10
	SystemMaxSubAgents = 16
)

// OrphanPolicy decides what happens to agents whose parent heartbeat is gone.
type OrphanPolicy string

const (
	// OrphanCascade kills the orphan and its descendants.
	OrphanCascade OrphanPolicy = "cascade"

	// OrphanReparent promotes each orphan to a root.
	OrphanReparent OrphanPolicy = "reparent"

	// OrphanPromote elects the oldest sibling as the new parent.
	OrphanPromote OrphanPolicy = "promote"
)

// Config tunes the lifecycle manager.
type Config struct {
	HeartbeatInterval      time.Duration // sweep period
	StaleThreshold         time.Duration // alive -> stale after silence
	DeadThreshold          time.Duration // stale -> dead after silence
	GlobalMaxAgents        int           // alive+stale ceiling
	BudgetDecayFactor      float64       // child budget = floor(parent budget * factor)
	RootTokenBudget        int
	OrphanPolicy           OrphanPolicy
	MaxAgentDepth          int // clamped to SystemMaxDepth
	MaxSubAgents           int // clamped to SystemMaxSubAgents
	MinTokenBudgetForSpawn int
}

// DefaultConfig returns the standard lifecycle limits.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:      5 * time.Second,
		StaleThreshold:         30 * time.Second,
		DeadThreshold:          120 * time.Second,
		GlobalMaxAgents:        16,
		BudgetDecayFactor:      0.7,
		RootTokenBudget:        200_000,
		OrphanPolicy:           OrphanCascade,
		MaxAgentDepth:          SystemMaxDepth,
		MaxSubAgents:           SystemMaxSubAgents,
		MinTokenBudgetForSpawn: 1_000,
	}
}

// clamped enforces the system ceilings and fills zero fields with defaults.
func (c Config) clamped() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = def.StaleThreshold
	}
	if c.DeadThreshold <= 0 {
		c.DeadThreshold = def.DeadThreshold
	}
	if c.GlobalMaxAgents <= 0 {
		c.GlobalMaxAgents = def.GlobalMaxAgents
	}
	if c.BudgetDecayFactor <= 0 || c.BudgetDecayFactor > 1 {
		c.BudgetDecayFactor = def.BudgetDecayFactor
	}
	if c.RootTokenBudget <= 0 {
		c.RootTokenBudget = def.RootTokenBudget
	}
	if c.OrphanPolicy == "" {
		c.OrphanPolicy = def.OrphanPolicy
	}
	if c.MaxAgentDepth <= 0 || c.MaxAgentDepth > SystemMaxDepth {
		c.MaxAgentDepth = SystemMaxDepth
	}
	if c.MaxSubAgents <= 0 || c.MaxSubAgents > SystemMaxSubAgents {
		c.MaxSubAgents = SystemMaxSubAgents
	}
	if c.MinTokenBudgetForSpawn <= 0 {
		c.MinTokenBudgetForSpawn = def.MinTokenBudgetForSpawn
	}
	return c
}
