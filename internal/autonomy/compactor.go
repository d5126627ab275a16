package autonomy

import (
	"chitragupta/internal/types"
)

// Tier is a discrete compaction aggressiveness level.
type Tier string

const (
	TierNone       Tier = "none"
	TierGentle     Tier = "gentle"
	TierModerate   Tier = "moderate"
	TierAggressive Tier = "aggressive"
)

// CompactorConfig sets the utilization thresholds that select a tier.
type CompactorConfig struct {
	GentleThreshold     float64 // utilization at which gentle compaction starts
	ModerateThreshold   float64
	AggressiveThreshold float64
	KeepRecentMessages  int // messages never pruned from the tail
}

// DefaultCompactorConfig returns the standard thresholds.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		GentleThreshold:     0.70,
		ModerateThreshold:   0.85,
		AggressiveThreshold: 0.95,
		KeepRecentMessages:  10,
	}
}

// Compactor decides when and how aggressively to shrink a message list.
// It drops the oldest non-essential content first: tool results, then
// assistant prose. The system prompt and the newest user request survive
// every tier.
type Compactor struct {
	cfg CompactorConfig
}

// NewCompactor creates a compactor with the given thresholds.
func NewCompactor(cfg CompactorConfig) *Compactor {
	if cfg.GentleThreshold <= 0 {
		cfg = DefaultCompactorConfig()
	}
	return &Compactor{cfg: cfg}
}

// EstimateTokens approximates the token count of a message list.
// Four characters per token is close enough for budgeting.
func EstimateTokens(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)/4 + 4
	}
	return total
}

// Plan returns the compaction tier for the current utilization and, when a
// tier applies, the compacted message list. The input list is never mutated.
func (c *Compactor) Plan(msgs []types.Message, currentTokens, ctxLimit int) (Tier, []types.Message) {
	if ctxLimit <= 0 || len(msgs) == 0 {
		return TierNone, msgs
	}

	utilization := float64(currentTokens) / float64(ctxLimit)
	var tier Tier
	switch {
	case utilization >= c.cfg.AggressiveThreshold:
		tier = TierAggressive
	case utilization >= c.cfg.ModerateThreshold:
		tier = TierModerate
	case utilization >= c.cfg.GentleThreshold:
		tier = TierGentle
	default:
		return TierNone, msgs
	}

	return tier, c.compact(msgs, tier)
}

// compact applies one tier to a copy of the message list.
func (c *Compactor) compact(msgs []types.Message, tier Tier) []types.Message {
	protected := c.protectedSet(msgs)

	// Index below which "oldest" pruning applies.
	oldestHalf := len(msgs) / 2
	keepTail := len(msgs) - c.cfg.KeepRecentMessages
	if keepTail < 0 {
		keepTail = 0
	}

	out := make([]types.Message, 0, len(msgs))
	for i, m := range msgs {
		if protected[i] {
			out = append(out, m)
			continue
		}

		switch tier {
		case TierGentle:
			// Oldest tool results go first.
			if m.Role == types.RoleTool && i < oldestHalf {
				continue
			}
		case TierModerate:
			// All tool results outside the recent tail, plus the oldest
			// assistant prose.
			if m.Role == types.RoleTool && i < keepTail {
				continue
			}
			if m.Role == types.RoleAssistant && len(m.ToolCalls) == 0 && i < oldestHalf {
				continue
			}
		case TierAggressive:
			// Only the recent tail survives.
			if i < keepTail {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// protectedSet marks messages no tier may drop: every system message and the
// newest user request.
func (c *Compactor) protectedSet(msgs []types.Message) map[int]bool {
	protected := make(map[int]bool)
	for i, m := range msgs {
		if m.Role == types.RoleSystem {
			protected[i] = true
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			protected[i] = true
			break
		}
	}
	return protected
}
