package autonomy

import (
	"fmt"
	"strings"
	"testing"

	"chitragupta/internal/types"
)

// agentTranscript builds a tool-heavy conversation like a long coding session:
// user asks, assistant calls tools, large tool results come back.
func agentTranscript(rounds int) []types.Message {
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "You are a coding agent."},
	}
	bigResult := strings.Repeat("drwxr-xr-x  src/module/file.go 2026-01-15\n", 60)
	for i := 0; i < rounds; i++ {
		callID := fmt.Sprintf("call-%d", i)
		msgs = append(msgs,
			types.Message{Role: types.RoleUser, Content: fmt.Sprintf("inspect module %d", i)},
			types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: callID, Name: "list_files"}}},
			types.Message{Role: types.RoleTool, ToolCallID: callID, Content: bigResult},
			types.Message{Role: types.RoleAssistant, Content: fmt.Sprintf("module %d looks fine, moving on to the next one", i)},
		)
	}
	return msgs
}

func TestPlanNoneUnderThreshold(t *testing.T) {
	c := NewCompactor(DefaultCompactorConfig())
	msgs := agentTranscript(3)

	tier, out := c.Plan(msgs, 10_000, 100_000)
	if tier != TierNone {
		t.Fatalf("expected no compaction at 10%% utilization, got %s", tier)
	}
	if len(out) != len(msgs) {
		t.Fatalf("message list must be untouched")
	}
}

func TestPlanTierSelection(t *testing.T) {
	c := NewCompactor(DefaultCompactorConfig())
	msgs := agentTranscript(5)

	cases := []struct {
		tokens int
		want   Tier
	}{
		{72_000, TierGentle},
		{86_000, TierModerate},
		{96_000, TierAggressive},
	}
	for _, tc := range cases {
		tier, _ := c.Plan(msgs, tc.tokens, 100_000)
		if tier != tc.want {
			t.Fatalf("tokens=%d: expected %s, got %s", tc.tokens, tc.want, tier)
		}
	}
}

func TestGentleDropsOldestToolResultsFirst(t *testing.T) {
	c := NewCompactor(DefaultCompactorConfig())
	msgs := agentTranscript(6)

	_, out := c.Plan(msgs, 75_000, 100_000)
	if len(out) >= len(msgs) {
		t.Fatalf("expected gentle compaction to drop messages")
	}

	// The newest tool results survive gentle compaction.
	lastTool := -1
	for i, m := range msgs {
		if m.Role == types.RoleTool {
			lastTool = i
		}
	}
	found := false
	for _, m := range out {
		if m.Role == types.RoleTool && m.ToolCallID == msgs[lastTool].ToolCallID {
			found = true
		}
	}
	if !found {
		t.Fatalf("gentle compaction dropped the newest tool result")
	}

	// Assistant prose is untouched at the gentle tier.
	prose := 0
	for _, m := range out {
		if m.Role == types.RoleAssistant && len(m.ToolCalls) == 0 {
			prose++
		}
	}
	if prose != 6 {
		t.Fatalf("gentle tier must not drop assistant prose, kept %d of 6", prose)
	}
}

func TestCompactionNeverDropsSystemOrCurrentRequest(t *testing.T) {
	c := NewCompactor(DefaultCompactorConfig())
	msgs := agentTranscript(8)

	for _, tier := range []int{72_000, 86_000, 99_000} {
		_, out := c.Plan(msgs, tier, 100_000)

		if len(out) == 0 || out[0].Role != types.RoleSystem {
			t.Fatalf("system prompt missing after compaction at %d tokens", tier)
		}

		// Newest user request must survive.
		var lastUser string
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == types.RoleUser {
				lastUser = msgs[i].Content
				break
			}
		}
		found := false
		for _, m := range out {
			if m.Role == types.RoleUser && m.Content == lastUser {
				found = true
			}
		}
		if !found {
			t.Fatalf("newest user request missing after compaction at %d tokens", tier)
		}
	}
}

func TestAggressiveKeepsRecentTail(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.KeepRecentMessages = 6
	c := NewCompactor(cfg)
	msgs := agentTranscript(10)

	_, out := c.Plan(msgs, 99_000, 100_000)

	// System prompt + newest user request + recent tail; well under the input.
	if len(out) > cfg.KeepRecentMessages+3 {
		t.Fatalf("aggressive compaction kept too much: %d messages", len(out))
	}
	// Tail order preserved.
	if out[len(out)-1].Content != msgs[len(msgs)-1].Content {
		t.Fatalf("newest message must be last after compaction")
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []types.Message{{Role: types.RoleUser, Content: strings.Repeat("a", 400)}}
	got := EstimateTokens(msgs)
	if got < 100 || got > 110 {
		t.Fatalf("expected ~100 tokens for 400 chars, got %d", got)
	}
}
