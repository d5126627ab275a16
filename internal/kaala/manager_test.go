package kaala

import (
	"errors"
	"strings"
	"testing"
	"time"

	"chitragupta/internal/types"
)

func newTestManager(cfg Config) (*Manager, *types.FakeClock) {
	clock := &types.FakeClock{Current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(cfg, clock), clock
}

// buildTree registers root -> mid -> {leaf-a, leaf-b} and returns the manager.
func buildTree(t *testing.T, cfg Config) (*Manager, *types.FakeClock) {
	t.Helper()
	m, clock := newTestManager(cfg)
	for _, req := range []RegisterRequest{
		{AgentID: "root", Purpose: "orchestrate"},
		{AgentID: "mid", ParentID: "root", Purpose: "refactor package"},
		{AgentID: "leaf-a", ParentID: "mid", Purpose: "edit files"},
		{AgentID: "leaf-b", ParentID: "mid", Purpose: "run analysis"},
	} {
		if _, err := m.RegisterAgent(req); err != nil {
			t.Fatalf("register %s: %v", req.AgentID, err)
		}
	}
	return m, clock
}

func TestBudgetDecayPerSpawn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootTokenBudget = 10_000
	cfg.BudgetDecayFactor = 0.7
	m, _ := newTestManager(cfg)

	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "root"}); err != nil {
		t.Fatalf("register root: %v", err)
	}
	child, err := m.RegisterAgent(RegisterRequest{AgentID: "child", ParentID: "root"})
	if err != nil {
		t.Fatalf("register child: %v", err)
	}
	if child.TokenBudget != 7_000 {
		t.Fatalf("expected child budget 7000, got %d", child.TokenBudget)
	}
	if got := m.ComputeChildBudget("child"); got != 4_900 {
		t.Fatalf("expected grandchild budget 4900, got %d", got)
	}
}

func TestSpawnDeniedWhenChildBudgetTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootTokenBudget = 10_000
	cfg.BudgetDecayFactor = 0.7
	cfg.MinTokenBudgetForSpawn = 8_000
	m, _ := newTestManager(cfg)

	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "root"}); err != nil {
		t.Fatalf("register root: %v", err)
	}
	check := m.CanSpawn("root")
	if check.Allowed {
		t.Fatalf("expected spawn denial, child budget 7000 < min 8000")
	}
	if !strings.Contains(check.Reason, "budget") {
		t.Fatalf("denial reason should mention budget, got %q", check.Reason)
	}
	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "child", ParentID: "root"}); err == nil {
		t.Fatalf("RegisterAgent must enforce the same spawn check")
	}
}

func TestSpawnLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSubAgents = 2
	cfg.MaxAgentDepth = 2
	m, _ := newTestManager(cfg)

	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "root"}); err != nil {
		t.Fatalf("register root: %v", err)
	}
	for _, id := range []types.AgentID{"c1", "c2"} {
		if _, err := m.RegisterAgent(RegisterRequest{AgentID: id, ParentID: "root"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if check := m.CanSpawn("root"); check.Allowed {
		t.Fatalf("fan-out limit 2 reached, spawn must be denied")
	}

	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "g1", ParentID: "c1"}); err != nil {
		t.Fatalf("register g1: %v", err)
	}
	if check := m.CanSpawn("g1"); check.Allowed {
		t.Fatalf("depth limit 2 reached, spawn must be denied")
	}
}

func TestKillCascadeDeepestFirst(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	var seen []types.AgentID
	m.OnStatusChange(func(id types.AgentID, _, newStatus types.AgentStatus, _ types.AgentID) {
		if newStatus == types.StatusKilled {
			seen = append(seen, id)
		}
	})

	res := m.KillAgent("root", "mid", "subtree went off the rails")
	if !res.Success {
		t.Fatalf("kill failed: %s", res.Reason)
	}
	want := []types.AgentID{"leaf-a", "leaf-b", "mid"}
	if len(res.KilledIDs) != len(want) {
		t.Fatalf("expected %d killed, got %v", len(want), res.KilledIDs)
	}
	for i, id := range want {
		if res.KilledIDs[i] != id {
			t.Fatalf("kill order: expected %v, got %v", want, res.KilledIDs)
		}
		if seen[i] != id {
			t.Fatalf("listener order: expected %v, got %v", want, seen)
		}
	}
	if res.CascadeCount != len(res.KilledIDs) {
		t.Fatalf("cascade count must equal killed count %d, got %d", len(res.KilledIDs), res.CascadeCount)
	}
	if res.CascadeCount != 3 {
		t.Fatalf("expected cascade count 3, got %d", res.CascadeCount)
	}

	hb, ok := m.GetHeartbeat("root")
	if !ok || hb.Status != types.StatusAlive {
		t.Fatalf("root must survive a kill of its subtree")
	}
}

func TestKillFreesUnusedBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootTokenBudget = 10_000
	m, _ := buildTree(t, cfg)

	usage := 1_000
	if err := m.RecordHeartbeat("mid", &HeartbeatUpdate{TokenUsage: &usage}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// mid: 7000-1000, leaves: 4900 each, untouched.
	res := m.KillAgent("root", "mid", "done with it")
	if res.FreedTokens != 6_000+4_900+4_900 {
		t.Fatalf("expected 15800 freed tokens, got %d", res.FreedTokens)
	}
}

func TestKillRequiresAncestor(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	res := m.KillAgent("leaf-a", "leaf-b", "sibling rivalry")
	if res.Success {
		t.Fatalf("sibling kill must be denied")
	}
	if !strings.Contains(res.Reason, "not an ancestor") {
		t.Fatalf("expected ancestor denial, got %q", res.Reason)
	}
	hb, _ := m.GetHeartbeat("leaf-b")
	if hb.Status != types.StatusAlive {
		t.Fatalf("denied kill must not change status, got %s", hb.Status)
	}

	// A child cannot kill upward either.
	if res := m.KillAgent("leaf-a", "root", "coup"); res.Success {
		t.Fatalf("child must not kill its ancestor")
	}
}

func TestSelfKillDenied(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	res := m.KillAgent("leaf-a", "leaf-a", "task abandoned")
	if res.Success {
		t.Fatalf("an agent is not its own ancestor, self-kill must be denied")
	}
	if !strings.Contains(res.Reason, "not an ancestor") {
		t.Fatalf("expected ancestor denial, got %q", res.Reason)
	}
	hb, _ := m.GetHeartbeat("leaf-a")
	if hb.Status != types.StatusAlive {
		t.Fatalf("denied self-kill must not change status, got %s", hb.Status)
	}
}

func TestReportStuckKeepsFirstReason(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	if err := m.ReportStuck("leaf-a", "waiting on lock"); err != nil {
		t.Fatalf("report stuck: %v", err)
	}
	if err := m.ReportStuck("leaf-a", "different theory"); err != nil {
		t.Fatalf("second report: %v", err)
	}
	health, ok := m.GetAgentHealth("leaf-a")
	if !ok {
		t.Fatalf("agent missing")
	}
	if health.Heartbeat.Status != types.StatusError {
		t.Fatalf("stuck agent must be in error, got %s", health.Heartbeat.Status)
	}
	if health.StuckReason != "waiting on lock" {
		t.Fatalf("first reason must win, got %q", health.StuckReason)
	}
}

func TestHealAgentRestoresError(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	if err := m.ReportStuck("leaf-a", "wedged"); err != nil {
		t.Fatalf("report stuck: %v", err)
	}
	if err := m.HealAgent("leaf-b", "leaf-a"); err == nil {
		t.Fatalf("sibling heal must be denied")
	}
	if err := m.HealAgent("leaf-a", "leaf-a"); err == nil {
		t.Fatalf("self-heal must be denied")
	}
	if err := m.HealAgent("root", "leaf-a"); err != nil {
		t.Fatalf("ancestor heal: %v", err)
	}
	health, _ := m.GetAgentHealth("leaf-a")
	if health.Heartbeat.Status != types.StatusAlive || health.StuckReason != "" {
		t.Fatalf("heal must restore alive and clear the stuck reason: %+v", health)
	}
}

func TestHealAgentOnlyStaleOrError(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	// Alive agents have nothing to heal from.
	if err := m.HealAgent("root", "leaf-a"); err == nil {
		t.Fatalf("healing an alive agent must be denied")
	}

	// Dead agents belong to the sweep's cascade.
	m.mu.Lock()
	m.setStatusLocked(m.beats["leaf-a"], types.StatusDead)
	m.mu.Unlock()
	if err := m.HealAgent("root", "leaf-a"); err == nil {
		t.Fatalf("healing a dead agent must be denied")
	}
	hb, _ := m.GetHeartbeat("leaf-a")
	if hb.Status != types.StatusDead {
		t.Fatalf("denied heal must not change status, got %s", hb.Status)
	}

	// Stale agents are healable.
	m.mu.Lock()
	m.setStatusLocked(m.beats["leaf-b"], types.StatusStale)
	m.mu.Unlock()
	if err := m.HealAgent("root", "leaf-b"); err != nil {
		t.Fatalf("stale heal: %v", err)
	}
	hb, _ = m.GetHeartbeat("leaf-b")
	if hb.Status != types.StatusAlive {
		t.Fatalf("healed stale agent must be alive, got %s", hb.Status)
	}
}

func TestTerminalStatusRejectsMutation(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	if err := m.MarkCompleted("leaf-a"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := m.RecordHeartbeat("leaf-a", nil); err == nil {
		t.Fatalf("completed agent must reject heartbeats")
	}
	if err := m.MarkError("leaf-a"); err == nil {
		t.Fatalf("completed agent must reject error transition")
	}
	if res := m.KillAgent("root", "leaf-a", "late"); res.Success {
		t.Fatalf("completed agent must reject kill")
	}
}

func TestDispose(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	killed := 0
	m.OnStatusChange(func(_ types.AgentID, _, newStatus types.AgentStatus, _ types.AgentID) {
		if newStatus == types.StatusKilled {
			killed++
		}
	})
	m.Dispose()

	if killed != 4 {
		t.Fatalf("dispose must kill every live agent, saw %d", killed)
	}
	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "late"}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if err := m.RecordHeartbeat("root", nil); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	m.Dispose() // second dispose is a no-op
}
