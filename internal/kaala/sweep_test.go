package kaala

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"chitragupta/internal/types"
)

func TestSweepPromotesSilentAgents(t *testing.T) {
	m, clock := buildTree(t, DefaultConfig())

	clock.Advance(31 * time.Second)
	m.HealTree()

	for _, id := range []types.AgentID{"root", "mid", "leaf-a", "leaf-b"} {
		hb, _ := m.GetHeartbeat(id)
		if hb.Status != types.StatusStale {
			t.Fatalf("%s: expected stale after 31s silence, got %s", id, hb.Status)
		}
	}

	// A heartbeat restores the agent before the dead threshold hits.
	if err := m.RecordHeartbeat("root", nil); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	hb, _ := m.GetHeartbeat("root")
	if hb.Status != types.StatusAlive {
		t.Fatalf("heartbeat must restore stale to alive, got %s", hb.Status)
	}
}

func TestSweepPromotesAtExactThreshold(t *testing.T) {
	cfg := DefaultConfig()
	m, clock := buildTree(t, cfg)

	// Silence of exactly staleThreshold already counts.
	clock.Advance(cfg.StaleThreshold)
	m.HealTree()
	hb, _ := m.GetHeartbeat("root")
	if hb.Status != types.StatusStale {
		t.Fatalf("expected stale at exactly the threshold, got %s", hb.Status)
	}

	// And exactly deadThreshold promotes to dead, which the same sweep kills.
	clock.Advance(cfg.DeadThreshold - cfg.StaleThreshold)
	report := m.HealTree()
	if report.KilledStaleCount != 4 {
		t.Fatalf("expected the whole tree killed at the dead threshold, got %d", report.KilledStaleCount)
	}
}

func TestSweepKillsDeadBranches(t *testing.T) {
	m, clock := buildTree(t, DefaultConfig())

	// Root keeps beating; the mid subtree goes silent past the dead threshold.
	clock.Advance(121 * time.Second)
	if err := m.RecordHeartbeat("root", nil); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	report := m.HealTree()

	if report.KilledStaleCount != 3 {
		t.Fatalf("expected mid subtree (3 agents) killed, got %d", report.KilledStaleCount)
	}
	if report.ReapedCount != 3 {
		t.Fatalf("killed agents reap in the same sweep, got %d", report.ReapedCount)
	}
	if _, ok := m.GetHeartbeat("mid"); ok {
		t.Fatalf("dead branch must be gone after the sweep")
	}
	if hb, _ := m.GetHeartbeat("root"); hb.Status != types.StatusAlive {
		t.Fatalf("beating root must survive, got %s", hb.Status)
	}
}

func TestSweepSteadyStateReportsZeros(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())

	m.HealTree()
	report := m.HealTree()
	if report.ReapedCount != 0 || report.KilledStaleCount != 0 ||
		report.OrphansHandled != 0 || report.OverBudgetKilled != 0 {
		t.Fatalf("steady-state sweep must be a no-op, got %+v", report)
	}
}

// orphanFixture completes the mid agent so the first sweep reaps it and
// leaves leaf-a (older) and leaf-b orphaned.
func orphanFixture(t *testing.T, policy OrphanPolicy) (*Manager, HealReport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OrphanPolicy = policy
	m, clock := newTestManager(cfg)

	reqs := []RegisterRequest{
		{AgentID: "root"},
		{AgentID: "mid", ParentID: "root"},
		{AgentID: "leaf-a", ParentID: "mid"},
	}
	for _, req := range reqs {
		if _, err := m.RegisterAgent(req); err != nil {
			t.Fatalf("register %s: %v", req.AgentID, err)
		}
		clock.Advance(time.Second)
	}
	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "leaf-b", ParentID: "mid"}); err != nil {
		t.Fatalf("register leaf-b: %v", err)
	}
	if err := m.MarkCompleted("mid"); err != nil {
		t.Fatalf("complete mid: %v", err)
	}
	return m, m.HealTree()
}

func TestOrphanPolicyCascade(t *testing.T) {
	m, report := orphanFixture(t, OrphanCascade)

	if report.OrphansHandled != 2 {
		t.Fatalf("expected both orphans killed, got %d", report.OrphansHandled)
	}
	for _, id := range []types.AgentID{"leaf-a", "leaf-b"} {
		if _, ok := m.GetHeartbeat(id); ok {
			t.Fatalf("%s: cascaded orphan must be reaped", id)
		}
	}
}

func TestOrphanPolicyReparent(t *testing.T) {
	m, report := orphanFixture(t, OrphanReparent)

	if report.OrphansHandled != 2 {
		t.Fatalf("expected both orphans reparented, got %d", report.OrphansHandled)
	}
	for _, id := range []types.AgentID{"leaf-a", "leaf-b"} {
		hb, ok := m.GetHeartbeat(id)
		if !ok {
			t.Fatalf("%s: reparented orphan must survive", id)
		}
		if hb.ParentID != "" || hb.Depth != 0 {
			t.Fatalf("%s: expected a root at depth 0, got parent=%q depth=%d", id, hb.ParentID, hb.Depth)
		}
	}
}

func TestOrphanPolicyPromote(t *testing.T) {
	m, report := orphanFixture(t, OrphanPromote)

	if report.OrphansHandled != 2 {
		t.Fatalf("expected both orphans handled, got %d", report.OrphansHandled)
	}
	elder, _ := m.GetHeartbeat("leaf-a")
	if elder.ParentID != "" || elder.Depth != 0 {
		t.Fatalf("oldest sibling must become the new root, got parent=%q depth=%d", elder.ParentID, elder.Depth)
	}
	younger, _ := m.GetHeartbeat("leaf-b")
	if younger.ParentID != "leaf-a" || younger.Depth != 1 {
		t.Fatalf("younger sibling must re-attach under the elected root, got parent=%q depth=%d",
			younger.ParentID, younger.Depth)
	}
}

func TestSweepKillsOverBudgetAgents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootTokenBudget = 10_000
	m, _ := buildTree(t, cfg)

	usage := 8_000 // mid's budget is 7000
	if err := m.RecordHeartbeat("mid", &HeartbeatUpdate{TokenUsage: &usage}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	report := m.HealTree()

	if report.OverBudgetKilled != 3 {
		t.Fatalf("expected mid subtree killed for budget overrun, got %d", report.OverBudgetKilled)
	}
	if hb, _ := m.GetHeartbeat("root"); hb.Status != types.StatusAlive {
		t.Fatalf("root within budget must survive")
	}
}

func TestMonitoringStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	m := NewManager(cfg, types.SystemClock{})
	if _, err := m.RegisterAgent(RegisterRequest{AgentID: "root"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	m.StartMonitoring()
	m.StartMonitoring() // idempotent
	time.Sleep(20 * time.Millisecond)
	m.StopMonitoring()
	m.StopMonitoring() // idempotent

	if hb, ok := m.GetHeartbeat("root"); !ok || hb.Status != types.StatusAlive {
		t.Fatalf("root must still be alive after short monitoring run")
	}
}

func TestTreeHealthSnapshot(t *testing.T) {
	m, _ := buildTree(t, DefaultConfig())
	if err := m.MarkCompleted("leaf-b"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	th := m.GetTreeHealth()
	if th.TotalAgents != 4 || th.MaxDepth != 2 {
		t.Fatalf("unexpected snapshot: %+v", th)
	}
	if th.ByStatus[types.StatusAlive] != 3 || th.ByStatus[types.StatusCompleted] != 1 {
		t.Fatalf("unexpected status counts: %+v", th.ByStatus)
	}
}
