package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chitragupta/internal/events"
	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// Config tunes the wrapper.
type Config struct {
	MaxRetries                  int
	BaseDelay                   time.Duration
	MaxDelay                    time.Duration
	UnknownErrorCap             int // identical unknown errors beyond this escalate to fatal
	ToolDisableThreshold        int
	ErrorRateWarningThreshold   float64
	LatencyWarningMs            int64
	UtilizationWarningThreshold float64
	Compactor                   CompactorConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:                  3,
		BaseDelay:                   500 * time.Millisecond,
		MaxDelay:                    30 * time.Second,
		UnknownErrorCap:             2,
		ToolDisableThreshold:        5,
		ErrorRateWarningThreshold:   0.5,
		LatencyWarningMs:            60_000,
		UtilizationWarningThreshold: 0.9,
		Compactor:                   DefaultCompactorConfig(),
	}
}

// Wrapper guards one agent's turn loop. A single logical mutator owns it;
// turns for one agent are strictly sequential.
type Wrapper struct {
	mu      sync.RWMutex
	agentID types.AgentID
	cfg     Config
	bus     *events.Bus
	clock   types.Clock

	ring      *metricsRing
	tools     *toolTracker
	compactor *Compactor

	// lastGoodMessages is the last known-good snapshot, replaced wholesale.
	lastGoodMessages []types.Message

	degradedReasons map[string]bool
	unknownCounts   map[string]int

	sleep func(context.Context, time.Duration) error
}

// NewWrapper creates a wrapper for one agent.
func NewWrapper(agentID types.AgentID, cfg Config, bus *events.Bus, clock types.Clock) *Wrapper {
	if cfg.MaxRetries == 0 && cfg.ToolDisableThreshold == 0 {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	logging.AutonomyDebug("creating wrapper for agent %s", agentID)
	return &Wrapper{
		agentID:         agentID,
		cfg:             cfg,
		bus:             bus,
		clock:           clock,
		ring:            newMetricsRing(),
		tools:           newToolTracker(cfg.ToolDisableThreshold, clock),
		compactor:       NewCompactor(cfg.Compactor),
		degradedReasons: make(map[string]bool),
		unknownCounts:   make(map[string]int),
		sleep:           sleepContext,
	}
}

// Bus exposes the event bus the wrapper emits on.
func (w *Wrapper) Bus() *events.Bus { return w.bus }

// BeforeTurn snapshots the current message list as the known-good recovery
// point for this turn.
func (w *Wrapper) BeforeTurn(state *types.AgentState) {
	w.mu.Lock()
	w.lastGoodMessages = types.CloneMessages(state.Messages)
	w.mu.Unlock()
}

// AfterTurn asks the compactor whether the message list should shrink and
// returns the possibly-compacted state. A successful compaction also becomes
// the new known-good snapshot.
func (w *Wrapper) AfterTurn(state *types.AgentState) *types.AgentState {
	currentTokens := state.TokenCount
	if currentTokens <= 0 {
		currentTokens = EstimateTokens(state.Messages)
	}

	tier, compacted := w.compactor.Plan(state.Messages, currentTokens, state.ContextLimit)
	if tier == TierNone {
		return state
	}

	afterTokens := EstimateTokens(compacted)
	logging.Autonomy("agent %s: %s compaction %d -> %d tokens (%d -> %d messages)",
		w.agentID, tier, currentTokens, afterTokens, len(state.Messages), len(compacted))

	w.bus.Emit(events.AutonomyCompaction, string(w.agentID), map[string]interface{}{
		"tier":            string(tier),
		"tokens_before":   currentTokens,
		"tokens_after":    afterTokens,
		"messages_before": len(state.Messages),
		"messages_after":  len(compacted),
	})

	w.mu.Lock()
	w.lastGoodMessages = types.CloneMessages(compacted)
	w.mu.Unlock()

	next := *state
	next.Messages = compacted
	next.TokenCount = afterTokens
	return &next
}

// RecordTurnMetrics appends a turn record and evaluates health thresholds
// over the recent window.
func (w *Wrapper) RecordTurnMetrics(state *types.AgentState, m TurnMetric) {
	w.mu.Lock()
	w.ring.add(m)
	errRate := w.ring.errorRate(healthWindow)
	avgLatency := w.ring.avgLatencyMs(healthWindow)
	w.mu.Unlock()

	var warnings []string
	if errRate >= w.cfg.ErrorRateWarningThreshold {
		warnings = append(warnings, fmt.Sprintf("error rate %.2f over last %d turns", errRate, healthWindow))
	}
	if w.cfg.LatencyWarningMs > 0 && avgLatency >= float64(w.cfg.LatencyWarningMs) {
		warnings = append(warnings, fmt.Sprintf("avg latency %.0fms", avgLatency))
	}
	if state.ContextLimit > 0 {
		utilization := float64(state.TokenCount) / float64(state.ContextLimit)
		if utilization >= w.cfg.UtilizationWarningThreshold {
			warnings = append(warnings, fmt.Sprintf("context utilization %.2f", utilization))
		}
	}

	for _, warning := range warnings {
		logging.Get(logging.CategoryAutonomy).Warn("agent %s health: %s", w.agentID, warning)
		w.bus.Emit(events.AutonomyHealthWarning, string(w.agentID), map[string]interface{}{
			"warning":        warning,
			"error_rate":     errRate,
			"avg_latency_ms": avgLatency,
		})
	}
}

// RecoverContext restores a coherent message list after corruption. The
// known-good snapshot wins; otherwise unmatched tool-call/tool-result pairs
// are dropped. If neither helps, the state is returned unchanged.
func (w *Wrapper) RecoverContext(state *types.AgentState) *types.AgentState {
	w.mu.RLock()
	lastGood := w.lastGoodMessages
	w.mu.RUnlock()

	if len(lastGood) > 0 {
		w.bus.Emit(events.AutonomyContextRecovered, string(w.agentID), map[string]interface{}{
			"method":           "last_good",
			"original_length":  len(state.Messages),
			"recovered_length": len(lastGood),
		})
		logging.Autonomy("agent %s: context recovered from snapshot (%d -> %d messages)",
			w.agentID, len(state.Messages), len(lastGood))
		next := *state
		next.Messages = types.CloneMessages(lastGood)
		next.TokenCount = EstimateTokens(next.Messages)
		return &next
	}

	repaired, changed := repairStructure(state.Messages)
	if !changed {
		return state
	}

	w.bus.Emit(events.AutonomyContextRecovered, string(w.agentID), map[string]interface{}{
		"method":           "structural",
		"original_length":  len(state.Messages),
		"recovered_length": len(repaired),
	})
	logging.Autonomy("agent %s: structural context recovery (%d -> %d messages)",
		w.agentID, len(state.Messages), len(repaired))

	next := *state
	next.Messages = repaired
	next.TokenCount = EstimateTokens(repaired)
	return &next
}

// repairStructure drops assistant tool-call messages with no matching tool
// result and tool-result messages with no matching call.
func repairStructure(msgs []types.Message) ([]types.Message, bool) {
	callIDs := make(map[string]bool)
	resultIDs := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			callIDs[tc.ID] = true
		}
		if m.Role == types.RoleTool && m.ToolCallID != "" {
			resultIDs[m.ToolCallID] = true
		}
	}

	out := make([]types.Message, 0, len(msgs))
	changed := false
	for _, m := range msgs {
		if m.Role == types.RoleTool && m.ToolCallID != "" && !callIDs[m.ToolCallID] {
			changed = true
			continue
		}
		if len(m.ToolCalls) > 0 {
			orphaned := false
			for _, tc := range m.ToolCalls {
				if !resultIDs[tc.ID] {
					orphaned = true
					break
				}
			}
			if orphaned {
				changed = true
				continue
			}
		}
		out = append(out, m)
	}
	return out, changed
}

// EnterDegradedMode adds a reason to the degraded set. Idempotent; the event
// fires only when the reason is new.
func (w *Wrapper) EnterDegradedMode(reason string) {
	w.mu.Lock()
	already := w.degradedReasons[reason]
	w.degradedReasons[reason] = true
	w.mu.Unlock()

	if already {
		return
	}
	logging.Get(logging.CategoryAutonomy).Warn("agent %s entering degraded mode: %s", w.agentID, reason)
	w.bus.Emit(events.AutonomyDegraded, string(w.agentID), map[string]interface{}{
		"action": "enter",
		"reason": reason,
	})
}

// ExitDegradedMode removes a reason; the wrapper leaves degraded mode when
// the set empties.
func (w *Wrapper) ExitDegradedMode(reason string) {
	w.mu.Lock()
	present := w.degradedReasons[reason]
	delete(w.degradedReasons, reason)
	remaining := len(w.degradedReasons)
	w.mu.Unlock()

	if !present {
		return
	}
	logging.Autonomy("agent %s exiting degraded mode: %s (%d reasons remain)", w.agentID, reason, remaining)
	w.bus.Emit(events.AutonomyDegraded, string(w.agentID), map[string]interface{}{
		"action":    "exit",
		"reason":    reason,
		"remaining": remaining,
	})
}

// IsDegraded reports whether any degraded reason is active.
func (w *Wrapper) IsDegraded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.degradedReasons) > 0
}

// DegradedReasonCount returns the size of the active reason set.
func (w *Wrapper) DegradedReasonCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.degradedReasons)
}

// GetHealthReport summarizes the agent's recent health.
func (w *Wrapper) GetHealthReport(state *types.AgentState) HealthReport {
	w.mu.RLock()
	defer w.mu.RUnlock()

	report := HealthReport{
		TurnsRecorded: w.ring.len(),
		ErrorRate:     w.ring.errorRate(healthWindow),
		AvgLatencyMs:  w.ring.avgLatencyMs(healthWindow),
		Degraded:      len(w.degradedReasons) > 0,
		DisabledTools: w.tools.disabledTools(),
	}
	for reason := range w.degradedReasons {
		report.DegradedReasons = append(report.DegradedReasons, reason)
	}
	if state != nil && state.ContextLimit > 0 {
		report.Utilization = float64(state.TokenCount) / float64(state.ContextLimit)
	}

	if report.ErrorRate >= w.cfg.ErrorRateWarningThreshold && report.TurnsRecorded >= 3 {
		report.Warnings = append(report.Warnings, "elevated error rate")
	}
	if w.cfg.LatencyWarningMs > 0 && report.AvgLatencyMs >= float64(w.cfg.LatencyWarningMs) {
		report.Warnings = append(report.Warnings, "elevated latency")
	}
	if report.Utilization >= w.cfg.UtilizationWarningThreshold && report.Utilization > 0 {
		report.Warnings = append(report.Warnings, "high context utilization")
	}
	return report
}

// countUnknown bumps the repeat counter for an unknown error message.
func (w *Wrapper) countUnknown(msg string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unknownCounts[msg]++
	return w.unknownCounts[msg]
}
