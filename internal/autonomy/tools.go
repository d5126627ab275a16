package autonomy

import (
	"sort"
	"time"

	"chitragupta/internal/events"
	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// toolState tracks failures for one tool name.
// Invariant: disabled implies consecutive >= threshold at transition time.
type toolState struct {
	consecutive int
	total       int
	disabled    bool
	disabledAt  time.Time
}

// toolTracker is the per-tool disable/re-enable state machine.
type toolTracker struct {
	tools     map[string]*toolState
	threshold int
	clock     types.Clock
}

func newToolTracker(threshold int, clock types.Clock) *toolTracker {
	return &toolTracker{
		tools:     make(map[string]*toolState),
		threshold: threshold,
		clock:     clock,
	}
}

func (t *toolTracker) get(name string) *toolState {
	s, ok := t.tools[name]
	if !ok {
		s = &toolState{}
		t.tools[name] = s
	}
	return s
}

// recordUse applies one tool outcome. Returns the transition, if any:
// "disabled", "reenabled", or "".
func (t *toolTracker) recordUse(name string, isError bool) string {
	s := t.get(name)

	if !isError {
		if s.disabled {
			s.disabled = false
			s.consecutive = 0
			return "reenabled"
		}
		s.consecutive = 0
		return ""
	}

	s.consecutive++
	s.total++
	if !s.disabled && s.consecutive >= t.threshold {
		s.disabled = true
		s.disabledAt = t.clock.Now()
		return "disabled"
	}
	return ""
}

func (t *toolTracker) isDisabled(name string) bool {
	s, ok := t.tools[name]
	return ok && s.disabled
}

func (t *toolTracker) disabledTools() []string {
	var out []string
	for name, s := range t.tools {
		if s.disabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// OnToolStart notes that a tool invocation is beginning.
func (w *Wrapper) OnToolStart(name string) {
	logging.AutonomyDebug("agent %s: tool %s starting", w.agentID, name)
}

// OnToolUsed records the outcome of a tool invocation and drives the
// disable/re-enable state machine.
func (w *Wrapper) OnToolUsed(name string, isError bool) {
	w.mu.Lock()
	transition := w.tools.recordUse(name, isError)
	var disabledAt time.Time
	if s, ok := w.tools.tools[name]; ok {
		disabledAt = s.disabledAt
	}
	w.mu.Unlock()

	switch transition {
	case "disabled":
		logging.Get(logging.CategoryAutonomy).Warn("agent %s: tool %s disabled after %d consecutive failures", w.agentID, name, w.cfg.ToolDisableThreshold)
		w.bus.Emit(events.AutonomyToolDisabled, string(w.agentID), map[string]interface{}{
			"tool":        name,
			"threshold":   w.cfg.ToolDisableThreshold,
			"disabled_at": disabledAt.UnixMilli(),
		})
	case "reenabled":
		logging.Autonomy("agent %s: tool %s re-enabled after success", w.agentID, name)
		w.bus.Emit(events.AutonomyToolReenabled, string(w.agentID), map[string]interface{}{
			"tool": name,
		})
	}
}

// IsToolDisabled reports whether a tool is currently disabled.
func (w *Wrapper) IsToolDisabled(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tools.isDisabled(name)
}

// ToolFailureCounts returns (consecutive, total) for a tool.
func (w *Wrapper) ToolFailureCounts(name string) (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.tools.tools[name]
	if !ok {
		return 0, 0
	}
	return s.consecutive, s.total
}
