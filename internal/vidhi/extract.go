package vidhi

import (
	"context"
	"sort"
	"strings"
	"time"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// minedCall is one tool call in session order, tagged with the user request
// that preceded it (trigger material).
type minedCall struct {
	call        types.SessionToolCall
	userContext string
}

// instance is one concrete occurrence of a candidate sequence.
type instance struct {
	sessionID string
	calls     []types.SessionToolCall
	context   string
}

// candidate aggregates every occurrence of one window key.
type candidate struct {
	key       string
	toolNames []string
	sessions  map[string]bool
	instances []instance
}

// maxInstancesPerKey bounds the memory held per candidate; anti-unification
// only needs a handful of occurrences.
const maxInstancesPerKey = 20

func (e *Engine) extract(ctx context.Context) (ExtractResult, error) {
	timer := logging.StartTimer(logging.CategoryVidhi, "extract")
	defer timer.Stop()
	start := e.clock.Now()

	sessions, err := e.store.LoadSessions(e.project)
	if err != nil {
		return ExtractResult{}, err
	}

	var result ExtractResult
	byKey := make(map[string]*candidate)

	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return ExtractResult{}, err
		}
		calls := flattenToolCalls(session)
		for n := e.cfg.MinSequenceLength; n <= e.cfg.MaxSequenceLength; n++ {
			for i := 0; i+n <= len(calls); i++ {
				window := calls[i : i+n]
				if windowHasError(window) {
					continue
				}
				result.TotalSequencesAnalyzed++

				names := make([]string, n)
				raw := make([]types.SessionToolCall, n)
				for j, mc := range window {
					names[j] = mc.call.Name
					raw[j] = mc.call
				}
				key := strings.Join(names, "|")
				cand, ok := byKey[key]
				if !ok {
					cand = &candidate{key: key, toolNames: names, sessions: make(map[string]bool)}
					byKey[key] = cand
				}
				cand.sessions[session.ID] = true
				if len(cand.instances) < maxInstancesPerKey {
					cand.instances = append(cand.instances, instance{
						sessionID: session.ID,
						calls:     raw,
						context:   window[0].userContext,
					})
				}
			}
		}
	}

	// Distinct-session gate, then rank by support x length.
	survivors := make([]*candidate, 0, len(byKey))
	for _, cand := range byKey {
		if len(cand.sessions) >= e.cfg.MinSessions {
			survivors = append(survivors, cand)
		}
	}
	sort.Slice(survivors, func(i, j int) bool {
		si := len(survivors[i].sessions) * len(survivors[i].toolNames)
		sj := len(survivors[j].sessions) * len(survivors[j].toolNames)
		if si != sj {
			return si > sj
		}
		return survivors[i].key < survivors[j].key
	})

	// Drop sub-windows already covered by an accepted longer sequence with
	// the same session support.
	var accepted []*candidate
	for _, cand := range survivors {
		covered := false
		for _, acc := range accepted {
			if len(cand.sessions) == len(acc.sessions) && containsWindow(acc.toolNames, cand.toolNames) {
				covered = true
				break
			}
		}
		if !covered {
			accepted = append(accepted, cand)
		}
	}

	now := e.clock.Now()
	for _, cand := range accepted {
		if err := ctx.Err(); err != nil {
			return ExtractResult{}, err
		}
		fresh := e.buildVidhi(cand, now)
		if e.upsert(fresh, now) {
			result.NewVidhis++
		} else {
			result.Reinforced++
		}
	}

	result.DurationMs = e.clock.Now().Sub(start).Milliseconds()
	logging.Vidhi("extract %s: %d sequences, %d new, %d reinforced (%dms)",
		e.project, result.TotalSequencesAnalyzed, result.NewVidhis, result.Reinforced, result.DurationMs)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditVidhiExtracted,
		Success:   true,
		Fields: map[string]interface{}{
			"project":    e.project,
			"new":        result.NewVidhis,
			"reinforced": result.Reinforced,
		},
	})
	return result, nil
}

// buildVidhi anti-unifies a candidate's instances into a template.
func (e *Engine) buildVidhi(cand *candidate, now time.Time) Vidhi {
	steps, schema := antiUnify(cand.toolNames, cand.instances)

	contexts := make([]string, 0, len(cand.instances))
	for _, inst := range cand.instances {
		contexts = append(contexts, inst.context)
	}

	learnedFrom := make([]string, 0, len(cand.sessions))
	for id := range cand.sessions {
		learnedFrom = append(learnedFrom, id)
	}
	sort.Strings(learnedFrom)

	confidence := 0.5 + 0.1*float64(len(cand.sessions))
	if confidence > 1.0 {
		confidence = 1.0
	}

	v := Vidhi{
		ID:              vidhiID(e.project, cand.toolNames),
		Project:         e.project,
		Name:            vidhiName(cand.toolNames),
		Steps:           steps,
		Triggers:        mineTriggers(contexts),
		ParameterSchema: schema,
		LearnedFrom:     learnedFrom,
		Confidence:      confidence,
	}
	v.refreshSuccessRate()
	v.CreatedAt = now.UnixMilli()
	v.UpdatedAt = now.UnixMilli()
	return v
}

// upsert merges a freshly mined vidhi into the cache and storage. Returns
// true when the vidhi is new, false when an existing one was reinforced.
func (e *Engine) upsert(fresh Vidhi, now time.Time) bool {
	e.mu.Lock()
	existing, ok := e.vidhis[fresh.ID]
	if !ok {
		stored := fresh.clone()
		e.vidhis[fresh.ID] = &stored
		e.mu.Unlock()
		e.persist(fresh)
		return true
	}

	existing.LearnedFrom = mergeSorted(existing.LearnedFrom, fresh.LearnedFrom)
	existing.Confidence = 0.5 + 0.1*float64(len(existing.LearnedFrom))
	if existing.Confidence > 1.0 {
		existing.Confidence = 1.0
	}
	existing.Steps = fresh.Steps
	existing.ParameterSchema = fresh.ParameterSchema
	existing.Triggers = fresh.Triggers
	existing.UpdatedAt = now.UnixMilli()
	snapshot := existing.clone()
	e.mu.Unlock()

	e.persist(snapshot)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditVidhiReinforced, Target: fresh.ID, Success: true})
	return false
}

// flattenToolCalls lists a session's tool calls in order, each tagged with
// the most recent user turn before it.
func flattenToolCalls(session types.Session) []minedCall {
	var out []minedCall
	var lastUser string
	for _, turn := range session.Turns {
		if turn.Role == types.RoleUser {
			lastUser = turn.Content
			continue
		}
		for _, call := range turn.ToolCalls {
			out = append(out, minedCall{call: call, userContext: lastUser})
		}
	}
	return out
}

func windowHasError(window []minedCall) bool {
	for _, mc := range window {
		if mc.call.IsError {
			return true
		}
	}
	return false
}

// containsWindow reports whether needle occurs as a contiguous run in hay.
func containsWindow(hay, needle []string) bool {
	if len(needle) > len(hay) {
		return false
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// mergeSorted unions two sorted string slices.
func mergeSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
