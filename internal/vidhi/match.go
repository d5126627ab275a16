package vidhi

import (
	"chitragupta/internal/logging"
)

// Match scores every stored vidhi against a natural-language request and
// returns the best one, or nil. Score = Jaccard(query tokens, trigger token
// union) x one Thompson draw from Beta(successCount+1, failureCount+1);
// vidhis with zero trigger overlap never match.
func (e *Engine) Match(query string) *Vidhi {
	queryTokens := tokenSet(tokenize(query))
	if len(queryTokens) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var best *Vidhi
	bestScore := 0.0
	for _, v := range e.vidhis {
		j := jaccard(queryTokens, triggerTokens(v))
		if j == 0 {
			continue
		}
		u := e.sampleBeta(float64(v.SuccessCount+1), float64(v.FailureCount+1))
		if score := j * u; score > bestScore {
			bestScore = score
			best = v
		}
	}
	if best == nil {
		return nil
	}

	logging.VidhiDebug("matched %s (score %.3f) for %q", best.ID, bestScore, query)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditVidhiMatched,
		Target:    best.ID,
		Success:   true,
		Fields:    map[string]interface{}{"score": bestScore},
	})
	out := best.clone()
	return &out
}

// triggerTokens unions the token sets of every trigger phrase.
func triggerTokens(v *Vidhi) map[string]bool {
	set := make(map[string]bool)
	for _, trigger := range v.Triggers {
		for _, tok := range tokenize(trigger) {
			set[tok] = true
		}
	}
	return set
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
