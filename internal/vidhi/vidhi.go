// Package vidhi implements procedural memory: recurring tool-call sequences
// are mined from past sessions, generalized into parameterized templates, and
// recalled by trigger matching with Thompson-sampled ranking.
package vidhi

import (
	"fmt"
	"hash/fnv"
	"strings"

	"chitragupta/internal/types"
)

// VidhiStep is one step of a learned procedure. ArgTemplate holds literal
// argument values plus ${param_*} placeholders for the positions that varied
// across observations. Every mined step is critical: the sequence was only
// ever observed whole.
type VidhiStep struct {
	Index       int                    `json:"index"`
	Tool        string                 `json:"tool"`
	ArgTemplate map[string]interface{} `json:"arg_template,omitempty"`
	Description string                 `json:"description,omitempty"`
	Critical    bool                   `json:"critical"`
}

// VidhiParam describes one placeholder: its inferred type and up to five
// distinct values observed for it. Mined parameters carry no default, so
// they are always required.
type VidhiParam struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"` // string | number | boolean
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Examples    []interface{} `json:"examples,omitempty"`
}

// Vidhi is a learned procedure.
type Vidhi struct {
	ID              string                `json:"id"`
	Project         string                `json:"project"`
	Name            string                `json:"name"`
	Steps           []VidhiStep           `json:"steps"`
	Triggers        []string              `json:"triggers,omitempty"` // at most 10
	ParameterSchema map[string]VidhiParam `json:"parameter_schema,omitempty"`
	LearnedFrom     []string              `json:"learned_from"` // session ids
	Confidence      float64               `json:"confidence"`
	SuccessCount    int                   `json:"success_count"`
	FailureCount    int                   `json:"failure_count"`
	SuccessRate     float64               `json:"success_rate"`
	types.Timestamped
}

// clone returns a deep-enough copy for external readers: slices and the
// schema map are fresh, argument values are shared read-only.
func (v *Vidhi) clone() Vidhi {
	out := *v
	out.Steps = make([]VidhiStep, len(v.Steps))
	copy(out.Steps, v.Steps)
	out.Triggers = append([]string(nil), v.Triggers...)
	out.LearnedFrom = append([]string(nil), v.LearnedFrom...)
	if v.ParameterSchema != nil {
		out.ParameterSchema = make(map[string]VidhiParam, len(v.ParameterSchema))
		for k, p := range v.ParameterSchema {
			out.ParameterSchema[k] = p
		}
	}
	return out
}

// refreshSuccessRate recomputes the Beta(1,1) posterior mean.
func (v *Vidhi) refreshSuccessRate() {
	v.SuccessRate = float64(v.SuccessCount+1) / float64(v.SuccessCount+v.FailureCount+2)
}

// vidhiID derives the deterministic id: FNV-1a over the project and the
// normalized step template (pipe-joined tool names).
func vidhiID(project string, toolNames []string) string {
	h := fnv.New64a()
	h.Write([]byte(project))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(toolNames, "|")))
	return fmt.Sprintf("vidhi-%016x", h.Sum64())
}

// vidhiName renders a human-readable name from the step sequence.
func vidhiName(toolNames []string) string {
	return strings.Join(toolNames, " -> ")
}
