package vidhi

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
)

const maxParamExamples = 5

// antiUnify generalizes the instances of one sequence into step templates.
// Argument values that are deep-equal across every instance stay literal;
// anything that varies becomes a ${param_*} placeholder with an entry in the
// parameter schema.
func antiUnify(toolNames []string, instances []instance) ([]VidhiStep, map[string]VidhiParam) {
	steps := make([]VidhiStep, len(toolNames))
	schema := make(map[string]VidhiParam)

	for pos, tool := range toolNames {
		args := make([]map[string]interface{}, 0, len(instances))
		for _, inst := range instances {
			args = append(args, inst.calls[pos].Input)
		}
		steps[pos] = VidhiStep{
			Index:       pos,
			Tool:        tool,
			ArgTemplate: unifyArgs(args, pos, schema),
			Description: fmt.Sprintf("call %s", tool),
			Critical:    true,
		}
	}
	if len(schema) == 0 {
		schema = nil
	}
	return steps, schema
}

// unifyArgs merges the argument maps of one step position. Keys absent from
// any instance are treated as varying.
func unifyArgs(args []map[string]interface{}, stepPos int, schema map[string]VidhiParam) map[string]interface{} {
	keys := make(map[string]bool)
	for _, a := range args {
		for k := range a {
			keys[k] = true
		}
	}
	if len(keys) == 0 {
		return nil
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	template := make(map[string]interface{}, len(ordered))
	for _, key := range ordered {
		values := make([]interface{}, 0, len(args))
		present := true
		for _, a := range args {
			v, ok := a[key]
			if !ok {
				present = false
				break
			}
			values = append(values, v)
		}

		if present && allEqual(values) {
			template[key] = values[0]
			continue
		}

		name := paramName(key, stepPos, values, schema)
		template[key] = "${" + name + "}"
		if _, exists := schema[name]; !exists {
			schema[name] = VidhiParam{
				Name:        name,
				Type:        inferType(values),
				Description: fmt.Sprintf("observed values of the %q argument", key),
				Required:    true,
				Examples:    distinctExamples(values),
			}
		}
	}
	return template
}

// paramName derives a schema key from the argument key. When two step
// positions parameterize the same key over the same observed values, the
// placeholder is shared; otherwise the later step gets a suffixed name.
func paramName(key string, stepPos int, values []interface{}, schema map[string]VidhiParam) string {
	base := "param_" + key
	existing, taken := schema[base]
	if !taken {
		return base
	}
	if cmp.Equal(existing.Examples, distinctExamples(values)) {
		return base
	}
	return fmt.Sprintf("%s_%d", base, stepPos)
}

func allEqual(values []interface{}) bool {
	for i := 1; i < len(values); i++ {
		if !cmp.Equal(values[0], values[i]) {
			return false
		}
	}
	return true
}

// inferType maps observed Go values to a schema type. Mixed or exotic types
// collapse to string.
func inferType(values []interface{}) string {
	seen := ""
	for _, v := range values {
		var t string
		switch v.(type) {
		case string:
			t = "string"
		case float64, float32, int, int32, int64:
			t = "number"
		case bool:
			t = "boolean"
		default:
			return "string"
		}
		if seen == "" {
			seen = t
		} else if seen != t {
			return "string"
		}
	}
	if seen == "" {
		return "string"
	}
	return seen
}

// distinctExamples keeps up to five distinct observed values, in first-seen
// order.
func distinctExamples(values []interface{}) []interface{} {
	var out []interface{}
	for _, v := range values {
		if v == nil {
			continue
		}
		dup := false
		for _, have := range out {
			if cmp.Equal(have, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
			if len(out) == maxParamExamples {
				break
			}
		}
	}
	return out
}
