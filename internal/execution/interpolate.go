package execution

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InterpolateTemplate substitutes {{key}} placeholders in a config string
// with resolved block input values. Non-string values are JSON-encoded so
// objects and arrays template cleanly into bodies.
func InterpolateTemplate(template string, inputs map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	result := template
	for key, value := range inputs {
		placeholder := "{{" + key + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		result = strings.ReplaceAll(result, placeholder, stringifyValue(value))
	}
	return result
}

// InterpolateMapValues walks a config map and interpolates every string
// leaf, recursing into nested maps and slices.
func InterpolateMapValues(m map[string]any, inputs map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = interpolateValue(v, inputs)
	}
	return out
}

func interpolateValue(v any, inputs map[string]any) any {
	switch t := v.(type) {
	case string:
		// A string that is exactly one placeholder passes the raw value
		// through, preserving its type.
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
			key := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
			if val, ok := inputs[key]; ok {
				return val
			}
		}
		return InterpolateTemplate(t, inputs)
	case map[string]any:
		return InterpolateMapValues(t, inputs)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = interpolateValue(item, inputs)
		}
		return out
	default:
		return v
	}
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", t)
	default:
		if encoded, err := json.Marshal(t); err == nil {
			return string(encoded)
		}
		return fmt.Sprintf("%v", t)
	}
}
