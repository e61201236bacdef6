package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"flowhub/internal/models"
)

// TransformExecutor runs transform blocks: pure reshaping of resolved inputs
// with a small, closed operation set. No side effects, so transform blocks
// participate in deterministic replay.
type TransformExecutor struct{}

func NewTransformExecutor() *TransformExecutor {
	return &TransformExecutor{}
}

func (e *TransformExecutor) Execute(_ context.Context, block *models.Block, inputs map[string]any, _ models.Session) (map[string]any, error) {
	operation := getStringOr(block.Config, "operation", "passthrough")

	switch operation {
	case "passthrough":
		return map[string]any{"result": inputs}, nil

	case "pick":
		keys := stringSlice(block.Config["keys"])
		picked := make(map[string]any, len(keys))
		for _, key := range keys {
			if v, ok := inputs[key]; ok {
				picked[key] = v
			}
		}
		return map[string]any{"result": picked}, nil

	case "template":
		tmpl := getString(block.Config, "template")
		return map[string]any{"result": InterpolateTemplate(tmpl, inputs)}, nil

	case "join":
		items, ok := inputs["items"].([]any)
		if !ok {
			return nil, NewPermanentError(fmt.Errorf("transform join: input %q is not an array", "items"))
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = toStringValue(item)
		}
		sep := getStringOr(block.Config, "separator", ",")
		return map[string]any{"result": strings.Join(parts, sep)}, nil

	case "count":
		items, ok := inputs["items"].([]any)
		if !ok {
			return nil, NewPermanentError(fmt.Errorf("transform count: input %q is not an array", "items"))
		}
		return map[string]any{"result": len(items)}, nil

	case "sort":
		items, ok := inputs["items"].([]any)
		if !ok {
			return nil, NewPermanentError(fmt.Errorf("transform sort: input %q is not an array", "items"))
		}
		sorted := make([]any, len(items))
		copy(sorted, items)
		key := getString(block.Config, "key")
		sort.SliceStable(sorted, func(i, j int) bool {
			return lessValues(sortValue(sorted[i], key), sortValue(sorted[j], key))
		})
		if getString(block.Config, "order") == "desc" {
			for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
		return map[string]any{"result": sorted}, nil

	default:
		return nil, NewPermanentError(fmt.Errorf("unknown transform operation %q", operation))
	}
}

func sortValue(item any, key string) any {
	if key == "" {
		return item
	}
	if m, ok := item.(map[string]any); ok {
		return m[key]
	}
	return item
}

func lessValues(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa < fb
		}
	}
	return toStringValue(a) < toStringValue(b)
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
