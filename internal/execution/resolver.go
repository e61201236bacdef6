package execution

import (
	"fmt"
	"strconv"
	"strings"

	"flowhub/internal/models"
)

// Scope is the data-flow context a binding resolves against: the workflow
// input, the accumulated outputs of prior blocks, and (inside a forEach body)
// the current loop element. Resolution never mutates a scope.
type Scope struct {
	WorkflowInput map[string]any
	BlockOutputs  map[string]map[string]any
	Loop          *LoopScope
}

// LoopScope is the innermost forEach frame visible to bindings.
type LoopScope struct {
	Item  any
	Index int
}

// Binding path prefixes.
const (
	pathPrefixInput  = "$.input"
	pathPrefixBlocks = "$.blocks"
	pathPrefixLoop   = "$.loop"
)

// Resolve resolves a single binding to a concrete value. Literal bindings
// return their value as-is. A reference that cannot be resolved (unknown
// prefix, block that never ran, missing intermediate key) returns an
// UnresolvedBindingError so the caller can degrade to a block-level fault
// instead of crashing the interpreter.
func Resolve(binding models.Binding, scope *Scope) (any, error) {
	if binding.IsLiteral() {
		return binding.Value, nil
	}

	path := strings.TrimSpace(binding.Path)
	switch {
	case path == pathPrefixInput:
		return scope.WorkflowInput, nil

	case strings.HasPrefix(path, pathPrefixInput+"."):
		rest := strings.TrimPrefix(path, pathPrefixInput+".")
		val, ok := traversePath(scope.WorkflowInput, rest)
		if !ok {
			return nil, unresolved(path, "workflow input has no value at %q", rest)
		}
		return val, nil

	case strings.HasPrefix(path, pathPrefixBlocks+"."):
		rest := strings.TrimPrefix(path, pathPrefixBlocks+".")
		blockID, outputPath, ok := splitBlockRef(rest)
		if !ok {
			return nil, unresolved(path, "malformed block reference")
		}
		output, ran := scope.BlockOutputs[blockID]
		if !ran {
			return nil, unresolved(path, "block %q has not produced an output (untaken branch or forward reference)", blockID)
		}
		if outputPath == "" {
			return output, nil
		}
		val, found := traversePath(output, outputPath)
		if !found {
			return nil, unresolved(path, "block %q output has no value at %q", blockID, outputPath)
		}
		return val, nil

	case path == pathPrefixLoop+".item" || strings.HasPrefix(path, pathPrefixLoop+".item."):
		if scope.Loop == nil {
			return nil, unresolved(path, "loop reference outside a forEach body")
		}
		rest := strings.TrimPrefix(path, pathPrefixLoop+".item")
		rest = strings.TrimPrefix(rest, ".")
		if rest == "" {
			return scope.Loop.Item, nil
		}
		item, ok := scope.Loop.Item.(map[string]any)
		if !ok {
			return nil, unresolved(path, "loop item is not an object")
		}
		val, found := traversePath(item, rest)
		if !found {
			return nil, unresolved(path, "loop item has no value at %q", rest)
		}
		return val, nil

	case path == pathPrefixLoop+".index":
		if scope.Loop == nil {
			return nil, unresolved(path, "loop reference outside a forEach body")
		}
		return scope.Loop.Index, nil

	default:
		return nil, unresolved(path, "unknown binding root")
	}
}

// ResolveInputs resolves a block's declared input bindings into a concrete
// payload. The first unresolvable binding aborts with its error.
func ResolveInputs(inputs map[string]models.Binding, scope *Scope) (map[string]any, error) {
	if len(inputs) == 0 {
		return map[string]any{}, nil
	}
	resolved := make(map[string]any, len(inputs))
	for key, binding := range inputs {
		val, err := Resolve(binding, scope)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		resolved[key] = val
	}
	return resolved, nil
}

// ReferencedBlockID returns the block id a binding references, or "" for
// literals, input and loop references. Validation uses this to reject
// forward references.
func ReferencedBlockID(binding models.Binding) string {
	path := strings.TrimSpace(binding.Path)
	if !strings.HasPrefix(path, pathPrefixBlocks+".") {
		return ""
	}
	blockID, _, ok := splitBlockRef(strings.TrimPrefix(path, pathPrefixBlocks+"."))
	if !ok {
		return ""
	}
	return blockID
}

// splitBlockRef splits "<blockId>.output.rest" into (blockId, rest).
// The ".output" segment is mandatory; it keeps block references unambiguous
// if per-block metadata ever becomes addressable.
func splitBlockRef(ref string) (blockID, outputPath string, ok bool) {
	idx := strings.Index(ref, ".")
	if idx <= 0 {
		return "", "", false
	}
	blockID = ref[:idx]
	rest := ref[idx+1:]
	if rest == "output" {
		return blockID, "", true
	}
	if strings.HasPrefix(rest, "output.") {
		return blockID, strings.TrimPrefix(rest, "output."), true
	}
	return "", "", false
}

// traversePath walks a dot-notation path through nested maps and slices.
// Supports field access ("a.b"), bracket indexing ("items[2]") and bare
// numeric segments ("items.2"). A missing intermediate returns ok=false
// rather than panicking.
func traversePath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		if current == nil {
			return nil, false
		}

		if idx := strings.Index(part, "["); idx != -1 && strings.HasSuffix(part, "]") {
			field := part[:idx]
			index, err := strconv.Atoi(part[idx+1 : len(part)-1])
			if err != nil {
				return nil, false
			}
			if field != "" {
				m, ok := current.(map[string]any)
				if !ok {
					return nil, false
				}
				current, ok = m[field]
				if !ok {
					return nil, false
				}
			}
			arr, ok := current.([]any)
			if !ok || index < 0 || index >= len(arr) {
				return nil, false
			}
			current = arr[index]
			continue
		}

		switch c := current.(type) {
		case map[string]any:
			val, ok := c[part]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(c) {
				return nil, false
			}
			current = c[index]
		default:
			return nil, false
		}
	}
	return current, true
}
