package execution

import (
	"fmt"
	"time"
)

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func getStringOr(m map[string]any, key, fallback string) string {
	if s := getString(m, key); s != "" {
		return s
	}
	return fallback
}

func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key]; ok {
		if mm, ok := v.(map[string]any); ok {
			return mm
		}
	}
	return nil
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		if f, fok := toFloat(v); fok {
			return f
		}
	}
	return fallback
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// timeAfter is swapped by tests to avoid real sleeps in retry paths.
var timeAfter = time.After
