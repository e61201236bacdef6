package execution

import (
	"fmt"
	"strconv"
	"strings"

	"flowhub/internal/models"
)

// EvaluateGroups evaluates a block's ordered condition groups against a
// scope and returns the index of the first group that matches, or -1 when
// none does. Bindings inside conditions resolve the same way block inputs
// do; an unresolvable binding fails the whole evaluation.
func EvaluateGroups(groups []models.ConditionsGroup, scope *Scope) (int, error) {
	for _, group := range groups {
		matched, err := evaluateGroup(group, scope)
		if err != nil {
			return -1, err
		}
		if matched {
			return group.Index, nil
		}
	}
	return -1, nil
}

func evaluateGroup(group models.ConditionsGroup, scope *Scope) (bool, error) {
	if len(group.Conditions) == 0 {
		// An empty group is an explicit "always" arm, used for defaults.
		return true, nil
	}
	isAnd := !strings.EqualFold(group.Type, "OR")
	for _, cond := range group.Conditions {
		ok, err := evaluateCondition(cond, scope)
		if err != nil {
			return false, err
		}
		if isAnd && !ok {
			return false, nil
		}
		if !isAnd && ok {
			return true, nil
		}
	}
	return isAnd, nil
}

func evaluateCondition(cond models.Condition, scope *Scope) (bool, error) {
	left, err := Resolve(cond.Left, scope)
	if err != nil {
		return false, err
	}

	op := strings.ToLower(strings.TrimSpace(cond.Operator))

	// Unary operators ignore the right side.
	switch op {
	case "is_empty":
		return isEmpty(left), nil
	case "not_empty":
		return !isEmpty(left), nil
	case "is_true":
		return isTruthy(left), nil
	case "is_false":
		return !isTruthy(left), nil
	}

	right, err := Resolve(cond.Right, scope)
	if err != nil {
		return false, err
	}

	switch op {
	case "eq", "equals", "==":
		return valuesEqual(left, right), nil
	case "neq", "not_equals", "!=":
		return !valuesEqual(left, right), nil
	case "contains":
		return strings.Contains(toStringValue(left), toStringValue(right)), nil
	case "not_contains":
		return !strings.Contains(toStringValue(left), toStringValue(right)), nil
	case "starts_with":
		return strings.HasPrefix(toStringValue(left), toStringValue(right)), nil
	case "ends_with":
		return strings.HasSuffix(toStringValue(left), toStringValue(right)), nil
	case "gt", ">":
		return compareNumeric(left, right, func(a, b float64) bool { return a > b })
	case "gte", ">=":
		return compareNumeric(left, right, func(a, b float64) bool { return a >= b })
	case "lt", "<":
		return compareNumeric(left, right, func(a, b float64) bool { return a < b })
	case "lte", "<=":
		return compareNumeric(left, right, func(a, b float64) bool { return a <= b })
	default:
		return false, NewFault(FaultInvalidDefinition, "", "unknown condition operator %q", cond.Operator)
	}
}

func compareNumeric(left, right any, cmp func(a, b float64) bool) (bool, error) {
	l, lok := toFloat(left)
	r, rok := toFloat(right)
	if !lok || !rok {
		return false, nil
	}
	return cmp(l, r), nil
}

// valuesEqual compares numerically when both sides are numbers (so 2 == 2.0)
// and falls back to string comparison otherwise.
func valuesEqual(left, right any) bool {
	if l, lok := toFloat(left); lok {
		if r, rok := toFloat(right); rok {
			return l == r
		}
	}
	return toStringValue(left) == toStringValue(right)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toStringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		lower := strings.ToLower(strings.TrimSpace(t))
		return lower != "" && lower != "false" && lower != "0" && lower != "no"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
