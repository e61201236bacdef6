package execution

import (
	"testing"

	"flowhub/internal/models"
)

func cond(left any, op string, right any) models.Condition {
	return models.Condition{
		Left:     models.Binding{Value: left},
		Operator: op,
		Right:    models.Binding{Value: right},
	}
}

func TestEvaluateCondition_Operators(t *testing.T) {
	scope := &Scope{WorkflowInput: map[string]any{}, BlockOutputs: map[string]map[string]any{}}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"eq strings", cond("a", "eq", "a"), true},
		{"eq numeric cross-type", cond(2, "eq", 2.0), true},
		{"eq numeric strings", cond("10", "eq", 10), true},
		{"neq", cond("a", "neq", "b"), true},
		{"contains", cond("hello world", "contains", "lo wo"), true},
		{"not_contains", cond("hello", "not_contains", "xyz"), true},
		{"starts_with", cond("workflow", "starts_with", "work"), true},
		{"ends_with", cond("workflow", "ends_with", "flow"), true},
		{"gt", cond(150, "gt", 100), true},
		{"gt false", cond(100, "gt", 100), false},
		{"gte boundary", cond(100, "gte", 100), true},
		{"lt", cond(5, "lt", 10), true},
		{"lte", cond(10, "lte", 10), true},
		{"gt non-numeric", cond("abc", "gt", 5), false},
		{"is_empty nil", cond(nil, "is_empty", nil), true},
		{"is_empty blank", cond("  ", "is_empty", nil), true},
		{"not_empty", cond("x", "not_empty", nil), true},
		{"is_true bool", cond(true, "is_true", nil), true},
		{"is_true string", cond("yes", "is_true", nil), true},
		{"is_true zero", cond(0, "is_true", nil), false},
		{"is_false", cond(false, "is_false", nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateCondition(tt.cond, scope)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_UnknownOperator(t *testing.T) {
	scope := &Scope{}
	if _, err := evaluateCondition(cond(1, "almost_equals", 2), scope); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestEvaluateGroups(t *testing.T) {
	scope := &Scope{WorkflowInput: map[string]any{"n": 7}}

	groups := []models.ConditionsGroup{
		{Index: 0, Type: "AND", Conditions: []models.Condition{
			{Left: models.Binding{Path: "$.input.n"}, Operator: "gt", Right: models.Binding{Value: 10}},
		}},
		{Index: 1, Type: "AND", Conditions: []models.Condition{
			{Left: models.Binding{Path: "$.input.n"}, Operator: "gt", Right: models.Binding{Value: 5}},
			{Left: models.Binding{Path: "$.input.n"}, Operator: "lt", Right: models.Binding{Value: 10}},
		}},
	}
	idx, err := EvaluateGroups(groups, scope)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("matched case %d, want 1", idx)
	}

	scope.WorkflowInput["n"] = 1
	idx, err = EvaluateGroups(groups, scope)
	if err != nil {
		t.Fatal(err)
	}
	if idx != -1 {
		t.Errorf("matched case %d, want -1 (no match)", idx)
	}
}

func TestEvaluateGroup_OrSemantics(t *testing.T) {
	scope := &Scope{}
	group := models.ConditionsGroup{Type: "OR", Conditions: []models.Condition{
		cond(1, "eq", 2),
		cond("a", "eq", "a"),
	}}
	ok, err := evaluateGroup(group, scope)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("OR group with one passing condition did not match")
	}
}

func TestEvaluateGroup_EmptyIsAlways(t *testing.T) {
	ok, err := evaluateGroup(models.ConditionsGroup{Type: "AND"}, &Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("empty group should always match")
	}
}
