package execution

import (
	"strings"
	"testing"

	"flowhub/internal/models"
)

func validDefinition() *models.WorkflowDefinition {
	return discountWorkflow()
}

func TestValidateDefinition_Valid(t *testing.T) {
	if err := ValidateDefinition(validDefinition()); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
	if err := ValidateDefinition(forEachWorkflow()); err != nil {
		t.Fatalf("valid forEach definition rejected: %v", err)
	}
	// answer binds approve's output, an upstream block.
	if err := ValidateDefinition(approvalWorkflow()); err != nil {
		t.Fatalf("valid binding to upstream block rejected: %v", err)
	}
	if err := ValidateDefinition(nestedLoopWorkflow()); err != nil {
		t.Fatalf("valid nested loop definition rejected: %v", err)
	}
}

func TestValidateDefinition_Violations(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(*models.WorkflowDefinition)
		wantMsg string
	}{
		{
			"duplicate block id",
			func(d *models.WorkflowDefinition) {
				d.Blocks = append(d.Blocks, models.Block{ID: "check", Type: models.BlockTypeSetVariable})
			},
			"duplicate block id",
		},
		{
			"no start block",
			func(d *models.WorkflowDefinition) { d.Blocks = d.Blocks[1:] },
			"no start block",
		},
		{
			"two start blocks",
			func(d *models.WorkflowDefinition) {
				d.Blocks = append(d.Blocks, models.Block{ID: "start2", Type: models.BlockTypeStart})
			},
			"expected exactly one",
		},
		{
			"unknown block type",
			func(d *models.WorkflowDefinition) { d.Blocks[2].Type = "teleport" },
			"unknown type",
		},
		{
			"edge to unknown target",
			func(d *models.WorkflowDefinition) {
				d.Edges = append(d.Edges, models.Edge{SourceBlockID: "start", Label: "default", TargetBlockID: "ghost"})
			},
			"unknown target",
		},
		{
			"illegal label for if",
			func(d *models.WorkflowDefinition) { d.Edges[1].Label = "maybe" },
			"cannot have an outgoing edge",
		},
		{
			"missing false edge",
			func(d *models.WorkflowDefinition) { d.Edges = append(d.Edges[:2], d.Edges[3:]...) },
			"needs both",
		},
		{
			"if without conditions",
			func(d *models.WorkflowDefinition) { d.Blocks[1].ConditionGroups = nil },
			"has no conditions",
		},
		{
			"forward reference to unknown block",
			func(d *models.WorkflowDefinition) {
				d.Blocks[2].Input["extra"] = models.Binding{Path: "$.blocks.phantom.output.x"}
			},
			"references unknown block",
		},
		{
			"outgoing edge from end",
			func(d *models.WorkflowDefinition) {
				d.Edges = append(d.Edges, models.Edge{SourceBlockID: "end", Label: "default", TargetBlockID: "start"})
			},
			"cannot have an outgoing edge",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mod(def)
			err := ValidateDefinition(def)
			if err == nil {
				t.Fatal("invalid definition accepted")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
			if f := AsFault(err); f.Code != FaultInvalidDefinition {
				t.Errorf("fault code = %s, want %s", f.Code, FaultInvalidDefinition)
			}
		})
	}
}

func TestValidateDefinition_CycleRejected(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID: "wf-cycle",
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "a", Type: models.BlockTypeSetVariable},
			{ID: "b", Type: models.BlockTypeSetVariable},
		},
		Edges: []models.Edge{
			{SourceBlockID: "start", TargetBlockID: "a"},
			{SourceBlockID: "a", TargetBlockID: "b"},
			{SourceBlockID: "b", TargetBlockID: "a"},
		},
	}
	err := ValidateDefinition(def)
	if err == nil {
		t.Fatal("cyclic definition accepted")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %q does not mention the cycle", err)
	}
}

func TestValidateDefinition_UnreachableBlock(t *testing.T) {
	def := validDefinition()
	def.Blocks = append(def.Blocks, models.Block{ID: "island", Type: models.BlockTypeSetVariable})

	err := ValidateDefinition(def)
	if err == nil {
		t.Fatal("definition with unreachable block accepted")
	}
	if !strings.Contains(err.Error(), "unreachable from start") {
		t.Errorf("error %q does not mention reachability", err)
	}
}

func TestValidateDefinition_BindingOrder(t *testing.T) {
	// big and small sit on mutually exclusive branches, so neither precedes
	// the other; the same holds for a block binding its own output.
	def := validDefinition()
	def.Blocks[2].Input["peek"] = models.Binding{Path: "$.blocks.small.output.discount"}
	err := ValidateDefinition(def)
	if err == nil || !strings.Contains(err.Error(), "does not precede") {
		t.Fatalf("cross-branch binding: %v", err)
	}

	def = validDefinition()
	def.Blocks[1].ConditionGroups[0].Conditions[0].Left = models.Binding{Path: "$.blocks.big.output.discount"}
	err = ValidateDefinition(def)
	if err == nil || !strings.Contains(err.Error(), "does not precede") {
		t.Fatalf("downstream condition binding: %v", err)
	}

	def = validDefinition()
	def.Blocks[2].Input["self"] = models.Binding{Path: "$.blocks.big.output.discount"}
	err = ValidateDefinition(def)
	if err == nil || !strings.Contains(err.Error(), "does not precede") {
		t.Fatalf("self binding: %v", err)
	}
}

func TestValidateDefinition_DoneBranchBindsLoopBody(t *testing.T) {
	// Every iteration runs before the done edge is taken, so the done branch
	// may bind a body block's output.
	def := forEachWorkflow()
	def.Blocks = append(def.Blocks, models.Block{
		ID:   "summary",
		Type: models.BlockTypeSetVariable,
		Input: map[string]models.Binding{
			"lastItem": {Path: "$.blocks.double.output.item"},
		},
	})
	def.Edges[2] = edge("each", models.EdgeLabelDone, "summary")
	def.Edges = append(def.Edges, edge("summary", "", "end"))

	if err := ValidateDefinition(def); err != nil {
		t.Fatalf("done-branch binding to loop body rejected: %v", err)
	}
}

func TestValidateDefinition_ForEachShape(t *testing.T) {
	def := forEachWorkflow()
	def.Blocks[1].Collection = nil
	if err := ValidateDefinition(def); err == nil || !strings.Contains(err.Error(), "no collection binding") {
		t.Fatalf("forEach without collection: %v", err)
	}

	def = forEachWorkflow()
	def.Edges = def.Edges[:2] // drop the done edge
	if err := ValidateDefinition(def); err == nil || !strings.Contains(err.Error(), `no "done" edge`) {
		t.Fatalf("forEach without done edge: %v", err)
	}
}

func TestValidateInput(t *testing.T) {
	def := &models.WorkflowDefinition{
		InputSchema: []models.InputField{
			{Name: "amount", Type: "number", Required: true},
			{Name: "note", Type: "string"},
		},
	}
	if err := ValidateInput(def, map[string]any{"amount": 5}); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	// Extra fields pass through.
	if err := ValidateInput(def, map[string]any{"amount": 5, "surprise": true}); err != nil {
		t.Fatalf("extra field rejected: %v", err)
	}
	err := ValidateInput(def, map[string]any{"note": "hi"})
	if err == nil {
		t.Fatal("missing required field accepted")
	}
	if f := AsFault(err); f.Code != FaultInvalidInput {
		t.Errorf("fault code = %s, want %s", f.Code, FaultInvalidInput)
	}
}
