package execution

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"flowhub/internal/models"
)

// stubDefs serves live definitions from a map.
type stubDefs struct {
	workflows map[string]*models.WorkflowDefinition
}

func (s *stubDefs) GetLiveWorkflow(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	def, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	if !def.IsLive {
		return nil, ErrWorkflowNotLive
	}
	return def, nil
}

// stubRows is an in-memory RowAPI that records create calls.
type stubRows struct {
	mu      sync.Mutex
	created []map[string]any
	nextID  int
}

func (s *stubRows) GetRow(_ context.Context, _, entity, rowID string) (*models.Row, error) {
	return &models.Row{ID: rowID, Entity: entity, Data: map[string]any{"id": rowID}}, nil
}

func (s *stubRows) CreateRow(_ context.Context, tenantID, entity string, data map[string]any) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.created = append(s.created, data)
	return &models.Row{ID: fmt.Sprintf("row-%d", s.nextID), TenantID: tenantID, Entity: entity, Data: data}, nil
}

func (s *stubRows) UpdateRow(_ context.Context, _, entity, rowID string, data map[string]any) (*models.Row, error) {
	return &models.Row{ID: rowID, Entity: entity, Data: data}, nil
}

func (s *stubRows) DeleteRow(context.Context, string, string, string) error { return nil }

func (s *stubRows) CountRows(context.Context, string, string, map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.created)), nil
}

type stubInvoker struct {
	output map[string]any
	err    error
}

func (s *stubInvoker) Invoke(context.Context, string, map[string]any) (map[string]any, error) {
	return s.output, s.err
}

func newTestEngine(defs ...*models.WorkflowDefinition) (*Engine, *MemoryStore) {
	workflows := make(map[string]*models.WorkflowDefinition)
	for _, def := range defs {
		workflows[def.ID] = def
	}
	store := NewMemoryStore()
	engine := NewEngine(&stubDefs{workflows: workflows}, store, nil, &stubRows{}, &stubInvoker{}, 0)
	return engine, store
}

func literal(v any) models.Binding   { return models.Binding{Value: v} }
func ref(path string) models.Binding { return models.Binding{Path: path} }

func edge(src, label, dst string) models.Edge {
	return models.Edge{SourceBlockID: src, Label: label, TargetBlockID: dst}
}

// discountWorkflow is the branch example: start, an amount check, one
// setVariable per branch, end.
func discountWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     "wf-discount",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "check", Type: models.BlockTypeIf, ConditionGroups: []models.ConditionsGroup{{
				Type: "AND",
				Conditions: []models.Condition{{
					Left: ref("$.input.amount"), Operator: "gt", Right: literal(100),
				}},
			}}},
			{ID: "big", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"discount": literal(10)}},
			{ID: "small", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"discount": literal(0)}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "check"),
			edge("check", models.EdgeLabelTrue, "big"),
			edge("check", models.EdgeLabelFalse, "small"),
			edge("big", "", "end"),
			edge("small", "", "end"),
		},
	}
}

func approvalWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     "wf-approval",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "approve", Type: models.BlockTypeWaitForInput, Config: map[string]any{"title": "Approve?"}},
			{ID: "answer", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{
				"decision": ref("$.blocks.approve.output.input"),
			}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "approve"),
			edge("approve", "", "answer"),
			edge("answer", "", "end"),
		},
	}
}

func forEachWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     "wf-loop",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "each", Type: models.BlockTypeForEach, Collection: refPtr("$.input.items")},
			{ID: "double", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{
				"item":  ref("$.loop.item"),
				"index": ref("$.loop.index"),
			}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "each"),
			edge("each", models.EdgeLabelLoop, "double"),
			edge("each", models.EdgeLabelDone, "end"),
		},
	}
}

func refPtr(path string) *models.Binding {
	b := ref(path)
	return &b
}

func TestExecute_BranchTrue(t *testing.T) {
	engine, _ := newTestEngine(discountWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-discount", map[string]any{"amount": 150}, models.Session{TenantID: "t1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusSuccess {
		t.Fatalf("status = %s, want success (error: %s)", exec.Status, exec.Error)
	}

	var blockIDs []string
	for _, br := range exec.BlockRuns {
		blockIDs = append(blockIDs, br.BlockID)
	}
	// Reaching end terminates the execution without a run of its own.
	want := []string{"start", "check", "big"}
	if !reflect.DeepEqual(blockIDs, want) {
		t.Fatalf("block order = %v, want %v", blockIDs, want)
	}
	if exec.LatestRunFor("end") != nil {
		t.Error("end block left a block run in the history")
	}

	checkRun := exec.LatestRunFor("check")
	if got := checkRun.Output["condition"]; got != true {
		t.Errorf("if output condition = %v, want true", got)
	}
	if got := exec.LatestRunFor("big").Output["discount"]; got != 10 {
		t.Errorf("discount = %v, want 10", got)
	}
}

func TestExecute_BranchExclusivity(t *testing.T) {
	engine, _ := newTestEngine(discountWorkflow())

	for _, tc := range []struct {
		amount   int
		taken    string
		notTaken string
	}{
		{150, "big", "small"},
		{50, "small", "big"},
	} {
		exec, err := engine.Execute(context.Background(), "wf-discount", map[string]any{"amount": tc.amount}, models.Session{})
		if err != nil {
			t.Fatalf("Execute(amount=%d): %v", tc.amount, err)
		}
		if exec.LatestRunFor(tc.taken) == nil {
			t.Errorf("amount=%d: branch %q not taken", tc.amount, tc.taken)
		}
		if exec.LatestRunFor(tc.notTaken) != nil {
			t.Errorf("amount=%d: both branches taken", tc.amount)
		}
	}
}

func TestExecute_Determinism(t *testing.T) {
	engine, _ := newTestEngine(discountWorkflow())
	input := map[string]any{"amount": 150}

	var outputs [][]map[string]any
	for i := 0; i < 3; i++ {
		exec, err := engine.Execute(context.Background(), "wf-discount", input, models.Session{})
		if err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
		var seq []map[string]any
		for _, br := range exec.BlockRuns {
			seq = append(seq, br.Output)
		}
		outputs = append(outputs, seq)
	}
	for i := 1; i < len(outputs); i++ {
		if !reflect.DeepEqual(outputs[0], outputs[i]) {
			t.Fatalf("run %d outputs differ from run 0:\n%v\nvs\n%v", i, outputs[i], outputs[0])
		}
	}
}

func TestExecute_ForEach(t *testing.T) {
	engine, _ := newTestEngine(forEachWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-loop",
		map[string]any{"items": []any{"a", "b", "c"}}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusSuccess {
		t.Fatalf("status = %s (error: %s)", exec.Status, exec.Error)
	}

	var bodyRuns []models.BlockRun
	for _, br := range exec.BlockRuns {
		if br.BlockID == "double" {
			bodyRuns = append(bodyRuns, br)
		}
	}
	if len(bodyRuns) != 3 {
		t.Fatalf("body runs = %d, want 3", len(bodyRuns))
	}
	for i, br := range bodyRuns {
		if br.IterationPath != fmt.Sprintf("%d", i) {
			t.Errorf("run %d iterationPath = %q", i, br.IterationPath)
		}
		if got := br.Output["item"]; got != []any{"a", "b", "c"}[i] {
			t.Errorf("run %d item = %v", i, got)
		}
		if got := br.Output["index"]; got != i {
			t.Errorf("run %d index = %v, want %d", i, got, i)
		}
	}

	feRun := exec.LatestRunFor("each")
	if got := feRun.Output["count"]; got != 3 {
		t.Errorf("forEach count = %v, want 3", got)
	}
}

func TestExecute_ForEachEmpty(t *testing.T) {
	engine, _ := newTestEngine(forEachWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-loop",
		map[string]any{"items": []any{}}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusSuccess {
		t.Fatalf("status = %s (error: %s)", exec.Status, exec.Error)
	}
	for _, br := range exec.BlockRuns {
		if br.BlockID == "double" {
			t.Fatalf("body ran for an empty collection")
		}
	}
	if got := exec.LatestRunFor("each").Output["count"]; got != 0 {
		t.Errorf("forEach count = %v, want 0", got)
	}
}

func TestExecute_SuspendAndResume(t *testing.T) {
	engine, _ := newTestEngine(approvalWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-approval", nil, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusWaitingBlock {
		t.Fatalf("status = %s, want waitingBlock", exec.Status)
	}
	if exec.WaitingBlock == nil || exec.WaitingBlock.BlockID != "approve" {
		t.Fatalf("waitingBlock = %+v", exec.WaitingBlock)
	}
	if exec.WaitingBlock.Input.Title != "Approve?" {
		t.Errorf("waiting title = %q, want Approve?", exec.WaitingBlock.Input.Title)
	}
	preRuns := len(exec.BlockRuns)
	if last := exec.BlockRuns[preRuns-1]; last.BlockID != "approve" || last.Status != models.BlockRunStatusRunning {
		t.Fatalf("last pre-suspension run = %+v", last)
	}

	resumed, err := engine.ContinueExecution(context.Background(), exec.ID, "yes")
	if err != nil {
		t.Fatalf("ContinueExecution: %v", err)
	}
	if resumed.Status != models.ExecutionStatusSuccess {
		t.Fatalf("resumed status = %s (error: %s)", resumed.Status, resumed.Error)
	}
	if len(resumed.BlockRuns) <= preRuns {
		t.Fatalf("history did not extend: %d -> %d runs", preRuns, len(resumed.BlockRuns))
	}
	// Pre-suspension history must be a strict prefix.
	for i := 0; i < preRuns-1; i++ {
		if resumed.BlockRuns[i].BlockID != exec.BlockRuns[i].BlockID {
			t.Fatalf("history rewritten at %d: %s vs %s", i, resumed.BlockRuns[i].BlockID, exec.BlockRuns[i].BlockID)
		}
	}
	if got := resumed.LatestRunFor("answer").Output["decision"]; got != "yes" {
		t.Errorf("decision = %v, want yes", got)
	}
	if resumed.WaitingBlock != nil {
		t.Errorf("waitingBlock not cleared after resume")
	}
}

func TestContinueExecution_ConcurrentResumes(t *testing.T) {
	engine, _ := newTestEngine(approvalWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-approval", nil, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	const resumers = 2
	errs := make(chan error, resumers)
	var wg sync.WaitGroup
	for i := 0; i < resumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ContinueExecution(context.Background(), exec.ID, "yes")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, notWaiting int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case err == ErrNotWaiting:
			notWaiting++
		default:
			t.Fatalf("unexpected resume error: %v", err)
		}
	}
	if successes != 1 || notWaiting != 1 {
		t.Fatalf("successes=%d notWaiting=%d, want exactly one of each", successes, notWaiting)
	}
}

func TestContinueExecution_NotSuspended(t *testing.T) {
	engine, _ := newTestEngine(discountWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-discount", map[string]any{"amount": 1}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := engine.ContinueExecution(context.Background(), exec.ID, "x"); err != ErrNotWaiting {
		t.Fatalf("resume of completed execution: err = %v, want ErrNotWaiting", err)
	}
	if _, err := engine.ContinueExecution(context.Background(), "missing", "x"); err != ErrExecutionNotFound {
		t.Fatalf("resume of unknown execution: err = %v, want ErrExecutionNotFound", err)
	}
}

func TestExecute_FailFast(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID:     "wf-fail",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "ok", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"a": literal(1)}},
			{ID: "boom", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{
				"b": ref("$.input.shipping.rate"),
			}},
			{ID: "after", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"c": literal(3)}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "ok"),
			edge("ok", "", "boom"),
			edge("boom", "", "after"),
			edge("after", "", "end"),
		},
	}
	engine, _ := newTestEngine(def)

	exec, err := engine.Execute(context.Background(), "wf-fail", nil, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusError {
		t.Fatalf("status = %s, want error", exec.Status)
	}
	if exec.Error == "" {
		t.Error("execution error message is empty")
	}
	if exec.LatestRunFor("after") != nil {
		t.Error("block after the fault still ran")
	}
	for _, id := range []string{"start", "ok"} {
		if br := exec.LatestRunFor(id); br == nil || br.Status != models.BlockRunStatusSuccess {
			t.Errorf("pre-fault block %q not success: %+v", id, br)
		}
	}
}

func TestExecute_SwitchCases(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID:     "wf-switch",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "route", Type: models.BlockTypeSwitch, ConditionGroups: []models.ConditionsGroup{
				{Index: 0, Type: "AND", Conditions: []models.Condition{{
					Left: ref("$.input.tier"), Operator: "eq", Right: literal("gold"),
				}}},
				{Index: 1, Type: "AND", Conditions: []models.Condition{{
					Left: ref("$.input.tier"), Operator: "eq", Right: literal("silver"),
				}}},
			}},
			{ID: "gold", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"rate": literal(0.2)}},
			{ID: "silver", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"rate": literal(0.1)}},
			{ID: "fallback", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"rate": literal(0.0)}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "route"),
			edge("route", "case:0", "gold"),
			edge("route", "case:1", "silver"),
			edge("route", models.EdgeLabelDefault, "fallback"),
			edge("gold", "", "end"),
			edge("silver", "", "end"),
			edge("fallback", "", "end"),
		},
	}
	engine, _ := newTestEngine(def)

	for tier, taken := range map[string]string{"gold": "gold", "silver": "silver", "bronze": "fallback"} {
		exec, err := engine.Execute(context.Background(), "wf-switch", map[string]any{"tier": tier}, models.Session{})
		if err != nil {
			t.Fatalf("Execute(tier=%s): %v", tier, err)
		}
		if exec.Status != models.ExecutionStatusSuccess {
			t.Fatalf("tier=%s: status = %s (%s)", tier, exec.Status, exec.Error)
		}
		count := 0
		for _, id := range []string{"gold", "silver", "fallback"} {
			if exec.LatestRunFor(id) != nil {
				count++
				if id != taken {
					t.Errorf("tier=%s: wrong case %q taken", tier, id)
				}
			}
		}
		if count != 1 {
			t.Errorf("tier=%s: %d cases taken, want 1", tier, count)
		}
	}
}

func TestExecute_SwitchNoMatchNoDefault(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID:     "wf-nomatch",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "route", Type: models.BlockTypeSwitch, ConditionGroups: []models.ConditionsGroup{
				{Index: 0, Conditions: []models.Condition{{
					Left: ref("$.input.tier"), Operator: "eq", Right: literal("gold"),
				}}},
			}},
			{ID: "gold", Type: models.BlockTypeSetVariable},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "route"),
			edge("route", "case:0", "gold"),
			edge("gold", "", "end"),
		},
	}
	engine, _ := newTestEngine(def)

	exec, err := engine.Execute(context.Background(), "wf-nomatch", map[string]any{"tier": "bronze"}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusError {
		t.Fatalf("status = %s, want error", exec.Status)
	}
}

func TestExecute_ResumeInsideLoop(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID:     "wf-loop-wait",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "each", Type: models.BlockTypeForEach, Collection: refPtr("$.input.items")},
			{ID: "confirm", Type: models.BlockTypeWaitForInput, Config: map[string]any{"title": "Continue?"}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "each"),
			edge("each", models.EdgeLabelLoop, "confirm"),
			edge("each", models.EdgeLabelDone, "end"),
		},
	}
	engine, _ := newTestEngine(def)

	exec, err := engine.Execute(context.Background(), "wf-loop-wait",
		map[string]any{"items": []any{"x", "y"}}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionStatusWaitingBlock {
		t.Fatalf("status = %s, want waitingBlock (error: %s)", exec.Status, exec.Error)
	}

	// First resume lands on iteration 1, suspending again.
	exec, err = engine.ContinueExecution(context.Background(), exec.ID, "go")
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if exec.Status != models.ExecutionStatusWaitingBlock {
		t.Fatalf("after first resume: status = %s (error: %s)", exec.Status, exec.Error)
	}

	exec, err = engine.ContinueExecution(context.Background(), exec.ID, "go")
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if exec.Status != models.ExecutionStatusSuccess {
		t.Fatalf("after second resume: status = %s (error: %s)", exec.Status, exec.Error)
	}

	var paths []string
	for _, br := range exec.BlockRuns {
		if br.BlockID == "confirm" {
			paths = append(paths, br.IterationPath)
		}
	}
	if !reflect.DeepEqual(paths, []string{"0", "1"}) {
		t.Fatalf("confirm iteration paths = %v, want [0 1]", paths)
	}
}

// nestedLoopWorkflow iterates groups from the input and, per group, iterates
// the group's own subs list, pausing for input on every element.
func nestedLoopWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     "wf-nested",
		IsLive: true,
		Blocks: []models.Block{
			{ID: "start", Type: models.BlockTypeStart},
			{ID: "outer", Type: models.BlockTypeForEach, Collection: refPtr("$.input.groups")},
			{ID: "inner", Type: models.BlockTypeForEach, Collection: refPtr("$.loop.item.subs")},
			{ID: "confirm", Type: models.BlockTypeWaitForInput, Config: map[string]any{"title": "Next?"}},
			{ID: "mark", Type: models.BlockTypeSetVariable, Input: map[string]models.Binding{"done": literal(true)}},
			{ID: "end", Type: models.BlockTypeEnd},
		},
		Edges: []models.Edge{
			edge("start", "", "outer"),
			edge("outer", models.EdgeLabelLoop, "inner"),
			edge("outer", models.EdgeLabelDone, "end"),
			edge("inner", models.EdgeLabelLoop, "confirm"),
			edge("inner", models.EdgeLabelDone, "mark"),
		},
	}
}

func TestExecute_ResumeInsideNestedLoop(t *testing.T) {
	engine, _ := newTestEngine(nestedLoopWorkflow())

	exec, err := engine.Execute(context.Background(), "wf-nested", map[string]any{
		"groups": []any{
			map[string]any{"subs": []any{"a", "b"}},
			map[string]any{"subs": []any{"c"}},
		},
	}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Three elements in total, so three suspensions before completion. Each
	// resume must rebuild both frames, re-resolving the inner collection
	// against the outer loop variable.
	for i := 0; i < 3; i++ {
		if exec.Status != models.ExecutionStatusWaitingBlock {
			t.Fatalf("before resume %d: status = %s (error: %s)", i, exec.Status, exec.Error)
		}
		exec, err = engine.ContinueExecution(context.Background(), exec.ID, "go")
		if err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
	}
	if exec.Status != models.ExecutionStatusSuccess {
		t.Fatalf("final status = %s (error: %s)", exec.Status, exec.Error)
	}

	var paths []string
	for _, br := range exec.BlockRuns {
		if br.BlockID == "confirm" {
			paths = append(paths, br.IterationPath)
		}
	}
	if !reflect.DeepEqual(paths, []string{"0/0", "0/1", "1/0"}) {
		t.Fatalf("confirm iteration paths = %v, want [0/0 0/1 1/0]", paths)
	}
	if got := exec.LatestRunFor("outer").Output["count"]; got != 2 {
		t.Errorf("outer count = %v, want 2", got)
	}
}

// countingRecorder tallies RecordBlockRun calls by type and status.
type countingRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingRecorder) RecordBlockRun(blockType, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[blockType+"/"+status]++
}

func TestExecute_ReportsBlockRunOutcomes(t *testing.T) {
	engine, _ := newTestEngine(discountWorkflow())
	recorder := &countingRecorder{}
	engine.SetBlockRunRecorder(recorder)

	if _, err := engine.Execute(context.Background(), "wf-discount", map[string]any{"amount": 150}, models.Session{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := map[string]int{
		"start/success":       1,
		"if/success":          1,
		"setVariable/success": 1,
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if !reflect.DeepEqual(recorder.calls, want) {
		t.Fatalf("recorded outcomes = %v, want %v", recorder.calls, want)
	}
}

func TestExecute_WorkflowNotLive(t *testing.T) {
	def := discountWorkflow()
	def.IsLive = false
	engine, _ := newTestEngine(def)

	if _, err := engine.Execute(context.Background(), def.ID, nil, models.Session{}); err != ErrWorkflowNotLive {
		t.Fatalf("err = %v, want ErrWorkflowNotLive", err)
	}
	if _, err := engine.Execute(context.Background(), "missing", nil, models.Session{}); err != ErrWorkflowNotFound {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestExecute_RequiredInput(t *testing.T) {
	def := discountWorkflow()
	def.InputSchema = []models.InputField{{Name: "amount", Type: "number", Required: true}}
	engine, _ := newTestEngine(def)

	_, err := engine.Execute(context.Background(), def.ID, map[string]any{}, models.Session{})
	if err == nil {
		t.Fatal("expected invalid input error")
	}
	if f := AsFault(err); f.Code != FaultInvalidInput {
		t.Fatalf("fault code = %s, want %s", f.Code, FaultInvalidInput)
	}
}
