package execution

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowhub/internal/models"
)

// DefinitionSource resolves workflow ids to their live definitions.
type DefinitionSource interface {
	GetLiveWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
}

// Engine is the sequential workflow interpreter. One Execute or
// ContinueExecution call is one interpreter pass: blocks run strictly one
// at a time, state is persisted through the Store at every block boundary,
// and a full snapshot goes to the progress sink after every change.
type Engine struct {
	defs  DefinitionSource
	store Store
	sink  ProgressSink

	httpExec      *HTTPRequestExecutor
	transformExec *TransformExecutor
	setVarExec    *SetVariableExecutor
	rowExec       *RowExecutor
	promptExec    *PromptFlowExecutor

	recorder  BlockRunRecorder
	retention time.Duration
}

// BlockRunRecorder observes finished block runs, typically for metrics.
type BlockRunRecorder interface {
	RecordBlockRun(blockType, status string)
}

// SetBlockRunRecorder attaches an observer for block run outcomes.
func (e *Engine) SetBlockRunRecorder(rec BlockRunRecorder) {
	e.recorder = rec
}

// NewEngine wires the interpreter with its collaborators. retention controls
// how long finished executions stay queryable before cleanup reclaims them.
func NewEngine(defs DefinitionSource, store Store, sink ProgressSink, rows RowAPI, invoker PromptFlowInvoker, retention time.Duration) *Engine {
	if sink == nil {
		sink = NopProgressSink{}
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Engine{
		defs:          defs,
		store:         store,
		sink:          sink,
		httpExec:      NewHTTPRequestExecutor(),
		transformExec: NewTransformExecutor(),
		setVarExec:    NewSetVariableExecutor(),
		rowExec:       NewRowExecutor(rows),
		promptExec:    NewPromptFlowExecutor(invoker),
		retention:     retention,
	}
}

// Prepare validates a run request and persists the initial running
// execution. Callers follow with Run, either inline (synchronous mode) or
// on a background goroutine (streaming mode, where the caller returns the
// execution id immediately and clients follow progress over the sink).
func (e *Engine) Prepare(ctx context.Context, workflowID string, input map[string]any, sess models.Session) (*models.Execution, *models.WorkflowDefinition, error) {
	def, err := e.defs.GetLiveWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateDefinition(def); err != nil {
		return nil, nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := ValidateInput(def, input); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	exec := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		Status:     models.ExecutionStatusRunning,
		Input:      input,
		BlockRuns:  []models.BlockRun{},
		Session:    sess,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.retention),
	}
	if err := e.store.Create(ctx, exec); err != nil {
		return nil, nil, fmt.Errorf("failed to persist execution: %w", err)
	}
	log.Printf("🚀 [ENGINE] Execution %s started for workflow %s (%d blocks)", exec.ID, def.ID, len(def.Blocks))
	return exec, def, nil
}

// Execute runs a workflow synchronously from its start block.
// Block faults end up on the returned execution (status=error), not in the
// error return; the error return is reserved for preflight and
// infrastructure failures.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any, sess models.Session) (*models.Execution, error) {
	exec, def, err := e.Prepare(ctx, workflowID, input, sess)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, def, exec)
}

// Run performs the interpreter pass for a freshly prepared execution.
func (e *Engine) Run(ctx context.Context, def *models.WorkflowDefinition, exec *models.Execution) (*models.Execution, error) {
	r := &run{
		engine: e,
		def:    def,
		exec:   exec,
		scope: &Scope{
			WorkflowInput: exec.Input,
			BlockOutputs:  map[string]map[string]any{},
		},
	}

	start := startBlock(def)
	if start == nil {
		// Prepare validates this; reaching here means the definition
		// changed under us.
		return r.fail(ctx, NewFault(FaultInvalidDefinition, "", "workflow has no start block"))
	}
	return r.loop(ctx, start)
}

// ContinueExecution resumes a suspended execution with externally supplied
// input. The store's claim is the concurrency guard: of two racing resumes
// exactly one passes, the other gets ErrNotWaiting.
func (e *Engine) ContinueExecution(ctx context.Context, executionID string, input any) (*models.Execution, error) {
	snapshot, err := e.store.ClaimResume(ctx, executionID)
	if err != nil {
		return nil, err
	}

	def, err := e.defs.GetLiveWorkflow(ctx, snapshot.WorkflowID)
	if err != nil {
		// The claim already flipped the execution to running; don't strand it.
		now := time.Now().UTC()
		msg := fmt.Sprintf("resume failed: %v", err)
		_ = e.store.SetStatus(ctx, executionID, models.ExecutionStatusError, StatusExtra{Error: msg, CompletedAt: &now})
		return nil, err
	}

	waitingID := snapshot.WaitingBlock.BlockID
	waiting := def.BlockByID(waitingID)
	if waiting == nil {
		fault := NewFault(FaultResumeState, waitingID, "waiting block no longer exists in workflow %s", def.ID)
		now := time.Now().UTC()
		_ = e.store.SetStatus(ctx, executionID, models.ExecutionStatusError, StatusExtra{Error: fault.Error(), CompletedAt: &now})
		return nil, fault
	}

	log.Printf("▶️ [ENGINE] Execution %s resuming at block %s", executionID, waitingID)

	r := &run{
		engine: e,
		def:    def,
		exec:   snapshot,
		scope: &Scope{
			WorkflowInput: snapshot.Input,
			BlockOutputs:  outputsFromRuns(snapshot.BlockRuns),
		},
	}
	r.exec.Status = models.ExecutionStatusRunning
	r.exec.WaitingBlock = nil

	// Close out the suspended block's run with the supplied input as its
	// output, so downstream bindings can address it.
	waitRun := r.exec.LatestRunFor(waitingID)
	if waitRun == nil {
		fault := NewFault(FaultResumeState, waitingID, "no block run recorded for waiting block")
		return r.fail(ctx, fault)
	}
	output := map[string]any{"input": input}
	now := time.Now().UTC()
	waitRun.Status = models.BlockRunStatusSuccess
	waitRun.Output = output
	waitRun.EndedAt = &now
	if err := e.store.UpdateBlockRun(ctx, r.exec.ID, *waitRun); err != nil {
		return nil, fmt.Errorf("failed to persist resumed block run: %w", err)
	}
	r.scope.BlockOutputs[waitingID] = output
	r.observeRun(waitRun)
	r.publish()

	if err := r.rebuildFrames(waitRun); err != nil {
		return r.fail(ctx, AsFault(err))
	}
	if f := r.currentFrame(); f != nil {
		f.lastOut = output
	}

	next, ok := r.next(waiting, "")
	if !ok {
		// The wait was the last block of a loop body (or a top-level
		// dead end): advance the loop instead of falling off the graph.
		return r.resumeLoopReturn(ctx)
	}
	return r.loop(ctx, next)
}

// run is the per-pass interpreter state.
type run struct {
	engine *Engine
	def    *models.WorkflowDefinition
	exec   *models.Execution
	scope  *Scope
	frames []*loopFrame
}

// loopFrame is one active forEach iteration context.
type loopFrame struct {
	block     *models.Block
	items     []any
	index     int
	results   []any
	bodyStart *models.Block
	iterPath  string // iteration path at the forEach itself
	lastOut   map[string]any
}

// loop advances the cursor until the execution terminates or suspends.
func (r *run) loop(ctx context.Context, current *models.Block) (*models.Execution, error) {
	for current != nil {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, WrapFault(FaultCanceled, current.ID, err))
		}

		next, done, err := r.step(ctx, current)
		if err != nil {
			fault := AsFault(err)
			if fault.BlockID == "" {
				fault.BlockID = current.ID
			}
			return r.fail(ctx, fault)
		}
		if done {
			return r.exec, nil
		}
		if next == nil {
			// Dead end inside a loop body: iteration finished.
			var returned bool
			next, returned, err = r.advanceFrame(ctx)
			if err != nil {
				return r.fail(ctx, AsFault(err))
			}
			if !returned {
				// Dead end at top level counts as completion.
				return r.finish(ctx)
			}
		}
		current = next
	}
	return r.finish(ctx)
}

// resumeLoopReturn handles the case where the waiting block was the last
// block of a loop body: resuming must advance the loop, not fall off the
// graph.
func (r *run) resumeLoopReturn(ctx context.Context) (*models.Execution, error) {
	next, returned, err := r.advanceFrame(ctx)
	if err != nil {
		return r.fail(ctx, AsFault(err))
	}
	if !returned {
		return r.finish(ctx)
	}
	return r.loop(ctx, next)
}

// step executes one block and returns the next cursor position.
// next == nil with done == false signals a dead end (loop-body return).
func (r *run) step(ctx context.Context, block *models.Block) (next *models.Block, done bool, err error) {
	switch block.Type {
	case models.BlockTypeStart:
		r.record(ctx, block, map[string]any{}, r.scope.WorkflowInput, nil)
		n, _ := r.next(block, "")
		return n, false, nil

	case models.BlockTypeEnd:
		// Reaching end is a status transition, not a block execution: it
		// leaves no run in the history.
		_, err := r.finish(ctx)
		return nil, true, err

	case models.BlockTypeIf:
		return r.stepIf(ctx, block)

	case models.BlockTypeSwitch:
		return r.stepSwitch(ctx, block)

	case models.BlockTypeForEach:
		return r.stepForEach(ctx, block)

	case models.BlockTypeWaitForInput:
		return r.stepWait(ctx, block)

	case models.BlockTypeHTTPRequest:
		return r.stepExecutor(ctx, block, r.engine.httpExec)
	case models.BlockTypeTransform:
		return r.stepExecutor(ctx, block, r.engine.transformExec)
	case models.BlockTypeSetVariable:
		return r.stepExecutor(ctx, block, r.engine.setVarExec)
	case models.BlockTypeRunPromptFlow:
		return r.stepExecutor(ctx, block, r.engine.promptExec)
	case models.BlockTypeGetRow, models.BlockTypeCreateRow, models.BlockTypeUpdateRow,
		models.BlockTypeDeleteRow, models.BlockTypeCountRows:
		return r.stepExecutor(ctx, block, r.engine.rowExec)

	default:
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "unknown block type %q", block.Type)
	}
}

func (r *run) stepIf(ctx context.Context, block *models.Block) (*models.Block, bool, error) {
	if len(block.ConditionGroups) == 0 {
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "if block has no conditions")
	}
	matched, err := evaluateGroup(block.ConditionGroups[0], r.scope)
	if err != nil {
		return nil, false, err
	}
	output := map[string]any{"condition": matched}
	r.record(ctx, block, map[string]any{}, output, nil)

	label := models.EdgeLabelFalse
	if matched {
		label = models.EdgeLabelTrue
	}
	n, ok := r.findEdge(block, label)
	if !ok {
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "if block has no %q edge", label)
	}
	return n, false, nil
}

func (r *run) stepSwitch(ctx context.Context, block *models.Block) (*models.Block, bool, error) {
	idx, err := EvaluateGroups(block.ConditionGroups, r.scope)
	if err != nil {
		return nil, false, err
	}

	if idx < 0 {
		if n, ok := r.findEdge(block, models.EdgeLabelDefault); ok {
			r.record(ctx, block, map[string]any{}, map[string]any{"condition": models.EdgeLabelDefault}, nil)
			return n, false, nil
		}
		return nil, false, NewFault(FaultNoMatchingCase, block.ID, "no case matched and no default edge declared")
	}

	r.record(ctx, block, map[string]any{}, map[string]any{"condition": idx}, nil)
	n, ok := r.findEdge(block, fmt.Sprintf("case:%d", idx))
	if !ok {
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "switch block has no edge for case:%d", idx)
	}
	return n, false, nil
}

func (r *run) stepForEach(ctx context.Context, block *models.Block) (*models.Block, bool, error) {
	if block.Collection == nil {
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "forEach block has no collection binding")
	}
	resolved, err := Resolve(*block.Collection, r.scope)
	if err != nil {
		return nil, false, err
	}
	items, ok := coerceSequence(resolved)
	if !ok {
		return nil, false, NewFault(FaultUnresolvedBinding, block.ID, "collection binding did not resolve to a sequence")
	}

	iterPath := r.iterationPath()
	run := r.appendRun(ctx, block, map[string]any{"count": len(items)}, iterPath)

	doneTarget, hasDone := r.findEdge(block, models.EdgeLabelDone)
	if !hasDone {
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "forEach block has no %q edge", models.EdgeLabelDone)
	}

	if len(items) == 0 {
		// Zero iterations: no body runs at all, straight to done.
		output := map[string]any{"results": []any{}, "count": 0}
		r.completeRun(ctx, run, output, nil)
		r.scope.BlockOutputs[block.ID] = output
		return doneTarget, false, nil
	}

	bodyStart, hasLoop := r.findEdge(block, models.EdgeLabelLoop)
	if !hasLoop {
		return nil, false, NewFault(FaultInvalidDefinition, block.ID, "forEach block has no %q edge", models.EdgeLabelLoop)
	}

	frame := &loopFrame{
		block:     block,
		items:     items,
		results:   make([]any, 0, len(items)),
		bodyStart: bodyStart,
		iterPath:  iterPath,
	}
	r.frames = append(r.frames, frame)
	r.scope.Loop = &LoopScope{Item: items[0], Index: 0}
	return bodyStart, false, nil
}

func (r *run) stepWait(ctx context.Context, block *models.Block) (*models.Block, bool, error) {
	r.appendRun(ctx, block, map[string]any{}, r.iterationPath())

	descriptor := &models.WaitingBlock{
		BlockID: block.ID,
		Input: models.WaitingBlockInput{
			Title:       getString(block.Config, "title"),
			Placeholder: getString(block.Config, "placeholder"),
		},
	}
	r.exec.Status = models.ExecutionStatusWaitingBlock
	r.exec.WaitingBlock = descriptor
	if err := r.engine.store.SetStatus(ctx, r.exec.ID, models.ExecutionStatusWaitingBlock, StatusExtra{WaitingBlock: descriptor}); err != nil {
		return nil, false, fmt.Errorf("failed to persist suspension: %w", err)
	}
	r.publish()
	log.Printf("⏸️ [ENGINE] Execution %s suspended at block %s", r.exec.ID, block.ID)
	return nil, true, nil
}

func (r *run) stepExecutor(ctx context.Context, block *models.Block, exec BlockExecutor) (*models.Block, bool, error) {
	inputs, err := ResolveInputs(block.Input, r.scope)
	if err != nil {
		return nil, false, err
	}

	blockRun := r.appendRun(ctx, block, inputs, r.iterationPath())

	output, execErr := executeWithRetry(ctx, exec, block, inputs, r.exec.Session)
	if execErr != nil {
		r.completeRun(ctx, blockRun, output, execErr)
		return nil, false, WrapFault(FaultBlockFailed, block.ID, execErr)
	}

	r.completeRun(ctx, blockRun, output, nil)
	r.scope.BlockOutputs[block.ID] = output
	if f := r.currentFrame(); f != nil {
		f.lastOut = output
	}

	n, _ := r.next(block, "")
	return n, false, nil
}

// advanceFrame is called when a loop body iteration runs off the graph.
// It either re-enters the body with the next element or closes the forEach
// and follows its done edge. returned == false means no frame was active.
func (r *run) advanceFrame(ctx context.Context) (next *models.Block, returned bool, err error) {
	frame := r.currentFrame()
	if frame == nil {
		return nil, false, nil
	}

	if frame.lastOut != nil {
		frame.results = append(frame.results, frame.lastOut)
	} else {
		frame.results = append(frame.results, nil)
	}
	frame.lastOut = nil
	frame.index++

	if frame.index < len(frame.items) {
		r.scope.Loop = &LoopScope{Item: frame.items[frame.index], Index: frame.index}
		return frame.bodyStart, true, nil
	}

	// Sequence consumed: close the frame and the forEach's run.
	r.frames = r.frames[:len(r.frames)-1]
	if outer := r.currentFrame(); outer != nil {
		r.scope.Loop = &LoopScope{Item: outer.items[outer.index], Index: outer.index}
	} else {
		r.scope.Loop = nil
	}

	output := map[string]any{"results": frame.results, "count": len(frame.items)}
	feRun := r.findRun(frame.block.ID, frame.iterPath)
	if feRun != nil {
		r.completeRun(ctx, feRun, output, nil)
	}
	r.scope.BlockOutputs[frame.block.ID] = output

	doneTarget, ok := r.findEdge(frame.block, models.EdgeLabelDone)
	if !ok {
		return nil, false, NewFault(FaultInvalidDefinition, frame.block.ID, "forEach block has no %q edge", models.EdgeLabelDone)
	}
	return doneTarget, true, nil
}

// next returns the target of the block's straight-line edge. ok == false
// means the block has no such edge (dead end).
func (r *run) next(block *models.Block, label string) (*models.Block, bool) {
	return r.findEdge(block, label)
}

func (r *run) findEdge(block *models.Block, label string) (*models.Block, bool) {
	for _, edge := range r.def.Edges {
		if edge.SourceBlockID != block.ID {
			continue
		}
		if edge.Label == label ||
			(label == "" && edge.Label == models.EdgeLabelDefault) ||
			(label == models.EdgeLabelDefault && edge.Label == "") {
			return r.def.BlockByID(edge.TargetBlockID), true
		}
	}
	return nil, false
}

func (r *run) currentFrame() *loopFrame {
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

// iterationPath encodes the active loop indices, outermost first.
func (r *run) iterationPath() string {
	if len(r.frames) == 0 {
		return ""
	}
	parts := make([]string, len(r.frames))
	for i, f := range r.frames {
		parts[i] = strconv.Itoa(f.index)
	}
	return strings.Join(parts, "/")
}

// appendRun persists a new running BlockRun and publishes the snapshot.
func (r *run) appendRun(ctx context.Context, block *models.Block, inputs map[string]any, iterPath string) *models.BlockRun {
	blockRun := models.BlockRun{
		ID:            uuid.NewString(),
		BlockID:       block.ID,
		IterationPath: iterPath,
		Status:        models.BlockRunStatusRunning,
		Input:         inputs,
		StartedAt:     time.Now().UTC(),
	}
	r.exec.BlockRuns = append(r.exec.BlockRuns, blockRun)
	if err := r.engine.store.AppendBlockRun(ctx, r.exec.ID, blockRun); err != nil {
		log.Printf("❌ [ENGINE] Execution %s: failed to persist block run %s: %v", r.exec.ID, block.ID, err)
	}
	r.publish()
	return &r.exec.BlockRuns[len(r.exec.BlockRuns)-1]
}

// completeRun finalizes a BlockRun in place and persists the update.
func (r *run) completeRun(ctx context.Context, blockRun *models.BlockRun, output map[string]any, execErr error) {
	now := time.Now().UTC()
	blockRun.EndedAt = &now
	blockRun.Output = output
	if execErr != nil {
		blockRun.Status = models.BlockRunStatusError
		blockRun.Error = execErr.Error()
	} else {
		blockRun.Status = models.BlockRunStatusSuccess
	}
	if err := r.engine.store.UpdateBlockRun(ctx, r.exec.ID, *blockRun); err != nil {
		log.Printf("❌ [ENGINE] Execution %s: failed to persist block run update %s: %v", r.exec.ID, blockRun.BlockID, err)
	}
	r.observeRun(blockRun)
	r.publish()
}

// observeRun reports a finished run to the attached recorder, if any.
func (r *run) observeRun(blockRun *models.BlockRun) {
	if r.engine.recorder == nil {
		return
	}
	if b := r.def.BlockByID(blockRun.BlockID); b != nil {
		r.engine.recorder.RecordBlockRun(string(b.Type), string(blockRun.Status))
	}
}

// record appends and immediately completes a run for instantaneous blocks
// (start, end, if, switch), and exposes the output to downstream bindings.
func (r *run) record(ctx context.Context, block *models.Block, inputs, output map[string]any, execErr error) {
	blockRun := r.appendRun(ctx, block, inputs, r.iterationPath())
	r.completeRun(ctx, blockRun, output, execErr)
	if execErr == nil {
		r.scope.BlockOutputs[block.ID] = output
		if f := r.currentFrame(); f != nil && block.Type != models.BlockTypeStart {
			f.lastOut = output
		}
	}
}

func (r *run) finish(ctx context.Context) (*models.Execution, error) {
	now := time.Now().UTC()
	r.exec.Status = models.ExecutionStatusSuccess
	r.exec.CompletedAt = &now
	r.exec.WaitingBlock = nil
	if err := r.engine.store.SetStatus(ctx, r.exec.ID, models.ExecutionStatusSuccess, StatusExtra{CompletedAt: &now}); err != nil {
		return r.exec, fmt.Errorf("failed to persist completion: %w", err)
	}
	r.publish()
	log.Printf("✅ [ENGINE] Execution %s completed (%d block runs)", r.exec.ID, len(r.exec.BlockRuns))
	return r.exec, nil
}

func (r *run) fail(ctx context.Context, fault *Fault) (*models.Execution, error) {
	now := time.Now().UTC()
	r.exec.Status = models.ExecutionStatusError
	r.exec.Error = fault.Error()
	r.exec.CompletedAt = &now
	r.exec.WaitingBlock = nil
	if err := r.engine.store.SetStatus(ctx, r.exec.ID, models.ExecutionStatusError, StatusExtra{Error: fault.Error(), CompletedAt: &now}); err != nil {
		log.Printf("❌ [ENGINE] Execution %s: failed to persist failure: %v", r.exec.ID, err)
	}
	r.publish()
	log.Printf("❌ [ENGINE] Execution %s failed: %v", r.exec.ID, fault)
	return r.exec, nil
}

func (r *run) publish() {
	r.engine.sink.Publish(r.exec.ID, r.exec.Clone())
}

// rebuildFrames reconstructs the loop stack for a resumed execution from
// the waiting block's iteration path and the static loop-body containment
// of the graph. Collections re-resolve against the rebuilt scope, so a
// forEach over a non-deterministic binding must not contain a waitForInput.
func (r *run) rebuildFrames(waitRun *models.BlockRun) error {
	if waitRun.IterationPath == "" {
		return nil
	}
	segments := strings.Split(waitRun.IterationPath, "/")

	enclosing := enclosingForEach(r.def, waitRun.BlockID)
	if len(enclosing) != len(segments) {
		return NewFault(FaultResumeState, waitRun.BlockID,
			"iteration path depth %d does not match loop nesting %d", len(segments), len(enclosing))
	}

	for i, fe := range enclosing {
		index, err := strconv.Atoi(segments[i])
		if err != nil || index < 0 {
			return NewFault(FaultResumeState, waitRun.BlockID, "malformed iteration path %q", waitRun.IterationPath)
		}
		resolved, rerr := Resolve(*fe.Collection, r.scope)
		if rerr != nil {
			return rerr
		}
		items, ok := coerceSequence(resolved)
		if !ok || index >= len(items) {
			return NewFault(FaultResumeState, fe.ID, "collection no longer covers iteration %d", index)
		}
		bodyStart, hasLoop := r.findEdge(fe, models.EdgeLabelLoop)
		if !hasLoop {
			return NewFault(FaultInvalidDefinition, fe.ID, "forEach block has no %q edge", models.EdgeLabelLoop)
		}
		frame := &loopFrame{
			block:     fe,
			items:     items,
			index:     index,
			results:   r.priorResults(fe, segments[:i], index),
			bodyStart: bodyStart,
			iterPath:  strings.Join(segments[:i], "/"),
		}
		r.frames = append(r.frames, frame)
		// An inner collection may bind the enclosing loop variable, so the
		// scope must track each frame before the next one resolves.
		r.scope.Loop = &LoopScope{Item: items[index], Index: index}
	}
	return nil
}

// priorResults recovers the aggregated body outputs for iterations that
// completed before suspension, taking the chronologically last successful
// run within each prior iteration.
func (r *run) priorResults(fe *models.Block, outerSegments []string, upto int) []any {
	results := make([]any, 0, upto)
	for i := 0; i < upto; i++ {
		prefix := strings.Join(append(append([]string{}, outerSegments...), strconv.Itoa(i)), "/")
		var last map[string]any
		for _, br := range r.exec.BlockRuns {
			if br.Status != models.BlockRunStatusSuccess || br.BlockID == fe.ID {
				continue
			}
			if br.IterationPath == prefix || strings.HasPrefix(br.IterationPath, prefix+"/") {
				last = br.Output
			}
		}
		results = append(results, last)
	}
	return results
}

func (r *run) findRun(blockID, iterPath string) *models.BlockRun {
	for i := len(r.exec.BlockRuns) - 1; i >= 0; i-- {
		br := &r.exec.BlockRuns[i]
		if br.BlockID == blockID && br.IterationPath == iterPath {
			return br
		}
	}
	return nil
}

func startBlock(def *models.WorkflowDefinition) *models.Block {
	for i := range def.Blocks {
		if def.Blocks[i].Type == models.BlockTypeStart {
			return &def.Blocks[i]
		}
	}
	return nil
}

// outputsFromRuns rebuilds the binding scope from persisted history.
// Later runs win, matching the live engine's latest-output semantics.
func outputsFromRuns(runs []models.BlockRun) map[string]map[string]any {
	outputs := make(map[string]map[string]any)
	for _, br := range runs {
		if br.Status == models.BlockRunStatusSuccess && br.Output != nil {
			outputs[br.BlockID] = br.Output
		}
	}
	return outputs
}

func coerceSequence(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

// enclosingForEach returns the forEach blocks whose loop bodies contain the
// given block, ordered outermost first.
func enclosingForEach(def *models.WorkflowDefinition, blockID string) []*models.Block {
	var enclosing []*models.Block
	for i := range def.Blocks {
		fe := &def.Blocks[i]
		if fe.Type != models.BlockTypeForEach {
			continue
		}
		if loopBody(def, fe)[blockID] {
			enclosing = append(enclosing, fe)
		}
	}
	// Outer loops contain inner forEach blocks in their bodies.
	for i := 0; i < len(enclosing); i++ {
		for j := i + 1; j < len(enclosing); j++ {
			if loopBody(def, enclosing[j])[enclosing[i].ID] {
				enclosing[i], enclosing[j] = enclosing[j], enclosing[i]
			}
		}
	}
	return enclosing
}

// loopBody computes the set of block ids statically reachable inside a
// forEach's loop branch, excluding the done branch and the forEach itself.
func loopBody(def *models.WorkflowDefinition, fe *models.Block) map[string]bool {
	body := make(map[string]bool)
	var queue []string
	for _, edge := range def.Edges {
		if edge.SourceBlockID == fe.ID && edge.Label == models.EdgeLabelLoop {
			queue = append(queue, edge.TargetBlockID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == fe.ID || body[id] {
			continue
		}
		body[id] = true
		for _, edge := range def.Edges {
			if edge.SourceBlockID == id {
				queue = append(queue, edge.TargetBlockID)
			}
		}
	}
	return body
}
