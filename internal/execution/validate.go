package execution

import (
	"fmt"
	"strings"

	"flowhub/internal/models"
)

// ValidateDefinition checks the structural invariants a workflow must hold
// before it can execute: unique block ids, a single start block, edges that
// reference real blocks with labels legal for their source type, per-type
// required configuration, and no reference cycles. Violations are collected
// and returned together so authors fix a definition in one pass.
func ValidateDefinition(def *models.WorkflowDefinition) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	blocks := make(map[string]*models.Block, len(def.Blocks))
	startCount := 0
	for i := range def.Blocks {
		block := &def.Blocks[i]
		if block.ID == "" {
			addf("block at position %d has an empty id", i)
			continue
		}
		if _, dup := blocks[block.ID]; dup {
			addf("duplicate block id %q", block.ID)
			continue
		}
		blocks[block.ID] = block
		if block.Type == models.BlockTypeStart {
			startCount++
		}
		if !block.Type.Valid() {
			addf("block %q has unknown type %q", block.ID, block.Type)
		}
	}
	if startCount == 0 {
		addf("workflow has no start block")
	}
	if startCount > 1 {
		addf("workflow has %d start blocks, expected exactly one", startCount)
	}

	outgoing := make(map[string][]models.Edge)
	for _, edge := range def.Edges {
		src, srcOK := blocks[edge.SourceBlockID]
		if !srcOK {
			addf("edge references unknown source block %q", edge.SourceBlockID)
		}
		if _, ok := blocks[edge.TargetBlockID]; !ok {
			addf("edge references unknown target block %q", edge.TargetBlockID)
		}
		if srcOK && !labelAllowed(src, edge.Label) {
			addf("block %q (%s) cannot have an outgoing edge labeled %q", src.ID, src.Type, edge.Label)
		}
		if srcOK {
			for _, existing := range outgoing[edge.SourceBlockID] {
				if existing.Label == edge.Label {
					addf("block %q has multiple outgoing edges labeled %q", edge.SourceBlockID, edge.Label)
				}
			}
		}
		outgoing[edge.SourceBlockID] = append(outgoing[edge.SourceBlockID], edge)
	}

	for _, block := range blocks {
		validateBlockShape(block, outgoing[block.ID], addf)
		for _, br := range blockBindingRefs(block) {
			if _, ok := blocks[br.ref]; !ok {
				addf("block %q %s references unknown block %q", block.ID, br.label, br.ref)
			}
		}
	}

	if len(problems) == 0 {
		if err := checkReachability(def, blocks, outgoing); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) == 0 {
		problems = append(problems, checkBindingOrder(def, outgoing)...)
	}

	if len(problems) > 0 {
		return NewFault(FaultInvalidDefinition, "", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// labelAllowed enforces which edge labels each block type may emit.
func labelAllowed(block *models.Block, label string) bool {
	switch block.Type {
	case models.BlockTypeIf:
		return label == models.EdgeLabelTrue || label == models.EdgeLabelFalse
	case models.BlockTypeSwitch:
		if label == models.EdgeLabelDefault {
			return true
		}
		return strings.HasPrefix(label, "case:")
	case models.BlockTypeForEach:
		return label == models.EdgeLabelLoop || label == models.EdgeLabelDone
	case models.BlockTypeEnd:
		return false
	default:
		// Straight-line blocks accept an unlabeled or "default" edge.
		return label == "" || label == models.EdgeLabelDefault
	}
}

func validateBlockShape(block *models.Block, out []models.Edge, addf func(string, ...any)) {
	has := func(label string) bool {
		for _, e := range out {
			if e.Label == label {
				return true
			}
		}
		return false
	}

	switch block.Type {
	case models.BlockTypeIf:
		if !has(models.EdgeLabelTrue) || !has(models.EdgeLabelFalse) {
			addf("if block %q needs both %q and %q edges", block.ID, models.EdgeLabelTrue, models.EdgeLabelFalse)
		}
		if len(block.ConditionGroups) == 0 {
			addf("if block %q has no conditions", block.ID)
		}
	case models.BlockTypeSwitch:
		if len(block.ConditionGroups) == 0 {
			addf("switch block %q has no condition groups", block.ID)
		}
		for _, group := range block.ConditionGroups {
			label := fmt.Sprintf("case:%d", group.Index)
			if !has(label) {
				addf("switch block %q has no edge for %s", block.ID, label)
			}
		}
	case models.BlockTypeForEach:
		if block.Collection == nil {
			addf("forEach block %q has no collection binding", block.ID)
		}
		if !has(models.EdgeLabelLoop) {
			addf("forEach block %q has no %q edge", block.ID, models.EdgeLabelLoop)
		}
		if !has(models.EdgeLabelDone) {
			addf("forEach block %q has no %q edge", block.ID, models.EdgeLabelDone)
		}
	case models.BlockTypeWaitForInput:
		// Prompt metadata is optional; the block id alone identifies the
		// suspension point.
	case models.BlockTypeHTTPRequest:
		if _, ok := block.Config["url"]; !ok {
			if _, bound := block.Input["url"]; !bound {
				addf("httpRequest block %q has no url", block.ID)
			}
		}
	case models.BlockTypeGetRow, models.BlockTypeCreateRow, models.BlockTypeUpdateRow,
		models.BlockTypeDeleteRow, models.BlockTypeCountRows:
		if entity, _ := block.Config["entity"].(string); entity == "" {
			addf("%s block %q has no entity", block.Type, block.ID)
		}
	}
}

// bindingRef is one block reference made by a block's bindings, with a
// label for error messages.
type bindingRef struct {
	label string
	ref   string
}

// blockBindingRefs collects every block reference a block makes, across its
// input bindings, condition operands and (for forEach) the collection.
func blockBindingRefs(block *models.Block) []bindingRef {
	var refs []bindingRef
	for key, binding := range block.Input {
		if ref := ReferencedBlockID(binding); ref != "" {
			refs = append(refs, bindingRef{fmt.Sprintf("input %q", key), ref})
		}
	}
	for _, group := range block.ConditionGroups {
		for _, cond := range group.Conditions {
			for _, b := range []models.Binding{cond.Left, cond.Right} {
				if ref := ReferencedBlockID(b); ref != "" {
					refs = append(refs, bindingRef{"condition", ref})
				}
			}
		}
	}
	if block.Collection != nil {
		if ref := ReferencedBlockID(*block.Collection); ref != "" {
			refs = append(refs, bindingRef{"collection", ref})
		}
	}
	return refs
}

// checkReachability walks forward from the start block and rejects graphs
// where following edges can revisit a non-forEach block (a cycle the
// sequential interpreter could never leave), or where a block is not
// reachable from start at all.
func checkReachability(def *models.WorkflowDefinition, blocks map[string]*models.Block, outgoing map[string][]models.Edge) error {
	var startID string
	for _, b := range def.Blocks {
		if b.Type == models.BlockTypeStart {
			startID = b.ID
			break
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(blocks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			// Loop edges back into a forEach are the one legal cycle.
			if blocks[id].Type == models.BlockTypeForEach {
				return nil
			}
			return NewFault(FaultInvalidDefinition, id, "cycle detected through block %q", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, edge := range outgoing[id] {
			if err := visit(edge.TargetBlockID); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	if err := visit(startID); err != nil {
		return err
	}
	for _, b := range def.Blocks {
		if state[b.ID] != done {
			return NewFault(FaultInvalidDefinition, b.ID, "block %q is unreachable from start", b.ID)
		}
	}
	return nil
}

// checkBindingOrder rejects bindings that reference a block the flow cannot
// have passed through yet: a block may only bind outputs of blocks that
// precede it on some path from start. A forEach's body counts as preceding
// its done branch, since every iteration runs before the done edge is taken.
func checkBindingOrder(def *models.WorkflowDefinition, outgoing map[string][]models.Edge) []string {
	var problems []string
	for i := range def.Blocks {
		block := &def.Blocks[i]
		for _, br := range blockBindingRefs(block) {
			if br.ref != block.ID && reachableFrom(outgoing, br.ref)[block.ID] {
				continue
			}
			allowed := false
			if br.ref != block.ID {
				for j := range def.Blocks {
					fe := &def.Blocks[j]
					if fe.Type != models.BlockTypeForEach {
						continue
					}
					if loopBody(def, fe)[br.ref] && reachableFrom(outgoing, fe.ID)[block.ID] {
						allowed = true
						break
					}
				}
			}
			if !allowed {
				problems = append(problems, fmt.Sprintf(
					"block %q %s references block %q which does not precede it", block.ID, br.label, br.ref))
			}
		}
	}
	return problems
}

// reachableFrom returns the set of block ids reachable from id by following
// edges, excluding id itself unless a cycle leads back to it.
func reachableFrom(outgoing map[string][]models.Edge, id string) map[string]bool {
	seen := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edge := range outgoing[cur] {
			if !seen[edge.TargetBlockID] {
				seen[edge.TargetBlockID] = true
				queue = append(queue, edge.TargetBlockID)
			}
		}
	}
	return seen
}

// ValidateInput checks a run's initial input against the workflow's declared
// schema. Required fields must be present and non-nil; unexpected fields are
// allowed through untouched.
func ValidateInput(def *models.WorkflowDefinition, input map[string]any) error {
	var missing []string
	for _, field := range def.InputSchema {
		if !field.Required {
			continue
		}
		val, ok := input[field.Name]
		if !ok || val == nil {
			missing = append(missing, field.Name)
		}
	}
	if len(missing) > 0 {
		return NewFault(FaultInvalidInput, "", "missing required input fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
