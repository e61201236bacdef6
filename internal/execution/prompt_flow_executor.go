package execution

import (
	"context"
	"fmt"
	"log"

	"flowhub/internal/models"
)

// PromptFlowExecutor runs runPromptFlow blocks by delegating to the
// configured invoker. The flow id comes from block config; the resolved
// inputs become the flow's input payload.
type PromptFlowExecutor struct {
	invoker PromptFlowInvoker
}

func NewPromptFlowExecutor(invoker PromptFlowInvoker) *PromptFlowExecutor {
	return &PromptFlowExecutor{invoker: invoker}
}

func (e *PromptFlowExecutor) Execute(ctx context.Context, block *models.Block, inputs map[string]any, _ models.Session) (map[string]any, error) {
	if e.invoker == nil {
		return nil, NewPermanentError(fmt.Errorf("prompt flow service is not configured"))
	}

	flowID := getString(block.Config, "promptFlowId")
	if flowID == "" {
		return nil, NewPermanentError(fmt.Errorf("runPromptFlow block %q has no promptFlowId", block.ID))
	}

	log.Printf("🤖 [PROMPTFLOW] Block '%s': invoking flow %s", block.ID, flowID)

	output, err := e.invoker.Invoke(ctx, flowID, inputs)
	if err != nil {
		return nil, ClassifyError(err)
	}
	if output == nil {
		output = map[string]any{}
	}
	return output, nil
}
