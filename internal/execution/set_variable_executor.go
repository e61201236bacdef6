package execution

import (
	"context"

	"flowhub/internal/models"
)

// SetVariableExecutor runs setVariable blocks. The block's resolved inputs
// become its output verbatim, making named values addressable downstream as
// $.blocks.<id>.output.<name>.
type SetVariableExecutor struct{}

func NewSetVariableExecutor() *SetVariableExecutor {
	return &SetVariableExecutor{}
}

func (e *SetVariableExecutor) Execute(_ context.Context, _ *models.Block, inputs map[string]any, _ models.Session) (map[string]any, error) {
	output := make(map[string]any, len(inputs))
	for k, v := range inputs {
		output[k] = v
	}
	return output, nil
}
