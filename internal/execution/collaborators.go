package execution

import (
	"context"

	"flowhub/internal/models"
)

// RowAPI is the tenant row datastore the row blocks operate on. The Mongo
// implementation lives in internal/services; tests supply an in-memory one.
type RowAPI interface {
	GetRow(ctx context.Context, tenantID, entity, rowID string) (*models.Row, error)
	CreateRow(ctx context.Context, tenantID, entity string, data map[string]any) (*models.Row, error)
	UpdateRow(ctx context.Context, tenantID, entity, rowID string, data map[string]any) (*models.Row, error)
	DeleteRow(ctx context.Context, tenantID, entity, rowID string) error
	CountRows(ctx context.Context, tenantID, entity string, filter map[string]any) (int64, error)
}

// PromptFlowInvoker runs a configured prompt flow and returns its output.
// The production implementation calls the prompt flow service over HTTP;
// tests stub it.
type PromptFlowInvoker interface {
	Invoke(ctx context.Context, flowID string, input map[string]any) (map[string]any, error)
}

// ProgressSink receives execution snapshots as the engine advances. The
// engine publishes a full snapshot after every state change; sinks are
// last-value-wins, so a slow consumer sees the latest state rather than
// every intermediate one.
type ProgressSink interface {
	Publish(executionID string, snapshot *models.Execution)
}

// NopProgressSink discards snapshots.
type NopProgressSink struct{}

func (NopProgressSink) Publish(string, *models.Execution) {}
