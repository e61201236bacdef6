package execution

import (
	"context"
	"time"

	"flowhub/internal/models"
)

// Store persists executions. The engine writes through it after every block
// boundary so a crash never loses more than the block in flight, and reads
// through it on resume. Implementations must make ClaimResume atomic: when
// two resumes race, exactly one wins.
type Store interface {
	// Create inserts a new execution record.
	Create(ctx context.Context, exec *models.Execution) error

	// Get returns the execution or ErrExecutionNotFound.
	Get(ctx context.Context, id string) (*models.Execution, error)

	// AppendBlockRun appends a block run to the execution's history.
	AppendBlockRun(ctx context.Context, executionID string, run models.BlockRun) error

	// UpdateBlockRun rewrites the run identified by (blockID, iterationPath),
	// recording its terminal status, output and end time.
	UpdateBlockRun(ctx context.Context, executionID string, run models.BlockRun) error

	// SetStatus transitions the execution's status. A transition into
	// waitingBlock carries the suspension descriptor; a transition into
	// error carries the fault message; terminal transitions stamp
	// completedAt.
	SetStatus(ctx context.Context, executionID string, status models.ExecutionStatus, extra StatusExtra) error

	// ClaimResume atomically flips a waitingBlock execution back to running
	// and clears its WaitingBlock descriptor, returning the pre-claim
	// snapshot. Returns ErrNotWaiting if the execution is not suspended
	// (including when a concurrent claim won) and ErrExecutionNotFound if
	// the id is unknown.
	ClaimResume(ctx context.Context, executionID string) (*models.Execution, error)
}

// StatusExtra carries the optional fields a status transition writes.
type StatusExtra struct {
	WaitingBlock *models.WaitingBlock
	Error        string
	CompletedAt  *time.Time
}
