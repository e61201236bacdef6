package jobs

import (
	"context"
	"log"
	"time"

	"flowhub/internal/services"
)

// RetentionCleanupJob deletes terminal executions past their retention
// window. The executions collection also carries a TTL index on expiresAt;
// this job is the belt for deployments where the TTL monitor lags or was
// created after old documents accumulated.
type RetentionCleanupJob struct {
	executionStore *services.ExecutionStore
}

// NewRetentionCleanupJob creates a new retention cleanup job
func NewRetentionCleanupJob(executionStore *services.ExecutionStore) *RetentionCleanupJob {
	return &RetentionCleanupJob{executionStore: executionStore}
}

func (j *RetentionCleanupJob) Name() string { return "execution-retention-cleanup" }

func (j *RetentionCleanupJob) Interval() time.Duration { return 6 * time.Hour }

// Run deletes all expired executions.
func (j *RetentionCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.executionStore.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("🧹 [RETENTION] Deleted %d expired executions", deleted)
	}
	return nil
}
