package execution

import (
	"context"

	"flowhub/internal/models"
)

// BlockExecutor runs one side-effecting block kind. Control-flow blocks
// (start, end, if, switch, forEach, waitForInput) are interpreted by the
// engine directly and never reach an executor.
type BlockExecutor interface {
	Execute(ctx context.Context, block *models.Block, inputs map[string]any, sess models.Session) (map[string]any, error)
}

// executeWithRetry wraps an executor call with the block's retry policy.
// Only transient faults are retried; the engine never retries on its own,
// so a block without RetryConfig fails on its first error.
func executeWithRetry(ctx context.Context, exec BlockExecutor, block *models.Block, inputs map[string]any, sess models.Session) (map[string]any, error) {
	output, err := exec.Execute(ctx, block, inputs, sess)
	if err == nil || block.RetryConfig == nil || block.RetryConfig.MaxRetries <= 0 {
		return output, err
	}

	backoff := backoffFor(block.RetryConfig)
	for attempt := 0; attempt < block.RetryConfig.MaxRetries; attempt++ {
		classified := ClassifyError(err)
		if !classified.Retryable || !retryMatches(block.RetryConfig.RetryOn, classified) {
			return nil, err
		}

		delay := backoff.Delay(attempt)
		if classified.RetryAfter > delay {
			delay = classified.RetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeAfter(delay):
		}

		output, err = exec.Execute(ctx, block, inputs, sess)
		if err == nil {
			return output, nil
		}
	}
	return nil, err
}

func backoffFor(rc *models.RetryConfig) *BackoffCalculator {
	b := DefaultBackoff()
	if rc.BackoffMs > 0 {
		b.BaseDelay = msToDuration(rc.BackoffMs)
	}
	if rc.MaxBackoffMs > 0 {
		b.MaxDelay = msToDuration(rc.MaxBackoffMs)
	}
	return b
}

func retryMatches(retryOn []string, be *BlockError) bool {
	if len(retryOn) == 0 {
		return true
	}
	for _, kind := range retryOn {
		switch kind {
		case "all_transient":
			return true
		case "rate_limit":
			if be.RetryAfter > 0 {
				return true
			}
		case "timeout", "server_error", "network_error":
			if be.Category == CategoryTransient {
				return true
			}
		}
	}
	return false
}
