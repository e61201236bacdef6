package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for store lookups and resume claims.
var (
	// ErrExecutionNotFound is returned when an execution id does not exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrWorkflowNotFound is returned when a workflow id does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowNotLive is returned when executing an unpublished workflow.
	ErrWorkflowNotLive = errors.New("workflow is not live")

	// ErrNotWaiting is returned when a resume targets an execution that is
	// not suspended (already resumed, completed, or failed). Exactly one of
	// two concurrent resumes observes success; the other observes this.
	ErrNotWaiting = errors.New("execution is not waiting for input")
)

// FaultCode identifies why an execution failed. Codes are stable strings
// persisted on the execution record and surfaced over the API.
type FaultCode string

const (
	FaultInvalidDefinition  FaultCode = "invalid_definition"
	FaultInvalidInput       FaultCode = "invalid_input"
	FaultUnresolvedBinding  FaultCode = "unresolved_binding"
	FaultNoMatchingCase     FaultCode = "no_matching_case"
	FaultBlockFailed        FaultCode = "block_failed"
	FaultResumeState        FaultCode = "resume_state"
	FaultCanceled           FaultCode = "canceled"
	FaultInternal           FaultCode = "internal"
)

// Fault is the engine's error type. Every failure an execution can produce
// carries a code for programmatic handling, an optional block id locating
// the failure, and a human-readable message.
type Fault struct {
	Code    FaultCode `json:"code"`
	BlockID string    `json:"blockId,omitempty"`
	Message string    `json:"message"`
	wrapped error
}

func (f *Fault) Error() string {
	if f.BlockID != "" {
		return fmt.Sprintf("%s (block %s): %s", f.Code, f.BlockID, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.wrapped }

// NewFault builds a fault with a formatted message.
func NewFault(code FaultCode, blockID, format string, args ...any) *Fault {
	return &Fault{Code: code, BlockID: blockID, Message: fmt.Sprintf(format, args...)}
}

// WrapFault attaches a cause while classifying it under a code.
func WrapFault(code FaultCode, blockID string, err error) *Fault {
	return &Fault{Code: code, BlockID: blockID, Message: err.Error(), wrapped: err}
}

func unresolved(path, format string, args ...any) *Fault {
	return &Fault{
		Code:    FaultUnresolvedBinding,
		Message: fmt.Sprintf("cannot resolve %q: %s", path, fmt.Sprintf(format, args...)),
	}
}

// AsFault extracts a *Fault from an error chain, wrapping unclassified
// errors as internal faults so callers always get a code.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return WrapFault(FaultCanceled, "", err)
	}
	return WrapFault(FaultInternal, "", err)
}

// ErrorCategory classifies a block failure for retry decisions inside
// blocks that carry a retry policy (the engine itself never retries).
type ErrorCategory string

const (
	CategoryTransient ErrorCategory = "transient"
	CategoryPermanent ErrorCategory = "permanent"
)

// BlockError is a classified failure from a block's side effect (HTTP call,
// prompt flow invocation, row operation). Transient errors may be retried
// by the block's own retry policy before the engine sees them.
type BlockError struct {
	Category   ErrorCategory
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Category, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

// NewTransientError marks an error as retryable.
func NewTransientError(err error) *BlockError {
	return &BlockError{Category: CategoryTransient, Retryable: true, Err: err}
}

// NewPermanentError marks an error as not worth retrying.
func NewPermanentError(err error) *BlockError {
	return &BlockError{Category: CategoryPermanent, Retryable: false, Err: err}
}

// ClassifyHTTPError maps an HTTP status to a retry category. 429 and 5xx
// are transient, everything else 4xx is permanent. Respects Retry-After
// when the server sends one.
func ClassifyHTTPError(statusCode int, headers http.Header, body string) *BlockError {
	summary := body
	if len(summary) > 200 {
		summary = summary[:200]
	}
	err := fmt.Errorf("http %d: %s", statusCode, summary)

	switch {
	case statusCode == http.StatusTooManyRequests:
		be := NewTransientError(err)
		be.RetryAfter = parseRetryAfter(headers.Get("Retry-After"))
		return be
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		return NewPermanentError(err)
	}
}

// ClassifyError maps transport-level errors (timeouts, refused connections,
// DNS failures) to categories. Context cancellation is permanent: retrying
// a canceled call would outlive its caller.
func ClassifyError(err error) *BlockError {
	if err == nil {
		return nil
	}
	var be *BlockError
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewPermanentError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError(err)
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "no such host", "temporary failure", "eof"} {
		if strings.Contains(msg, s) {
			return NewTransientError(err)
		}
	}
	return NewPermanentError(err)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// BackoffCalculator produces exponential backoff delays with jitter for
// block-level retry policies.
type BackoffCalculator struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64
}

// DefaultBackoff matches the defaults applied when a block declares retries
// without tuning the policy.
func DefaultBackoff() *BackoffCalculator {
	return &BackoffCalculator{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Factor:    2.0,
		Jitter:    0.2,
	}
}

// Delay returns the wait before the given attempt (0-based).
func (b *BackoffCalculator) Delay(attempt int) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt))
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
