package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"flowhub/internal/execution"
	"flowhub/internal/logging"
	"flowhub/internal/middleware"
	"flowhub/internal/services"
)

// StreamHandler serves execution progress over Server-Sent Events.
type StreamHandler struct {
	progressService *services.ProgressService
	executionStore  *services.ExecutionStore
	metrics         *services.Metrics
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(progressService *services.ProgressService, executionStore *services.ExecutionStore, metrics *services.Metrics) *StreamHandler {
	return &StreamHandler{
		progressService: progressService,
		executionStore:  executionStore,
		metrics:         metrics,
	}
}

// Stream streams progress snapshots for one execution as SSE events.
// GET /api/executions/:id/stream
//
// Each event carries a full execution snapshot, so a client only ever needs
// the latest one. The stream closes once a terminal snapshot is sent.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	executionID := c.Params("id")

	// Verify the execution exists and belongs to this tenant before
	// committing to the stream response.
	exec, err := h.executionStore.GetForSession(c.Context(), executionID, sess)
	if err != nil {
		if errors.Is(err, execution.ErrExecutionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Execution not found",
			})
		}
		log.Printf("❌ [STREAM] Failed to load execution %s: %v", executionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load execution",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	subID, updates := h.progressService.Subscribe(executionID)
	h.metrics.StreamSubscribers.Inc()

	logger := logging.WithExecution(executionID, exec.WorkflowID, sess.TenantID)
	logger.Info("progress stream opened")

	initial := exec

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.progressService.Unsubscribe(executionID, subID)
			h.metrics.StreamSubscribers.Dec()
			logger.Info("progress stream closed")
		}()

		// Send the snapshot we already have so the client never starts blind.
		if err := writeSnapshot(w, initial); err != nil {
			return
		}
		if initial.Status.IsTerminal() {
			return
		}

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case snapshot, ok := <-updates:
				if !ok {
					return
				}
				if err := writeSnapshot(w, snapshot); err != nil {
					return
				}
				if snapshot.Status.IsTerminal() {
					return
				}
			case <-keepalive.C:
				// Comment line keeps intermediaries from closing idle streams.
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

func writeSnapshot(w *bufio.Writer, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
