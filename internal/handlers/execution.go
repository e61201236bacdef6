package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"flowhub/internal/execution"
	"flowhub/internal/logging"
	"flowhub/internal/middleware"
	"flowhub/internal/models"
	"flowhub/internal/services"
)

// ExecutionHandler handles execution start, resume, and history requests
type ExecutionHandler struct {
	engine         *execution.Engine
	executionStore *services.ExecutionStore
	metrics        *services.Metrics
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(engine *execution.Engine, executionStore *services.ExecutionStore, metrics *services.Metrics) *ExecutionHandler {
	return &ExecutionHandler{
		engine:         engine,
		executionStore: executionStore,
		metrics:        metrics,
	}
}

type executeRequest struct {
	Action string         `json:"action"`
	Input  map[string]any `json:"input"`
}

type continueRequest struct {
	Input any `json:"input"`
}

// Execute starts a new execution of a live workflow.
// POST /api/workflows/:id/execute
//
// Synchronous by default: the response is the terminal (or waiting)
// execution snapshot. With ?mode=stream the handler returns 202 with the
// execution id immediately and runs the workflow in the background; clients
// follow progress on the stream endpoint.
func (h *ExecutionHandler) Execute(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")
	mode := c.Query("mode", "sync")

	var req executeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	// action "execute" in the body is the older client form of ?mode=stream.
	if mode == "stream" || req.Action == "execute" {
		exec, def, err := h.engine.Prepare(c.Context(), workflowID, req.Input, sess)
		if err != nil {
			return h.startError(c, workflowID, err)
		}

		h.metrics.RecordExecutionStarted("stream")
		go h.runDetached(def, exec)

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"executionId": exec.ID,
			"status":      exec.Status,
		})
	}

	h.metrics.RecordExecutionStarted("sync")
	h.metrics.ActiveExecutions.Inc()
	started := time.Now()
	exec, err := h.engine.Execute(c.Context(), workflowID, req.Input, sess)
	h.metrics.ActiveExecutions.Dec()
	if err != nil {
		if exec == nil {
			return h.startError(c, workflowID, err)
		}
		// Execution started but ended in error; the snapshot carries the fault.
	}
	h.metrics.RecordExecutionFinished(string(exec.Status), time.Since(started).Seconds())

	return c.JSON(exec)
}

// runDetached runs a prepared execution outside the request lifecycle.
// There is no request logger to lean on here, so it logs through the
// execution-scoped slog fields.
func (h *ExecutionHandler) runDetached(def *models.WorkflowDefinition, exec *models.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	h.metrics.ActiveExecutions.Inc()
	defer h.metrics.ActiveExecutions.Dec()

	logger := logging.WithExecution(exec.ID, exec.WorkflowID, exec.Session.TenantID)
	started := time.Now()
	final, err := h.engine.Run(ctx, def, exec)
	if err != nil {
		logger.Error("detached run failed", "error", err)
	}
	if final != nil {
		logger.Info("detached run finished", "status", final.Status, "duration", time.Since(started))
		h.metrics.RecordExecutionFinished(string(final.Status), time.Since(started).Seconds())
	}
}

// Continue resumes an execution suspended at a waitForInput block.
// POST /api/executions/:id/continue
func (h *ExecutionHandler) Continue(c *fiber.Ctx) error {
	executionID := c.Params("id")

	var req continueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	started := time.Now()
	h.metrics.ActiveExecutions.Inc()
	exec, err := h.engine.ContinueExecution(c.Context(), executionID, req.Input)
	h.metrics.ActiveExecutions.Dec()
	if err != nil {
		switch {
		case errors.Is(err, execution.ErrExecutionNotFound):
			h.metrics.RecordResumeClaim("not_found")
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Execution not found",
			})
		case errors.Is(err, execution.ErrNotWaiting):
			h.metrics.RecordResumeClaim("not_waiting")
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Execution is not waiting for input",
			})
		}
		if exec == nil {
			log.Printf("❌ [EXECUTION] Failed to resume %s: %v", executionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to resume execution",
			})
		}
		// Resume claimed but the run ended in error; return the snapshot.
	}

	h.metrics.RecordResumeClaim("won")
	h.metrics.RecordExecutionFinished(string(exec.Status), time.Since(started).Seconds())

	return c.JSON(exec)
}

// Get returns a single execution snapshot
// GET /api/executions/:id
func (h *ExecutionHandler) Get(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	executionID := c.Params("id")

	exec, err := h.executionStore.GetForSession(c.Context(), executionID, sess)
	if err != nil {
		if errors.Is(err, execution.ErrExecutionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Execution not found",
			})
		}
		log.Printf("❌ [EXECUTION] Failed to get execution %s: %v", executionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get execution",
		})
	}

	return c.JSON(exec)
}

// List returns paginated executions for the tenant
// GET /api/executions
func (h *ExecutionHandler) List(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	opts := h.parseListOptions(c)

	result, err := h.executionStore.ListByTenant(c.Context(), sess.TenantID, opts)
	if err != nil {
		log.Printf("❌ [EXECUTION] Failed to list executions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list executions",
		})
	}

	return c.JSON(result)
}

// Stats returns execution statistics for a workflow
// GET /api/workflows/:id/executions/stats
func (h *ExecutionHandler) Stats(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")

	stats, err := h.executionStore.GetStats(c.Context(), workflowID, sess.TenantID)
	if err != nil {
		log.Printf("❌ [EXECUTION] Failed to get stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get execution stats",
		})
	}

	return c.JSON(stats)
}

// startError maps execution start failures to HTTP responses.
func (h *ExecutionHandler) startError(c *fiber.Ctx, workflowID string, err error) error {
	switch {
	case errors.Is(err, execution.ErrWorkflowNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Workflow not found",
		})
	case errors.Is(err, execution.ErrWorkflowNotLive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Workflow is not published",
		})
	}

	var fault *execution.Fault
	if errors.As(err, &fault) {
		switch fault.Code {
		case execution.FaultInvalidDefinition:
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":   "Workflow definition is invalid",
				"details": fault.Message,
			})
		case execution.FaultInvalidInput:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Workflow input is invalid",
				"details": fault.Message,
			})
		}
	}

	log.Printf("❌ [EXECUTION] Failed to start execution of %s: %v", workflowID, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to start execution",
	})
}

// parseListOptions extracts pagination and filter options from query params
func (h *ExecutionHandler) parseListOptions(c *fiber.Ctx) *services.ListOptions {
	opts := &services.ListOptions{
		Page:       1,
		Limit:      20,
		Status:     c.Query("status"),
		WorkflowID: c.Query("workflow_id"),
	}

	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		opts.Page = page
	}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit <= 100 {
		opts.Limit = limit
	}

	return opts
}
