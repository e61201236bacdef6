package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"flowhub/internal/execution"
	"flowhub/internal/middleware"
	"flowhub/internal/models"
	"flowhub/internal/services"
)

// WorkflowHandler handles workflow definition CRUD and lifecycle requests
type WorkflowHandler struct {
	workflowService *services.WorkflowService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflowService *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

// Create stores a new draft workflow definition
// POST /api/workflows
func (h *WorkflowHandler) Create(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)

	var def models.WorkflowDefinition
	if err := c.BodyParser(&def); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid workflow definition JSON",
		})
	}

	created, err := h.workflowService.Create(c.Context(), sess.TenantID, &def)
	if err != nil {
		log.Printf("❌ [WORKFLOW] Failed to create workflow: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create workflow",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// List returns all workflows for the tenant
// GET /api/workflows
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)

	workflows, err := h.workflowService.List(c.Context(), sess.TenantID)
	if err != nil {
		log.Printf("❌ [WORKFLOW] Failed to list workflows: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list workflows",
		})
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// Get returns a single workflow definition
// GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")

	def, err := h.workflowService.Get(c.Context(), sess.TenantID, workflowID)
	if err != nil {
		if errors.Is(err, execution.ErrWorkflowNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		log.Printf("❌ [WORKFLOW] Failed to get workflow %s: %v", workflowID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get workflow",
		})
	}

	return c.JSON(def)
}

// Update replaces a workflow definition and reverts it to draft
// PUT /api/workflows/:id
func (h *WorkflowHandler) Update(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")

	var def models.WorkflowDefinition
	if err := c.BodyParser(&def); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid workflow definition JSON",
		})
	}

	updated, err := h.workflowService.Update(c.Context(), sess.TenantID, workflowID, &def)
	if err != nil {
		if errors.Is(err, execution.ErrWorkflowNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		log.Printf("❌ [WORKFLOW] Failed to update workflow %s: %v", workflowID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update workflow",
		})
	}

	return c.JSON(updated)
}

// Publish validates the definition and marks it live
// POST /api/workflows/:id/publish
func (h *WorkflowHandler) Publish(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")

	def, err := h.workflowService.Publish(c.Context(), sess.TenantID, workflowID)
	if err != nil {
		if errors.Is(err, execution.ErrWorkflowNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		var fault *execution.Fault
		if errors.As(err, &fault) && fault.Code == execution.FaultInvalidDefinition {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":   "Workflow definition is invalid",
				"details": fault.Message,
			})
		}
		log.Printf("❌ [WORKFLOW] Failed to publish workflow %s: %v", workflowID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to publish workflow",
		})
	}

	log.Printf("🚀 [WORKFLOW] Published %s (version %d)", workflowID, def.Version)
	return c.JSON(def)
}

// Unpublish takes a workflow offline without deleting it
// POST /api/workflows/:id/unpublish
func (h *WorkflowHandler) Unpublish(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")

	if err := h.workflowService.Unpublish(c.Context(), sess.TenantID, workflowID); err != nil {
		if errors.Is(err, execution.ErrWorkflowNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		log.Printf("❌ [WORKFLOW] Failed to unpublish workflow %s: %v", workflowID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to unpublish workflow",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// Delete removes a workflow definition
// DELETE /api/workflows/:id
func (h *WorkflowHandler) Delete(c *fiber.Ctx) error {
	sess := middleware.SessionFromContext(c)
	workflowID := c.Params("id")

	if err := h.workflowService.Delete(c.Context(), sess.TenantID, workflowID); err != nil {
		if errors.Is(err, execution.ErrWorkflowNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		log.Printf("❌ [WORKFLOW] Failed to delete workflow %s: %v", workflowID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete workflow",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
