// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/drip/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	eventService     *services.Events
	validator        *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	eventService *services.Events,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		eventService:     eventService,
		validator:        validator,
	}
}

// RegisterRoutes mounts the workflow, execution and event endpoints.
func RegisterRoutes(router fiber.Router, handlers *APIHandlers) {
	router.Get("/health", handlers.HealthCheck)
	router.Post("/events", handlers.IngestEvent)

	w := router.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/deactivate", handlers.DeactivateWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/stats", handlers.GetWorkflowStats)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	e := router.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
}

func companyID(c fiber.Ctx) string {
	return strings.TrimSpace(c.Get(CompanyHeader))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Drip API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Drip API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context(), companyID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), companyID(c), req.definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), companyID(c), c.Params("id"), req.definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	cancelled, err := h.workflowService.Delete(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(DeleteWorkflowResponse{CancelledExecutions: cancelled})
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Deactivate(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	eventID, err := h.eventService.Run(c.Context(), companyID(c), c.Params("id"), req.SubjectID, req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{EventID: eventID})
}

func (h *APIHandlers) GetWorkflowStats(c fiber.Ctx) error {
	view, err := h.executionService.Stats(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	req := services.ListExecutionsRequest{
		CompanyID:  companyID(c),
		WorkflowID: c.Params("id"),
		Status:     c.Query("status"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.Limit = limit
	}

	executions, err := h.executionService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionsResponse{Executions: executions, Count: len(executions)})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.FetchByID(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Cancel(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.CompanyID == "" {
		req.CompanyID = companyID(c)
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	eventID, err := h.eventService.Ingest(c.Context(), req.event())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{EventID: eventID})
}
