package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowmod/flowmod/pkg/loader"
	"github.com/flowmod/flowmod/pkg/services"
)

type APIHandlers struct {
	workflows *services.Workflows
	runs      *services.Runs
	validator *validator.Validate
}

func NewAPIHandlers(
	workflows *services.Workflows,
	runs *services.Runs,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		runs:      runs,
		validator: validator,
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	workflows := app.Group("/workflows")
	workflows.Get("/", h.GetWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:name", h.GetWorkflow)
	workflows.Delete("/:name", h.DeleteWorkflow)

	runs := app.Group("/runs")
	runs.Get("/", h.GetRuns)
	runs.Post("/", h.SubmitRun)
	runs.Get("/:id", h.GetRun)
	runs.Post("/:id/cancel", h.CancelRun)
	runs.Post("/:id/approve", h.ApproveRun)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.All(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

// CreateWorkflow stores a workflow definition. The body is the definition
// document itself, JSON by default or YAML when the content type says so,
// and goes through the same parsing and schema checks as file loading.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	format := loader.FormatJSON
	if strings.Contains(c.Get(fiber.HeaderContentType), "yaml") {
		format = loader.FormatYAML
	}

	workflow, err := loader.Parse(c.Body(), format)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.workflows.Save(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Workflow name is required")
	}

	workflow, err := h.workflows.ByName(c.Context(), name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Workflow name is required")
	}

	err := h.workflows.Delete(c.Context(), name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SubmitRun(c fiber.Ctx) error {
	var req SubmitRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflows.ByName(c.Context(), req.Workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	run, err := h.runs.Submit(c.Context(), workflow, req.Params)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs, err := h.runs.All(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, tasks, err := h.runs.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RunResponse{Run: run, Tasks: tasks})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	err := h.runs.Cancel(id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ApproveRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req ApproveRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.runs.Approve(id, req.ApprovedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
