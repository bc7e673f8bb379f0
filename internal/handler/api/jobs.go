package api

import (
	"FinFuse/internal/domain/models"
	"FinFuse/internal/usecase"
	xhttp "FinFuse/pkg/http"

	"github.com/labstack/echo/v4"
)

// JobsHandler exposes the job queue and service status.
type JobsHandler struct {
	jobs    *usecase.JobService
	monitor *usecase.Monitor
}

func NewJobsHandler(jobs *usecase.JobService, monitor *usecase.Monitor) *JobsHandler {
	return &JobsHandler{jobs: jobs, monitor: monitor}
}

func (h *JobsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/jobs", h.Enqueue)
	g.GET("/jobs/:id", h.Get)
	g.POST("/jobs/:id/outcome", h.Outcome)
	g.GET("/queues/:lane/counts", h.Counts)
	g.GET("/queues/:lane/dead-letters", h.DeadLetters)
	g.GET("/status", h.Status)
}

func (h *JobsHandler) Enqueue(c echo.Context) error {
	req := &models.EnqueueJobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.Enqueue(c.Request().Context(), req)
	if err != nil {
		return toAppError(err)
	}
	return xhttp.AcceptedResponse(c, job)
}

func (h *JobsHandler) Get(c echo.Context) error {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *JobsHandler) Outcome(c echo.Context) error {
	req := &models.JobOutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.jobs.ReportOutcome(c.Request().Context(), c.Param("id"), req); err != nil {
		return toAppError(err)
	}
	return xhttp.AcceptedResponse(c, map[string]string{"jobId": c.Param("id")})
}

func (h *JobsHandler) Counts(c echo.Context) error {
	counts, err := h.jobs.Counts(c.Param("lane"))
	if err != nil {
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, counts)
}

func (h *JobsHandler) DeadLetters(c echo.Context) error {
	req := &models.DeadLettersRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	items, err := h.jobs.DeadLetters(c.Request().Context(), req.Lane, req.Limit)
	if err != nil {
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, items)
}

type statusResponse struct {
	Running bool `json:"running"`
	models.StatusEvent
}

func (h *JobsHandler) Status(c echo.Context) error {
	snap, err := h.monitor.Snapshot(c.Request().Context())
	if err != nil {
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, statusResponse{Running: h.jobs.Status().Running, StatusEvent: snap})
}
