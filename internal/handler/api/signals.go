package api

import (
	"FinFuse/internal/domain/models"
	"FinFuse/internal/usecase"
	xhttp "FinFuse/pkg/http"
	xlogger "FinFuse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalsHandler serves signal ingest, reads and cancellation.
type SignalsHandler struct {
	logger  *xlogger.Logger
	ingest  usecase.Ingestor
	signals *usecase.SignalService
}

func NewSignalsHandler(logger *xlogger.Logger, ingest usecase.Ingestor, signals *usecase.SignalService) *SignalsHandler {
	return &SignalsHandler{logger: logger, ingest: ingest, signals: signals}
}

func (h *SignalsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/signals")
	g.POST("", h.Submit)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/cancel", h.Cancel)
}

func (h *SignalsHandler) Submit(c echo.Context) error {
	req := &models.SubmitSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.ingest.Process(c.Request().Context(), req)
	if err != nil {
		return toAppError(err)
	}
	return xhttp.CreatedResponse(c, sig)
}

func (h *SignalsHandler) Get(c echo.Context) error {
	sig, err := h.signals.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *SignalsHandler) List(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.signals.List(c.Request().Context(), *req)
	if err != nil {
		return toAppError(err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SignalsHandler) Cancel(c echo.Context) error {
	req := &models.CancelSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.signals.Cancel(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return toAppError(err)
	}
	h.logger.Info("signal cancelled via api", xlogger.String("id", sig.ID))
	return xhttp.SuccessResponse(c, sig)
}
