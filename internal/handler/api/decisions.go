package api

import (
	"FinFuse/internal/usecase"
	xhttp "FinFuse/pkg/http"

	"github.com/labstack/echo/v4"
)

// DecisionsHandler triggers fusion for a symbol and reads the cached result.
type DecisionsHandler struct {
	decisions *usecase.DecisionService
}

func NewDecisionsHandler(decisions *usecase.DecisionService) *DecisionsHandler {
	return &DecisionsHandler{decisions: decisions}
}

func (h *DecisionsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/decisions")
	g.POST("/:symbol", h.Request)
	g.GET("/:symbol", h.Last)
}

func (h *DecisionsHandler) Request(c echo.Context) error {
	res, err := h.decisions.RequestDecision(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *DecisionsHandler) Last(c echo.Context) error {
	res, err := h.decisions.LastDecision(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return toAppError(err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, res)
}
