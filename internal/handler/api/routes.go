package api

import (
	xhttp "FinFuse/pkg/http"

	"github.com/labstack/echo/v4"
)

// Router mounts every API handler on one echo instance.
type Router struct {
	handlers []xhttp.Handler
}

func NewRouter(signals *SignalsHandler, decisions *DecisionsHandler, jobs *JobsHandler) *Router {
	return &Router{handlers: []xhttp.Handler{signals, decisions, jobs}}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	for _, h := range r.handlers {
		h.RegisterRoutes(e)
	}
}

var _ xhttp.Handler = (*Router)(nil)
