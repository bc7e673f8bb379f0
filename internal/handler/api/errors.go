package api

import (
	"errors"
	"net/http"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/middleware"
	"FinFuse/internal/usecase"
	xhttp "FinFuse/pkg/http"
	"FinFuse/pkg/queue"
)

// toAppError maps domain and queue errors onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return xhttp.ValidationFailed(verr.Field, verr.Message).WithError(err)
	case errors.Is(err, queue.ErrInvalidJob), errors.Is(err, queue.ErrUnknownLane):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrSignalNotFound), errors.Is(err, queue.ErrJobNotFound), errors.Is(err, usecase.ErrNoDecision),
		errors.Is(err, usecase.ErrDeadLettersDisabled):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrStaleSignalState),
		errors.Is(err, models.ErrDecisionInProgress),
		errors.Is(err, models.ErrNoPendingExecution):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, middleware.ErrThrottled):
		return xhttp.NewAppError("ERR_THROTTLED", "", err.Error(), http.StatusTooManyRequests).WithError(err)
	case errors.Is(err, queue.ErrNotRunning):
		return xhttp.NewAppError("ERR_UNAVAILABLE", "", err.Error(), http.StatusServiceUnavailable).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
