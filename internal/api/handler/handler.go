// Package handler implements the HTTP endpoints for cars and analysis jobs.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/carinspect/internal/api/middleware"
	"github.com/kiranshivaraju/carinspect/internal/api/response"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/internal/jobs"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

const maxBodyBytes = 1 << 20

// actorFrom returns the principal of an authenticated request. Keys with the
// admin scope act as admins.
func actorFrom(w http.ResponseWriter, r *http.Request) (carlock.Actor, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return carlock.Actor{}, false
	}
	if mw.HasScope(r, models.ScopeAdmin) {
		return carlock.Admin(userID), true
	}
	return carlock.User(userID), true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

// writeError maps service errors to responses. Anything unrecognised is a 500 with a
// generic message; the cause is only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var te *carlock.TransitionError
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, carlock.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.As(err, &te):
		response.Error(w, http.StatusBadRequest, "INVALID_TRANSITION", te.Error(), map[string]any{
			"from":    te.From,
			"to":      te.To,
			"allowed": te.Allowed,
		})
	case errors.Is(err, carlock.ErrInvalidTransition):
		response.Error(w, http.StatusBadRequest, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, carlock.ErrIncompleteMedia):
		response.Error(w, http.StatusBadRequest, "INCOMPLETE_MEDIA", err.Error(), nil)
	case errors.Is(err, carlock.ErrLocked):
		response.Error(w, http.StatusBadRequest, "CAR_LOCKED", err.Error(), nil)
	case errors.Is(err, carlock.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, jobs.ErrRetryLimitExceeded):
		response.Error(w, http.StatusBadRequest, "RETRY_LIMIT_EXCEEDED", err.Error(), nil)
	case errors.Is(err, jobs.ErrNotRetryable):
		response.Error(w, http.StatusBadRequest, "JOB_NOT_RETRYABLE", err.Error(), nil)
	case errors.Is(err, jobs.ErrCannotCancel):
		response.Error(w, http.StatusBadRequest, "JOB_NOT_CANCELLABLE", err.Error(), nil)
	case errors.Is(err, store.ErrActiveJobExists):
		response.Error(w, http.StatusBadRequest, "ACTIVE_JOB_EXISTS", err.Error(), nil)
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
