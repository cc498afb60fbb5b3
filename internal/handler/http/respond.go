// Package httphandler exposes the delivery service over plain HTTP/JSON.
package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("RESPONSE_ENCODE_FAILED", "err", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// fail maps a service error onto a status code. Unclassified errors are logged and
// reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidArgument):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrConflict):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		Error(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		h.logger.Error("REQUEST_FAILED", "method", r.Method, "path", r.URL.Path, "err", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", model.ErrInvalidArgument)
	}
	return nil
}

func queryID(r *http.Request, name string) (int64, error) {
	return parseID(name, r.URL.Query().Get(name))
}

func pathID(r *http.Request, name string) (int64, error) {
	return parseID(name, chi.URLParam(r, name))
}

func parseID(name, raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required: %w", name, model.ErrInvalidArgument)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, model.ErrInvalidArgument)
	}
	return id, nil
}

// list keeps empty results encoding as [] rather than null.
func list[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
