// Package httpapi is the request/response surface: account management,
// chat administration, history and search. Realtime delivery lives on
// the WebSocket side; everything here is plain JSON over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"agora/errors"
	"agora/services"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	log     *slog.Logger
	authSvc services.IAuthService
	chatSvc services.IChatService
	started time.Time
}

func NewHandler(log *slog.Logger, authSvc services.IAuthService,
	chatSvc services.IChatService) *Handler {
	return &Handler{log: log, authSvc: authSvc, chatSvc: chatSvc, started: time.Now()}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error maps a service error onto an HTTP status and a stable code.
func (h *Handler) Error(w http.ResponseWriter, err error) {
	code := errors.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "error", err)
	}
	h.JSON(w, status, map[string]string{"code": code, "error": err.Error()})
}

func statusFor(code string) int {
	switch code {
	case "validation_error":
		return http.StatusBadRequest
	case "permission_denied":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "broker_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Health reports liveness and uptime.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errors.ErrValidation
	}
	return nil
}
