package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"agora/services"
)

type contextKey string

const agentIDKey contextKey = "agent_id"

// AgentID extracts the authenticated agent from the request context.
func AgentID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(agentIDKey).(uuid.UUID)
	return id
}

// RequireAuth validates the bearer token and injects the agent identity
// into the request context.
func RequireAuth(authSvc services.IAuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == "" || token == header {
				http.Error(w, `{"code":"permission_denied","error":"missing bearer token"}`,
					http.StatusUnauthorized)
				return
			}
			agentID, err := authSvc.Authenticate(token)
			if err != nil {
				http.Error(w, `{"code":"permission_denied","error":"invalid or expired token"}`,
					http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), agentIDKey, agentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logger emits one structured line per request.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			log.Info("Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
