package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groupgate/groupgate/internal/domain/access"
)

// Authentication headers. The broker runs behind an authenticating reverse
// proxy (IAP or equivalent) that strips these headers from client requests
// and sets them from the verified identity. The broker trusts them as-is.
const (
	// HeaderUserEmail carries the authenticated end user's email.
	HeaderUserEmail = "X-Authenticated-User-Email"
	// HeaderUserGroups carries the user's resolved group emails,
	// comma-separated.
	HeaderUserGroups = "X-Authenticated-User-Groups"
)

type requestIDContextKey struct{}
type subjectContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// SubjectKey is the context key for the authenticated subject.
var SubjectKey = subjectContextKey{}

// RequestIDMiddleware extracts or generates a request ID and sets it on the
// response for correlation.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectMiddleware builds the caller's access.Subject from the
// authentication headers. Requests without an authenticated user are
// rejected; the broker never serves anonymous callers.
func SubjectMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := strings.TrimSpace(r.Header.Get(HeaderUserEmail))
			if email == "" {
				logger.Warn("unauthenticated request rejected", "path", r.URL.Path)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			var memberships []access.Principal
			for _, g := range strings.Split(r.Header.Get(HeaderUserGroups), ",") {
				if g = strings.TrimSpace(g); g != "" {
					memberships = append(memberships, access.Group(g))
				}
			}

			subject := access.NewSubject(access.EndUser(email), memberships...)
			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext retrieves the authenticated subject from context.
func SubjectFromContext(ctx context.Context) (*access.Subject, bool) {
	subject, ok := ctx.Value(SubjectKey).(*access.Subject)
	return subject, ok
}

// MetricsMiddleware wraps a handler to record request duration and status.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			metrics.RequestDuration.WithLabelValues(r.Method).Observe(duration)
			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusToLabel converts an HTTP status code to a metric label value.
func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
