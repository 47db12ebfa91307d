package auth

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Query parameters that name the annotation target of a project route.
var targetQueryParams = []string{"video", "question"}

func clientIp(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); len(ip) > 0 {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); len(ip) > 0 {
		return ip
	}
	return r.RemoteAddr
}

// workspaceTarget names the records a request addresses: the route params
// (project, collection) plus the video and question of annotation routes.
func workspaceTarget(r *http.Request) []interface{} {
	attrs := make([]interface{}, 0)

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key != "*" {
				attrs = append(attrs, slog.String(key, rctx.URLParams.Values[i]))
			}
		}
	}

	query := r.URL.Query()
	for _, key := range targetQueryParams {
		if value := query.Get(key); value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	return attrs
}

func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// AuditLogger writes one json line per authenticated request once it has been
// served: who acted, on which workspace records, and with what outcome.
// Rejected requests are logged at warn level.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(stream io.Writer) AuditLogger {
	logger := slog.New(slog.NewJSONHandler(stream, nil))
	return AuditLogger{logger: logger}
}

func (log *AuditLogger) Middleware(next http.Handler) http.Handler {
	handler := func(w http.ResponseWriter, r *http.Request) {
		user, err := UserFromContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}

		log.logger.Log(r.Context(), level, "workspace request",
			"user", user.UserUid,
			"role_kind", user.RoleKind,
			"mutation", r.Method != http.MethodGet,
			"method", r.Method,
			"route", routeOf(r),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIp(r),
			slog.Group("target", workspaceTarget(r)...),
		)
	}
	return http.HandlerFunc(handler)
}
