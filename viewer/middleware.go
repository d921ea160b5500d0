package viewer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/llnl/session-recorder/idgen"
	"github.com/llnl/session-recorder/kit"
)

// HeaderConfig is the set of security headers applied to a response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string
}

// APIHeaders is the header set of JSON and binary API responses.
func APIHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'self'",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		PermissionsPolicy:   "camera=(), microphone=(), geolocation=()",
	}
}

// SnapshotHeaders is the header set of restored snapshots. The page runs
// sandboxed: only the inline restore script executes, and subresources
// load from the session's own resources.
func SnapshotHeaders() HeaderConfig {
	return HeaderConfig{
		CSP: "sandbox allow-scripts; default-src 'none'; script-src 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self' data:; " +
			"media-src 'self' data:; connect-src 'none'; form-action 'none'",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		PermissionsPolicy:   "camera=(), microphone=(), geolocation=()",
	}
}

// SecurityHeaders sets the configured headers on every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setHeaders(w.Header(), cfg)
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(h http.Header, cfg HeaderConfig) {
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set("X-Content-Type-Options", cfg.XContentTypeOptions)
	set("X-Frame-Options", cfg.XFrameOptions)
	set("Referrer-Policy", cfg.ReferrerPolicy)
	set("Content-Security-Policy", cfg.CSP)
	set("Permissions-Policy", cfg.PermissionsPolicy)
}

// MaxBody limits request bodies of writes.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet lets GET routes answer HEAD requests.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

type loggerKey struct{}

// RequestID tags each request with an id, stored in the context, echoed in
// X-Request-ID and attached to a per-request logger.
func RequestID(base *slog.Logger) func(http.Handler) http.Handler {
	newID := idgen.Prefixed("req-", idgen.Default)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = newID()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, loggerKey{}, logger)
			logger.Debug("viewer: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger returns the per-request logger, or fallback.
func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}
