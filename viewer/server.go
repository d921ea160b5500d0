// Package viewer serves recorded sessions over HTTP: manifests, logs,
// restored snapshots, screenshots, resources, notes and live recorder
// events.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/recorder"
)

// Controller is the recorder surface the viewer exposes. *recorder.Recorder
// implements it.
type Controller interface {
	Start(ctx context.Context, browserType string) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) (string, error)
	Status() recorder.Status
}

// Config configures a Server. Hub and Recorder are optional.
type Config struct {
	Library  *library.Library
	Hub      *Hub
	Recorder Controller
	Logger   *slog.Logger
	// MaxBodySize limits note and control request bodies. Default 64 KiB.
	MaxBodySize int64
}

// Server is the viewer HTTP API.
type Server struct {
	lib    *library.Library
	hub    *Hub
	rec    Controller
	logger *slog.Logger
	policy *bluemonday.Policy
	router chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 64 * 1024
	}
	s := &Server{
		lib:    cfg.Library,
		hub:    cfg.Hub,
		rec:    cfg.Recorder,
		logger: cfg.Logger,
		policy: bluemonday.UGCPolicy(),
	}

	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Use(RequestID(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(MaxBody(cfg.MaxBodySize))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "sessrec-viewer")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders(APIHeaders()))

		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.validID)
				r.Get("/", s.getManifest)
				r.Get("/summary", s.getSummary)
				r.Get("/network", s.getNetwork)
				r.Get("/console", s.getConsole)
				r.Get("/snapshots/{file}", s.getSnapshot)
				r.Get("/screenshots/{file}", s.getScreenshot)
				r.Get("/resources/{key}", s.getResource)

				r.Get("/notes", s.listNotes)
				r.Post("/notes", s.addNote)
				r.Put("/notes/{noteID}", s.updateNote)
				r.Delete("/notes/{noteID}", s.deleteNote)
			})
		})

		r.Route("/api/recorder", func(r chi.Router) {
			r.Get("/status", s.recorderStatus)
			r.Post("/start", s.recorderStart)
			r.Post("/pause", s.recorderPause)
			r.Post("/resume", s.recorderResume)
			r.Post("/stop", s.recorderStop)
		})
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("viewer: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("viewer: serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("viewer: shutdown: %w", err)
	}
	s.logger.Info("viewer: stopped")
	return nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// validID rejects session ids that could be read as paths.
func (s *Server) validID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !idPattern.MatchString(chi.URLParam(r, "id")) {
			writeError(w, http.StatusBadRequest, errors.New("invalid session id"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// load returns the session of the request, writing the error response
// when it cannot.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*library.Session, bool) {
	sess, err := s.lib.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

// fail maps err to a status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, library.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, recorder.ErrInvalidState):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		requestLogger(r.Context(), s.logger).Error("viewer: request failed", "error", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
