package viewer

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/resource"
	"github.com/llnl/session-recorder/session"
	"github.com/llnl/session-recorder/snapshot"
)

var (
	snapshotFile   = regexp.MustCompile(`^[A-Za-z0-9_-]+\.html$`)
	screenshotFile = regexp.MustCompile(`^[A-Za-z0-9_-]+\.(png|jpe?g)$`)
	resourceKey    = regexp.MustCompile(`^[0-9a-f]{40}(\.[A-Za-z0-9]{1,8})?$`)
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.lib.List(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// getManifest returns session.json with the viewer notes merged into the
// action list.
func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	notes, err := s.noteActions(r, sess.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m := *sess.Manifest
	m.Actions = session.InsertNotes(m.Actions, notes)
	writeJSON(w, http.StatusOK, &m)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	sum := session.Summarize(sess.Loaded)
	if !sum.HasNotes {
		notes, err := s.noteActions(r, sess.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		sum.HasNotes = len(notes) > 0
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) getNetwork(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	entries, total := sess.NetworkEntries(library.NetworkQuery{
		Status:    queryInt(r, "status", 0),
		MinStatus: queryInt(r, "minStatus", 0),
		MinSize:   int64(queryInt(r, "minSize", 0)),
		URL:       q.Get("url"),
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 0),
	})
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) getConsole(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var levels []string
	if v := q.Get("level"); v != "" {
		levels = strings.Split(v, ",")
	}
	entries, total := sess.ConsoleEntries(library.ConsoleQuery{
		Levels: levels,
		Text:   q.Get("text"),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 0),
	})
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

// getSnapshot restores a stored snapshot and serves it sandboxed.
// ?script=0 leaves out the restore script.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if !snapshotFile.MatchString(file) {
		writeError(w, http.StatusBadRequest, errors.New("invalid snapshot name"))
		return
	}
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	data, ok := s.readFile(w, r, sess, path.Join(session.SnapshotDir, file))
	if !ok {
		return
	}
	out, err := snapshot.RenderHTML(string(data), snapshot.RenderOptions{
		NoScript: r.URL.Query().Get("script") == "0",
	})
	if err != nil {
		s.fail(w, r, fmt.Errorf("viewer: restore %s: %w", file, err))
		return
	}
	setHeaders(w.Header(), SnapshotHeaders())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(out))
}

func (s *Server) getScreenshot(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if !screenshotFile.MatchString(file) {
		writeError(w, http.StatusBadRequest, errors.New("invalid screenshot name"))
		return
	}
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	data, ok := s.readFile(w, r, sess, path.Join(session.ScreenshotDir, file))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", mime.TypeByExtension(path.Ext(file)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

// getResource serves a stored resource by key. Archives written without a
// resources directory still carry every resource in the manifest.
func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !resourceKey.MatchString(key) {
		writeError(w, http.StatusBadRequest, errors.New("invalid resource key"))
		return
	}
	sess, ok := s.load(w, r)
	if !ok {
		return
	}

	stored, inManifest := sess.Manifest.ResourceStorage[key]
	data, err := fs.ReadFile(sess.FS, path.Join(session.ResourceDir, key))
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && inManifest:
		if data, err = resource.Decode(stored); err != nil {
			s.fail(w, r, err)
			return
		}
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, fmt.Errorf("resource %s not found", key))
		return
	default:
		s.fail(w, r, err)
		return
	}

	ct := stored.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(key))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	// Sandboxed snapshots have an opaque origin; fonts load in CORS mode.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request, sess *library.Session, name string) ([]byte, bool) {
	data, err := fs.ReadFile(sess.FS, name)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s not found", name))
		return nil, false
	}
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return data, true
}
