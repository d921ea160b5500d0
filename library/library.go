// Package library resolves recorded sessions by id or path and keeps the
// loaded ones in memory for the viewer and the MCP tools.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/llnl/session-recorder/archive"
	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/session"
)

// ErrNotFound is returned when a reference matches no session.
var ErrNotFound = errors.New("library: session not found")

// Session is a loaded recording. FS is rooted at the session directory or
// the zip root.
type Session struct {
	ID   string
	Path string
	FS   fs.FS
	*session.Loaded

	closer io.Closer
}

// Close releases the archive behind s.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Library finds sessions under a directory, through the catalog when one
// is configured.
type Library struct {
	dir     string
	catalog *catalog.Catalog
	logger  *slog.Logger

	mu     sync.Mutex
	loaded map[string]*Session
}

// New creates a Library over dir. cat may be nil.
func New(dir string, cat *catalog.Catalog, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{dir: dir, catalog: cat, logger: logger, loaded: make(map[string]*Session)}
}

// Catalog returns the catalog, or nil.
func (l *Library) Catalog() *catalog.Catalog { return l.catalog }

// List returns the known sessions, newest first. Without a catalog the
// directory is scanned and manifests are read.
func (l *Library) List(ctx context.Context, limit int) ([]*catalog.Entry, error) {
	if l.catalog != nil {
		return l.catalog.List(ctx, limit)
	}
	entries, err := l.scan()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *Library) scan() ([]*catalog.Entry, error) {
	des, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*catalog.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: scan %s: %w", l.dir, err)
	}

	byID := make(map[string]*catalog.Entry)
	for _, de := range des {
		name := de.Name()
		if !strings.HasPrefix(name, "session-") {
			continue
		}
		path := filepath.Join(l.dir, name)
		if !de.IsDir() && !strings.HasSuffix(name, ".zip") {
			continue
		}
		m, err := readManifest(path)
		if err != nil {
			l.logger.Debug("library: skipping", "path", path, "error", err)
			continue
		}
		e, ok := byID[m.SessionID]
		if !ok {
			e = catalog.EntryFor(m, "", "")
			byID[m.SessionID] = e
		}
		if de.IsDir() {
			e.Path = path
		} else {
			e.Archive = path
		}
	}

	out := make([]*catalog.Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime > out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Reindex scans the directory and registers every session found in the
// catalog. It returns the number of sessions indexed.
func (l *Library) Reindex(ctx context.Context) (int, error) {
	if l.catalog == nil {
		return 0, errors.New("library: reindex needs a catalog")
	}
	entries, err := l.scan()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := l.catalog.Upsert(ctx, e); err != nil {
			return 0, err
		}
	}
	l.logger.Info("library: reindexed", "dir", l.dir, "sessions", len(entries))
	return len(entries), nil
}

func readManifest(path string) (*session.Manifest, error) {
	fsys, c, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	l, err := session.Load(fsys)
	if err != nil {
		return nil, err
	}
	return l.Manifest, nil
}

// Resolve maps ref to a session directory or zip. ref is either a path or
// a session id.
func (l *Library) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("library: empty reference: %w", ErrNotFound)
	}
	if strings.ContainsRune(ref, filepath.Separator) || strings.HasSuffix(ref, ".zip") {
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("library: %s: %w", ref, ErrNotFound)
		}
		return ref, nil
	}

	if l.catalog != nil {
		e, err := l.catalog.Get(ctx, ref)
		switch {
		case err == nil:
			for _, p := range []string{e.Path, e.Archive} {
				if p == "" {
					continue
				}
				if _, err := os.Stat(p); err == nil {
					return p, nil
				}
			}
		case !errors.Is(err, catalog.ErrNotFound):
			return "", err
		}
	}

	for _, p := range []string{filepath.Join(l.dir, ref), filepath.Join(l.dir, ref+".zip")} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("library: %s: %w", ref, ErrNotFound)
}

// Load opens and parses the session ref points at and keeps it loaded.
// Loading a session that is already loaded returns the cached one.
func (l *Library) Load(ctx context.Context, ref string) (*Session, error) {
	l.mu.Lock()
	if s, ok := l.loaded[ref]; ok {
		l.mu.Unlock()
		return s, nil
	}
	l.mu.Unlock()

	path, err := l.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	fsys, closer, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	loaded, err := session.Load(fsys)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("library: load %s: %w", path, err)
	}
	s := &Session{
		ID:     loaded.Manifest.SessionID,
		Path:   path,
		FS:     fsys,
		Loaded: loaded,
		closer: closer,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.loaded[s.ID]; ok {
		closer.Close()
		return prev, nil
	}
	l.loaded[s.ID] = s
	l.logger.Info("library: session loaded",
		"session_id", s.ID,
		"path", path,
		"actions", len(loaded.Manifest.Actions),
		"resources", len(loaded.Manifest.Resources),
		"resource_bytes", humanize.Bytes(uint64(resourceBytes(loaded.Manifest))),
		"skipped_lines", loaded.Skipped,
	)
	return s, nil
}

func resourceBytes(m *session.Manifest) int64 {
	var n int64
	for _, r := range m.ResourceStorage {
		n += r.Size
	}
	return n
}

// Loaded returns the ids of the sessions held in memory, sorted.
func (l *Library) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.loaded))
	for id := range l.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unload drops a loaded session. It reports whether one was loaded.
func (l *Library) Unload(id string) bool {
	l.mu.Lock()
	s, ok := l.loaded[id]
	delete(l.loaded, id)
	l.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Close unloads every session.
func (l *Library) Close() error {
	l.mu.Lock()
	loaded := l.loaded
	l.loaded = make(map[string]*Session)
	l.mu.Unlock()

	var firstErr error
	for _, s := range loaded {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
