// Package resource is the content-addressed store for every byte blob a
// session captures: stylesheets, scripts, images, fonts and documents.
//
// Keys are the SHA1 of the captured bytes plus an inferred extension. A
// blob is written to disk exactly once no matter how often it is seen;
// later sightings only count as references.
package resource

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llnl/session-recorder/session"
)

// ErrUnknownKey is returned for operations on a key the store never saw.
var ErrUnknownKey = errors.New("resource: unknown key")

type entry struct {
	res  session.StoredResource
	url  string
	refs int
}

// Store persists blobs under a directory. It is safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	writes  int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for resource timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates the directory if needed and returns an empty store.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:     dir,
		logger:  slog.Default(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("resource: mkdir %s: %w", dir, err)
	}
	return s, nil
}

// Dir returns the directory blobs are written to.
func (s *Store) Dir() string { return s.dir }

// Key returns the store key for data without storing it.
func Key(rawURL string, data []byte, contentType string) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]) + Extension(contentType, rawURL)
}

// Put stores data and returns its key. The first call for a given content
// writes resources/<key> and fsyncs it; every later call only bumps the
// reference counters.
func (s *Store) Put(rawURL string, data []byte, contentType string) (string, error) {
	key := Key(rawURL, data, contentType)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.refs++
		return key, nil
	}

	if err := writeFile(filepath.Join(s.dir, key), data); err != nil {
		return "", fmt.Errorf("resource: put %s: %w", key, err)
	}
	s.writes++
	s.entries[key] = &entry{
		res: session.StoredResource{
			SHA1:        key,
			Content:     encodeContent(data, contentType),
			ContentType: contentType,
			Size:        int64(len(data)),
			Timestamp:   s.now().UnixMilli(),
		},
		url:  rawURL,
		refs: 1,
	}
	s.logger.Debug("resource: stored",
		"key", key,
		"content_type", contentType,
		"size", humanize.Bytes(uint64(len(data))),
		"url", rawURL,
	)
	return key, nil
}

// Has reports whether key is stored.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Get returns the manifest entry for key.
func (s *Store) Get(key string) (session.StoredResource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return session.StoredResource{}, false
	}
	return e.res, true
}

// Keys returns every stored key in lexical order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rewrite replaces the stored representation of a textual resource with
// fn applied to its current bytes. The key keeps naming the captured bytes;
// only the file and the manifest content change.
func (s *Store) Rewrite(key string, fn func(url string, data []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("resource: rewrite %s: %w", key, ErrUnknownKey)
	}
	p := filepath.Join(s.dir, key)
	data, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("resource: rewrite %s: %w", key, err)
	}
	out, err := fn(e.url, data)
	if err != nil {
		return fmt.Errorf("resource: rewrite %s: %w", key, err)
	}
	if string(out) == string(data) {
		return nil
	}

	tmp := p + ".tmp"
	if err := writeFile(tmp, out); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("resource: rewrite %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("resource: rewrite %s: %w", key, err)
	}
	e.res.Content = encodeContent(out, e.res.ContentType)
	e.res.Size = int64(len(out))
	return nil
}

// Export returns the resourceStorage map of the manifest.
func (s *Store) Export() map[string]session.StoredResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]session.StoredResource, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.res
	}
	return out
}

// Stats summarizes the store. All values derive from the stored entries.
type Stats struct {
	Resources       int     `json:"resources"`
	StoredBytes     int64   `json:"storedBytes"`
	References      int     `json:"references"`
	ReferencedBytes int64   `json:"referencedBytes"`
	Writes          int     `json:"writes"`
	DedupRatio      float64 `json:"dedupRatio"`
}

// Stats returns the current counters. DedupRatio is the share of
// referenced bytes that did not have to be stored again.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, e := range s.entries {
		st.Resources++
		st.StoredBytes += e.res.Size
		st.References += e.refs
		st.ReferencedBytes += e.res.Size * int64(e.refs)
	}
	st.Writes = s.writes
	if st.ReferencedBytes > 0 {
		st.DedupRatio = 1 - float64(st.StoredBytes)/float64(st.ReferencedBytes)
	}
	return st
}

// IsText reports whether a content type is stored as UTF-8 text in the
// manifest rather than base64.
func IsText(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "javascript") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "svg")
}

// Decode returns the bytes of a manifest entry.
func Decode(r session.StoredResource) ([]byte, error) {
	if IsText(r.ContentType) {
		return []byte(r.Content), nil
	}
	data, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return nil, fmt.Errorf("resource: decode %s: %w", r.SHA1, err)
	}
	return data, nil
}

func encodeContent(data []byte, contentType string) string {
	if IsText(contentType) {
		return string(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}

var extensions = []struct {
	match string
	ext   string
}{
	{"text/css", ".css"},
	{"javascript", ".js"},
	{"image/png", ".png"},
	{"image/jpeg", ".jpg"},
	{"image/jpg", ".jpg"},
	{"image/svg", ".svg"},
	{"image/webp", ".webp"},
	{"image/gif", ".gif"},
	{"font/woff2", ".woff2"},
	{"font/woff", ".woff"},
	{"font/ttf", ".ttf"},
	{"text/html", ".html"},
	{"application/json", ".json"},
}

// Extension infers a key extension from the content type, then from the
// URL path, then falls back to ".dat".
func Extension(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	for _, e := range extensions {
		if strings.Contains(ct, e.match) {
			return e.ext
		}
	}
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		if j := strings.IndexByte(p, '/'); j >= 0 {
			p = p[j:]
		} else {
			p = ""
		}
	}
	if ext := path.Ext(p); ext != "" && len(ext) <= 8 && !strings.ContainsAny(ext, `/\`) {
		return strings.ToLower(ext)
	}
	return ".dat"
}

func writeFile(p string, data []byte) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
