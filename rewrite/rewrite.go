// Package rewrite points the external references of captured HTML and CSS
// at the session's resource directory so snapshots render offline.
//
// A reference is resolved against its base URL and looked up in a
// Resolver (normally a resource.URLMap). References that cannot be
// resolved are left byte-identical; the Result counts them.
package rewrite

import (
	"net/url"
	"strings"
)

// DefaultPrefix is the path from snapshots/ to resources/.
const DefaultPrefix = "../resources/"

// Resolver maps an absolute URL to a resource key.
type Resolver interface {
	Lookup(url string) (string, bool)
}

// Rewriter rewrites references through Lookup.
type Rewriter struct {
	Lookup Resolver
	// Prefix is prepended to resolved keys. Default: DefaultPrefix.
	Prefix string
}

// New returns a Rewriter with the default prefix.
func New(r Resolver) *Rewriter {
	return &Rewriter{Lookup: r, Prefix: DefaultPrefix}
}

// Result reports what a rewrite pass did.
type Result struct {
	Rewritten int
	Missed    int
	// Misses holds the unresolved references, deduplicated, in order of
	// first appearance.
	Misses []string
}

func (r *Result) hit() { r.Rewritten++ }

func (r *Result) miss(ref string) {
	r.Missed++
	r.note(ref)
}

func (r *Result) note(ref string) {
	for _, m := range r.Misses {
		if m == ref {
			return
		}
	}
	r.Misses = append(r.Misses, ref)
}

// Add merges o into r.
func (r *Result) Add(o Result) {
	r.Rewritten += o.Rewritten
	r.Missed += o.Missed
	for _, m := range o.Misses {
		r.note(m)
	}
}

func (rw *Rewriter) prefix() string {
	if rw.Prefix == "" {
		return DefaultPrefix
	}
	return rw.Prefix
}

// inert reports whether a reference needs no rewriting at all: embedded
// data, in-document fragments and script pseudo-URLs.
func inert(ref string) bool {
	if ref == "" || ref[0] == '#' {
		return true
	}
	lower := strings.ToLower(ref)
	for _, p := range []string{"data:", "blob:", "javascript:", "about:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Absolute resolves ref against base and normalizes the result. Protocol-
// relative references take the base's scheme. It returns ref unchanged
// when either fails to parse.
func Absolute(ref, base string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == "" {
		return normalize(u).String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return normalize(b.ResolveReference(u)).String()
}

var defaultPorts = map[string]string{"http": "80", "https": "443", "ws": "80", "wss": "443"}

// Normalize brings an absolute URL to the form browsers report: host in
// lower case, default port dropped and an empty http(s) path written as
// "/". Unparseable input is returned as is.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return normalize(u).String()
}

func normalize(u *url.URL) *url.URL {
	if u.Host == "" {
		return u
	}
	host, port := u.Hostname(), u.Port()
	if port == defaultPorts[u.Scheme] {
		port = ""
	}
	host = strings.ToLower(host)
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	if u.Path == "" && u.Opaque == "" && (u.Scheme == "http" || u.Scheme == "https") {
		u.Path = "/"
		u.RawPath = ""
	}
	return u
}

// resolve applies the lookup order: absolute URL, the reference as
// written, then the absolute URL without query and fragment.
func (rw *Rewriter) resolve(ref, base string) (string, bool) {
	if rw.Lookup == nil {
		return "", false
	}
	abs := Absolute(ref, base)
	if k, ok := rw.Lookup.Lookup(abs); ok {
		return k, true
	}
	if k, ok := rw.Lookup.Lookup(ref); ok {
		return k, true
	}
	if i := strings.IndexAny(abs, "?#"); i >= 0 {
		if k, ok := rw.Lookup.Lookup(abs[:i]); ok {
			return k, true
		}
	}
	return "", false
}

// ref rewrites one reference. ok is false when the reference must stay
// as it is.
func (rw *Rewriter) ref(raw, base string, res *Result) (string, bool) {
	ref := strings.TrimSpace(raw)
	if inert(ref) {
		return raw, false
	}
	key, ok := rw.resolve(ref, base)
	if !ok {
		res.miss(ref)
		return raw, false
	}
	res.hit()
	return rw.prefix() + key, true
}
