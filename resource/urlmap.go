package resource

import (
	"sync"

	"github.com/llnl/session-recorder/rewrite"
)

// URLMap maps absolute resource URLs to store keys. Writes are idempotent;
// a later capture of the same URL replaces the earlier key. Both sides
// go through rewrite.Normalize, so host case and default ports do not
// split entries.
type URLMap struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewURLMap returns an empty map.
func NewURLMap() *URLMap {
	return &URLMap{m: make(map[string]string)}
}

// Set records url -> key.
func (u *URLMap) Set(url, key string) {
	u.mu.Lock()
	u.m[rewrite.Normalize(url)] = key
	u.mu.Unlock()
}

// Lookup returns the key stored for url.
func (u *URLMap) Lookup(url string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	k, ok := u.m[rewrite.Normalize(url)]
	return k, ok
}

// Len returns the number of mapped URLs.
func (u *URLMap) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.m)
}
