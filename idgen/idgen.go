// Package idgen hands out identifiers.
//
// Catalog rows and notes get opaque UUIDv7 strings from a Generator.
// Everything written into a manifest uses readable ids instead: the session
// id is derived from its start time and actions are numbered per kind
// ("action-1", "nav-2", "voice-3").
package idgen

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator returns a fresh unique id on each call.
type Generator func() string

// UUIDv7 generates time-ordered UUIDs, so ids sort by creation.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed prepends prefix to every id of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default is the process-wide Generator.
var Default = UUIDv7()

// New returns an id from Default.
func New() string { return Default() }

// Sequence numbers ids of one kind within a session, starting at 1.
// Numbers are never reused, even when the caller drops an id.
type Sequence struct {
	prefix string
	last   atomic.Int64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next returns the next id and its number.
func (s *Sequence) Next() (string, int64) {
	n := s.last.Add(1)
	return s.prefix + "-" + strconv.FormatInt(n, 10), n
}

// Issued is how many ids Next has returned.
func (s *Sequence) Issued() int64 { return s.last.Load() }

const sessionPrefix = "session-"

// SessionID is "session-<unix millis of start>". Only one session records
// at a time, so ids do not collide.
func SessionID(start time.Time) string {
	return sessionPrefix + strconv.FormatInt(start.UnixMilli(), 10)
}
