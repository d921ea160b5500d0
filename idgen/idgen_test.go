package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUUIDv7_Format(t *testing.T) {
	gen := UUIDv7()
	id := gen()
	// UUID format: 8-4-4-4-12
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("note-", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "note-") {
		t.Fatalf("Prefixed: got %q", id)
	}
	u, err := uuid.Parse(strings.TrimPrefix(id, "note-"))
	if err != nil {
		t.Fatalf("Prefixed: inner id not a UUID: %v", err)
	}
	if u.Version() != 7 {
		t.Fatalf("Prefixed: version %d, want 7", u.Version())
	}
}

func TestSequence_Order(t *testing.T) {
	seq := NewSequence("action")
	for want := int64(1); want <= 3; want++ {
		id, n := seq.Next()
		if n != want {
			t.Fatalf("Next: ordinal %d, want %d", n, want)
		}
		if id != "action-"+string(rune('0'+want)) {
			t.Fatalf("Next: id %q", id)
		}
	}
	if seq.Issued() != 3 {
		t.Fatalf("Issued: got %d", seq.Issued())
	}
}

func TestSequence_Concurrent(t *testing.T) {
	seq := NewSequence("voice")
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := seq.Next()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Fatalf("Sequence: %d unique ids, want 50", len(seen))
	}
}

func TestSessionID(t *testing.T) {
	start := time.UnixMilli(1700000000123)
	if got := SessionID(start); got != "session-1700000000123" {
		t.Fatalf("SessionID: got %q", got)
	}
}
