package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

type failing struct{ closed bool }

func (f *failing) Send(context.Context, Event) error { return errors.New("boom") }
func (f *failing) Close() error                      { f.closed = true; return nil }

func TestRouter_FanOut(t *testing.T) {
	var got []string
	cb := NewCallback(func(_ context.Context, ev Event) error {
		got = append(got, ev.Type)
		return nil
	})
	bad := &failing{}
	r := NewRouter(nil, bad, cb)

	err := r.Send(context.Background(), Event{Type: TypeStarted})
	if err == nil {
		t.Fatal("expected first sink error")
	}
	if len(got) != 1 || got[0] != TypeStarted {
		t.Fatalf("callback got %v, want [started]", got)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bad.closed {
		t.Fatal("sink not closed")
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Send(context.Background(), Event{Type: TypeStats, SessionID: "session-1", Timestamp: ts, Data: map[string]int{"actions": 2}}); err != nil {
		t.Fatal(err)
	}
	var ev map[string]any
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if ev["type"] != "stats" || ev["sessionId"] != "session-1" {
		t.Fatalf("event = %v", ev)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), Event{Type: TypeStopped}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), Event{Type: TypeError}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWebhook_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("X-Sessrec-Event"); got != TypeStopped {
			t.Errorf("event header = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer t" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookHeader("Authorization", "Bearer t"))
	if err := w.Send(context.Background(), Event{Type: TypeStopped, SessionID: "session-1"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestFilter(t *testing.T) {
	var got []string
	cb := NewCallback(func(_ context.Context, ev Event) error {
		got = append(got, ev.Type)
		return nil
	})
	s := Filter(cb, TypeStarted, TypeStopped)
	for _, typ := range []string{TypeStarted, TypeStats, TypeActionRecorded, TypeStopped} {
		if err := s.Send(context.Background(), Event{Type: typ}); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 2 || got[0] != TypeStarted || got[1] != TypeStopped {
		t.Fatalf("got %v, want [started stopped]", got)
	}
	if Filter(cb) != Sink(cb) {
		t.Fatal("Filter without types should return the sink itself")
	}
}

func TestFile_Appends(t *testing.T) {
	path := t.TempDir() + "/events/recorder.jsonl"
	for i := 0; i < 2; i++ {
		f, err := NewFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.Send(context.Background(), Event{Type: TypeStats}); err != nil {
			t.Fatal(err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 2 {
		t.Fatalf("lines = %d, want 2", n)
	}
}
