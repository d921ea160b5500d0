package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/llnl/session-recorder/dbopen"
	"github.com/llnl/session-recorder/session"
)

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(dbopen.OpenMemory(t, dbopen.WithMigrations(Migrations...)))
	clock := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return c
}

func TestSessionCRUD(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	e := &Entry{ID: "session-1", Path: "/tmp/session-1", StartTime: 1000, ActionCount: 3}
	if err := c.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if e.CreatedAt == 0 {
		t.Fatal("CreatedAt not set")
	}
	created := e.CreatedAt

	got, err := c.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Path != "/tmp/session-1" || got.ActionCount != 3 {
		t.Errorf("Get = %+v", got)
	}

	// Upsert keeps created_at of the existing row.
	again := &Entry{ID: "session-1", Path: "/tmp/session-1", Archive: "/tmp/session-1.zip", StartTime: 1000, ActionCount: 4, HasVoice: true}
	if err := c.Upsert(ctx, again); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	got, _ = c.Get(ctx, "session-1")
	if got.ActionCount != 4 || !got.HasVoice || got.Archive != "/tmp/session-1.zip" {
		t.Errorf("after update = %+v", got)
	}
	if got.CreatedAt != created {
		t.Errorf("CreatedAt = %d, want %d", got.CreatedAt, created)
	}

	if err := c.Delete(ctx, "session-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "session-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v, want ErrNotFound", err)
	}
	if err := c.Delete(ctx, "session-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing: %v, want ErrNotFound", err)
	}
}

func TestList_Order(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	for i, start := range []int64{3000, 1000, 2000} {
		e := &Entry{ID: "s" + string(rune('a'+i)), Path: "p", StartTime: start}
		if err := c.Upsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := c.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List len = %d, want 3", len(all))
	}
	want := []string{"sa", "sc", "sb"}
	for i, e := range all {
		if e.ID != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, e.ID, want[i])
		}
	}

	two, err := c.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 {
		t.Fatalf("List(2) len = %d", len(two))
	}
}

func TestNotes(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	if err := c.AddNote(ctx, &Note{SessionID: "missing", Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddNote on missing session: %v, want ErrNotFound", err)
	}

	if err := c.Upsert(ctx, &Entry{ID: "s1", Path: "p", StartTime: 1}); err != nil {
		t.Fatal(err)
	}
	n := &Note{SessionID: "s1", AfterActionID: "action-2", Content: "**check** this"}
	if err := c.AddNote(ctx, n); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if len(n.ID) < len("note-") || n.ID[:5] != "note-" {
		t.Errorf("note id = %q, want note- prefix", n.ID)
	}
	second := &Note{SessionID: "s1", Content: "second"}
	if err := c.AddNote(ctx, second); err != nil {
		t.Fatal(err)
	}

	notes, err := c.Notes(ctx, "s1")
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(notes) != 2 || notes[0].ID != n.ID || notes[1].ID != second.ID {
		t.Fatalf("Notes = %+v", notes)
	}

	updated, err := c.UpdateNote(ctx, "s1", n.ID, "edited")
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if updated.Content != "edited" || updated.UpdatedAt <= updated.CreatedAt {
		t.Errorf("UpdateNote = %+v", updated)
	}
	if _, err := c.UpdateNote(ctx, "other", n.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateNote wrong session: %v, want ErrNotFound", err)
	}

	if err := c.DeleteNote(ctx, "s1", second.ID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if err := c.DeleteNote(ctx, "s1", second.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteNote twice: %v, want ErrNotFound", err)
	}

	if err := c.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	notes, _ = c.Notes(ctx, "s1")
	if len(notes) != 0 {
		t.Errorf("notes survived session delete: %d", len(notes))
	}
}

func TestNoteAction(t *testing.T) {
	n := &Note{ID: "note-1", SessionID: "s", AfterActionID: "action-3", Content: "hi", CreatedAt: 1000, UpdatedAt: 2000}
	a := n.Action()
	if a.Type != session.TypeNote || a.ID != "note-1" {
		t.Fatalf("Action = %+v", a)
	}
	p, ok := a.Payload.(*session.Note)
	if !ok {
		t.Fatalf("payload %T", a.Payload)
	}
	if p.InsertAfterActionID != "action-3" || p.Note.Content != "hi" {
		t.Errorf("payload = %+v", p)
	}
	if !a.Timestamp.Equal(time.UnixMilli(1000)) {
		t.Errorf("timestamp = %v", a.Timestamp)
	}
}

func TestEntryFor(t *testing.T) {
	start := time.UnixMilli(5000)
	end := session.At(start.Add(time.Minute))
	m := &session.Manifest{
		SessionID: "session-5000",
		StartTime: session.At(start),
		EndTime:   &end,
		Actions: []session.Action{
			{ID: "action-1", Type: session.TypeClick},
			{ID: "voice-1", Type: session.TypeVoice},
		},
		ResourceStorage: map[string]session.StoredResource{"a": {}, "b": {}},
	}
	e := EntryFor(m, "/d", "/d.zip")
	if e.ID != "session-5000" || e.StartTime != 5000 || e.EndTime != 65000 {
		t.Errorf("EntryFor = %+v", e)
	}
	if e.ActionCount != 2 || e.ResourceCount != 2 || !e.HasVoice {
		t.Errorf("EntryFor counts = %+v", e)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "catalog.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if err := c.Upsert(context.Background(), &Entry{ID: "x", Path: "p", StartTime: 1}); err != nil {
		t.Fatal(err)
	}
}
