package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/dbopen"
	"github.com/llnl/session-recorder/internal/sessiontest"
	"github.com/llnl/session-recorder/session"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestList_ScansDirectory(t *testing.T) {
	root := t.TempDir()
	dir := sessiontest.Write(t, root)

	lib := New(root, nil, quiet())
	entries, err := lib.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sessiontest.ID, entries[0].ID)
	assert.Equal(t, dir, entries[0].Path)
	assert.Equal(t, 4, entries[0].ActionCount)
	assert.True(t, entries[0].HasVoice)
}

func TestList_MissingDirectory(t *testing.T) {
	lib := New(filepath.Join(t.TempDir(), "none"), nil, quiet())
	entries, err := lib.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_Catalog(t *testing.T) {
	root := t.TempDir()
	dir := sessiontest.Write(t, root)
	cat := catalog.New(dbopen.OpenMemory(t, dbopen.WithMigrations(catalog.Migrations...)))
	require.NoError(t, cat.Upsert(context.Background(), catalog.EntryFor(sessiontest.Manifest(), dir, "")))

	lib := New(t.TempDir(), cat, quiet())
	entries, err := lib.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	path, err := lib.Resolve(context.Background(), sessiontest.ID)
	require.NoError(t, err)
	assert.Equal(t, dir, path)
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	zip := sessiontest.WriteZip(t, root)
	lib := New(root, nil, quiet())
	ctx := context.Background()

	path, err := lib.Resolve(ctx, sessiontest.ID)
	require.NoError(t, err)
	assert.Equal(t, zip, path)

	path, err = lib.Resolve(ctx, zip)
	require.NoError(t, err)
	assert.Equal(t, zip, path)

	_, err = lib.Resolve(ctx, "session-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = lib.Resolve(ctx, filepath.Join(root, "missing.zip"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoad_CachesByID(t *testing.T) {
	root := t.TempDir()
	zip := sessiontest.WriteZip(t, root)
	lib := New(root, nil, quiet())
	t.Cleanup(func() { lib.Close() })
	ctx := context.Background()

	s, err := lib.Load(ctx, zip)
	require.NoError(t, err)
	assert.Equal(t, sessiontest.ID, s.ID)
	assert.Len(t, s.Network, 3)
	assert.Len(t, s.Console, 2)
	require.NotNil(t, s.Transcript)
	assert.Equal(t, sessiontest.VoiceText, s.Transcript.Text)

	again, err := lib.Load(ctx, sessiontest.ID)
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, []string{sessiontest.ID}, lib.Loaded())

	assert.True(t, lib.Unload(sessiontest.ID))
	assert.False(t, lib.Unload(sessiontest.ID))
	assert.Empty(t, lib.Loaded())
}

func loadFixture(t *testing.T) *Session {
	t.Helper()
	root := t.TempDir()
	sessiontest.Write(t, root)
	lib := New(root, nil, quiet())
	t.Cleanup(func() { lib.Close() })
	s, err := lib.Load(context.Background(), sessiontest.ID)
	require.NoError(t, err)
	return s
}

func TestSession_Actions(t *testing.T) {
	s := loadFixture(t)

	all, total := s.Actions(ActionQuery{})
	assert.Equal(t, 4, total)
	assert.Len(t, all, 4)

	clicks, total := s.Actions(ActionQuery{Types: []session.Type{session.TypeClick, session.TypeInput}})
	assert.Equal(t, 2, total)
	assert.Equal(t, "action-1", clicks[0].ID)

	page, total := s.Actions(ActionQuery{Offset: 3, Limit: 2})
	assert.Equal(t, 4, total)
	require.Len(t, page, 1)
	assert.Equal(t, "action-2", page[0].ID)

	page, _ = s.Actions(ActionQuery{Offset: 10})
	assert.Empty(t, page)
}

func TestSession_NetworkEntries(t *testing.T) {
	s := loadFixture(t)

	failed, total := s.NetworkEntries(NetworkQuery{MinStatus: 400})
	assert.Equal(t, 1, total)
	assert.Equal(t, 401, failed[0].Status)

	_, total = s.NetworkEntries(NetworkQuery{MinSize: 1000})
	assert.Equal(t, 1, total)

	css, total := s.NetworkEntries(NetworkQuery{URL: "APP.CSS"})
	assert.Equal(t, 1, total)
	assert.Equal(t, sessiontest.CSSKey(), css[0].SHA1)

	_, total = s.NetworkEntries(NetworkQuery{Status: 200})
	assert.Equal(t, 2, total)
}

func TestSession_ConsoleEntries(t *testing.T) {
	s := loadFixture(t)

	errs, total := s.ConsoleEntries(ConsoleQuery{Levels: []string{session.LevelError, session.LevelWarn}})
	assert.Equal(t, 1, total)
	assert.Contains(t, errs[0].Stack, "submit")

	_, total = s.ConsoleEntries(ConsoleQuery{Text: "BOOTED"})
	assert.Equal(t, 1, total)
	_, total = s.ConsoleEntries(ConsoleQuery{Text: "app.js:3"})
	assert.Equal(t, 1, total)
}

func TestSession_Search(t *testing.T) {
	s := loadFixture(t)

	hits := s.Search("alice", 0)
	require.Len(t, hits, 1)
	assert.Equal(t, "action-1", hits[0].ActionID)
	assert.Equal(t, "value", hits[0].Field)

	hits = s.Search("Login", 0)
	var fields []string
	for _, h := range hits {
		fields = append(fields, h.ActionID+":"+h.Field)
	}
	assert.Equal(t, []string{"nav-1:url", "action-1:url", "voice-1:transcript", "action-2:url"}, fields)

	assert.Len(t, s.Search("login", 2), 2)
	assert.Empty(t, s.Search("  ", 0))
}

func TestReindex(t *testing.T) {
	root := t.TempDir()
	zip := sessiontest.WriteZip(t, root)
	cat := catalog.New(dbopen.OpenMemory(t, dbopen.WithMigrations(catalog.Migrations...)))
	lib := New(root, cat, quiet())

	entries, err := lib.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := lib.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, err := cat.Get(context.Background(), sessiontest.ID)
	require.NoError(t, err)
	assert.Equal(t, zip, e.Archive)
	assert.Empty(t, e.Path)

	_, err = New(root, nil, quiet()).Reindex(context.Background())
	assert.Error(t, err)
}
