// Package catalog indexes recorded sessions and stores viewer notes in
// SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/llnl/session-recorder/dbopen"
	"github.com/llnl/session-recorder/idgen"
	"github.com/llnl/session-recorder/session"
)

// ErrNotFound is returned when a session or note does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Catalog is the catalog database handle.
type Catalog struct {
	DB    *sql.DB
	now   func() time.Time
	newID idgen.Generator
}

// Open opens (or creates) the catalog at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Catalog, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithMigrations(Migrations...),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	return New(db), nil
}

// New wraps an already initialised database.
func New(db *sql.DB) *Catalog {
	return &Catalog{DB: db, now: time.Now, newID: idgen.Prefixed("note-", idgen.Default)}
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.DB.Close()
}

// Entry is one recorded session. Times are Unix milliseconds.
type Entry struct {
	ID            string `json:"id"`
	Path          string `json:"path"`
	Archive       string `json:"archive,omitempty"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time,omitempty"`
	ActionCount   int    `json:"action_count"`
	ResourceCount int    `json:"resource_count"`
	HasVoice      bool   `json:"has_voice"`
	CreatedAt     int64  `json:"created_at"`
}

// EntryFor describes a finished session for the catalog.
func EntryFor(m *session.Manifest, dir, archive string) *Entry {
	e := &Entry{
		ID:            m.SessionID,
		Path:          dir,
		Archive:       archive,
		StartTime:     m.StartTime.UnixMilli(),
		ActionCount:   len(m.Actions),
		ResourceCount: len(m.ResourceStorage),
	}
	if m.EndTime != nil {
		e.EndTime = m.EndTime.UnixMilli()
	}
	for _, a := range m.Actions {
		if a.Type == session.TypeVoice {
			e.HasVoice = true
			break
		}
	}
	return e
}

// Upsert inserts or replaces a session entry, keeping its created_at.
func (c *Catalog) Upsert(ctx context.Context, e *Entry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = c.now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, c.DB, `
		INSERT INTO sessions (id, path, archive, start_time, end_time, action_count, resource_count, has_voice, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			archive = excluded.archive,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			action_count = excluded.action_count,
			resource_count = excluded.resource_count,
			has_voice = excluded.has_voice`,
		e.ID, e.Path, e.Archive, e.StartTime, e.EndTime, e.ActionCount, e.ResourceCount, e.HasVoice, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", e.ID, err)
	}
	return nil
}

const sessionCols = `id, path, archive, start_time, end_time, action_count, resource_count, has_voice, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	e := &Entry{}
	err := s.Scan(&e.ID, &e.Path, &e.Archive, &e.StartTime, &e.EndTime,
		&e.ActionCount, &e.ResourceCount, &e.HasVoice, &e.CreatedAt)
	return e, err
}

// Get returns the session with the given id.
func (c *Catalog) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(c.DB.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return e, nil
}

// List returns the most recent sessions first. limit <= 0 means no limit.
func (c *Catalog) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.DB.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions ORDER BY start_time DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a session and its notes.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	return dbopen.RunTx(ctx, c.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE session_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("catalog: session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
