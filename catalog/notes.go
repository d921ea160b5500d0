package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/llnl/session-recorder/dbopen"
	"github.com/llnl/session-recorder/session"
)

// Note is a viewer annotation placed after an action.
type Note struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	AfterActionID string `json:"after_action_id,omitempty"`
	Content       string `json:"content"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Action converts n to a note action for the session's action list.
func (n *Note) Action() session.Action {
	created := session.At(time.UnixMilli(n.CreatedAt))
	return session.Action{
		ID:        n.ID,
		Timestamp: created,
		Type:      session.TypeNote,
		Payload: &session.Note{
			Note: session.NoteInfo{
				Content:   n.Content,
				CreatedAt: created,
				UpdatedAt: session.At(time.UnixMilli(n.UpdatedAt)),
			},
			InsertAfterActionID: n.AfterActionID,
		},
	}
}

// AddNote stores a new note and fills in its id and timestamps. The
// session must be in the catalog.
func (c *Catalog) AddNote(ctx context.Context, n *Note) error {
	if _, err := c.Get(ctx, n.SessionID); err != nil {
		return err
	}
	now := c.now().UnixMilli()
	if n.ID == "" {
		n.ID = c.newID()
	}
	n.CreatedAt, n.UpdatedAt = now, now
	_, err := dbopen.Exec(ctx, c.DB, `
		INSERT INTO notes (id, session_id, after_action_id, content, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`,
		n.ID, n.SessionID, n.AfterActionID, n.Content, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("catalog: add note: %w", err)
	}
	return nil
}

// UpdateNote replaces the content of a note.
func (c *Catalog) UpdateNote(ctx context.Context, sessionID, id, content string) (*Note, error) {
	res, err := dbopen.Exec(ctx, c.DB,
		`UPDATE notes SET content = ?, updated_at = ? WHERE id = ? AND session_id = ?`,
		content, c.now().UnixMilli(), id, sessionID)
	if err != nil {
		return nil, fmt.Errorf("catalog: update note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("catalog: note %s: %w", id, ErrNotFound)
	}
	return c.note(ctx, id)
}

// DeleteNote removes a note.
func (c *Catalog) DeleteNote(ctx context.Context, sessionID, id string) error {
	res, err := dbopen.Exec(ctx, c.DB, `DELETE FROM notes WHERE id = ? AND session_id = ?`, id, sessionID)
	if err != nil {
		return fmt.Errorf("catalog: delete note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: note %s: %w", id, ErrNotFound)
	}
	return nil
}

// Notes returns a session's notes in creation order.
func (c *Catalog) Notes(ctx context.Context, sessionID string) ([]*Note, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT id, session_id, after_action_id, content, created_at, updated_at
		FROM notes WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("catalog: notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.SessionID, &n.AfterActionID, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: notes: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (c *Catalog) note(ctx context.Context, id string) (*Note, error) {
	n := &Note{}
	err := c.DB.QueryRowContext(ctx, `
		SELECT id, session_id, after_action_id, content, created_at, updated_at
		FROM notes WHERE id = ?`, id).Scan(
		&n.ID, &n.SessionID, &n.AfterActionID, &n.Content, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: note %s: %w", id, err)
	}
	return n, nil
}
