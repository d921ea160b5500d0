package viewer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/session"
)

var errNoCatalog = errors.New("notes need a catalog")

type noteRequest struct {
	Content             string `json:"content"`
	InsertAfterActionID string `json:"insertAfterActionId"`
}

// noteActions returns the catalog notes of a session as note actions. A
// viewer without a catalog has none.
func (s *Server) noteActions(r *http.Request, id string) ([]session.Action, error) {
	cat := s.lib.Catalog()
	if cat == nil {
		return nil, nil
	}
	notes, err := cat.Notes(r.Context(), id)
	if err != nil {
		return nil, err
	}
	out := make([]session.Action, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Action())
	}
	return out, nil
}

func (s *Server) requireCatalog(w http.ResponseWriter) (*catalog.Catalog, bool) {
	cat := s.lib.Catalog()
	if cat == nil {
		writeError(w, http.StatusNotImplemented, errNoCatalog)
		return nil, false
	}
	return cat, true
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.requireCatalog(w)
	if !ok {
		return
	}
	notes, err := cat.Notes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if notes == nil {
		notes = []*catalog.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// decodeNote reads a note body and sanitizes its content. Content that is
// empty once sanitized is rejected.
func (s *Server) decodeNote(w http.ResponseWriter, r *http.Request) (noteRequest, bool) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid note body"))
		return req, false
	}
	req.Content = strings.TrimSpace(s.policy.Sanitize(req.Content))
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, errors.New("note content is required"))
		return req, false
	}
	return req, true
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.requireCatalog(w)
	if !ok {
		return
	}
	req, ok := s.decodeNote(w, r)
	if !ok {
		return
	}
	sess, ok := s.load(w, r)
	if !ok {
		return
	}
	if req.InsertAfterActionID != "" && !hasAction(sess.Manifest.Actions, req.InsertAfterActionID) {
		writeError(w, http.StatusBadRequest, errors.New("unknown action "+req.InsertAfterActionID))
		return
	}

	// Sessions found by scanning are registered on their first note.
	if _, err := cat.Get(r.Context(), sess.ID); errors.Is(err, catalog.ErrNotFound) {
		dir, archive := sess.Path, ""
		if strings.HasSuffix(sess.Path, ".zip") {
			dir, archive = "", sess.Path
		}
		if err := cat.Upsert(r.Context(), catalog.EntryFor(sess.Manifest, dir, archive)); err != nil {
			s.fail(w, r, err)
			return
		}
	} else if err != nil {
		s.fail(w, r, err)
		return
	}

	n := &catalog.Note{
		SessionID:     sess.ID,
		AfterActionID: req.InsertAfterActionID,
		Content:       req.Content,
	}
	if err := cat.AddNote(r.Context(), n); err != nil {
		s.fail(w, r, err)
		return
	}
	requestLogger(r.Context(), s.logger).Info("viewer: note added", "session_id", sess.ID, "note_id", n.ID)
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) updateNote(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.requireCatalog(w)
	if !ok {
		return
	}
	req, ok := s.decodeNote(w, r)
	if !ok {
		return
	}
	n, err := cat.UpdateNote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "noteID"), req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) deleteNote(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.requireCatalog(w)
	if !ok {
		return
	}
	if err := cat.DeleteNote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "noteID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func hasAction(actions []session.Action, id string) bool {
	for _, a := range actions {
		if a.ID == id {
			return true
		}
	}
	return false
}
