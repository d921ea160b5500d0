package viewer

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var errNoRecorder = errors.New("no recorder attached")

type startRequest struct {
	Browser string `json:"browser"`
}

func (s *Server) requireRecorder(w http.ResponseWriter) bool {
	if s.rec == nil {
		writeError(w, http.StatusNotImplemented, errNoRecorder)
		return false
	}
	return true
}

func (s *Server) recorderStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.rec.Status())
}

// recorderStart starts a session. The body is optional.
func (s *Server) recorderStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errors.New("invalid start body"))
		return
	}
	if err := s.rec.Start(r.Context(), req.Browser); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rec.Status())
}

func (s *Server) recorderPause(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	if err := s.rec.Pause(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rec.Status())
}

func (s *Server) recorderResume(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	if err := s.rec.Resume(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rec.Status())
}

func (s *Server) recorderStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	out, err := s.rec.Stop(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outputPath": out})
}
