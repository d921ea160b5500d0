package library

import (
	"encoding/json"
	"strings"

	"github.com/llnl/session-recorder/session"
)

// DefaultLimit caps pages when a query leaves the limit unset.
const DefaultLimit = 100

func paginate[T any](items []T, offset, limit int) []T {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// ActionQuery selects actions by type.
type ActionQuery struct {
	Types  []session.Type `json:"types,omitempty"`
	Offset int           `json:"offset,omitempty"`
	Limit  int           `json:"limit,omitempty"`
}

// Actions returns one page of matching actions and the number of matches.
func (s *Session) Actions(q ActionQuery) ([]session.Action, int) {
	var out []session.Action
	for _, a := range s.Manifest.Actions {
		if len(q.Types) > 0 && !containsType(q.Types, a.Type) {
			continue
		}
		out = append(out, a)
	}
	return paginate(out, q.Offset, q.Limit), len(out)
}

func containsType(types []session.Type, t session.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// NetworkQuery selects network entries. A zero field does not filter.
type NetworkQuery struct {
	// Status matches an exact status; MinStatus matches that status and up
	// (400 for every failure).
	Status    int    `json:"status,omitempty"`
	MinStatus int    `json:"minStatus,omitempty"`
	MinSize   int64  `json:"minSize,omitempty"`
	URL       string `json:"url,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// NetworkEntries returns one page of matching entries and the number of
// matches.
func (s *Session) NetworkEntries(q NetworkQuery) ([]session.NetworkEntry, int) {
	var out []session.NetworkEntry
	for _, e := range s.Network {
		switch {
		case q.Status != 0 && e.Status != q.Status:
			continue
		case q.MinStatus != 0 && e.Status < q.MinStatus:
			continue
		case e.Size < q.MinSize:
			continue
		case q.URL != "" && !strings.Contains(strings.ToLower(e.URL), strings.ToLower(q.URL)):
			continue
		}
		out = append(out, e)
	}
	return paginate(out, q.Offset, q.Limit), len(out)
}

// ConsoleQuery selects console entries by level and text.
type ConsoleQuery struct {
	Levels []string `json:"levels,omitempty"`
	Text   string   `json:"text,omitempty"`
	Offset int      `json:"offset,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// ConsoleEntries returns one page of matching entries and the number of
// matches.
func (s *Session) ConsoleEntries(q ConsoleQuery) ([]session.ConsoleEntry, int) {
	text := strings.ToLower(q.Text)
	var out []session.ConsoleEntry
	for _, e := range s.Console {
		if len(q.Levels) > 0 && !containsString(q.Levels, e.Level) {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(consoleText(e)), text) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, q.Offset, q.Limit), len(out)
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// consoleText joins the arguments of e, unquoting strings.
func consoleText(e session.ConsoleEntry) string {
	parts := make([]string, 0, len(e.Args)+1)
	for _, raw := range e.Args {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, string(raw))
	}
	if e.Stack != "" {
		parts = append(parts, e.Stack)
	}
	return strings.Join(parts, " ")
}

// Match is one search hit.
type Match struct {
	ActionID  string       `json:"actionId"`
	Type      session.Type `json:"type"`
	Timestamp session.Time `json:"timestamp"`
	Field     string       `json:"field"`
	Text      string       `json:"text"`
}

// Search finds query, case-insensitively, in voice transcripts, input
// values, typed keys, page URLs and notes.
func (s *Session) Search(query string, limit int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []Match{}
	if q == "" {
		return out
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	add := func(a session.Action, field, text string) bool {
		if text == "" || !strings.Contains(strings.ToLower(text), q) {
			return false
		}
		out = append(out, Match{ActionID: a.ID, Type: a.Type, Timestamp: a.Timestamp, Field: field, Text: text})
		return true
	}

	for _, a := range s.Manifest.Actions {
		if len(out) >= limit {
			break
		}
		switch p := a.Payload.(type) {
		case *session.VoiceTranscript:
			add(a, "transcript", p.Transcript.Text)
		case *session.Interaction:
			if p.Action.Value != nil && add(a, "value", *p.Action.Value) {
				continue
			}
			if add(a, "key", p.Action.Key) {
				continue
			}
			add(a, "url", session.ActionURL(a))
		case *session.Navigation:
			add(a, "url", p.Navigation.ToURL)
		case *session.Note:
			add(a, "note", p.Note.Content)
		}
	}
	return out
}
