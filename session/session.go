// Package session defines the persisted format of a recorded browser
// session: the session.json manifest, the Action tagged union, snapshot
// references, and the newline-delimited network and console logs.
//
// Everything in this package is pure data plus ordering rules. The
// recorder produces it, the viewer and MCP tools consume it.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Archive layout, relative to the session directory.
const (
	ManifestFile   = "session.json"
	NetworkFile    = "session.network"
	ConsoleFile    = "session.console"
	TranscriptFile = "transcript.json"
	SnapshotDir    = "snapshots"
	ScreenshotDir  = "screenshots"
	ResourceDir    = "resources"
	AudioDir       = "audio"
)

// isoLayout is the ISO-8601 UTC form with millisecond precision used by
// every timestamp in the archive.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Time is a time.Time encoded as an ISO-8601 UTC string.
type Time struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Time { return Time{Time: t} }

// String returns the archive encoding of t.
func (t Time) String() string { return t.UTC().Format(isoLayout) }

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("session: timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("session: timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// Viewport is the page's layout viewport at capture time, in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Snapshot references one immutable capture on disk. HTML and Screenshot
// are paths relative to the session directory.
type Snapshot struct {
	Timestamp  Time     `json:"timestamp"`
	HTML       string   `json:"html"`
	Screenshot string   `json:"screenshot"`
	URL        string   `json:"url"`
	Viewport   Viewport `json:"viewport"`
}

// StoredResource is one entry of the manifest's resourceStorage map.
// Content is UTF-8 for textual types and base64 for everything else.
type StoredResource struct {
	SHA1        string `json:"sha1"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Timestamp   int64  `json:"timestamp"`
}

// LogRef points at an NDJSON log inside the archive.
type LogRef struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// VoiceRecording describes the optional audio track.
type VoiceRecording struct {
	Enabled        bool    `json:"enabled"`
	AudioFile      string  `json:"audioFile,omitempty"`
	TranscriptFile string  `json:"transcriptFile,omitempty"`
	Model          string  `json:"model,omitempty"`
	Device         string  `json:"device,omitempty"`
	Language       string  `json:"language,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
}

// Manifest is the root session.json document.
type Manifest struct {
	SessionID       string                    `json:"sessionId"`
	StartTime       Time                      `json:"startTime"`
	EndTime         *Time                     `json:"endTime,omitempty"`
	Actions         []Action                  `json:"actions"`
	Resources       []string                  `json:"resources,omitempty"`
	ResourceStorage map[string]StoredResource `json:"resourceStorage,omitempty"`
	Network         *LogRef                   `json:"network,omitempty"`
	Console         *LogRef                   `json:"console,omitempty"`
	VoiceRecording  *VoiceRecording           `json:"voiceRecording,omitempty"`
}

// Duration is EndTime minus StartTime, zero while the session is open.
func (m *Manifest) Duration() time.Duration {
	if m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(m.StartTime.Time)
}

// Find returns the action with the given id.
func (m *Manifest) Find(id string) (Action, bool) {
	for _, a := range m.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}
