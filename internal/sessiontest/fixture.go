// Package sessiontest writes small recorded sessions to disk for tests of
// the packages that read them.
package sessiontest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llnl/session-recorder/archive"
	"github.com/llnl/session-recorder/resource"
	"github.com/llnl/session-recorder/session"
)

// Fixed values of the fixture session.
const (
	ID        = "session-1700000000000"
	PageURL   = "https://app.test/login"
	CSSURL    = "https://app.test/app.css"
	CSS       = "body{font-family:sans-serif}"
	Email     = "alice@example.com"
	VoiceText = "now I open the login form"
)

// Start is the fixture session's start time.
var Start = time.UnixMilli(1700000000000).UTC()

// PNG is the content of every fixture screenshot.
var PNG = []byte("\x89PNG\r\n\x1a\nfixture")

// CSSKey is the resource key of the fixture stylesheet.
func CSSKey() string { return resource.Key(CSSURL, []byte(CSS), "text/css") }

// BeforeHTML is the stored before snapshot of action-1.
func BeforeHTML() string {
	return `<!DOCTYPE html><html><head><link rel="stylesheet" href="../resources/` + CSSKey() +
		`"><script>alert(1)</script></head><body><h1>Sign in</h1><form><input id="email" type="email" value="">` +
		`<button id="go">Sign in</button></form></body></html>`
}

func at(ms int) session.Time { return session.At(Start.Add(time.Duration(ms) * time.Millisecond)) }

func ptr[T any](v T) *T { return &v }

func snap(name string, ms int) session.Snapshot {
	return session.Snapshot{
		Timestamp:  at(ms),
		HTML:       session.SnapshotDir + "/" + name + ".html",
		Screenshot: session.ScreenshotDir + "/" + name + ".png",
		URL:        PageURL,
		Viewport:   session.Viewport{Width: 1280, Height: 720},
	}
}

// Manifest returns the fixture manifest.
func Manifest() *session.Manifest {
	end := at(10000)
	key := CSSKey()
	tab := 0
	return &session.Manifest{
		SessionID: ID,
		StartTime: session.At(Start),
		EndTime:   &end,
		Actions: []session.Action{
			{ID: "nav-1", Timestamp: at(100), Type: session.TypeNavigation, Payload: &session.Navigation{
				TabID:      0,
				Navigation: session.NavigationInfo{ToURL: PageURL, NavigationType: session.NavInitial},
			}},
			{ID: "action-1", Timestamp: at(2000), Type: session.TypeInput, Payload: &session.Interaction{
				TabID:  &tab,
				TabURL: PageURL,
				Before: snap("action-1-before", 1990),
				Action: session.Details{Type: "input", Value: ptr(Email), Timestamp: at(2000)},
				After:  snap("action-1-after", 2050),
			}},
			{ID: "voice-1", Timestamp: at(3000), Type: session.TypeVoice, Payload: &session.VoiceTranscript{
				Transcript: session.TranscriptInfo{
					Text:       VoiceText,
					StartTime:  at(3000),
					EndTime:    at(4500),
					Confidence: 0.9,
				},
				AudioFile:         "audio/recording.wav",
				NearestSnapshotID: "action-1",
			}},
			{ID: "action-2", Timestamp: at(5000), Type: session.TypeClick, Payload: &session.Interaction{
				TabID:  &tab,
				TabURL: PageURL,
				Before: snap("action-2-before", 4990),
				Action: session.Details{Type: "click", X: ptr(100.0), Y: ptr(200.0), Timestamp: at(5000)},
				After:  snap("action-2-after", 5050),
			}},
		},
		Resources: []string{key},
		ResourceStorage: map[string]session.StoredResource{
			key: {SHA1: key, Content: CSS, ContentType: "text/css", Size: int64(len(CSS)), Timestamp: Start.UnixMilli()},
		},
		Network:        &session.LogRef{File: session.NetworkFile, Count: 3},
		Console:        &session.LogRef{File: session.ConsoleFile, Count: 2},
		VoiceRecording: &session.VoiceRecording{Enabled: true, TranscriptFile: session.TranscriptFile, Language: "en"},
	}
}

// Network returns the fixture network log.
func Network() []session.NetworkEntry {
	return []session.NetworkEntry{
		{Timestamp: at(150), URL: PageURL, Method: "GET", Status: 200, StatusText: "OK", ContentType: "text/html", Size: 900, ResourceType: "document", Timing: session.Timing{Start: 100, TTFB: 20, Total: 40}},
		{Timestamp: at(160), URL: CSSURL, Method: "GET", Status: 200, StatusText: "OK", ContentType: "text/css", Size: int64(len(CSS)), SHA1: CSSKey(), ResourceType: "stylesheet", Timing: session.Timing{Start: 120, TTFB: 5, Total: 8}},
		{Timestamp: at(5100), URL: "https://app.test/api/login", Method: "POST", Status: 401, StatusText: "Unauthorized", ContentType: "application/json", Size: 20000, ResourceType: "fetch", Timing: session.Timing{Start: 5060, TTFB: 30, Total: 35}},
	}
}

// Console returns the fixture console log.
func Console() []session.ConsoleEntry {
	return []session.ConsoleEntry{
		{Level: session.LevelLog, Timestamp: at(200), Args: []json.RawMessage{json.RawMessage(`"app booted"`)}},
		{Level: session.LevelError, Timestamp: at(5120), Args: []json.RawMessage{json.RawMessage(`"login failed"`)}, Stack: "    at submit (https://app.test/app.js:3:9)"},
	}
}

// Write lays the fixture session out as a directory under root and
// returns its path.
func Write(t testing.TB, root string) string {
	t.Helper()
	dir := filepath.Join(root, ID)
	for _, sub := range []string{session.SnapshotDir, session.ScreenshotDir, session.ResourceDir} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}

	data, err := json.MarshalIndent(Manifest(), "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, session.ManifestFile), data, 0o644))

	for _, name := range []string{"action-1-before", "action-1-after", "action-2-before", "action-2-after"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, session.SnapshotDir, name+".html"), []byte(BeforeHTML()), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, session.ScreenshotDir, name+".png"), PNG, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, session.ResourceDir, CSSKey()), []byte(CSS), 0o644))

	writeLog(t, filepath.Join(dir, session.NetworkFile), Network())
	writeLog(t, filepath.Join(dir, session.ConsoleFile), Console())

	transcript := `{"success":true,"text":"` + VoiceText + `","language":"en","duration":10,"segments":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, session.TranscriptFile), []byte(transcript), 0o644))
	return dir
}

// WriteZip writes the fixture as a directory and its zip next to it, then
// removes the directory. It returns the zip path.
func WriteZip(t testing.TB, root string) string {
	t.Helper()
	dir := Write(t, root)
	_, err := archive.Zip(dir, dir+".zip")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))
	return dir + ".zip"
}

func writeLog[T any](t testing.TB, path string, entries []T) {
	t.Helper()
	w, err := session.CreateLog(path)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Append(e))
	}
	require.NoError(t, w.Close())
}
