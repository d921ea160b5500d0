package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func click(id string, at time.Duration, x, y float64) Action {
	ts := t0.Add(at)
	return Action{
		ID:        id,
		Timestamp: At(ts),
		Type:      TypeClick,
		Payload: &Interaction{
			TabID: ptr(0),
			Before: Snapshot{
				Timestamp:  At(ts.Add(-time.Millisecond)),
				HTML:       "snapshots/" + id + "-before.html",
				Screenshot: "screenshots/" + id + "-before.png",
				URL:        "https://x.test/page",
				Viewport:   Viewport{Width: 1280, Height: 720},
			},
			Action: Details{Type: "click", X: ptr(x), Y: ptr(y), Timestamp: At(ts)},
			After: Snapshot{
				Timestamp:  At(ts.Add(50 * time.Millisecond)),
				HTML:       "snapshots/" + id + "-after.html",
				Screenshot: "screenshots/" + id + "-after.png",
				URL:        "https://x.test/page",
				Viewport:   Viewport{Width: 1280, Height: 720},
			},
		},
	}
}

func voice(id string, from, to time.Duration, text string) Action {
	return Action{
		ID:        id,
		Timestamp: At(t0.Add(from)),
		Type:      TypeVoice,
		Payload: &VoiceTranscript{Transcript: TranscriptInfo{
			Text:       text,
			StartTime:  At(t0.Add(from)),
			EndTime:    At(t0.Add(to)),
			Confidence: 0.9,
		}},
	}
}

func TestTime_Format(t *testing.T) {
	data, err := json.Marshal(At(time.Date(2025, 3, 1, 12, 0, 0, 5_000_000, time.FixedZone("X", 3600))))
	require.NoError(t, err)
	assert.Equal(t, `"2025-03-01T11:00:00.005Z"`, string(data))

	var back Time
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(time.Date(2025, 3, 1, 11, 0, 0, 5_000_000, time.UTC)))
}

func TestAction_InteractiveShape(t *testing.T) {
	data, err := json.Marshal(click("action-1", 3*time.Second, 100, 200))
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "action-1", flat["id"])
	assert.Equal(t, "click", flat["type"])
	assert.Equal(t, "2025-03-01T12:00:03.000Z", flat["timestamp"])
	assert.EqualValues(t, 0, flat["tabId"])

	act := flat["action"].(map[string]any)
	assert.EqualValues(t, 100, act["x"])
	assert.EqualValues(t, 200, act["y"])
	assert.NotContains(t, act, "value")

	before := flat["before"].(map[string]any)
	assert.Equal(t, "snapshots/action-1-before.html", before["html"])
	assert.Equal(t, map[string]any{"width": float64(1280), "height": float64(720)}, before["viewport"])
}

func TestAction_RoundTripAllVariants(t *testing.T) {
	nav := &Navigation{TabID: 1, Navigation: NavigationInfo{FromURL: "", ToURL: "https://x.test/", NavigationType: NavInitial}}
	vis := &Visibility{TabID: 0}
	vis.Visibility.State = "hidden"
	fs := &Fullscreen{TabID: 0}
	fs.Fullscreen.State = "entered"
	pr := &Print{TabID: 2}
	pr.Print.Event = "beforeprint"

	actions := []Action{
		click("action-1", time.Second, 1, 2),
		{ID: "action-2", Timestamp: At(t0), Type: TypeNavigation, Payload: nav},
		voice("voice-1", 0, time.Second, "hello"),
		{ID: "action-3", Timestamp: At(t0), Type: TypePageVisibility, Payload: vis},
		{ID: "action-4", Timestamp: At(t0), Type: TypeMedia, Payload: &Media{Media: MediaInfo{MediaType: "video", Event: "play", CurrentTime: ptr(1.5)}}},
		{ID: "action-5", Timestamp: At(t0), Type: TypeDownload, Payload: &Download{Download: DownloadInfo{URL: "https://x.test/a.pdf", SuggestedFilename: "a.pdf", State: "completed"}}},
		{ID: "action-6", Timestamp: At(t0), Type: TypeFullscreen, Payload: fs},
		{ID: "action-7", Timestamp: At(t0), Type: TypePrint, Payload: pr},
		{ID: "note-1", Timestamp: At(t0), Type: TypeNote, Payload: &Note{Note: NoteInfo{Content: "check", CreatedAt: At(t0), UpdatedAt: At(t0)}, InsertAfterActionID: "action-1"}},
	}

	data, err := json.Marshal(actions)
	require.NoError(t, err)

	var back []Action
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, len(actions))
	for i := range actions {
		assert.Equal(t, actions[i].Type, back[i].Type)
		assert.Equal(t, actions[i].ID, back[i].ID)
		assert.IsType(t, actions[i].Payload, back[i].Payload)
	}
	assert.Equal(t, "https://x.test/", back[1].Payload.(*Navigation).Navigation.ToURL)
	assert.Equal(t, "hidden", back[3].Payload.(*Visibility).Visibility.State)
	assert.Equal(t, "action-1", back[8].Payload.(*Note).InsertAfterActionID)
}

func TestAction_UnknownType(t *testing.T) {
	var a Action
	err := json.Unmarshal([]byte(`{"id":"x","timestamp":"2025-03-01T12:00:00.000Z","type":"hover"}`), &a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestAction_PayloadMismatch(t *testing.T) {
	a := Action{ID: "a", Timestamp: At(t0), Type: TypeClick, Payload: &Navigation{}}
	_, err := json.Marshal(a)
	require.Error(t, err)
}

func TestMergeVoice_ClickBeforeVoice(t *testing.T) {
	actions := []Action{click("action-1", 3*time.Second, 100, 200)}
	merged := MergeVoice(actions, []Action{voice("voice-1", 5*time.Second, 7*time.Second, "now I open the menu")})

	require.Len(t, merged, 2)
	assert.Equal(t, TypeClick, merged[0].Type)
	assert.Equal(t, TypeVoice, merged[1].Type)
}

func TestMergeVoice_StableAndSorted(t *testing.T) {
	// Commit order differs from chronological order.
	actions := []Action{
		click("action-2", 4*time.Second, 0, 0),
		click("action-1", 2*time.Second, 0, 0),
		click("action-3", 4*time.Second, 0, 0),
	}
	merged := MergeVoice(actions, []Action{
		voice("voice-1", 1*time.Second, 2*time.Second, "a"),
		voice("voice-2", 4*time.Second, 5*time.Second, "b"),
	})

	var ids []string
	for i, a := range merged {
		ids = append(ids, a.ID)
		if i > 0 {
			assert.False(t, a.Timestamp.Before(merged[i-1].Timestamp.Time), "not sorted at %d", i)
		}
	}
	assert.Equal(t, []string{"voice-1", "action-1", "action-2", "action-3", "voice-2"}, ids)
}

func TestNearestSnapshot(t *testing.T) {
	actions := []Action{
		click("action-1", 1*time.Second, 0, 0),
		voice("voice-1", 6*time.Second, 7*time.Second, "x"),
		click("action-2", 10*time.Second, 0, 0),
	}
	assert.Equal(t, "action-1", NearestSnapshot(actions, t0.Add(5*time.Second)))
	assert.Equal(t, "action-2", NearestSnapshot(actions, t0.Add(6*time.Second)))
	assert.Equal(t, "", NearestSnapshot(actions[1:2], t0))
}

func TestInsertNotes(t *testing.T) {
	note := func(id, after string) Action {
		return Action{ID: id, Timestamp: At(t0), Type: TypeNote, Payload: &Note{
			Note:                NoteInfo{Content: id},
			InsertAfterActionID: after,
		}}
	}
	actions := []Action{
		click("action-1", 1*time.Second, 0, 0),
		click("action-2", 2*time.Second, 0, 0),
	}
	out := InsertNotes(actions, []Action{
		note("note-1", "action-1"),
		note("note-2", "gone"),
		note("note-3", "action-1"),
	})

	var ids []string
	for _, a := range out {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"note-2", "action-1", "note-1", "note-3", "action-2"}, ids)
	assert.Equal(t, actions, InsertNotes(actions, nil))
}

func TestLogWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), NetworkFile)
	w, err := CreateLog(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(NetworkEntry{URL: "https://x.test/a.css", Method: "GET", Status: 200}))
	require.NoError(t, w.Append(NetworkEntry{URL: "https://x.test/b.js", Method: "GET", Status: 404}))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())
	require.Error(t, w.Append(NetworkEntry{}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	entries, skipped, err := ReadLog[NetworkEntry](f)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, entries, 2)
	assert.Equal(t, 404, entries[1].Status)
}

func TestLoadAndSummarize(t *testing.T) {
	end := At(t0.Add(10 * time.Second))
	m := Manifest{
		SessionID: "session-1",
		StartTime: At(t0),
		EndTime:   &end,
		Actions: []Action{
			click("action-1", 3*time.Second, 100, 200),
			voice("voice-1", 5*time.Second, 7*time.Second, "please login to the dashboard"),
		},
		Network: &LogRef{File: NetworkFile, Count: 2},
		Console: &LogRef{File: ConsoleFile, Count: 1},
	}
	manifest, err := json.Marshal(m)
	require.NoError(t, err)

	fsys := fstest.MapFS{
		ManifestFile: {Data: manifest},
		NetworkFile: {Data: []byte(`{"url":"https://x.test/a","status":500}
not json
{"url":"https://x.test/b","status":200}
`)},
		ConsoleFile: {Data: []byte(`{"level":"error","timestamp":"2025-03-01T12:00:01.000Z","args":["boom"]}` + "\n")},
	}

	l, err := Load(fsys)
	require.NoError(t, err)
	assert.Len(t, l.Network, 2)
	assert.Len(t, l.Console, 1)
	assert.Equal(t, 1, l.Skipped)

	s := Summarize(l)
	assert.Equal(t, int64(10_000), s.DurationMs)
	assert.Equal(t, 2, s.TotalActions)
	assert.Equal(t, 1, s.Counts.Clicks)
	assert.Equal(t, 1, s.Counts.VoiceSegments)
	assert.True(t, s.HasVoice)
	assert.Equal(t, 2, s.ErrorCount)
	assert.Equal(t, []URLCount{{URL: "https://x.test/page", ActionCount: 1}}, s.URLs)
	assert.Contains(t, s.FeaturesDetected, "authentication")
	assert.Contains(t, s.FeaturesDetected, "dashboard")
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(fstest.MapFS{})
	require.Error(t, err)
}
