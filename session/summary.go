package session

import (
	"strings"
)

const (
	maxSummaryURLs     = 20
	maxPreviewSegments = 5
	maxPreviewChars    = 500
)

// Counts tallies the action kinds an agent usually asks about first.
type Counts struct {
	Clicks        int `json:"clicks"`
	Inputs        int `json:"inputs"`
	Navigations   int `json:"navigations"`
	VoiceSegments int `json:"voiceSegments"`
	Notes         int `json:"notes"`
	BrowserEvents int `json:"browserEvents"`
}

// URLCount is a visited URL and the number of actions that happened on it.
type URLCount struct {
	URL         string `json:"url"`
	ActionCount int    `json:"actionCount"`
}

// Summary is a compact description of a recorded session.
type Summary struct {
	SessionID         string       `json:"sessionId"`
	DurationMs        int64        `json:"duration"`
	TotalActions      int          `json:"totalActions"`
	ByType            map[Type]int `json:"byType"`
	Counts            Counts       `json:"summary"`
	URLs              []URLCount   `json:"urls"`
	HasVoice          bool         `json:"hasVoice"`
	HasNotes          bool         `json:"hasNotes"`
	ErrorCount        int          `json:"errorCount"`
	TranscriptPreview string       `json:"transcriptPreview,omitempty"`
	FeaturesDetected  []string     `json:"featuresDetected"`
}

// ActionURL returns the page URL an action is attributed to.
func ActionURL(a Action) string {
	switch p := a.Payload.(type) {
	case *Interaction:
		if p.Before.URL != "" {
			return p.Before.URL
		}
		return p.TabURL
	case *Navigation:
		return p.Navigation.ToURL
	case *VoiceTranscript, *Visibility, *Media, *Download, *Fullscreen, *Print, *Note:
		return ""
	}
	return ""
}

// Summarize computes a Summary from a loaded session.
func Summarize(l *Loaded) Summary {
	m := l.Manifest
	s := Summary{
		SessionID:        m.SessionID,
		TotalActions:     len(m.Actions),
		ByType:           make(map[Type]int),
		FeaturesDetected: []string{},
	}

	if m.EndTime != nil {
		s.DurationMs = m.Duration().Milliseconds()
	} else if n := len(m.Actions); n > 0 {
		s.DurationMs = m.Actions[n-1].Timestamp.Sub(m.StartTime.Time).Milliseconds()
	}

	urlIndex := make(map[string]int)
	var preview []string
	for _, a := range m.Actions {
		s.ByType[a.Type]++
		switch a.Type {
		case TypeClick:
			s.Counts.Clicks++
		case TypeInput, TypeChange:
			s.Counts.Inputs++
		case TypeSubmit, TypeKeydown:
		case TypeNavigation:
			s.Counts.Navigations++
		case TypeVoice:
			s.Counts.VoiceSegments++
			if v, ok := a.Payload.(*VoiceTranscript); ok && len(preview) < maxPreviewSegments {
				preview = append(preview, v.Transcript.Text)
			}
		case TypeNote:
			s.Counts.Notes++
		case TypePageVisibility, TypeMedia, TypeDownload, TypeFullscreen, TypePrint:
			s.Counts.BrowserEvents++
		}

		u := ActionURL(a)
		if u == "" || u == "about:blank" {
			continue
		}
		if i, ok := urlIndex[u]; ok {
			s.URLs[i].ActionCount++
			continue
		}
		if len(s.URLs) < maxSummaryURLs {
			urlIndex[u] = len(s.URLs)
			s.URLs = append(s.URLs, URLCount{URL: u, ActionCount: 1})
		}
	}

	s.HasVoice = s.Counts.VoiceSegments > 0 || (m.VoiceRecording != nil && m.VoiceRecording.Enabled)
	s.HasNotes = s.Counts.Notes > 0

	text := strings.Join(preview, " ")
	if len(text) > maxPreviewChars {
		text = text[:maxPreviewChars]
	}
	s.TranscriptPreview = text

	for _, e := range l.Console {
		if e.Level == LevelError || e.Level == LevelWarn {
			s.ErrorCount++
		}
	}
	for _, e := range l.Network {
		if e.Status >= 400 {
			s.ErrorCount++
		}
	}

	s.FeaturesDetected = detectFeatures(strings.ToLower(text), s.URLs)
	return s
}

func detectFeatures(transcript string, urls []URLCount) []string {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(strings.ToLower(u.URL))
		b.WriteByte(' ')
	}
	all := b.String()

	has := func(hay string, needles ...string) bool {
		for _, n := range needles {
			if strings.Contains(hay, n) {
				return true
			}
		}
		return false
	}

	features := []string{}
	if has(transcript, "login") || has(all, "login", "auth") {
		features = append(features, "authentication")
	}
	if has(transcript, "checkout") || has(all, "checkout", "cart") {
		features = append(features, "e-commerce")
	}
	if has(transcript, "form", "submit") {
		features = append(features, "forms")
	}
	if has(transcript, "calendar") || has(all, "calendar") {
		features = append(features, "calendar")
	}
	if has(transcript, "dashboard") || has(all, "dashboard") {
		features = append(features, "dashboard")
	}
	return features
}
