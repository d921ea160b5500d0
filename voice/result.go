package voice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/llnl/session-recorder/session"
)

// WordTiming is one word with offsets in seconds from the recording start.
type WordTiming struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Segment is one transcribed segment. Confidence is the average log
// probability reported by the model.
type Segment struct {
	Start      float64      `json:"start"`
	End        float64      `json:"end"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Words      []WordTiming `json:"words,omitempty"`
}

// Result is the recorder's final output.
type Result struct {
	Success  bool      `json:"success"`
	Text     string    `json:"text,omitempty"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Error    string    `json:"error,omitempty"`

	// Raw is the JSON object the result was decoded from.
	Raw json.RawMessage `json:"-"`
}

// ParseResult finds the last JSON object in out that has a "segments" or
// "success" field. Objects may span lines. It returns nil when there is
// none.
func ParseResult(out []byte) *Result {
	var last *Result
	for off := 0; off < len(out); {
		line := out[off:]
		next := bytes.IndexByte(line, '\n')
		if trimmed := bytes.TrimLeft(line, " \t"); len(trimmed) > 0 && trimmed[0] == '{' {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			var raw json.RawMessage
			if dec.Decode(&raw) == nil {
				if r := decodeResult(raw); r != nil {
					last = r
				}
				off += len(line) - len(trimmed) + int(dec.InputOffset())
				continue
			}
		}
		if next < 0 {
			break
		}
		off += next + 1
	}
	return last
}

func decodeResult(raw json.RawMessage) *Result {
	var probe map[string]json.RawMessage
	if json.Unmarshal(raw, &probe) != nil {
		return nil
	}
	_, hasSegments := probe["segments"]
	_, hasSuccess := probe["success"]
	if !hasSegments && !hasSuccess {
		return nil
	}
	var r Result
	if json.Unmarshal(raw, &r) != nil {
		return nil
	}
	r.Raw = append(json.RawMessage(nil), raw...)
	return &r
}

// Confidence converts an average log probability to [0, 1].
func Confidence(logprob float64) float64 {
	c := math.Exp(logprob)
	switch {
	case math.IsNaN(c):
		return 0
	case c > 1:
		return 1
	case c < 0:
		return 0
	}
	return c
}

func offset(start time.Time, seconds float64) session.Time {
	return session.At(start.Add(time.Duration(seconds * float64(time.Second))).Truncate(time.Millisecond))
}

// ToActions converts a successful result into voice_transcript actions
// with absolute timestamps. nearest, when set, links each segment to the
// closest recorded snapshot.
func ToActions(r *Result, start time.Time, audioFile string, nearest func(time.Time) string) []session.Action {
	if r == nil || !r.Success {
		return nil
	}
	actions := make([]session.Action, 0, len(r.Segments))
	for i, seg := range r.Segments {
		info := session.TranscriptInfo{
			Text:       seg.Text,
			StartTime:  offset(start, seg.Start),
			EndTime:    offset(start, seg.End),
			Confidence: Confidence(seg.Confidence),
		}
		for _, w := range seg.Words {
			info.Words = append(info.Words, session.Word{
				Word:        w.Word,
				StartTime:   offset(start, w.Start),
				EndTime:     offset(start, w.End),
				Probability: w.Probability,
			})
		}
		p := &session.VoiceTranscript{Transcript: info, AudioFile: audioFile}
		if nearest != nil {
			p.NearestSnapshotID = nearest(info.StartTime.Time)
		}
		actions = append(actions, session.Action{
			ID:        "voice-" + strconv.Itoa(i+1),
			Timestamp: info.StartTime,
			Type:      session.TypeVoice,
			Payload:   p,
		})
	}
	return actions
}

// WriteTranscript stores the raw result as transcript.json in dir.
func WriteTranscript(dir string, r *Result) error {
	data := []byte(r.Raw)
	if len(data) == 0 {
		var err error
		if data, err = json.MarshalIndent(r, "", "  "); err != nil {
			return fmt.Errorf("voice: encode transcript: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, session.TranscriptFile), data, 0o644); err != nil {
		return fmt.Errorf("voice: write transcript: %w", err)
	}
	return nil
}
