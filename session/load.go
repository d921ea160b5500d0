package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
)

// Transcript is the raw voice result stored in transcript.json.
type Transcript struct {
	Success  bool              `json:"success"`
	Text     string            `json:"text,omitempty"`
	Language string            `json:"language,omitempty"`
	Duration float64           `json:"duration,omitempty"`
	Segments []json.RawMessage `json:"segments,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Loaded is a session read back from an archive.
type Loaded struct {
	Manifest   *Manifest
	Network    []NetworkEntry
	Console    []ConsoleEntry
	Transcript *Transcript
	// Skipped counts log lines that could not be decoded.
	Skipped int
}

// Load reads a session from fsys, which is rooted at the session
// directory (or the root of a session zip). Missing logs and transcript are
// not errors; a missing or invalid manifest is.
func Load(fsys fs.FS) (*Loaded, error) {
	raw, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("session: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("session: decode manifest: %w", err)
	}

	l := &Loaded{Manifest: &m}

	netFile := NetworkFile
	if m.Network != nil && m.Network.File != "" {
		netFile = m.Network.File
	}
	if l.Network, err = readLogFile[NetworkEntry](fsys, netFile, &l.Skipped); err != nil {
		return nil, err
	}

	conFile := ConsoleFile
	if m.Console != nil && m.Console.File != "" {
		conFile = m.Console.File
	}
	if l.Console, err = readLogFile[ConsoleEntry](fsys, conFile, &l.Skipped); err != nil {
		return nil, err
	}

	trFile := TranscriptFile
	if m.VoiceRecording != nil && m.VoiceRecording.TranscriptFile != "" {
		trFile = m.VoiceRecording.TranscriptFile
	}
	if data, err := fs.ReadFile(fsys, trFile); err == nil {
		var t Transcript
		if json.Unmarshal(data, &t) == nil {
			l.Transcript = &t
		}
	}
	return l, nil
}

func readLogFile[T any](fsys fs.FS, name string, skipped *int) ([]T, error) {
	f, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", name, err)
	}
	defer f.Close()
	entries, n, err := ReadLog[T](f)
	*skipped += n
	return entries, err
}
