package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Timing is the timing breakdown of one HTTP exchange in milliseconds.
// Start is relative to the session start. Optional phases stay nil when the
// browser did not report them.
type Timing struct {
	Start    float64  `json:"start"`
	DNS      *float64 `json:"dns,omitempty"`
	Connect  *float64 `json:"connect,omitempty"`
	TTFB     float64  `json:"ttfb"`
	Download float64  `json:"download"`
	Total    float64  `json:"total"`
}

// NetworkEntry is one line of session.network.
type NetworkEntry struct {
	Timestamp    Time   `json:"timestamp"`
	URL          string `json:"url"`
	Method       string `json:"method"`
	Status       int    `json:"status"`
	StatusText   string `json:"statusText"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	SHA1         string `json:"sha1,omitempty"`
	ResourceType string `json:"resourceType"`
	Initiator    string `json:"initiator,omitempty"`
	Timing       Timing `json:"timing"`
	FromCache    bool   `json:"fromCache"`
	Error        string `json:"error,omitempty"`
	TabID        *int   `json:"tabId,omitempty"`
}

// Console levels.
const (
	LevelLog   = "log"
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
)

// ConsoleEntry is one line of session.console.
type ConsoleEntry struct {
	Level     string            `json:"level"`
	Timestamp Time              `json:"timestamp"`
	Args      []json.RawMessage `json:"args"`
	Stack     string            `json:"stack,omitempty"`
	TabID     *int              `json:"tabId,omitempty"`
}

// LogWriter appends JSON values as lines to a file. Safe for concurrent
// use: network and console handlers write from their own goroutines.
type LogWriter struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	count int
}

// CreateLog creates (or truncates) an NDJSON log at path.
func CreateLog(path string) (*LogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create log: %w", err)
	}
	return &LogWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes v as one line.
func (l *LogWriter) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode log line: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("session: log closed")
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("session: write log line: %w", err)
	}
	l.count++
	return nil
}

// Count returns the number of lines written.
func (l *LogWriter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Flush pushes buffered lines to disk.
func (l *LogWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.w.Flush()
}

// Close flushes and closes the file. Further appends fail.
func (l *LogWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	ferr := l.w.Flush()
	cerr := l.f.Close()
	l.f = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// ReadLog decodes an NDJSON stream into T values. Lines that fail to decode
// are skipped and counted, so one corrupt line does not hide the rest.
func ReadLog[T any](r io.Reader) (entries []T, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			skipped++
			continue
		}
		entries = append(entries, v)
	}
	if err := sc.Err(); err != nil {
		return entries, skipped, fmt.Errorf("session: read log: %w", err)
	}
	return entries, skipped, nil
}
