package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Lines writes one JSON event per line. It backs the stdout and file
// sinks.
type Lines struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewStdout writes events to w, os.Stdout when nil.
func NewStdout(w io.Writer) *Lines {
	if w == nil {
		w = os.Stdout
	}
	return &Lines{enc: json.NewEncoder(w)}
}

// NewFile appends events to the file at path, creating it and its
// directory.
func NewFile(path string) (*Lines, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sink: file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: file: %w", err)
	}
	return &Lines{enc: json.NewEncoder(f), closer: f}, nil
}

func (l *Lines) Send(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(ev)
}

func (l *Lines) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}
