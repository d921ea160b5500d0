// Package sink defines output backends for recorder lifecycle events.
package sink

import (
	"context"
	"time"
)

// Event types.
const (
	TypeStateChange    = "stateChange"
	TypeStarted        = "started"
	TypeActionRecorded = "actionRecorded"
	TypeURLChanged     = "urlChanged"
	TypePaused         = "paused"
	TypeResumed        = "resumed"
	TypeStopped        = "stopped"
	TypeBrowserClosed  = "browserClosed"
	TypeError          = "error"
	TypeStats          = "stats"
)

// Event is one recorder notification. Data is a small JSON-encodable value
// specific to the type.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, in-process callback, websocket).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
