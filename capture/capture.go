// Package capture is the contract between the in-page capture script and
// the recorder: the messages the page sends, the browser side channels the
// driver reports, and the two interfaces that connect them.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llnl/session-recorder/session"
	"github.com/llnl/session-recorder/snapshot"
)

// ErrTabClosed is returned by Driver operations on a tab that is gone.
var ErrTabClosed = errors.New("capture: tab closed")

// Phase says which half of an action a Message carries.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Descriptor describes one user event as seen by the listener.
type Descriptor struct {
	Type      session.Type `json:"type"`
	X         *float64     `json:"x,omitempty"`
	Y         *float64     `json:"y,omitempty"`
	Value     *string      `json:"value,omitempty"`
	Checked   *bool        `json:"checked,omitempty"`
	Key       string       `json:"key,omitempty"`
	Timestamp session.Time `json:"timestamp"`
	// Locator is a structural CSS path of the event target.
	Locator string `json:"locator,omitempty"`
}

// recordedKeys are the keydown keys worth an action. Ordinary typing is
// already covered by input events.
var recordedKeys = map[string]bool{"Enter": true, "Tab": true, "Escape": true}

// Accept reports whether d is an action the recorder keeps. The page
// applies the same filter; this guards against a page script posting to
// the binding directly.
func (d *Descriptor) Accept() bool {
	if !d.Type.Interactive() {
		return false
	}
	if d.Type == session.TypeKeydown {
		return recordedKeys[d.Key]
	}
	return true
}

// Details converts d to the action details stored in the manifest.
func (d *Descriptor) Details() session.Details {
	return session.Details{
		Type:      string(d.Type),
		X:         d.X,
		Y:         d.Y,
		Value:     d.Value,
		Checked:   d.Checked,
		Key:       d.Key,
		Timestamp: d.Timestamp,
	}
}

// Message is what the page posts for each half of an action. The before
// half carries the Descriptor; the after half is matched to it by Token.
type Message struct {
	Phase      Phase             `json:"phase"`
	Token      string            `json:"token"`
	Descriptor *Descriptor       `json:"descriptor,omitempty"`
	Capture    *snapshot.Capture `json:"capture"`
	// TabID is filled in by the driver, not the page.
	TabID int `json:"-"`
}

// ParseMessage decodes a binding payload and checks its shape.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("capture: decode message: %w", err)
	}
	if m.Token == "" {
		return nil, fmt.Errorf("capture: message without token")
	}
	if m.Capture == nil {
		return nil, fmt.Errorf("capture: message %s without capture", m.Token)
	}
	switch m.Phase {
	case PhaseBefore:
		if m.Descriptor == nil {
			return nil, fmt.Errorf("capture: before message %s without descriptor", m.Token)
		}
	case PhaseAfter:
	default:
		return nil, fmt.Errorf("capture: message %s: unknown phase %q", m.Token, m.Phase)
	}
	return &m, nil
}

// Page event kinds.
const (
	EventVisibility = "visibility"
	EventMedia      = "media"
	EventFullscreen = "fullscreen"
	EventPrint      = "print"
)

// PageEvent is a one-way browser event reported by the page script.
type PageEvent struct {
	Kind      string       `json:"kind"`
	Timestamp session.Time `json:"timestamp"`
	// State is the visibility or fullscreen state.
	State string `json:"state,omitempty"`
	// Event is the media or print event name.
	Event       string   `json:"event,omitempty"`
	MediaType   string   `json:"mediaType,omitempty"`
	Src         string   `json:"src,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	TabID       int      `json:"-"`
}

// Action converts e to its action type and payload.
func (e *PageEvent) Action() (session.Type, session.Payload, error) {
	switch e.Kind {
	case EventVisibility:
		if e.State != "visible" && e.State != "hidden" {
			return "", nil, fmt.Errorf("capture: visibility state %q", e.State)
		}
		p := &session.Visibility{TabID: e.TabID}
		p.Visibility.State = e.State
		return session.TypePageVisibility, p, nil
	case EventMedia:
		return session.TypeMedia, &session.Media{TabID: e.TabID, Media: session.MediaInfo{
			MediaType:   e.MediaType,
			Event:       e.Event,
			Src:         e.Src,
			CurrentTime: e.CurrentTime,
		}}, nil
	case EventFullscreen:
		p := &session.Fullscreen{TabID: e.TabID}
		p.Fullscreen.State = e.State
		return session.TypeFullscreen, p, nil
	case EventPrint:
		p := &session.Print{TabID: e.TabID}
		p.Print.Event = e.Event
		return session.TypePrint, p, nil
	}
	return "", nil, fmt.Errorf("capture: unknown page event %q", e.Kind)
}

// Response is one network response seen by the driver.
type Response struct {
	TabID        int
	URL          string
	Method       string
	Status       int
	StatusText   string
	ContentType  string
	ResourceType string
	Initiator    string
	FromCache    bool
	Timestamp    time.Time
	// Timing is in milliseconds; Start is absolute, as reported by the
	// browser, and is made session-relative by the recorder.
	Timing session.Timing
	Error  string
	// Body fetches the response body. It may be nil when the browser has
	// nothing to give (failed or cached-without-body responses).
	Body func(ctx context.Context) ([]byte, error)
}

// WantBody reports whether a response body is worth storing: success-range
// status and a content type a snapshot can use.
func WantBody(status int, contentType string) bool {
	if status < 200 || status >= 400 {
		return false
	}
	ct := strings.ToLower(contentType)
	for _, t := range []string{"text/css", "javascript", "image/", "font/", "application/font", "text/html", "application/json"} {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

// ConsoleEvent is one console API call in a page.
type ConsoleEvent struct {
	TabID     int
	Level     string
	Timestamp time.Time
	Args      []json.RawMessage
	Stack     string
}

// ConsoleLevel maps a CDP console call type to an archive level.
func ConsoleLevel(t string) string {
	switch t {
	case "warning", "warn":
		return session.LevelWarn
	case session.LevelError, "assert":
		return session.LevelError
	case session.LevelInfo:
		return session.LevelInfo
	case session.LevelDebug, "trace":
		return session.LevelDebug
	}
	return session.LevelLog
}

// Navigation is a main-frame navigation of a tab.
type Navigation struct {
	TabID     int
	FromURL   string
	ToURL     string
	Type      string
	Timestamp time.Time
}

// Download is a download state change.
type Download struct {
	TabID             int
	URL               string
	SuggestedFilename string
	State             string
	Timestamp         time.Time
}

// Tab is a page the driver attached to.
type Tab struct {
	ID  int
	URL string
}

// Handler receives everything the driver observes. Action blocks until the
// message is processed so the page can await it; every other method must
// return quickly.
type Handler interface {
	TabOpened(tab Tab)
	TabClosed(tabID int)
	Action(ctx context.Context, msg *Message) error
	Event(ev *PageEvent)
	Response(r *Response)
	Console(ev *ConsoleEvent)
	Navigated(nav *Navigation)
	Download(d *Download)
	// Disconnected reports that the browser went away.
	Disconnected(err error)
}

// Driver controls a browser on behalf of the recorder.
type Driver interface {
	// Launch starts or connects to the browser and begins reporting to h.
	Launch(ctx context.Context, h Handler) error
	// Open creates a tab, attaches the capture script and navigates it.
	Open(ctx context.Context, url string) (Tab, error)
	// Screenshot returns a PNG of the tab's viewport.
	Screenshot(ctx context.Context, tabID int) ([]byte, error)
	// Closed reports whether the tab is gone.
	Closed(tabID int) bool
	Close() error
}
