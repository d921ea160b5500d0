package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when decoding an action whose type tag is
// not one of the known variants.
var ErrUnknownAction = errors.New("session: unknown action type")

// Type is the action variant tag.
type Type string

const (
	TypeClick          Type = "click"
	TypeInput          Type = "input"
	TypeChange         Type = "change"
	TypeSubmit         Type = "submit"
	TypeKeydown        Type = "keydown"
	TypeNavigation     Type = "navigation"
	TypeVoice          Type = "voice_transcript"
	TypePageVisibility Type = "page_visibility"
	TypeMedia          Type = "media"
	TypeDownload       Type = "download"
	TypeFullscreen     Type = "fullscreen"
	TypePrint          Type = "print"
	TypeNote           Type = "note"
)

// Interactive reports whether actions of this type carry a before/after
// snapshot pair.
func (t Type) Interactive() bool {
	switch t {
	case TypeClick, TypeInput, TypeChange, TypeSubmit, TypeKeydown:
		return true
	}
	return false
}

// Valid reports whether t is a known variant.
func (t Type) Valid() bool {
	switch t {
	case TypeClick, TypeInput, TypeChange, TypeSubmit, TypeKeydown,
		TypeNavigation, TypeVoice, TypePageVisibility, TypeMedia,
		TypeDownload, TypeFullscreen, TypePrint, TypeNote:
		return true
	}
	return false
}

// Payload is the variant-specific part of an Action. The set of
// implementations is closed: *Interaction, *Navigation, *VoiceTranscript,
// *Visibility, *Media, *Download, *Fullscreen, *Print, *Note.
type Payload interface {
	payload()
}

// Action is one entry of the session's action list. The JSON form is flat:
// {id, timestamp, type, ...variant fields}.
type Action struct {
	ID        string
	Timestamp Time
	Type      Type
	Payload   Payload
}

// Details are the raw event details of an interactive action.
type Details struct {
	Type      string   `json:"type"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Value     *string  `json:"value,omitempty"`
	Checked   *bool    `json:"checked,omitempty"`
	Key       string   `json:"key,omitempty"`
	Timestamp Time     `json:"timestamp"`
}

// Interaction is the payload of click, input, change, submit and keydown.
type Interaction struct {
	TabID  *int     `json:"tabId,omitempty"`
	TabURL string   `json:"tabUrl,omitempty"`
	Before Snapshot `json:"before"`
	Action Details  `json:"action"`
	After  Snapshot `json:"after"`
}

// NavigationInfo describes a main-frame navigation.
type NavigationInfo struct {
	FromURL        string `json:"fromUrl"`
	ToURL          string `json:"toUrl"`
	NavigationType string `json:"navigationType"`
}

// Navigation types.
const (
	NavInitial     = "initial"
	NavLink        = "link"
	NavTyped       = "typed"
	NavReload      = "reload"
	NavBackForward = "back_forward"
	NavOther       = "other"
)

// ScreenshotRef points at an optional screenshot of a non-interactive action.
type ScreenshotRef struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// Navigation is the payload of a navigation action.
type Navigation struct {
	TabID      int            `json:"tabId"`
	Navigation NavigationInfo `json:"navigation"`
	Screenshot *ScreenshotRef `json:"screenshot,omitempty"`
}

// Word is one timed word of a voice segment.
type Word struct {
	Word        string  `json:"word"`
	StartTime   Time    `json:"startTime"`
	EndTime     Time    `json:"endTime"`
	Probability float64 `json:"probability"`
}

// TranscriptInfo is one voice segment converted to absolute time.
type TranscriptInfo struct {
	Text       string  `json:"text"`
	StartTime  Time    `json:"startTime"`
	EndTime    Time    `json:"endTime"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// VoiceTranscript is the payload of a voice_transcript action.
type VoiceTranscript struct {
	Transcript        TranscriptInfo `json:"transcript"`
	AudioFile         string         `json:"audioFile,omitempty"`
	NearestSnapshotID string         `json:"nearestSnapshotId,omitempty"`
}

// Visibility is the payload of page_visibility.
type Visibility struct {
	TabID      int `json:"tabId"`
	Visibility struct {
		State string `json:"state"`
	} `json:"visibility"`
}

// MediaInfo describes a media element event.
type MediaInfo struct {
	MediaType   string   `json:"mediaType"`
	Event       string   `json:"event"`
	Src         string   `json:"src,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
}

// Media is the payload of media.
type Media struct {
	TabID int       `json:"tabId"`
	Media MediaInfo `json:"media"`
}

// DownloadInfo describes a browser download.
type DownloadInfo struct {
	URL               string `json:"url"`
	SuggestedFilename string `json:"suggestedFilename"`
	State             string `json:"state"`
}

// Download is the payload of download.
type Download struct {
	TabID    int          `json:"tabId"`
	Download DownloadInfo `json:"download"`
}

// Fullscreen is the payload of fullscreen.
type Fullscreen struct {
	TabID      int `json:"tabId"`
	Fullscreen struct {
		State string `json:"state"`
	} `json:"fullscreen"`
}

// Print is the payload of print.
type Print struct {
	TabID int `json:"tabId"`
	Print struct {
		Event string `json:"event"`
	} `json:"print"`
}

// NoteInfo is the body of a viewer note.
type NoteInfo struct {
	Content   string `json:"content"`
	CreatedAt Time   `json:"createdAt"`
	UpdatedAt Time   `json:"updatedAt"`
}

// Note is the payload of note.
type Note struct {
	Note                NoteInfo `json:"note"`
	InsertAfterActionID string   `json:"insertAfterActionId,omitempty"`
}

func (*Interaction) payload()     {}
func (*Navigation) payload()      {}
func (*VoiceTranscript) payload() {}
func (*Visibility) payload()      {}
func (*Media) payload()           {}
func (*Download) payload()        {}
func (*Fullscreen) payload()      {}
func (*Print) payload()           {}
func (*Note) payload()            {}

// Interaction returns the payload of an interactive action.
func (a Action) Interaction() (*Interaction, bool) {
	p, ok := a.Payload.(*Interaction)
	return p, ok
}

// TabID returns the tab the action happened in, if the variant has one.
func (a Action) TabID() (int, bool) {
	switch p := a.Payload.(type) {
	case *Interaction:
		if p.TabID == nil {
			return 0, false
		}
		return *p.TabID, true
	case *Navigation:
		return p.TabID, true
	case *Visibility:
		return p.TabID, true
	case *Media:
		return p.TabID, true
	case *Download:
		return p.TabID, true
	case *Fullscreen:
		return p.TabID, true
	case *Print:
		return p.TabID, true
	case *VoiceTranscript, *Note:
		return 0, false
	}
	return 0, false
}

// Validate checks that the payload variant matches the type tag.
func (a Action) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	var ok bool
	switch a.Type {
	case TypeClick, TypeInput, TypeChange, TypeSubmit, TypeKeydown:
		_, ok = a.Payload.(*Interaction)
	case TypeNavigation:
		_, ok = a.Payload.(*Navigation)
	case TypeVoice:
		_, ok = a.Payload.(*VoiceTranscript)
	case TypePageVisibility:
		_, ok = a.Payload.(*Visibility)
	case TypeMedia:
		_, ok = a.Payload.(*Media)
	case TypeDownload:
		_, ok = a.Payload.(*Download)
	case TypeFullscreen:
		_, ok = a.Payload.(*Fullscreen)
	case TypePrint:
		_, ok = a.Payload.(*Print)
	case TypeNote:
		_, ok = a.Payload.(*Note)
	}
	if !ok {
		return fmt.Errorf("session: action %s: payload %T does not match type %q", a.ID, a.Payload, a.Type)
	}
	return nil
}

type header struct {
	ID        string `json:"id"`
	Timestamp Time   `json:"timestamp"`
	Type      Type   `json:"type"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	h := header{ID: a.ID, Timestamp: a.Timestamp, Type: a.Type}
	switch p := a.Payload.(type) {
	case *Interaction:
		return json.Marshal(struct {
			header
			*Interaction
		}{h, p})
	case *Navigation:
		return json.Marshal(struct {
			header
			*Navigation
		}{h, p})
	case *VoiceTranscript:
		return json.Marshal(struct {
			header
			*VoiceTranscript
		}{h, p})
	case *Visibility:
		return json.Marshal(struct {
			header
			*Visibility
		}{h, p})
	case *Media:
		return json.Marshal(struct {
			header
			*Media
		}{h, p})
	case *Download:
		return json.Marshal(struct {
			header
			*Download
		}{h, p})
	case *Fullscreen:
		return json.Marshal(struct {
			header
			*Fullscreen
		}{h, p})
	case *Print:
		return json.Marshal(struct {
			header
			*Print
		}{h, p})
	case *Note:
		return json.Marshal(struct {
			header
			*Note
		}{h, p})
	}
	return nil, fmt.Errorf("session: action %s: unsupported payload %T", a.ID, a.Payload)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("session: action header: %w", err)
	}

	var p Payload
	switch h.Type {
	case TypeClick, TypeInput, TypeChange, TypeSubmit, TypeKeydown:
		p = &Interaction{}
	case TypeNavigation:
		p = &Navigation{}
	case TypeVoice:
		p = &VoiceTranscript{}
	case TypePageVisibility:
		p = &Visibility{}
	case TypeMedia:
		p = &Media{}
	case TypeDownload:
		p = &Download{}
	case TypeFullscreen:
		p = &Fullscreen{}
	case TypePrint:
		p = &Print{}
	case TypeNote:
		p = &Note{}
	default:
		return fmt.Errorf("%w: %q (id %s)", ErrUnknownAction, h.Type, h.ID)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("session: action %s: %w", h.ID, err)
	}

	a.ID, a.Timestamp, a.Type, a.Payload = h.ID, h.Timestamp, h.Type, p
	return nil
}
