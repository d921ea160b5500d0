package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llnl/session-recorder/session"
)

func TestDescriptor_Accept(t *testing.T) {
	cases := []struct {
		d    Descriptor
		want bool
	}{
		{Descriptor{Type: session.TypeClick}, true},
		{Descriptor{Type: session.TypeInput}, true},
		{Descriptor{Type: session.TypeSubmit}, true},
		{Descriptor{Type: session.TypeKeydown, Key: "Enter"}, true},
		{Descriptor{Type: session.TypeKeydown, Key: "Tab"}, true},
		{Descriptor{Type: session.TypeKeydown, Key: "Escape"}, true},
		{Descriptor{Type: session.TypeKeydown, Key: "a"}, false},
		{Descriptor{Type: session.TypeKeydown, Key: "enter"}, false},
		{Descriptor{Type: session.TypeNavigation}, false},
		{Descriptor{Type: "hover"}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.d.Accept(), "%s/%s", c.d.Type, c.d.Key)
	}
}

func TestParseMessage(t *testing.T) {
	raw := `{
		"phase": "before",
		"token": "t1",
		"descriptor": {"type": "click", "x": 100, "y": 200, "timestamp": "2025-03-01T12:00:00.000Z", "locator": "body > button#go"},
		"capture": {"doctype": "<!DOCTYPE html>", "url": "https://x.test/", "viewport": {"width": 10, "height": 20}, "timestamp": 1, "nodes": [{"p": -1, "k": 1, "t": "html"}]}
	}`
	m, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, PhaseBefore, m.Phase)
	require.NotNil(t, m.Descriptor)
	assert.Equal(t, 100.0, *m.Descriptor.X)
	assert.Equal(t, "body > button#go", m.Descriptor.Locator)

	d := m.Descriptor.Details()
	assert.Equal(t, "click", d.Type)
	assert.Equal(t, 200.0, *d.Y)

	for name, bad := range map[string]string{
		"no token":      `{"phase":"after","capture":{}}`,
		"no capture":    `{"phase":"after","token":"t"}`,
		"no descriptor": `{"phase":"before","token":"t","capture":{}}`,
		"bad phase":     `{"phase":"during","token":"t","capture":{}}`,
		"not json":      `{`,
	} {
		_, err := ParseMessage([]byte(bad))
		assert.Error(t, err, name)
	}
}

func TestPageEvent_Action(t *testing.T) {
	typ, p, err := (&PageEvent{Kind: EventVisibility, State: "hidden", TabID: 2}).Action()
	require.NoError(t, err)
	assert.Equal(t, session.TypePageVisibility, typ)
	assert.Equal(t, 2, p.(*session.Visibility).TabID)
	assert.Equal(t, "hidden", p.(*session.Visibility).Visibility.State)

	ct := 3.5
	typ, p, err = (&PageEvent{Kind: EventMedia, MediaType: "video", Event: "play", CurrentTime: &ct}).Action()
	require.NoError(t, err)
	assert.Equal(t, session.TypeMedia, typ)
	assert.Equal(t, "play", p.(*session.Media).Media.Event)

	typ, _, err = (&PageEvent{Kind: EventFullscreen, State: "entered"}).Action()
	require.NoError(t, err)
	assert.Equal(t, session.TypeFullscreen, typ)

	typ, p, err = (&PageEvent{Kind: EventPrint, Event: "beforeprint"}).Action()
	require.NoError(t, err)
	assert.Equal(t, session.TypePrint, typ)
	assert.Equal(t, "beforeprint", p.(*session.Print).Print.Event)

	_, _, err = (&PageEvent{Kind: EventVisibility, State: "prerender"}).Action()
	assert.Error(t, err)
	_, _, err = (&PageEvent{Kind: "scroll"}).Action()
	assert.Error(t, err)
}

func TestWantBody(t *testing.T) {
	cases := []struct {
		status int
		ct     string
		want   bool
	}{
		{200, "text/css", true},
		{304, "application/javascript; charset=utf-8", true},
		{200, "image/png", true},
		{200, "font/woff2", true},
		{200, "application/font-woff", true},
		{200, "text/html; charset=utf-8", true},
		{200, "application/json", true},
		{200, "text/plain", false},
		{200, "video/mp4", false},
		{199, "text/css", false},
		{404, "text/css", false},
		{500, "text/html", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, WantBody(c.status, c.ct), "%d %s", c.status, c.ct)
	}
}

func TestConsoleLevel(t *testing.T) {
	assert.Equal(t, "warn", ConsoleLevel("warning"))
	assert.Equal(t, "error", ConsoleLevel("error"))
	assert.Equal(t, "error", ConsoleLevel("assert"))
	assert.Equal(t, "info", ConsoleLevel("info"))
	assert.Equal(t, "debug", ConsoleLevel("debug"))
	assert.Equal(t, "log", ConsoleLevel("log"))
	assert.Equal(t, "log", ConsoleLevel("table"))
}
