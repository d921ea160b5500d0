package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/session"
)

type recordingHandler struct {
	mu        sync.Mutex
	responses []*capture.Response
}

func (h *recordingHandler) TabOpened(capture.Tab) {}
func (h *recordingHandler) TabClosed(int) {}
func (h *recordingHandler) Action(context.Context, *capture.Message) error { return nil }
func (h *recordingHandler) Event(*capture.PageEvent) {}
func (h *recordingHandler) Console(*capture.ConsoleEvent) {}
func (h *recordingHandler) Navigated(*capture.Navigation) {}
func (h *recordingHandler) Download(*capture.Download) {}
func (h *recordingHandler) Disconnected(error) {}
func (h *recordingHandler) Response(r *capture.Response) {
	h.mu.Lock()
	h.responses = append(h.responses, r)
	h.mu.Unlock()
}

func TestValidateType(t *testing.T) {
	for _, ok := range []string{"", "chromium", "chrome"} {
		if err := ValidateType(ok); err != nil {
			t.Errorf("ValidateType(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"firefox", "webkit"} {
		if err := ValidateType(bad); err == nil {
			t.Errorf("ValidateType(%q) accepted", bad)
		}
	}
}

func TestNeedXvfb(t *testing.T) {
	tests := []struct {
		cfg     Config
		goos    string
		display string
		want    bool
	}{
		{Config{}, "linux", "", true},
		{Config{}, "linux", ":0", false},
		{Config{Headless: true}, "linux", "", false},
		{Config{RemoteURL: "ws://x"}, "linux", "", false},
		{Config{}, "darwin", "", false},
	}
	for i, tt := range tests {
		if got := needXvfb(tt.cfg, tt.goos, tt.display); got != tt.want {
			t.Errorf("case %d: needXvfb = %v, want %v", i, got, tt.want)
		}
	}
}

func TestNewDocumentScript(t *testing.T) {
	js, err := newDocumentScript("__sr_bridge_x", "__sr_attached_y", scriptOptions{SettleDelay: 150})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(js, "((binding, guard, opts) =>") {
		t.Errorf("script prefix = %.40q", js)
	}
	if !strings.HasSuffix(js, `(...["__sr_bridge_x","__sr_attached_y",{"settleDelay":150}])`) {
		t.Errorf("script suffix = %q", js[len(js)-80:])
	}
}

func TestBindingNames(t *testing.T) {
	b1, g1 := bindingNames()
	b2, _ := bindingNames()
	if b1 == b2 {
		t.Fatal("binding names repeat")
	}
	if !strings.HasPrefix(b1, "__sr_bridge_") || !strings.HasPrefix(g1, "__sr_attached_") {
		t.Fatalf("names = %q %q", b1, g1)
	}
	if strings.Contains(b1, "-") {
		t.Fatalf("binding %q is not an identifier", b1)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	action := `{"action":{"phase":"before","token":"t1","descriptor":{"type":"click","timestamp":"2026-01-01T00:00:00.000Z"},"capture":{"nodes":[{"p":-1,"k":1,"t":"html"}]}}}`
	msg, ev, err := decodeEnvelope([]byte(action), 3)
	if err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if ev != nil || msg == nil || msg.TabID != 3 || msg.Token != "t1" {
		t.Fatalf("msg = %+v ev = %+v", msg, ev)
	}

	event := `{"event":{"kind":"visibility","state":"hidden","timestamp":"2026-01-01T00:00:00.000Z"}}`
	msg, ev, err = decodeEnvelope([]byte(event), 2)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if msg != nil || ev == nil || ev.TabID != 2 || ev.State != "hidden" {
		t.Fatalf("msg = %+v ev = %+v", msg, ev)
	}

	for _, bad := range []string{`nope`, `{}`, `{"action":{"phase":"before","token":"x"}}`} {
		if _, _, err := decodeEnvelope([]byte(bad), 0); err == nil {
			t.Errorf("decodeEnvelope(%s) accepted", bad)
		}
	}
}

func TestResourceTiming(t *testing.T) {
	wall := time.UnixMilli(1_700_000_000_000)
	rt := &proto.NetworkResourceTiming{
		RequestTime:       100,
		DNSStart:          -1,
		DNSEnd:            -1,
		ConnectStart:      2,
		ConnectEnd:        12,
		SendStart:         13,
		SendEnd:           14,
		ReceiveHeadersEnd: 54,
	}
	got := resourceTiming(rt, wall, proto.MonotonicTime(100.1))

	if got.Start != float64(wall.UnixMilli()) {
		t.Errorf("Start = %v", got.Start)
	}
	if got.DNS != nil {
		t.Errorf("DNS = %v, want absent", *got.DNS)
	}
	if got.Connect == nil || *got.Connect != 10 {
		t.Errorf("Connect = %v, want 10", got.Connect)
	}
	if got.TTFB != 40 {
		t.Errorf("TTFB = %v, want 40", got.TTFB)
	}
	if got.Total < 99.9 || got.Total > 100.1 {
		t.Errorf("Total = %v, want ~100", got.Total)
	}
	if got.Download < 45.9 || got.Download > 46.1 {
		t.Errorf("Download = %v, want ~46", got.Download)
	}

	empty := resourceTiming(nil, wall, 0)
	if empty.TTFB != 0 || empty.Total != 0 || empty.DNS != nil || empty.Connect != nil {
		t.Errorf("nil timing = %+v", empty)
	}
}

func TestNetworkBridge(t *testing.T) {
	h := &recordingHandler{}
	n := newNetwork(1, nil, h)

	n.requestWillBeSent(&proto.NetworkRequestWillBeSent{
		RequestID: "r1",
		Request:   &proto.NetworkRequest{URL: "https://x.test/a.css", Method: "GET"},
		Initiator: &proto.NetworkInitiator{Type: "parser", URL: "https://x.test/"},
		Type:      proto.NetworkResourceTypeStylesheet,
		WallTime:  proto.TimeSinceEpoch(1_700_000_000),
		Timestamp: 10,
	})
	n.responseReceived(&proto.NetworkResponseReceived{
		RequestID: "r1",
		Timestamp: 10.5,
		Response: &proto.NetworkResponse{
			URL:        "https://x.test/a.css",
			Status:     200,
			StatusText: "OK",
			MIMEType:   "text/css",
			Headers:    proto.NetworkHeaders{"Content-Type": gson.New("text/css; charset=utf-8")},
		},
	})
	n.loadingFinished(&proto.NetworkLoadingFinished{RequestID: "r1", Timestamp: 11})

	n.requestWillBeSent(&proto.NetworkRequestWillBeSent{
		RequestID: "r2",
		Request:   &proto.NetworkRequest{URL: "https://x.test/gone.png", Method: "GET"},
		WallTime:  proto.TimeSinceEpoch(1_700_000_001),
	})
	n.loadingFailed(&proto.NetworkLoadingFailed{RequestID: "r2", ErrorText: "net::ERR_FAILED"})

	if len(h.responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(h.responses))
	}
	ok := h.responses[0]
	if ok.URL != "https://x.test/a.css" || ok.Status != 200 || ok.TabID != 1 {
		t.Errorf("response = %+v", ok)
	}
	if ok.ContentType != "text/css; charset=utf-8" {
		t.Errorf("content type = %q", ok.ContentType)
	}
	if ok.ResourceType != "stylesheet" || ok.Initiator != "https://x.test/" || ok.Method != "GET" {
		t.Errorf("request fields = %+v", ok)
	}
	if ok.Body == nil {
		t.Error("finished response without body fetcher")
	}
	if want := time.Unix(1_700_000_000, 0).Add(500 * time.Millisecond); !ok.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ok.Timestamp, want)
	}

	failed := h.responses[1]
	if failed.Error != "net::ERR_FAILED" || failed.Body != nil {
		t.Errorf("failed = %+v", failed)
	}
	if len(n.requests) != 0 {
		t.Errorf("pending requests = %d, want 0", len(n.requests))
	}
}

func TestConsoleEvent(t *testing.T) {
	e := &proto.RuntimeConsoleAPICalled{
		Type:      proto.RuntimeConsoleAPICalledTypeWarning,
		Timestamp: proto.RuntimeTimestamp(1_700_000_000_123),
		Args: []*proto.RuntimeRemoteObject{
			{Type: proto.RuntimeRemoteObjectTypeString, Value: gson.New("hello")},
			{Type: proto.RuntimeRemoteObjectTypeNumber, Value: gson.New(42)},
			{Type: proto.RuntimeRemoteObjectTypeNumber, UnserializableValue: "NaN"},
			{Type: proto.RuntimeRemoteObjectTypeUndefined},
			{Type: proto.RuntimeRemoteObjectTypeObject, ClassName: "HTMLDivElement", Description: "div#main"},
		},
		StackTrace: &proto.RuntimeStackTrace{CallFrames: []*proto.RuntimeCallFrame{
			{FunctionName: "boot", URL: "https://x.test/app.js", LineNumber: 9, ColumnNumber: 4},
			{URL: "https://x.test/app.js", LineNumber: 0, ColumnNumber: 0},
		}},
	}
	ev := consoleEvent(2, e)
	if ev.Level != session.LevelWarn || ev.TabID != 2 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.UnixMilli() != 1_700_000_000_123 {
		t.Errorf("timestamp = %v", ev.Timestamp)
	}
	want := []string{`"hello"`, `42`, `"NaN"`, `"undefined"`, `"div#main"`}
	if len(ev.Args) != len(want) {
		t.Fatalf("args = %d", len(ev.Args))
	}
	for i, w := range want {
		var got, exp any
		json.Unmarshal(ev.Args[i], &got)
		json.Unmarshal([]byte(w), &exp)
		if got != exp {
			t.Errorf("arg %d = %s, want %s", i, ev.Args[i], w)
		}
	}
	wantStack := "    at boot (https://x.test/app.js:10:5)\n    at <anonymous> (https://x.test/app.js:1:1)"
	if ev.Stack != wantStack {
		t.Errorf("stack = %q", ev.Stack)
	}
}

func TestNavigationType(t *testing.T) {
	tests := []struct {
		from       string
		cdp        proto.PageNavigationType
		transition proto.PageTransitionType
		want       string
	}{
		{"", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeTyped, session.NavInitial},
		{"about:blank", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeLink, session.NavInitial},
		{"https://a.test/", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeLink, session.NavLink},
		{"https://a.test/", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeFormSubmit, session.NavLink},
		{"https://a.test/", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeAddressBar, session.NavTyped},
		{"https://a.test/", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeReload, session.NavReload},
		{"https://a.test/", proto.PageNavigationTypeBackForwardCacheRestore, proto.PageTransitionTypeLink, session.NavBackForward},
		{"https://a.test/", proto.PageNavigationTypeNavigation, proto.PageTransitionTypeAutoToplevel, session.NavOther},
	}
	for _, tt := range tests {
		if got := navigationType(tt.from, tt.cdp, tt.transition); got != tt.want {
			t.Errorf("navigationType(%q, %s, %s) = %s, want %s", tt.from, tt.cdp, tt.transition, got, tt.want)
		}
	}
}

func TestDisplaySocket(t *testing.T) {
	tests := map[string]string{
		":99":   "/tmp/.X11-unix/X99",
		":99.0": "/tmp/.X11-unix/X99",
		":1":    "/tmp/.X11-unix/X1",
	}
	for display, want := range tests {
		if got := displaySocket(display); got != want {
			t.Errorf("displaySocket(%q) = %q, want %q", display, got, want)
		}
	}
}

func TestWaitForSocket_Timeout(t *testing.T) {
	err := waitForSocket(t.TempDir()+"/X0", 60*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Fatalf("waitForSocket = %v, want timeout error", err)
	}
}
