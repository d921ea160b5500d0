package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/llnl/session-recorder/capture"
)

// tab is one attached page.
type tab struct {
	id     int
	page   *rod.Page
	target proto.TargetTargetID
	url    atomic.Value // string
	closed atomic.Bool
	stop   func() error
}

func (t *tab) currentURL() string {
	if u, ok := t.url.Load().(string); ok {
		return u
	}
	return ""
}

// Driver implements capture.Driver on go-rod.
type Driver struct {
	cfg    Config
	proc   *process
	logger *slog.Logger

	binding string
	guard   string
	script  string

	h      capture.Handler
	ctx    context.Context
	cancel context.CancelFunc

	closing atomic.Bool

	mu        sync.Mutex
	tabs      map[int]*tab
	byTarget  map[proto.TargetTargetID]*tab
	nextID    int
	downloads map[string]*capture.Download
}

var _ capture.Driver = (*Driver)(nil)

// New creates a Driver. Launch starts the browser.
func New(cfg Config) *Driver {
	cfg.defaults()
	binding, guard := bindingNames()
	return &Driver{
		cfg:       cfg,
		proc:      newProcess(cfg),
		logger:    cfg.Logger,
		binding:   binding,
		guard:     guard,
		tabs:      make(map[int]*tab),
		byTarget:  make(map[proto.TargetTargetID]*tab),
		downloads: make(map[string]*capture.Download),
	}
}

// Launch starts the browser and begins watching targets and downloads.
func (d *Driver) Launch(ctx context.Context, h capture.Handler) error {
	script, err := newDocumentScript(d.binding, d.guard, scriptOptions{SettleDelay: d.cfg.SettleDelay.Milliseconds()})
	if err != nil {
		return err
	}
	d.script = script

	b, err := d.proc.start(ctx)
	if err != nil {
		return err
	}
	d.h = h
	d.ctx, d.cancel = context.WithCancel(context.Background())

	err = proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorDefault,
		EventsEnabled: true,
	}.Call(b)
	if err != nil {
		d.logger.Warn("browser: download events unavailable", "error", err)
	}

	wait := b.Context(d.ctx).EachEvent(
		d.targetCreated,
		d.targetDestroyed,
		d.downloadWillBegin,
		d.downloadProgress,
	)
	go func() {
		wait()
		if d.closing.Load() {
			return
		}
		d.logger.Warn("browser: connection lost")
		h.Disconnected(errors.New("browser: connection lost"))
	}()
	return nil
}

// Open creates a tab, attaches the capture script and navigates it.
func (d *Driver) Open(ctx context.Context, url string) (capture.Tab, error) {
	b := d.proc.current()
	if b == nil {
		return capture.Tab{}, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if d.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return capture.Tab{}, fmt.Errorf("browser: create tab: %w", err)
	}

	t, err := d.attach(page)
	if err != nil {
		page.Close()
		return capture.Tab{}, err
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		return capture.Tab{}, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		d.logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return capture.Tab{ID: t.id, URL: url}, nil
}

// attach registers page as a tab once and wires the binding, the capture
// script and the event bridges.
func (d *Driver) attach(page *rod.Page) (*tab, error) {
	d.mu.Lock()
	if t, ok := d.byTarget[page.TargetID]; ok {
		d.mu.Unlock()
		return t, nil
	}
	t := &tab{id: d.nextID, page: page, target: page.TargetID}
	t.url.Store("")
	d.nextID++
	d.tabs[t.id] = t
	d.byTarget[page.TargetID] = t
	d.mu.Unlock()

	stop, err := page.Expose(d.binding, func(req gson.JSON) (interface{}, error) {
		return nil, d.receive(t, []byte(req.Str()))
	})
	if err != nil {
		d.forget(t)
		return nil, fmt.Errorf("browser: expose binding: %w", err)
	}
	t.stop = stop

	if _, err := page.EvalOnNewDocument(d.script); err != nil {
		d.forget(t)
		return nil, fmt.Errorf("browser: register capture script: %w", err)
	}
	// The current document predates the registration.
	if _, err := page.Eval(injectJS, d.binding, d.guard, scriptOptions{SettleDelay: d.cfg.SettleDelay.Milliseconds()}); err != nil {
		d.logger.Debug("browser: inject into current document", "tab", t.id, "error", err)
	}

	go d.listen(t)

	info, err := page.Info()
	if err == nil {
		t.url.Store(info.URL)
	}
	d.h.TabOpened(capture.Tab{ID: t.id, URL: t.currentURL()})
	d.logger.Debug("browser: tab attached", "tab", t.id, "target", page.TargetID)
	return t, nil
}

func (d *Driver) forget(t *tab) {
	d.mu.Lock()
	delete(d.tabs, t.id)
	delete(d.byTarget, t.target)
	d.mu.Unlock()
}

// receive handles one binding call. Action halves block until the recorder
// processed them so the page's await orders before and after.
func (d *Driver) receive(t *tab, data []byte) error {
	msg, ev, err := decodeEnvelope(data, t.id)
	if err != nil {
		d.logger.Warn("browser: bad binding payload", "tab", t.id, "error", err)
		return err
	}
	if ev != nil {
		d.h.Event(ev)
		return nil
	}
	return d.h.Action(d.ctx, msg)
}

// listen runs the per-tab CDP bridges until the tab or the driver goes away.
func (d *Driver) listen(t *tab) {
	p := t.page.Context(d.ctx)
	nw := newNetwork(t.id, t.page, d.h)
	p.EachEvent(
		nw.requestWillBeSent,
		nw.responseReceived,
		nw.loadingFinished,
		nw.loadingFailed,
		func(e *proto.RuntimeConsoleAPICalled) {
			d.h.Console(consoleEvent(t.id, e))
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			from := t.currentURL()
			to := e.Frame.URL
			if from == to && e.Type != proto.PageNavigationTypeBackForwardCacheRestore {
				return
			}
			t.url.Store(to)
			d.h.Navigated(&capture.Navigation{
				TabID:     t.id,
				FromURL:   from,
				ToURL:     to,
				Type:      navigationType(from, e.Type, d.transition(t)),
				Timestamp: time.Now(),
			})
		},
	)()
}

// transition reads the transition type of the tab's current history entry.
func (d *Driver) transition(t *tab) proto.PageTransitionType {
	hist, err := proto.PageGetNavigationHistory{}.Call(t.page)
	if err != nil || hist.CurrentIndex < 0 || hist.CurrentIndex >= len(hist.Entries) {
		return proto.PageTransitionTypeOther
	}
	return hist.Entries[hist.CurrentIndex].TransitionType
}

// targetCreated attaches pages the recorded tabs open themselves (links
// with target=_blank, window.open).
func (d *Driver) targetCreated(e *proto.TargetTargetCreated) {
	info := e.TargetInfo
	if info == nil || info.Type != proto.TargetTargetInfoTypePage || info.OpenerID == "" {
		return
	}
	d.mu.Lock()
	_, opener := d.byTarget[info.OpenerID]
	d.mu.Unlock()
	if !opener {
		return
	}
	go func() {
		b := d.proc.current()
		if b == nil {
			return
		}
		page, err := b.PageFromTarget(info.TargetID)
		if err != nil {
			d.logger.Warn("browser: attach popup", "target", info.TargetID, "error", err)
			return
		}
		if _, err := d.attach(page); err != nil {
			d.logger.Warn("browser: attach popup", "target", info.TargetID, "error", err)
		}
	}()
}

func (d *Driver) targetDestroyed(e *proto.TargetTargetDestroyed) {
	d.mu.Lock()
	t, ok := d.byTarget[e.TargetID]
	d.mu.Unlock()
	if !ok || t.closed.Swap(true) {
		return
	}
	d.h.TabClosed(t.id)
}

func (d *Driver) downloadWillBegin(e *proto.BrowserDownloadWillBegin) {
	dl := &capture.Download{
		TabID:             d.tabForFrame(e.FrameID),
		URL:               e.URL,
		SuggestedFilename: e.SuggestedFilename,
		State:             "started",
		Timestamp:         time.Now(),
	}
	d.mu.Lock()
	d.downloads[e.GUID] = dl
	d.mu.Unlock()
	d.h.Download(dl)
}

func (d *Driver) downloadProgress(e *proto.BrowserDownloadProgress) {
	var state string
	switch e.State {
	case proto.BrowserDownloadProgressStateCompleted:
		state = "completed"
	case proto.BrowserDownloadProgressStateCanceled:
		state = "canceled"
	default:
		return
	}
	d.mu.Lock()
	start, ok := d.downloads[e.GUID]
	delete(d.downloads, e.GUID)
	d.mu.Unlock()
	if !ok {
		return
	}
	dl := *start
	dl.State = state
	dl.Timestamp = time.Now()
	d.h.Download(&dl)
}

// tabForFrame maps a main frame id (equal to its target id) to a tab,
// falling back to the first tab.
func (d *Driver) tabForFrame(frame proto.PageFrameID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.byTarget[proto.TargetTargetID(frame)]; ok {
		return t.id
	}
	return 0
}

func (d *Driver) lookup(tabID int) (*tab, error) {
	d.mu.Lock()
	t, ok := d.tabs[tabID]
	d.mu.Unlock()
	if !ok || t.closed.Load() {
		return nil, fmt.Errorf("browser: tab %d: %w", tabID, capture.ErrTabClosed)
	}
	return t, nil
}

// Screenshot returns a PNG of the tab.
func (d *Driver) Screenshot(ctx context.Context, tabID int) ([]byte, error) {
	t, err := d.lookup(tabID)
	if err != nil {
		return nil, err
	}
	data, err := t.page.Context(ctx).Screenshot(d.cfg.FullPageScreenshots, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		if t.closed.Load() {
			return nil, fmt.Errorf("browser: tab %d: %w", tabID, capture.ErrTabClosed)
		}
		return nil, fmt.Errorf("browser: screenshot tab %d: %w", tabID, err)
	}
	return data, nil
}

// Closed reports whether the tab is gone.
func (d *Driver) Closed(tabID int) bool {
	_, err := d.lookup(tabID)
	return err != nil
}

// Close detaches from every tab and shuts the browser down.
func (d *Driver) Close() error {
	if d.closing.Swap(true) {
		return nil
	}
	d.mu.Lock()
	tabs := make([]*tab, 0, len(d.tabs))
	for _, t := range d.tabs {
		tabs = append(tabs, t)
	}
	d.mu.Unlock()
	for _, t := range tabs {
		if t.stop != nil && !t.closed.Load() {
			t.stop()
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	return d.proc.close()
}
