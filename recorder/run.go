package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/idgen"
	"github.com/llnl/session-recorder/recorder/sink"
	"github.com/llnl/session-recorder/resource"
	"github.com/llnl/session-recorder/rewrite"
	"github.com/llnl/session-recorder/session"
)

// mode gates what a run accepts from the driver.
type mode int32

const (
	// modeStarting records navigations only: the first tab is loading.
	modeStarting mode = iota
	modeRecording
	// modePaused drops new actions and page events.
	modePaused
	// modeClosing accepts only the after half of actions in flight.
	modeClosing
)

// run is one recording session. It implements capture.Handler.
type run struct {
	r       *Recorder
	logger  *slog.Logger
	id      string
	dir     string
	start   time.Time
	drv     capture.Driver
	store   *resource.Store
	urls    *resource.URLMap
	rw      *rewrite.Rewriter
	network *session.LogWriter
	console *session.LogWriter
	maxBody int64
	voiceOn bool

	// ctx lives as long as the session and bounds browser calls made by
	// the workers.
	ctx    context.Context
	cancel context.CancelFunc

	mode atomic.Int32
	gone atomic.Bool

	actionIDs *idgen.Sequence
	navIDs    *idgen.Sequence
	eventIDs  *idgen.Sequence

	// Action queue. pending is owned by the worker goroutine.
	qmu        sync.Mutex
	qclosed    bool
	jobs       chan *job
	workerDone chan struct{}
	pending    map[pendingKey]*pending
	inflight   atomic.Int64

	// Network side channel.
	nmu       sync.Mutex
	nclosed   bool
	responses chan *capture.Response
	netDone   chan struct{}

	statsDone chan struct{}

	amu     sync.Mutex
	actions []session.Action
	url     string
	tabs    map[int]string

	pmu       sync.Mutex
	pausedAt  time.Time
	pausedFor time.Duration
}

var _ capture.Handler = (*run)(nil)

// startRun prepares the session directory, launches the browser and opens
// the first tab. Everything it created is torn down when it fails.
func (r *Recorder) startRun(ctx context.Context, browserType string) (*run, error) {
	drv, err := r.newDriver(browserType)
	if err != nil {
		return nil, fmt.Errorf("recorder: driver: %w", err)
	}

	start := r.now().Truncate(time.Millisecond)
	id := idgen.SessionID(start)
	dir := filepath.Join(r.cfg.OutputDir, id)
	for _, sub := range []string{session.SnapshotDir, session.ScreenshotDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("recorder: create session dir: %w", err)
		}
	}

	logger := r.logger.With("session_id", id)
	rn := &run{
		r:          r,
		logger:     logger,
		id:         id,
		dir:        dir,
		start:      start,
		drv:        drv,
		urls:       resource.NewURLMap(),
		maxBody:    r.cfg.Capture.MaxBodySize,
		actionIDs:  idgen.NewSequence("action"),
		navIDs:     idgen.NewSequence("nav"),
		eventIDs:   idgen.NewSequence("event"),
		jobs:       make(chan *job, 64),
		workerDone: make(chan struct{}),
		pending:    make(map[pendingKey]*pending),
		responses:  make(chan *capture.Response, 1024),
		netDone:    make(chan struct{}),
		statsDone:  make(chan struct{}),
		tabs:       make(map[int]string),
	}
	rn.rw = rewrite.New(rn.urls)
	rn.ctx, rn.cancel = context.WithCancel(context.Background())

	go rn.work()
	go rn.logResponses()
	go rn.statsLoop(r.cfg.Capture.StatsInterval)

	fail := func(err error) (*run, error) {
		rn.abort()
		return nil, err
	}

	if rn.store, err = resource.NewStore(filepath.Join(dir, session.ResourceDir),
		resource.WithLogger(logger), resource.WithClock(r.now)); err != nil {
		return fail(err)
	}
	if rn.network, err = session.CreateLog(filepath.Join(dir, session.NetworkFile)); err != nil {
		return fail(err)
	}
	if rn.console, err = session.CreateLog(filepath.Join(dir, session.ConsoleFile)); err != nil {
		return fail(err)
	}

	if r.voice != nil {
		if err := r.voice.Start(ctx, dir, start); err != nil {
			logger.Warn("recorder: voice unavailable, recording without it", "error", err)
			r.emit(id, sink.TypeError, errorData("voice", err))
		} else {
			rn.voiceOn = true
		}
	}

	if err := drv.Launch(ctx, rn); err != nil {
		return fail(fmt.Errorf("recorder: launch browser: %w", err))
	}
	tab, err := drv.Open(ctx, r.cfg.StartURL)
	if err != nil {
		return fail(fmt.Errorf("recorder: open %s: %w", r.cfg.StartURL, err))
	}
	rn.amu.Lock()
	if rn.url == "" {
		rn.url = tab.URL
	}
	rn.amu.Unlock()
	return rn, nil
}

// abort tears down a run that never reached recording and removes its
// directory.
func (rn *run) abort() {
	rn.setMode(modeClosing)
	if rn.voiceOn {
		if _, err := rn.r.voice.Stop(context.Background()); err != nil {
			rn.logger.Warn("recorder: stop voice", "error", err)
		}
	}
	if err := rn.drv.Close(); err != nil {
		rn.logger.Warn("recorder: close browser", "error", err)
	}
	rn.closeQueue()
	rn.closeResponses()
	rn.cancel()
	if rn.network != nil {
		rn.network.Close()
	}
	if rn.console != nil {
		rn.console.Close()
	}
	if err := os.RemoveAll(rn.dir); err != nil {
		rn.logger.Warn("recorder: remove session dir", "dir", rn.dir, "error", err)
	}
}

func (rn *run) getMode() mode { return mode(rn.mode.Load()) }

func (rn *run) setMode(m mode) {
	rn.pmu.Lock()
	now := rn.r.now()
	switch {
	case m == modePaused:
		rn.pausedAt = now
	case !rn.pausedAt.IsZero():
		rn.pausedFor += now.Sub(rn.pausedAt)
		rn.pausedAt = time.Time{}
	}
	rn.mode.Store(int32(m))
	rn.pmu.Unlock()
}

// activeDuration is the time spent recording, paused time excluded.
func (rn *run) activeDuration() time.Duration {
	rn.pmu.Lock()
	defer rn.pmu.Unlock()
	now := rn.r.now()
	d := now.Sub(rn.start) - rn.pausedFor
	if !rn.pausedAt.IsZero() {
		d -= now.Sub(rn.pausedAt)
	}
	if d < 0 {
		return 0
	}
	return d
}

func (rn *run) actionCount() int {
	rn.amu.Lock()
	defer rn.amu.Unlock()
	return len(rn.actions)
}

func (rn *run) currentURL() string {
	rn.amu.Lock()
	defer rn.amu.Unlock()
	return rn.url
}

// setURL records the page the user is on and reports changes.
func (rn *run) setURL(u string) {
	if u == "" {
		return
	}
	rn.amu.Lock()
	changed := u != rn.url
	rn.url = u
	rn.amu.Unlock()
	if changed {
		rn.r.emit(rn.id, sink.TypeURLChanged, map[string]string{"url": u})
	}
}

// commit appends a finished action. Commit order is completion order; the
// list is sorted at finalization.
func (rn *run) commit(a session.Action) {
	rn.amu.Lock()
	rn.actions = append(rn.actions, a)
	n := len(rn.actions)
	rn.amu.Unlock()

	data := map[string]any{"id": a.ID, "type": a.Type, "actionCount": n}
	if tab, ok := a.TabID(); ok {
		data["tabId"] = tab
	}
	rn.logger.Debug("recorder: action committed", "id", a.ID, "type", a.Type, "count", n)
	rn.r.emit(rn.id, sink.TypeActionRecorded, data)
}

func (rn *run) takeActions() []session.Action {
	rn.amu.Lock()
	defer rn.amu.Unlock()
	out := make([]session.Action, len(rn.actions))
	copy(out, rn.actions)
	return out
}

// TabOpened implements capture.Handler.
func (rn *run) TabOpened(tab capture.Tab) {
	rn.amu.Lock()
	rn.tabs[tab.ID] = tab.URL
	rn.amu.Unlock()
	rn.logger.Info("recorder: tab attached", "tab", tab.ID, "url", tab.URL)
}

var errAllTabsClosed = errors.New("all tabs closed")

// TabClosed implements capture.Handler. Closing the last tab ends the
// session like a browser disconnect.
func (rn *run) TabClosed(tabID int) {
	rn.amu.Lock()
	delete(rn.tabs, tabID)
	left := len(rn.tabs)
	rn.amu.Unlock()
	rn.logger.Info("recorder: tab closed", "tab", tabID, "open", left)
	if left == 0 && rn.getMode() != modeStarting {
		go rn.r.browserClosed(rn, errAllTabsClosed)
	}
}

// Event implements capture.Handler.
func (rn *run) Event(ev *capture.PageEvent) {
	if rn.getMode() != modeRecording {
		return
	}
	typ, payload, err := ev.Action()
	if err != nil {
		rn.logger.Debug("recorder: page event ignored", "error", err)
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = session.At(rn.r.now())
	}
	id, _ := rn.eventIDs.Next()
	rn.commit(session.Action{ID: id, Timestamp: ts, Type: typ, Payload: payload})
}

// Navigated implements capture.Handler. The navigation that loads the
// start URL is recorded too.
func (rn *run) Navigated(nav *capture.Navigation) {
	if m := rn.getMode(); m != modeRecording && m != modeStarting {
		return
	}
	rn.amu.Lock()
	if _, ok := rn.tabs[nav.TabID]; ok {
		rn.tabs[nav.TabID] = nav.ToURL
	}
	rn.amu.Unlock()

	id, _ := rn.navIDs.Next()
	rn.commit(session.Action{
		ID:        id,
		Timestamp: session.At(nav.Timestamp.Truncate(time.Millisecond)),
		Type:      session.TypeNavigation,
		Payload: &session.Navigation{
			TabID: nav.TabID,
			Navigation: session.NavigationInfo{
				FromURL:        nav.FromURL,
				ToURL:          nav.ToURL,
				NavigationType: nav.Type,
			},
		},
	})
	rn.setURL(nav.ToURL)
}

// Download implements capture.Handler.
func (rn *run) Download(d *capture.Download) {
	if rn.getMode() != modeRecording {
		return
	}
	id, _ := rn.eventIDs.Next()
	rn.commit(session.Action{
		ID:        id,
		Timestamp: session.At(d.Timestamp.Truncate(time.Millisecond)),
		Type:      session.TypeDownload,
		Payload: &session.Download{
			TabID: d.TabID,
			Download: session.DownloadInfo{
				URL:               d.URL,
				SuggestedFilename: d.SuggestedFilename,
				State:             d.State,
			},
		},
	})
}

// Disconnected implements capture.Handler.
func (rn *run) Disconnected(err error) {
	rn.gone.Store(true)
	go rn.r.browserClosed(rn, err)
}
