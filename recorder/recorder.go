// Package recorder is the session recorder: it drives a browser, turns the
// before/after messages of the capture script into actions with snapshot
// files, logs network and console traffic, merges the voice transcript and
// writes the session archive.
//
// A Recorder runs one session at a time:
//
//	idle -> starting -> recording <-> paused -> stopping -> idle
//
// Lifecycle events are delivered to sinks (stdout, webhook, callback).
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/recorder/internal/browser"
	"github.com/llnl/session-recorder/recorder/sink"
	"github.com/llnl/session-recorder/voice"
)

// Sink is the output interface for recorder events.
type Sink = sink.Sink

// Event is one recorder notification.
type Event = sink.Event

// DriverFactory creates the browser driver for one session.
type DriverFactory func(browserType string) (capture.Driver, error)

// Option configures a Recorder.
type Option func(*Recorder)

// WithDriver replaces the go-rod driver, typically with a fake in tests.
func WithDriver(f DriverFactory) Option {
	return func(r *Recorder) { r.newDriver = f }
}

// WithVoice sets the voice recorder and enables voice for every session.
func WithVoice(v voice.Recorder) Option {
	return func(r *Recorder) { r.voice = v }
}

// WithSinks adds event sinks.
func WithSinks(sinks ...Sink) Option {
	return func(r *Recorder) {
		for _, s := range sinks {
			r.sinks.Add(s)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithCatalog registers finished sessions in c.
func WithCatalog(c *catalog.Catalog) Option {
	return func(r *Recorder) { r.catalog = c }
}

// Recorder is the session orchestrator. Create one per process.
type Recorder struct {
	cfg       *Config
	logger    *slog.Logger
	newDriver DriverFactory
	voice     voice.Recorder
	catalog   *catalog.Catalog
	sinks     *sink.Router
	now       func() time.Time
	tracer    trace.Tracer

	// pendingGrace bounds how long Stop waits for in-flight actions to
	// receive their after half.
	pendingGrace time.Duration

	emu       sync.RWMutex
	closed    bool
	events    chan Event
	eventDone chan struct{}
	dropped   atomic.Int64

	mu    sync.Mutex
	state State
	run   *run
}

// New creates an idle Recorder.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Recorder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		cfg:          cfg,
		logger:       logger,
		sinks:        sink.NewRouter(logger),
		now:          time.Now,
		tracer:       otel.Tracer("github.com/llnl/session-recorder/recorder"),
		pendingGrace: 2 * time.Second,
		events:       make(chan Event, 256),
		eventDone:    make(chan struct{}),
		state:        StateIdle,
	}
	for _, o := range opts {
		o(r)
	}
	if r.newDriver == nil {
		r.newDriver = r.rodDriver
	}
	if r.voice == nil && cfg.Voice.Enabled {
		r.voice = voice.NewProcess(voice.Config{
			Command:     cfg.Voice.Command,
			Model:       cfg.Voice.Model,
			Device:      cfg.Voice.Device,
			Language:    cfg.Voice.Language,
			StopTimeout: cfg.Voice.StopTimeout,
			Logger:      logger,
		})
	}
	go r.dispatch()
	return r
}

func (r *Recorder) rodDriver(browserType string) (capture.Driver, error) {
	if err := browser.ValidateType(browserType); err != nil {
		return nil, err
	}
	b := r.cfg.Browser
	return browser.New(browser.Config{
		Type:                browserType,
		RemoteURL:           b.Remote,
		Headless:            b.Headless,
		Bin:                 b.Bin,
		XvfbDisplay:         b.XvfbDisplay,
		Stealth:             b.Stealth,
		FullPageScreenshots: r.cfg.Capture.ScreenshotFullPage,
		SettleDelay:         r.cfg.Capture.SettleDelay,
		Logger:              r.logger,
	}), nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status describes the recorder for hosts and the viewer.
type Status struct {
	State       State     `json:"state"`
	SessionID   string    `json:"sessionId,omitempty"`
	SessionDir  string    `json:"sessionDir,omitempty"`
	StartTime   time.Time `json:"startTime,omitzero"`
	ActionCount int       `json:"actionCount"`
	CurrentURL  string    `json:"currentUrl,omitempty"`
}

// Status returns the current state and, while a session runs, its progress.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	st := Status{State: r.state}
	rn := r.run
	r.mu.Unlock()
	if rn != nil {
		st.SessionID = rn.id
		st.SessionDir = rn.dir
		st.StartTime = rn.start
		st.ActionCount = rn.actionCount()
		st.CurrentURL = rn.currentURL()
	}
	return st
}

// Start begins a session in a new browser of the given type (chromium or
// chrome; empty uses the configured type). It returns once the first tab
// has loaded the start URL. On failure the recorder is idle again.
func (r *Recorder) Start(ctx context.Context, browserType string) error {
	ctx, span := r.tracer.Start(ctx, "recorder.start")
	defer span.End()

	r.mu.Lock()
	ch, err := r.transition("start recording", StateStarting, StateIdle)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.emit("", sink.TypeStateChange, ch)

	if browserType == "" {
		browserType = r.cfg.Browser.Type
	}
	rn, err := r.startRun(ctx, browserType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.mu.Lock()
		ch, _ := r.transition("start recording", StateIdle, StateStarting)
		r.mu.Unlock()
		r.emit("", sink.TypeError, errorData("start", err))
		r.emit("", sink.TypeStateChange, ch)
		return err
	}
	span.SetAttributes(attribute.String("session.id", rn.id))

	r.mu.Lock()
	r.run = rn
	ch, _ = r.transition("start recording", StateRecording, StateStarting)
	r.mu.Unlock()
	rn.setMode(modeRecording)
	if rn.gone.Load() {
		go r.browserClosed(rn, nil)
	}

	r.emit(rn.id, sink.TypeStateChange, ch)
	r.emit(rn.id, sink.TypeStarted, map[string]any{
		"sessionId":  rn.id,
		"sessionDir": rn.dir,
		"browser":    browserType,
		"url":        rn.currentURL(),
		"voice":      rn.voiceOn,
	})
	r.logger.Info("recorder: recording started",
		"session_id", rn.id,
		"dir", rn.dir,
		"browser", browserType,
		"voice", rn.voiceOn,
	)
	return nil
}

// Pause stops recording actions and page events until Resume. Network and
// console logging continue.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	ch, err := r.transition("pause recording", StatePaused, StateRecording)
	rn := r.run
	r.mu.Unlock()
	if err != nil {
		return err
	}
	rn.setMode(modePaused)
	r.emit(rn.id, sink.TypeStateChange, ch)
	r.emit(rn.id, sink.TypePaused, nil)
	r.logger.Info("recorder: paused", "session_id", rn.id)
	return nil
}

// Resume continues a paused session.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	ch, err := r.transition("resume recording", StateRecording, StatePaused)
	rn := r.run
	r.mu.Unlock()
	if err != nil {
		return err
	}
	rn.setMode(modeRecording)
	r.emit(rn.id, sink.TypeStateChange, ch)
	r.emit(rn.id, sink.TypeResumed, nil)
	r.logger.Info("recorder: resumed", "session_id", rn.id)
	return nil
}

// Stop ends the session: in-flight actions are drained, voice is merged,
// the manifest is written and the directory is zipped. It returns the
// archive path. When the archive cannot be written the error is returned
// and the session directory is left in place.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	ctx, span := r.tracer.Start(ctx, "recorder.stop")
	defer span.End()

	r.mu.Lock()
	ch, err := r.transition("stop recording", StateStopping, StateRecording, StatePaused)
	rn := r.run
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("session.id", rn.id))
	r.emit(rn.id, sink.TypeStateChange, ch)

	out, res, err := r.finish(ctx, rn)

	r.mu.Lock()
	r.run = nil
	ch, _ = r.transition("stop recording", StateIdle, StateStopping)
	r.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("recorder: stop failed", "session_id", rn.id, "dir", rn.dir, "error", err)
		r.emit(rn.id, sink.TypeError, errorData("stop", err))
		r.emit(rn.id, sink.TypeStateChange, ch)
		return "", err
	}
	span.SetAttributes(attribute.Int("session.actions", res.Actions))
	r.emit(rn.id, sink.TypeStateChange, ch)
	r.emit(rn.id, sink.TypeStopped, res)
	return out, nil
}

// browserClosed turns a lost browser into an implicit stop.
func (r *Recorder) browserClosed(rn *run, cause error) {
	r.mu.Lock()
	current := r.run == rn && (r.state == StateRecording || r.state == StatePaused)
	r.mu.Unlock()
	if !current {
		return
	}
	msg := "browser closed"
	if cause != nil {
		msg = cause.Error()
	}
	r.logger.Warn("recorder: browser closed, stopping", "session_id", rn.id, "reason", msg)
	r.emit(rn.id, sink.TypeBrowserClosed, map[string]string{"reason": msg})
	if _, err := r.Stop(context.Background()); err != nil {
		r.logger.Error("recorder: implicit stop", "session_id", rn.id, "error", err)
	}
}

// Close stops a running session, flushes pending events and closes the
// sinks.
func (r *Recorder) Close() error {
	var stopErr error
	switch r.State() {
	case StateRecording, StatePaused:
		_, stopErr = r.Stop(context.Background())
	}
	r.emu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.emu.Unlock()
	<-r.eventDone
	if err := r.sinks.Close(); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("recorder: close sinks: %w", err)
	}
	return stopErr
}

// emit queues an event for the sinks. Events after Close, or while the
// queue is full behind a stalled sink, are dropped.
func (r *Recorder) emit(sessionID, typ string, data any) {
	r.emu.RLock()
	defer r.emu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- Event{Type: typ, SessionID: sessionID, Timestamp: r.now().UTC(), Data: data}:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("recorder: event queue full, dropping event",
			"type", typ, "session_id", sessionID, "dropped", n)
	}
}

// dispatch delivers events in order on one goroutine so a slow webhook
// never blocks the action queue.
func (r *Recorder) dispatch() {
	defer close(r.eventDone)
	for ev := range r.events {
		r.sinks.Send(context.Background(), ev)
	}
}

func errorData(op string, err error) map[string]string {
	return map[string]string{"op": op, "error": err.Error()}
}
