package recorder

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/session"
	"github.com/llnl/session-recorder/snapshot"
)

// job is one half of an action waiting for the worker.
type job struct {
	msg  *capture.Message
	done chan struct{}
}

type pendingKey struct {
	tab   int
	token string
}

// pending is an action whose before half is on disk.
type pending struct {
	id      string
	tabID   int
	typ     session.Type
	details session.Details
	before  session.Snapshot
	files   []string
}

var errIncomplete = errors.New("session stopped before the after snapshot")

// Action implements capture.Handler. It returns once the worker has
// processed the message so the page can take its after snapshot only after
// the before files are written.
func (rn *run) Action(ctx context.Context, msg *capture.Message) error {
	before := msg.Phase == capture.PhaseBefore
	if before {
		if rn.getMode() != modeRecording {
			return nil
		}
		if !msg.Descriptor.Accept() {
			rn.logger.Debug("recorder: action filtered", "type", msg.Descriptor.Type, "key", msg.Descriptor.Key)
			return nil
		}
	}

	j := &job{msg: msg, done: make(chan struct{})}
	rn.qmu.Lock()
	if rn.qclosed {
		rn.qmu.Unlock()
		return nil
	}
	if before {
		rn.inflight.Add(1)
	}
	rn.jobs <- j
	rn.qmu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// work is the single consumer of the action queue. Before and after halves
// of every action run here one at a time, so snapshot files of overlapping
// actions never interleave.
func (rn *run) work() {
	defer close(rn.workerDone)
	for j := range rn.jobs {
		switch j.msg.Phase {
		case capture.PhaseBefore:
			rn.before(j.msg)
		case capture.PhaseAfter:
			rn.after(j.msg)
		}
		close(j.done)
	}
}

func (rn *run) before(msg *capture.Message) {
	key := pendingKey{tab: msg.TabID, token: msg.Token}
	if _, dup := rn.pending[key]; dup {
		rn.inflight.Add(-1)
		rn.logger.Warn("recorder: duplicate action token", "tab", msg.TabID, "token", msg.Token)
		return
	}
	if rn.drv.Closed(msg.TabID) {
		rn.inflight.Add(-1)
		rn.logger.Debug("recorder: tab closed, action dropped", "tab", msg.TabID)
		return
	}

	id, _ := rn.actionIDs.Next()
	p := &pending{
		id:      id,
		tabID:   msg.TabID,
		typ:     msg.Descriptor.Type,
		details: msg.Descriptor.Details(),
	}
	snap, err := rn.snapshot(msg.TabID, msg.Capture, id+"-before", &p.files)
	if err != nil {
		rn.inflight.Add(-1)
		rn.drop(p, "before", err)
		return
	}
	p.before = snap
	rn.pending[key] = p
}

func (rn *run) after(msg *capture.Message) {
	key := pendingKey{tab: msg.TabID, token: msg.Token}
	p, ok := rn.pending[key]
	if !ok {
		rn.logger.Debug("recorder: after without before", "tab", msg.TabID, "token", msg.Token)
		return
	}
	delete(rn.pending, key)
	defer rn.inflight.Add(-1)

	if rn.drv.Closed(msg.TabID) {
		rn.drop(p, "after", capture.ErrTabClosed)
		return
	}
	after, err := rn.snapshot(msg.TabID, msg.Capture, p.id+"-after", &p.files)
	if err != nil {
		rn.drop(p, "after", err)
		return
	}

	// The page clock orders the three timestamps; clamp anything a clock
	// adjustment put out of order.
	at := p.details.Timestamp
	if p.before.Timestamp.After(at.Time) {
		p.before.Timestamp = at
	}
	if after.Timestamp.Before(at.Time) {
		after.Timestamp = at
	}

	tabID := p.tabID
	rn.commit(session.Action{
		ID:        p.id,
		Timestamp: at,
		Type:      p.typ,
		Payload: &session.Interaction{
			TabID:  &tabID,
			TabURL: p.before.URL,
			Before: p.before,
			Action: p.details,
			After:  after,
		},
	})
	rn.setURL(after.URL)
}

// drop discards an action and whatever it already wrote.
func (rn *run) drop(p *pending, phase string, err error) {
	for _, f := range p.files {
		if rerr := os.Remove(f); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			rn.logger.Warn("recorder: remove partial file", "file", f, "error", rerr)
		}
	}
	if errors.Is(err, capture.ErrTabClosed) || errors.Is(err, errIncomplete) {
		rn.logger.Debug("recorder: action dropped", "id", p.id, "phase", phase, "reason", err)
		return
	}
	rn.logger.Warn("recorder: action dropped", "id", p.id, "phase", phase, "error", err)
}

// snapshot writes one capture as snapshots/<name>.html plus
// screenshots/<name>.png and returns its reference. Paths of written files
// are appended to files so a failed action can be removed.
func (rn *run) snapshot(tabID int, c *snapshot.Capture, name string, files *[]string) (session.Snapshot, error) {
	doc, err := snapshot.Decode(c)
	if err != nil {
		return session.Snapshot{}, err
	}
	for _, w := range doc.Warnings {
		rn.logger.Debug("recorder: capture warning", "snapshot", name, "warning", w)
	}
	rn.storeInline(c.Resources)

	ctx, cancel := context.WithTimeout(rn.ctx, 30*time.Second)
	png, err := rn.drv.Screenshot(ctx, tabID)
	cancel()
	if err != nil {
		return session.Snapshot{}, err
	}

	b := snapshot.Serialize(doc)
	html, res := rn.rw.HTML(b.HTML, b.URL)
	if res.Missed > 0 {
		rn.logger.Debug("recorder: unresolved references",
			"snapshot", name,
			"rewritten", res.Rewritten,
			"missed", res.Missed,
			"misses", res.Misses,
		)
	}

	htmlRel := path.Join(session.SnapshotDir, name+".html")
	shotRel := path.Join(session.ScreenshotDir, name+".png")
	if err := rn.writeFile(htmlRel, []byte(b.Doctype+html), files); err != nil {
		return session.Snapshot{}, err
	}
	if err := rn.writeFile(shotRel, png, files); err != nil {
		return session.Snapshot{}, err
	}
	return session.Snapshot{
		Timestamp:  session.At(b.Timestamp),
		HTML:       htmlRel,
		Screenshot: shotRel,
		URL:        b.URL,
		Viewport:   b.Viewport,
	}, nil
}

// storeInline stores stylesheet text the page could read and points the
// URL map at it. A later capture of the same URL wins.
func (rn *run) storeInline(res []snapshot.Inline) {
	for _, in := range res {
		key, err := rn.store.Put(in.URL, []byte(in.Content), in.ContentType)
		if err != nil {
			rn.logger.Warn("recorder: store inline resource", "url", in.URL, "error", err)
			continue
		}
		rn.urls.Set(in.URL, key)
	}
}

func (rn *run) writeFile(rel string, data []byte, files *[]string) error {
	full := filepath.Join(rn.dir, filepath.FromSlash(rel))
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	*files = append(*files, full)
	return nil
}

// awaitInflight gives actions already started a bounded chance to deliver
// their after half.
func (rn *run) awaitInflight(ctx context.Context, grace time.Duration) {
	if rn.inflight.Load() == 0 || rn.gone.Load() {
		return
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for rn.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			rn.logger.Warn("recorder: actions still in flight at stop", "count", rn.inflight.Load())
			return
		case <-tick.C:
		}
	}
}

// closeQueue stops intake, drains the worker and discards actions that
// never got their after half.
func (rn *run) closeQueue() {
	rn.qmu.Lock()
	if !rn.qclosed {
		rn.qclosed = true
		close(rn.jobs)
	}
	rn.qmu.Unlock()
	<-rn.workerDone
	for key, p := range rn.pending {
		delete(rn.pending, key)
		rn.drop(p, "stop", errIncomplete)
	}
}
