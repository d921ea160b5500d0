package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"

	"github.com/llnl/session-recorder/archive"
	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/recorder/sink"
	"github.com/llnl/session-recorder/resource"
	"github.com/llnl/session-recorder/rewrite"
	"github.com/llnl/session-recorder/session"
	"github.com/llnl/session-recorder/voice"
)

// Result describes a finished session. It is the data of the stopped
// event.
type Result struct {
	SessionID   string         `json:"sessionId"`
	Dir         string         `json:"sessionDir"`
	OutputPath  string         `json:"outputPath"`
	Actions     int            `json:"actionCount"`
	Duration    int64          `json:"duration"`
	Resources   resource.Stats `json:"resources"`
	Voice       bool           `json:"voice"`
	ArchiveSize int64          `json:"archiveSize"`
}

// cssPrefix points references inside stored stylesheets at their
// siblings in resources/.
const cssPrefix = "./"

// finish drains the session and writes its archive.
func (r *Recorder) finish(ctx context.Context, rn *run) (string, Result, error) {
	rn.setMode(modeClosing)
	rn.awaitInflight(ctx, r.pendingGrace)
	rn.closeQueue()
	rn.closeResponses()
	if err := rn.drv.Close(); err != nil {
		rn.logger.Warn("recorder: close browser", "error", err)
	}
	duration := rn.activeDuration()
	rn.cancel()
	<-rn.statsDone
	end := r.now()

	var vres *voice.Result
	if rn.voiceOn {
		vres = r.stopVoice(ctx, rn)
	}

	m, err := r.finalize(ctx, rn, end, vres)
	if err != nil {
		return "", Result{}, err
	}

	out := rn.dir + ".zip"
	st, err := archive.Zip(rn.dir, out)
	if err != nil {
		return "", Result{}, fmt.Errorf("recorder: write archive (session kept in %s): %w", rn.dir, err)
	}
	rn.logger.Info("recorder: session archived",
		"archive", out,
		"files", st.Files,
		"size", humanize.Bytes(uint64(st.Bytes)),
		"compressed", humanize.Bytes(uint64(st.ArchiveBytes)),
		"actions", len(m.Actions),
	)

	if r.catalog != nil {
		if err := r.catalog.Upsert(ctx, catalog.EntryFor(m, rn.dir, out)); err != nil {
			rn.logger.Warn("recorder: catalog", "error", err)
		}
	}

	return out, Result{
		SessionID:   rn.id,
		Dir:         rn.dir,
		OutputPath:  out,
		Actions:     len(m.Actions),
		Duration:    duration.Milliseconds(),
		Resources:   rn.store.Stats(),
		Voice:       vres != nil && vres.Success,
		ArchiveSize: st.ArchiveBytes,
	}, nil
}

// stopVoice stops the voice recorder and writes transcript.json. A failed
// transcription is logged; the session is kept without voice.
func (r *Recorder) stopVoice(ctx context.Context, rn *run) *voice.Result {
	timeout := r.cfg.Voice.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	vctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	res, err := r.voice.Stop(vctx)
	if err != nil {
		rn.logger.Warn("recorder: stop voice", "error", err)
		return nil
	}
	if res == nil {
		return nil
	}
	if !res.Success {
		r.emit(rn.id, sink.TypeError, errorData("voice", errors.New(res.Error)))
	}
	if err := voice.WriteTranscript(rn.dir, res); err != nil {
		rn.logger.Warn("recorder: write transcript", "error", err)
	}
	return res
}

// finalize rewrites stored stylesheets, merges voice and writes
// session.json.
func (r *Recorder) finalize(ctx context.Context, rn *run, end time.Time, vres *voice.Result) (*session.Manifest, error) {
	_, span := r.tracer.Start(ctx, "recorder.finalize")
	defer span.End()

	rn.rewriteStylesheets()

	if err := rn.network.Close(); err != nil {
		rn.logger.Warn("recorder: close network log", "error", err)
	}
	if err := rn.console.Close(); err != nil {
		rn.logger.Warn("recorder: close console log", "error", err)
	}

	actions := rn.takeActions()
	var voiceActions []session.Action
	if vres != nil && vres.Success {
		voiceActions = voice.ToActions(vres, rn.start, voice.AudioFile, func(t time.Time) string {
			return session.NearestSnapshot(actions, t)
		})
	}
	merged := session.MergeVoice(actions, voiceActions)

	endTime := session.At(end.Truncate(time.Millisecond))
	m := &session.Manifest{
		SessionID:       rn.id,
		StartTime:       session.At(rn.start),
		EndTime:         &endTime,
		Actions:         merged,
		Resources:       rn.store.Keys(),
		ResourceStorage: rn.store.Export(),
		Network:         &session.LogRef{File: session.NetworkFile, Count: rn.network.Count()},
		Console:         &session.LogRef{File: session.ConsoleFile, Count: rn.console.Count()},
		VoiceRecording:  r.voiceRecording(rn, vres),
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("recorder: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(rn.dir, session.ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("recorder: write manifest: %w", err)
	}

	span.SetAttributes(
		attribute.Int("session.actions", len(merged)),
		attribute.Int("session.voice_segments", len(voiceActions)),
		attribute.Int("session.resources", len(m.Resources)),
	)
	rn.logger.Info("recorder: manifest written",
		"actions", len(merged),
		"voice_segments", len(voiceActions),
		"resources", len(m.Resources),
		"network", m.Network.Count,
		"console", m.Console.Count,
	)
	return m, nil
}

// rewriteStylesheets points url() references of every stored stylesheet
// at the final URL map. Keys keep naming the captured bytes.
func (rn *run) rewriteStylesheets() {
	rw := &rewrite.Rewriter{Lookup: rn.urls, Prefix: cssPrefix}
	var total rewrite.Result
	for _, key := range rn.store.Keys() {
		res, ok := rn.store.Get(key)
		if !ok || !strings.Contains(strings.ToLower(res.ContentType), "text/css") {
			continue
		}
		err := rn.store.Rewrite(key, func(url string, data []byte) ([]byte, error) {
			out, rr := rw.CSS(string(data), url)
			total.Add(rr)
			return []byte(out), nil
		})
		if err != nil {
			rn.logger.Warn("recorder: rewrite stylesheet", "key", key, "error", err)
		}
	}
	st := rn.store.Stats()
	rn.logger.Info("recorder: resources",
		"count", st.Resources,
		"stored", humanize.Bytes(uint64(st.StoredBytes)),
		"referenced", humanize.Bytes(uint64(st.ReferencedBytes)),
		"dedup", fmt.Sprintf("%.1f%%", st.DedupRatio*100),
		"css_rewritten", total.Rewritten,
		"css_missed", total.Missed,
	)
}

func (r *Recorder) voiceRecording(rn *run, res *voice.Result) *session.VoiceRecording {
	if !rn.voiceOn {
		return &session.VoiceRecording{Enabled: false}
	}
	vr := &session.VoiceRecording{
		Enabled:  true,
		Model:    r.cfg.Voice.Model,
		Device:   r.cfg.Voice.Device,
		Language: r.cfg.Voice.Language,
	}
	if _, err := os.Stat(filepath.Join(rn.dir, filepath.FromSlash(voice.AudioFile))); err == nil {
		vr.AudioFile = voice.AudioFile
	}
	if _, err := os.Stat(filepath.Join(rn.dir, session.TranscriptFile)); err == nil {
		vr.TranscriptFile = session.TranscriptFile
	}
	if res != nil {
		if res.Language != "" {
			vr.Language = res.Language
		}
		vr.Duration = res.Duration
	}
	return vr
}
