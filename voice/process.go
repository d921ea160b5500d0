// Package voice runs the external voice recorder and turns its transcript
// into voice_transcript actions.
//
// The recorder is a child process that records audio until told to stop,
// then transcribes it and prints the result as JSON on stdout.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/llnl/session-recorder/session"
)

// AudioFile is the audio path inside the session directory.
var AudioFile = filepath.ToSlash(filepath.Join(session.AudioDir, "recording.wav"))

// Recorder is the voice collaborator as the session recorder sees it.
type Recorder interface {
	Start(ctx context.Context, dir string, start time.Time) error
	Stop(ctx context.Context) (*Result, error)
}

// Config configures a Process.
type Config struct {
	// Command is the program and its leading arguments, for example
	// ["python3", "record_and_transcribe.py"].
	Command     []string
	Model       string
	Device      string
	Language    string
	SampleRate  int
	Channels    int
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "base"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Process is a Recorder backed by a child process.
type Process struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     *lineLog
	done    chan struct{}
	waitErr error
}

// NewProcess returns a stopped Process.
func NewProcess(cfg Config) *Process {
	cfg.defaults()
	return &Process{cfg: cfg}
}

// Start spawns the recorder, writing audio to <dir>/audio/recording.wav.
func (p *Process) Start(ctx context.Context, dir string, start time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("voice: already recording")
	}
	if len(p.cfg.Command) == 0 {
		return fmt.Errorf("voice: no command configured")
	}
	audio := filepath.Join(dir, filepath.FromSlash(AudioFile))
	if err := os.MkdirAll(filepath.Dir(audio), 0o755); err != nil {
		return fmt.Errorf("voice: mkdir: %w", err)
	}

	args := append([]string{}, p.cfg.Command[1:]...)
	args = append(args, audio,
		"--model", p.cfg.Model,
		"--sample-rate", strconv.Itoa(p.cfg.SampleRate),
		"--channels", strconv.Itoa(p.cfg.Channels),
	)
	if p.cfg.Device != "" {
		args = append(args, "--device", p.cfg.Device)
	}
	if p.cfg.Language != "" {
		args = append(args, "--language", p.cfg.Language)
	}

	// Not bound to ctx: the process must outlive the start request and is
	// stopped through Stop.
	cmd := exec.Command(p.cfg.Command[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("voice: stdin: %w", err)
	}
	out := &lineLog{logger: p.cfg.Logger, keep: true}
	cmd.Stdout = out
	cmd.Stderr = &lineLog{logger: p.cfg.Logger, stderr: true}
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("voice: start %s: %w", p.cfg.Command[0], err)
	}
	p.cmd, p.stdin, p.out = cmd, stdin, out
	p.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	p.cfg.Logger.Info("voice: recording started",
		"pid", cmd.Process.Pid,
		"audio", audio,
		"model", p.cfg.Model,
		"session_start", start.UTC().Format(time.RFC3339Nano),
	)
	return nil
}

// Stop asks the recorder to finish: STOP on stdin, stdin closed, then
// SIGINT where signals exist. A process still running after StopTimeout
// (or when ctx ends) is killed. Stop never fails because of the child; a
// broken recorder yields a Result with Success false.
func (p *Process) Stop(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	cmd, stdin, done, out := p.cmd, p.stdin, p.done, p.out
	p.mu.Unlock()
	if cmd == nil {
		return nil, fmt.Errorf("voice: not recording")
	}
	defer func() {
		p.mu.Lock()
		p.cmd = nil
		p.mu.Unlock()
	}()

	io.WriteString(stdin, "STOP\n")
	stdin.Close()
	if runtime.GOOS != "windows" {
		cmd.Process.Signal(os.Interrupt)
	}

	killed := false
	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.cfg.Logger.Warn("voice: stop timeout, killing", "timeout", p.cfg.StopTimeout)
		cmd.Process.Kill()
		killed = true
		<-done
	case <-ctx.Done():
		cmd.Process.Kill()
		killed = true
		<-done
	}

	p.mu.Lock()
	waitErr := p.waitErr
	p.mu.Unlock()

	res := ParseResult(out.Bytes())
	if res == nil {
		res = &Result{Success: false, Error: "failed to parse transcription result"}
		var exitErr *exec.ExitError
		switch {
		case killed:
			res.Error = "process killed after stop timeout"
		case errors.As(waitErr, &exitErr) && exitErr.ExitCode() > 0:
			res.Error = fmt.Sprintf("process exited with code %d", exitErr.ExitCode())
		}
	}
	if res.Success {
		p.cfg.Logger.Info("voice: transcribed",
			"segments", len(res.Segments),
			"duration", res.Duration,
			"language", res.Language,
		)
	} else {
		p.cfg.Logger.Warn("voice: transcription failed", "error", res.Error)
	}
	return res, nil
}

// lineLog is an io.Writer that logs complete lines from the child and,
// when keep is set, retains everything written.
type lineLog struct {
	logger *slog.Logger
	stderr bool
	keep   bool

	mu      sync.Mutex
	all     bytes.Buffer
	partial []byte
}

func (l *lineLog) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keep {
		l.all.Write(b)
	}
	l.partial = append(l.partial, b...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.logLine(bytes.TrimSpace(l.partial[:i]))
		l.partial = l.partial[i+1:]
	}
	return len(b), nil
}

func (l *lineLog) logLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if l.stderr {
		l.logger.Debug("voice: stderr", "line", string(line))
		return
	}
	var msg struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if line[0] != '{' || json.Unmarshal(line, &msg) != nil || msg.Type == "" {
		l.logger.Debug("voice: output", "line", string(line))
		return
	}
	switch msg.Type {
	case "error":
		l.logger.Error("voice: recorder error", "message", msg.Message)
	case "ready":
		l.logger.Info("voice: recorder ready", "message", msg.Message)
	default:
		l.logger.Debug("voice: status", "type", msg.Type, "message", msg.Message)
	}
}

// Bytes returns everything written so far.
func (l *lineLog) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.all.Bytes()...)
}
