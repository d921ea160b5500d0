// Package config handles session recorder configuration: a YAML file
// loaded through koanf with SESSREC_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: SESSREC_BROWSER__TYPE sets browser.type.
const EnvPrefix = "SESSREC_"

// Config is the top-level recorder configuration.
type Config struct {
	OutputDir string          `koanf:"output_dir" yaml:"output_dir"`
	StartURL  string          `koanf:"start_url" yaml:"start_url"`
	LogLevel  string          `koanf:"log_level" yaml:"log_level"`
	Browser   BrowserConfig   `koanf:"browser" yaml:"browser"`
	Capture   CaptureConfig   `koanf:"capture" yaml:"capture"`
	Voice     VoiceConfig     `koanf:"voice" yaml:"voice"`
	Catalog   CatalogConfig   `koanf:"catalog" yaml:"catalog"`
	Viewer    ViewerConfig    `koanf:"viewer" yaml:"viewer"`
	Telemetry TelemetryConfig `koanf:"telemetry" yaml:"telemetry"`
	Sinks     []SinkConfig    `koanf:"sinks" yaml:"sinks"`
}

// BrowserConfig controls the browser the recorder drives.
type BrowserConfig struct {
	Type        string `koanf:"type" yaml:"type"` // chromium | chrome
	Remote      string `koanf:"remote" yaml:"remote"`
	Headless    bool   `koanf:"headless" yaml:"headless"`
	Bin         string `koanf:"bin" yaml:"bin"`
	XvfbDisplay string `koanf:"xvfb_display" yaml:"xvfb_display"`
	Stealth     bool   `koanf:"stealth" yaml:"stealth"`
}

// CaptureConfig tunes snapshot capture.
type CaptureConfig struct {
	SettleDelay        time.Duration `koanf:"settle_delay" yaml:"settle_delay"`
	ScreenshotFullPage bool          `koanf:"screenshot_full_page" yaml:"screenshot_full_page"`
	MaxBodySize        int64         `koanf:"max_body_size" yaml:"max_body_size"`
	StatsInterval      time.Duration `koanf:"stats_interval" yaml:"stats_interval"`
}

// VoiceConfig configures the voice recorder child process.
type VoiceConfig struct {
	Enabled     bool          `koanf:"enabled" yaml:"enabled"`
	Command     []string      `koanf:"command" yaml:"command"`
	Model       string        `koanf:"model" yaml:"model"`
	Device      string        `koanf:"device" yaml:"device"`
	Language    string        `koanf:"language" yaml:"language"`
	StopTimeout time.Duration `koanf:"stop_timeout" yaml:"stop_timeout"`
}

// CatalogConfig locates the session catalog database.
type CatalogConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// ViewerConfig configures the viewer HTTP server.
type ViewerConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// TelemetryConfig enables OpenTelemetry tracing to a file (stderr when
// empty).
type TelemetryConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	File    string `koanf:"file" yaml:"file"`
}

// SinkConfig defines an event output backend.
type SinkConfig struct {
	Type    string            `koanf:"type" yaml:"type"` // stdout | file | webhook
	URL     string            `koanf:"url" yaml:"url,omitempty"`
	Path    string            `koanf:"path" yaml:"path,omitempty"`
	Headers map[string]string `koanf:"headers" yaml:"headers,omitempty"`
	// Events limits the sink to these event types. Empty means all.
	Events []string `koanf:"events" yaml:"events,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path (skipped when path is empty) and
// applies environment overrides, then defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "recordings"
	}
	if c.StartURL == "" {
		c.StartURL = "about:blank"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.Type == "" {
		c.Browser.Type = "chromium"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = 100 * time.Millisecond
	}
	if c.Capture.MaxBodySize <= 0 {
		c.Capture.MaxBodySize = 20 << 20
	}
	if c.Capture.StatsInterval <= 0 {
		c.Capture.StatsInterval = time.Second
	}
	if len(c.Voice.Command) == 0 {
		c.Voice.Command = []string{"python3", "record_and_transcribe.py"}
	}
	if c.Voice.Model == "" {
		c.Voice.Model = "base"
	}
	if c.Voice.StopTimeout <= 0 {
		c.Voice.StopTimeout = 10 * time.Second
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = DefaultCatalogPath(c.OutputDir)
	}
	if c.Viewer.Addr == "" {
		c.Viewer.Addr = "127.0.0.1:8420"
	}
}

// DefaultCatalogPath is the catalog location used when none is configured.
func DefaultCatalogPath(outputDir string) string {
	return filepath.Join(outputDir, "catalog.db")
}

// Validate rejects values the recorder cannot act on.
func (c *Config) Validate() error {
	switch c.Browser.Type {
	case "chromium", "chrome":
	default:
		return fmt.Errorf("config: unsupported browser type %q (chromium or chrome)", c.Browser.Type)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "file":
			if s.Path == "" {
				return fmt.Errorf("config: sink %d: file without path", i)
			}
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook without url", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// ErrExists is returned by WriteFile when the target exists and force is
// not set.
var ErrExists = errors.New("config: file exists")

// WriteFile writes c as YAML to path.
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s: %w", path, ErrExists)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
