package recorder

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/llnl/session-recorder/recorder/internal/config"
	"github.com/llnl/session-recorder/recorder/sink"
)

// Config is the top-level recorder configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls the recorded browser.
type BrowserConfig = config.BrowserConfig

// CaptureConfig tunes snapshot capture.
type CaptureConfig = config.CaptureConfig

// VoiceConfig configures the voice recorder.
type VoiceConfig = config.VoiceConfig

// SinkConfig defines an event output backend.
type SinkConfig = config.SinkConfig

// ErrConfigExists is returned by WriteConfig when the file exists.
var ErrConfigExists = config.ErrExists

// LoadConfig reads a YAML configuration file (optional) plus SESSREC_
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	return config.Default()
}

// DefaultCatalogPath is the catalog location used when none is configured.
func DefaultCatalogPath(outputDir string) string {
	return config.DefaultCatalogPath(outputDir)
}

// WriteConfig writes cfg as YAML.
func WriteConfig(cfg *Config, path string, force bool) error {
	return cfg.WriteFile(path, force)
}

// NewSinks builds the sinks listed in the configuration.
func NewSinks(cfgs []SinkConfig, logger *slog.Logger) ([]sink.Sink, error) {
	var out []sink.Sink
	for i, c := range cfgs {
		var s sink.Sink
		switch c.Type {
		case "stdout":
			s = sink.NewStdout(os.Stdout)
		case "file":
			f, err := sink.NewFile(c.Path)
			if err != nil {
				closeSinks(out)
				return nil, fmt.Errorf("recorder: sink %d: %w", i, err)
			}
			s = f
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
			for k, v := range c.Headers {
				opts = append(opts, sink.WithWebhookHeader(k, v))
			}
			s = sink.NewWebhook(c.URL, opts...)
		default:
			closeSinks(out)
			return nil, fmt.Errorf("recorder: sink %d: unknown type %q", i, c.Type)
		}
		out = append(out, sink.Filter(s, c.Events...))
	}
	return out, nil
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
