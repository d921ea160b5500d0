package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llnl/session-recorder/catalog"
	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/recorder"
	"github.com/llnl/session-recorder/telemetry"
)

var version = "dev"

const serviceName = "sessrec"

// app carries what every command shares: configuration, logger, catalog.
type app struct {
	configPath string
	logLevel   string
	outputDir  string

	cfg      *recorder.Config
	logger   *slog.Logger
	catalog  *catalog.Catalog
	shutdown telemetry.ShutdownFunc
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "sessrec",
		Short:         "Record browser sessions for replay and analysis",
		Long:          "sessrec records browser sessions (DOM snapshots, screenshots, network, console and voice) into portable archives, and serves them to a viewer and to MCP clients.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&a.outputDir, "output", "o", "", "recordings directory (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newRecordCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newListCmd(a),
		newInspectCmd(a),
		newIndexCmd(a),
	)
	return rootCmd
}

// init loads the configuration and sets up logging and tracing. Logs go to
// stderr so stdout stays usable for command output and MCP.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := recorder.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.outputDir != "" {
		if cfg.Catalog.Path == recorder.DefaultCatalogPath(cfg.OutputDir) {
			cfg.Catalog.Path = recorder.DefaultCatalogPath(a.outputDir)
		}
		cfg.OutputDir = a.outputDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(a.logger)

	if cfg.Telemetry.Enabled {
		a.shutdown, err = telemetry.InitFile(serviceName, cfg.Telemetry.File, a.logger)
		if err != nil {
			return err
		}
	}
	return nil
}

// library opens the catalog and returns a library over the output
// directory.
func (a *app) library() (*library.Library, error) {
	if a.catalog == nil {
		cat, err := catalog.Open(a.cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		a.catalog = cat
	}
	return library.New(a.cfg.OutputDir, a.catalog, a.logger), nil
}

func (a *app) close() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Warn("sessrec: close catalog", "error", err)
		}
		a.catalog = nil
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("sessrec: telemetry shutdown", "error", err)
		}
		a.shutdown = nil
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
