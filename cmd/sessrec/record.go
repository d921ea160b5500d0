package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llnl/session-recorder/recorder"
	"github.com/llnl/session-recorder/recorder/sink"
	"github.com/llnl/session-recorder/viewer"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		browserType string
		voiceOn     bool
		serve       bool
	)
	cmd := &cobra.Command{
		Use:   "record [url]",
		Short: "Record a browser session until Ctrl+C or the browser closes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			defer a.close()

			if len(args) == 1 {
				a.cfg.StartURL = args[0]
			}
			if cmd.Flags().Changed("voice") {
				a.cfg.Voice.Enabled = voiceOn
			}
			if browserType == "" {
				browserType = a.cfg.Browser.Type
			}
			lib, err := a.library()
			if err != nil {
				return err
			}
			sinks, err := recorder.NewSinks(a.cfg.Sinks, a.logger)
			if err != nil {
				return err
			}

			// The session ends on Ctrl+C, or when the recorder goes back to
			// idle on its own after the browser closed.
			var (
				mu     sync.Mutex
				result *recorder.Result
				ended  = make(chan struct{})
				once   sync.Once
			)
			sinks = append(sinks, sink.NewCallback(func(_ context.Context, ev sink.Event) error {
				switch d := ev.Data.(type) {
				case recorder.StateChange:
					if d.From == recorder.StateStopping && d.To == recorder.StateIdle && !serve {
						once.Do(func() { close(ended) })
					}
				case recorder.Result:
					mu.Lock()
					result = &d
					mu.Unlock()
				}
				return nil
			}))

			var hub *viewer.Hub
			if serve {
				hub = viewer.NewHub(a.logger)
				sinks = append(sinks, hub)
			}

			rec := recorder.New(a.cfg, a.logger,
				recorder.WithSinks(sinks...),
				recorder.WithCatalog(a.catalog),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)
			if serve {
				srv := viewer.New(viewer.Config{Library: lib, Hub: hub, Recorder: rec, Logger: a.logger})
				go func() { serveErr <- srv.ListenAndServe(ctx, a.cfg.Viewer.Addr) }()
				fmt.Fprintf(cmd.OutOrStdout(), "Viewer on http://%s\n", a.cfg.Viewer.Addr)
			}

			if err := rec.Start(ctx, browserType); err != nil {
				rec.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recording %s (Ctrl+C to stop)\n", rec.Status().SessionID)

			select {
			case <-ctx.Done():
			case <-ended:
			case err := <-serveErr:
				a.logger.Error("sessrec: viewer", "error", err)
			}

			if err := rec.Close(); err != nil {
				return err
			}
			if serve {
				stop()
				<-serveErr
			}

			mu.Lock()
			defer mu.Unlock()
			if result == nil {
				return fmt.Errorf("recording did not produce an archive")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s: %d actions, %d resources (%s stored, %.0f%% deduplicated), archive %s\n",
				result.OutputPath,
				result.Actions,
				result.Resources.Resources,
				humanize.Bytes(uint64(result.Resources.StoredBytes)),
				result.Resources.DedupRatio*100,
				humanize.Bytes(uint64(result.ArchiveSize)),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&browserType, "browser", "b", "", "chromium or chrome (default from config)")
	cmd.Flags().BoolVar(&voiceOn, "voice", false, "record and transcribe voice")
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the viewer and recorder controls while recording")
	return cmd
}
