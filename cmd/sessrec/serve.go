package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llnl/session-recorder/recorder"
	"github.com/llnl/session-recorder/viewer"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		withCtrl bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded sessions to the viewer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Viewer.Addr
			}
			lib, err := a.library()
			if err != nil {
				return err
			}
			defer lib.Close()

			cfg := viewer.Config{Library: lib, Logger: a.logger}
			if withCtrl {
				cfg.Hub = viewer.NewHub(a.logger)
				rec := recorder.New(a.cfg, a.logger,
					recorder.WithSinks(cfg.Hub),
					recorder.WithCatalog(a.catalog),
				)
				defer rec.Close()
				cfg.Recorder = rec
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return viewer.New(cfg).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&withCtrl, "recorder", false, "expose recorder controls and live events")
	return cmd
}
