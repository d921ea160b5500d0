package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/llnl/session-recorder/sessmcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve session query tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			defer a.close()
			lib, err := a.library()
			if err != nil {
				return err
			}
			defer lib.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.logger.Info("sessrec: mcp on stdio", "dir", a.cfg.OutputDir)
			return sessmcp.NewServer(lib, a.logger, version).Run(ctx, &mcp.StdioTransport{})
		},
	}
}
