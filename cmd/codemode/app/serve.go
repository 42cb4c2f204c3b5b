package app

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codemode-ai/codemode/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session service (the in-container HTTP endpoint)",
		Long: `Serve starts the HTTP session service configured from CODEMODE_*
environment variables: storage (Redis URL or file paths), the bearer
token, and the session TTL. This is the process a codemode container
image runs as its entry point.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.LoadConfig())
			if err := srv.Initialize(ctx); err != nil {
				return err
			}
			defer srv.Close()
			return srv.Serve(ctx)
		},
	}
}
