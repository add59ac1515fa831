package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"solpay_relay/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := app.NewBootstrap()
			if err := bootstrap.Initialize(configPath); err != nil {
				slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
				return err
			}
			if bootstrap.Config.App.Version == "" {
				bootstrap.Config.App.Version = version
			}

			// Graceful Shutdown Context
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := bootstrap.Run(ctx); err != nil {
				slog.Error("❌ Relay failed", slog.Any("error", err))
				bootstrap.Close()
				return err
			}
			return nil
		},
	}
}
