package commands

import (
	"github.com/spf13/cobra"

	"solpay_relay/internal/infra"
)

// Set with -ldflags "-X solpay_relay/cmd/relay/commands.version=..."
var version = "dev"

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay Solana wallet payments to registered devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", infra.DefaultConfigPath, "path to the YAML config file")

	root.AddCommand(serveCmd(), versionCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}
