// Command linkctl links social and wallet identities to an AptSend vault
// owner from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aptsend/vaultlink/internal/logger"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkctl",
		Short:         "Link identities to an AptSend vault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				loaded.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				loaded.Log.Format = logFormat
			}
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger.Init(loaded.Log.Level, loaded.Log.Format)
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "path to the TOML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newIdentitiesCmd(),
		newSyncCmd(),
		newUnsyncCmd(),
		newCheckCmd(),
		newBalanceCmd(),
		newDepositCmd(),
		newSendCmd(),
		newWithdrawCmd(),
		newWaitTxCmd(),
		newServeCmd(),
	)
	return root
}
