// Package cmd defines and implements the CLI commands for the bangumi-scanner
// executable.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bangumi-scanner",
		Short: "Enumerates bangumi media ids and collects their titles.",
		Long: `bangumi-scanner walks a contiguous range of media ids against the
review API (or the public media pages), caches every resolved chunk on disk and
merges the chunks into a single delimited file once the whole range is done.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newScanCmd(opts))

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running scan.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
