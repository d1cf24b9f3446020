package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/config"
	"github.com/JakeFAU/bangumi-scanner/internal/logging"
	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
)

// defaultLogFile receives a copy of the log when --log is set.
const defaultLogFile = "main.log"

// newScanCmd creates the 'scan' subcommand.
func newScanCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan BEGIN END",
		Short: "Scans media ids in [BEGIN, END)",
		Long: `Resolves every media id in the half-open range [BEGIN, END) and writes
the found titles to the output file, one "id<delim>title<delim>url" line per
title in ascending id order.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanCommand(cmd, root, args)
		},
	}

	flags := cmd.Flags()
	flags.StringP("output-name", "O", "bangumi_titles.txt", "output file path")
	flags.StringP("delimiter", "D", `\t`, "field delimiter; escapes such as \\t are interpreted")
	flags.Int64P("sleep-step", "S", 200, "pause after every N ids of a chunk; the pause grows 250ms per step up to 2s")
	flags.Int64P("cache-step", "C", 1500, "number of ids per cached chunk")
	flags.IntP("thread-number", "T", 10, "maximum number of concurrent chunk workers")
	flags.BoolP("no-api", "N", false, "scrape the media pages instead of the review API")
	flags.BoolP("log", "L", false, "also write the log to "+defaultLogFile)
	flags.String("cache-dir", ".", "directory for chunk cache files")
	flags.String("metrics-addr", "", "serve /metrics and /healthz on this address while scanning")

	return cmd
}

func runScanCommand(cmd *cobra.Command, root *rootOptions, args []string) error {
	begin, end, err := parseRange(args)
	if err != nil {
		return err
	}

	overrides := []config.Option{
		config.WithOverride("scan.range_begin", begin),
		config.WithOverride("scan.range_end", end),
	}
	if noAPI, _ := cmd.Flags().GetBool("no-api"); noAPI {
		overrides = append(overrides, config.WithOverride("resolver.mode", string(resolver.ModePage)))
	}
	if logToFile, _ := cmd.Flags().GetBool("log"); logToFile {
		overrides = append(overrides, config.WithOverride("logging.file", defaultLogFile))
	}

	cfg, err := config.Load(root.configFile, cmd.Flags(), overrides...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := runScan(cmd.Context(), cfg, logger, cmd.OutOrStdout()); err != nil {
		logger.Error("scan failed", zap.Error(err))
		return err
	}
	return nil
}

// parseRange reads the BEGIN and END arguments.
func parseRange(args []string) (int64, int64, error) {
	begin, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid BEGIN %q: %w", args[0], err)
	}
	end, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid END %q: %w", args[1], err)
	}
	if end < begin {
		return 0, 0, fmt.Errorf("END %d must not be less than BEGIN %d", end, begin)
	}
	return begin, end, nil
}
