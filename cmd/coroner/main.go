// Package main is the CLI entry point for log-coroner.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iyulab/log-coroner/internal/config"
	"github.com/iyulab/log-coroner/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coroner",
		Short: "Security log analysis: parse, detect, correlate and report",
		Long: `log-coroner ingests security-relevant log files (syslog, Windows event exports,
web and firewall logs, DNS, mail, database and packet captures), extracts
events and indicators, matches detection rules and produces a risk-scored report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "config.toml", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	rootCmd.AddCommand(newAnalyzeCmd(), newDetectCmd(), newParsersCmd(), newServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config. The default path may be absent; an explicit one must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "[!] %s\n", w)
	}
	return cfg, nil
}

func initLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := logging.ParseLevel(cfg.Log.Level)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return logging.Init(nil, cfg.Log.Format, level)
}
