package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyulab/log-coroner/internal/browser"
	"github.com/iyulab/log-coroner/internal/metrics"
	"github.com/iyulab/log-coroner/internal/reporter"
	"github.com/iyulab/log-coroner/internal/server"
	"github.com/iyulab/log-coroner/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("db", "", "SQLite history database (default from config)")
	cmd.Flags().Bool("open", false, "open the results list in the default browser")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Store.Path = db
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("serve needs a history database: set store.path or pass --db")
	}
	logger := initLogger(cmd, cfg)
	// Registers the pipeline collectors so /metrics lists them.
	metrics.New(nil)
	ctx := cmd.Context()

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()
	rep, err := reporter.New()
	if err != nil {
		return err
	}

	srv := server.New(st, rep, nil, logger)
	addr, err := srv.Start(cfg.Server.Addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Serving %s on http://%s (Ctrl+C to stop)\n", cfg.Store.Path, addr)
	if open, _ := cmd.Flags().GetBool("open"); open {
		if err := browser.Open(browser.URL(addr, "/results")); err != nil {
			fmt.Fprintf(os.Stderr, "[!] %v\n", err)
		}
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "[*] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
