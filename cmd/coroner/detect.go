package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iyulab/log-coroner/internal/orchestrator"
	"github.com/iyulab/log-coroner/internal/parser"
)

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [files...]",
		Short: "Print the detected log type of each file without analyzing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOfflineOrchestrator(cmd)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, path := range args {
				if _, err := os.Stat(path); err != nil {
					fmt.Fprintf(tw, "%s\t<%v>\n", path, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\n", path, orch.Registry().DetectType(parser.NewFile(path, "")))
			}
			return tw.Flush()
		},
	}
}

func newParsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parsers",
		Short: "List the enabled parsers in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOfflineOrchestrator(cmd)
			if err != nil {
				return err
			}
			for i, t := range orch.Registry().Types() {
				fmt.Printf("%2d. %s\n", i+1, t)
			}
			return nil
		},
	}
}

// newOfflineOrchestrator builds the pipeline without a model provider.
func newOfflineOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Analysis.EnableAI = false
	cfg.Sigma.Enabled = false
	return orchestrator.FromConfig(cfg, initLogger(cmd, cfg), nil)
}
