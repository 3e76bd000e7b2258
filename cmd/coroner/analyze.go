package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iyulab/log-coroner/internal/collector"
	"github.com/iyulab/log-coroner/internal/config"
	"github.com/iyulab/log-coroner/internal/insight"
	"github.com/iyulab/log-coroner/internal/metrics"
	"github.com/iyulab/log-coroner/internal/model"
	"github.com/iyulab/log-coroner/internal/orchestrator"
	"github.com/iyulab/log-coroner/internal/publish"
	"github.com/iyulab/log-coroner/internal/reporter"
	"github.com/iyulab/log-coroner/internal/store"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Analyze one or more log files and write a report",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAnalyze,
	}
	cmd.Flags().StringP("format", "f", "", "report format: json, yaml or text (default from config)")
	cmd.Flags().StringP("out", "o", "", `report directory, or "-" for stdout (default from config)`)
	cmd.Flags().Bool("no-ai", false, "use rule-based insights instead of the model provider")
	cmd.Flags().Bool("no-report", false, "skip the executive report")
	cmd.Flags().Bool("no-timeline", false, "skip the timeline")
	cmd.Flags().String("db", "", "save the result to this SQLite history database")
	cmd.Flags().Bool("publish", false, "publish the result to NATS (nats.url)")
	cmd.Flags().String("export", "", "write a ZIP evidence package to this path")
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories of directory arguments")
	cmd.Flags().Bool("include-hidden", false, "keep dot-files found in directory arguments")
	cmd.Flags().String("max-size", "", `skip files in directory arguments larger than this ("512MB")`)
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyAnalyzeFlags(cmd, cfg); err != nil {
		return err
	}
	logger := initLogger(cmd, cfg)
	m := metrics.New(nil)
	ctx := cmd.Context()

	files, err := collectInputs(cmd, args)
	if err != nil {
		return err
	}

	rep, err := reporter.New()
	if err != nil {
		return err
	}
	orch, err := orchestrator.FromConfig(cfg, logger, m)
	if err != nil {
		return err
	}

	opts := orchestrator.OptionsFromConfig(cfg)
	if noAI, _ := cmd.Flags().GetBool("no-ai"); noAI {
		opts.EnableAIAnalysis = false
	}

	fmt.Fprintf(os.Stderr, "[*] log-coroner %s: %d file(s), insights via %s\n", version, len(files), generatorLabel(orch, opts))
	orch.SetProgress(func(name string, done, total int, elapsed time.Duration, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "[!] %d/%d %s skipped: %v\n", done, total, name, err)
			return
		}
		fmt.Fprintf(os.Stderr, "[*] %d/%d %s (%s)\n", done, total, name, elapsed.Round(time.Millisecond))
	})

	start := time.Now()
	res, err := orch.AnalyzeAll(ctx, files, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Analysis %s finished in %s: %d events, %d IOCs, risk %s\n",
		res.ID, time.Since(start).Round(time.Millisecond),
		len(res.Findings.SecurityEvents), len(res.Findings.IOCs), riskLabel(res))

	if err := writeReport(rep, res, cfg.Output); err != nil {
		return err
	}
	if err := saveResult(ctx, cfg.Store.Path, res); err != nil {
		return err
	}
	if publishOn, _ := cmd.Flags().GetBool("publish"); publishOn {
		if err := publishResult(ctx, cfg.NATS, res, logger, m); err != nil {
			return err
		}
	}
	if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
		if err := rep.ExportEvidence(exportPath, res, analyzedPaths(files, res), version); err != nil {
			return fmt.Errorf("export evidence: %w", err)
		}
		fmt.Fprintf(os.Stderr, "[*] Evidence package: %s\n", exportPath)
	}
	return nil
}

func collectInputs(cmd *cobra.Command, args []string) ([]string, error) {
	var opts collector.Options
	opts.Recursive, _ = cmd.Flags().GetBool("recursive")
	opts.IncludeHidden, _ = cmd.Flags().GetBool("include-hidden")
	if raw, _ := cmd.Flags().GetString("max-size"); raw != "" {
		n, err := humanize.ParseBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("--max-size: %w", err)
		}
		opts.MaxSize = int64(n)
	}

	c, err := collector.Collect(args, opts)
	if c == nil {
		return nil, err
	}
	for _, s := range c.Skipped {
		if s.Detail != "" {
			fmt.Fprintf(os.Stderr, "[!] %s skipped (%s: %s)\n", s.Path, s.Kind, s.Detail)
		} else {
			fmt.Fprintf(os.Stderr, "[!] %s skipped (%s)\n", s.Path, s.Kind)
		}
	}
	if err != nil {
		return nil, err
	}
	return c.Files, nil
}

// analyzedPaths drops the inputs the batch skipped.
func analyzedPaths(files []string, res *model.AnalysisResult) []string {
	failed := make(map[string]bool, len(res.Errors))
	for _, e := range res.Errors {
		failed[e.File] = true
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !failed[f] {
			out = append(out, f)
		}
	}
	return out
}

func applyAnalyzeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		switch format {
		case reporter.FormatJSON, reporter.FormatYAML, reporter.FormatText:
			cfg.Output.Format = format
		default:
			return fmt.Errorf("%w: %q", reporter.ErrUnknownFormat, format)
		}
	}
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		cfg.Output.Dir = out
	}
	if noReport, _ := cmd.Flags().GetBool("no-report"); noReport {
		cfg.Analysis.ExecutiveReport = false
	}
	if noTimeline, _ := cmd.Flags().GetBool("no-timeline"); noTimeline {
		cfg.Analysis.Timeline = false
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Store.Path = db
	}
	return nil
}

func generatorLabel(orch *orchestrator.Orchestrator, opts orchestrator.AnalysisOptions) string {
	if !opts.EnableAIAnalysis {
		return "rule-based"
	}
	return orch.GeneratorName()
}

func riskLabel(res *model.AnalysisResult) string {
	if risk := insight.ResultRiskLevel(res); risk != "" {
		return risk
	}
	return "n/a"
}

func writeReport(rep *reporter.Reporter, res *model.AnalysisResult, out config.OutputConfig) error {
	if out.Dir == "-" {
		return rep.Write(os.Stdout, res, out.Format)
	}
	path, err := rep.Generate(res, out.Dir, out.Format)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Report: %s\n", path)
	return nil
}

func saveResult(ctx context.Context, path string, res *model.AnalysisResult) error {
	if path == "" {
		return nil
	}
	st, err := store.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()
	if err := st.Save(ctx, res); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Saved to history: %s\n", path)
	return nil
}

func publishResult(ctx context.Context, nc config.NATSConfig, res *model.AnalysisResult, logger *slog.Logger, m *metrics.Metrics) error {
	if nc.URL == "" {
		return fmt.Errorf("--publish requires nats.url in the config")
	}
	pub, err := publish.Connect(nc.URL, nc.SubjectPrefix, logger, m)
	if err != nil {
		return err
	}
	defer pub.Close()

	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pub.Publish(pubCtx, res); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Published to %s\n", publish.Subject(nc.SubjectPrefix, res))
	return nil
}
