// Package orchestrator coordinates the Parse → Enrich → Assess pipeline for one or many
// evidence files.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/iyulab/log-coroner/internal/config"
	"github.com/iyulab/log-coroner/internal/correlate"
	"github.com/iyulab/log-coroner/internal/insight"
	"github.com/iyulab/log-coroner/internal/ioc"
	"github.com/iyulab/log-coroner/internal/llm"
	"github.com/iyulab/log-coroner/internal/metrics"
	"github.com/iyulab/log-coroner/internal/model"
	"github.com/iyulab/log-coroner/internal/normalize"
	"github.com/iyulab/log-coroner/internal/parser"
	"github.com/iyulab/log-coroner/internal/sigma"
	"github.com/iyulab/log-coroner/internal/timeline"
)

// ErrFileNotFound is returned when an input path does not exist. It is never retried.
var ErrFileNotFound = errors.New("file not found")

// Stage labels for metrics.StageDuration.
const (
	stageParse    = "parse"
	stageRules    = "rules"
	stageInsights = "insights"
	stageReport   = "report"
	stageMerge    = "merge"
)

// AnalysisOptions switches optional pipeline stages. Parsing always runs.
type AnalysisOptions struct {
	// EnableAIAnalysis uses the configured generator. When false the rule-based
	// generator still scores the findings.
	EnableAIAnalysis        bool
	GenerateExecutiveReport bool
	IncludeTimeline         bool
	IncludeCorrelations     bool
}

// DefaultOptions enables every stage.
func DefaultOptions() AnalysisOptions {
	return AnalysisOptions{
		EnableAIAnalysis:        true,
		GenerateExecutiveReport: true,
		IncludeTimeline:         true,
		IncludeCorrelations:     true,
	}
}

// OptionsFromConfig reads the stage switches from the [analysis] section.
func OptionsFromConfig(cfg *config.Config) AnalysisOptions {
	return AnalysisOptions{
		EnableAIAnalysis:        cfg.Analysis.EnableAI,
		GenerateExecutiveReport: cfg.Analysis.ExecutiveReport,
		IncludeTimeline:         cfg.Analysis.Timeline,
		IncludeCorrelations:     cfg.Analysis.Correlations,
	}
}

// ProgressFunc is called once per finished file of a batch. Calls are serialized.
type ProgressFunc func(name string, done, total int, elapsed time.Duration, err error)

// Deps wires the pipeline stages together.
type Deps struct {
	Registry   *parser.Registry
	Generator  insight.Generator // nil uses insight.RuleBased
	Rules      *sigma.Engine     // nil skips rule matching
	Correlator correlate.Correlator
	Workers    int // batch concurrency; 0 uses runtime.NumCPU()
	CacheSize  int // parsed findings kept by content hash; 0 disables the cache
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Orchestrator runs analyses. It is safe for concurrent use; each call owns its data.
type Orchestrator struct {
	registry   *parser.Registry
	generator  insight.Generator
	rules      *sigma.Engine
	correlator correlate.Correlator
	cache      *lru.Cache[string, *model.TechnicalFindings]
	workers    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string

	progressMu sync.Mutex
	progress   ProgressFunc
}

// New creates an Orchestrator from explicit dependencies.
func New(d Deps) (*Orchestrator, error) {
	if d.Registry == nil {
		return nil, errors.New("orchestrator: parser registry is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		generator:  d.Generator,
		rules:      d.Rules,
		correlator: d.Correlator,
		workers:    d.Workers,
		logger:     logger.With("component", "orchestrator"),
		metrics:    d.Metrics,
		now:        d.Now,
		newID:      uuid.NewString,
	}
	if o.generator == nil {
		o.generator = insight.RuleBased{}
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if d.Metrics != nil {
		o.registry = d.Registry.WithFailureHook(func(parserType string, _ error) {
			d.Metrics.ParserFailed(parserType)
		})
	} else {
		o.registry = d.Registry
	}
	if d.CacheSize > 0 {
		c, err := lru.New[string, *model.TechnicalFindings](d.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("findings cache: %w", err)
		}
		o.cache = c
	}
	return o, nil
}

// FromConfig builds the production pipeline: built-in parsers, built-in plus configured
// detection rules, and the model-backed generator when AI analysis is enabled.
func FromConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := parser.Default(logger, parser.Options{
		IOC: ioc.Extractor{ExcludePrivate: cfg.IOC.ExcludePrivate},
	}, cfg.Parsers)

	var rules *sigma.Engine
	if cfg.Sigma.Enabled {
		var err error
		rules, err = sigma.NewDefault(cfg.Sigma.RulesDir)
		if err != nil {
			return nil, fmt.Errorf("load detection rules: %w", err)
		}
	}

	var provider llm.Provider
	if cfg.Analysis.EnableAI {
		var err error
		provider, err = llm.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Endpoint, cfg.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
	}
	gen := insight.Select(insight.Options{
		Enabled: cfg.Analysis.EnableAI,
		Timeout: cfg.LLMTimeout(),
		Logger:  logger,
		Metrics: m,
	}, provider)

	return New(Deps{
		Registry:   reg,
		Generator:  gen,
		Rules:      rules,
		Correlator: correlate.Correlator{Window: cfg.Analysis.CorrelationWindow.Duration},
		Workers:    cfg.Analysis.Workers,
		CacheSize:  cfg.Analysis.CacheSize,
		Logger:     logger,
		Metrics:    m,
	})
}

// SetProgress installs a per-file callback for AnalyzeAll.
func (o *Orchestrator) SetProgress(fn ProgressFunc) {
	o.progressMu.Lock()
	o.progress = fn
	o.progressMu.Unlock()
}

// Registry returns the parser registry used for detection and dispatch.
func (o *Orchestrator) Registry() *parser.Registry {
	return o.registry
}

// GeneratorName reports which insight generator is active.
func (o *Orchestrator) GeneratorName() string {
	return o.generator.Name()
}

// fileResult is everything produced for one file before assembly.
type fileResult struct {
	name     string
	findings model.TechnicalFindings
	matches  []model.RuleMatch
	insights model.AIInsights
	report   *model.ExecutiveReport
}

// Analyze runs the pipeline on one file. ErrFileNotFound and parser.ErrUnsupportedFileType
// are the only errors a readable path produces.
func (o *Orchestrator) Analyze(ctx context.Context, path string, opts AnalysisOptions) (*model.AnalysisResult, error) {
	fr, err := o.analyzeFile(ctx, path, "", opts)
	if err != nil {
		return nil, err
	}
	return o.assemble([]*fileResult{fr}, nil, opts), nil
}

// AnalyzeReader spools r to a temporary file and analyzes it. nameHint is the original
// file name and drives format detection; the temporary file is removed afterwards.
func (o *Orchestrator) AnalyzeReader(ctx context.Context, r io.Reader, nameHint string, opts AnalysisOptions) (*model.AnalysisResult, error) {
	if nameHint == "" {
		nameHint = "upload"
	}
	tmp, err := os.CreateTemp("", "coroner-*"+filepath.Ext(nameHint))
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}

	fr, err := o.analyzeFile(ctx, tmp.Name(), filepath.Base(nameHint), opts)
	if err != nil {
		return nil, err
	}
	return o.assemble([]*fileResult{fr}, nil, opts), nil
}

// AnalyzeAll analyzes paths concurrently and merges the results in input order.
// Files that fail are skipped and listed in AnalysisResult.Errors; the call fails only
// when every file failed or ctx was cancelled.
func (o *Orchestrator) AnalyzeAll(ctx context.Context, paths []string, opts AnalysisOptions) (*model.AnalysisResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to analyze")
	}

	results := make([]*fileResult, len(paths))
	errs := make([]error, len(paths))
	sem := make(chan struct{}, o.workers)
	var done int
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			start := time.Now()
			results[idx], errs[idx] = o.analyzeFile(ctx, p, "", opts)

			o.progressMu.Lock()
			done++
			if o.progress != nil {
				o.progress(filepath.Base(p), done, len(paths), time.Since(start), errs[idx])
			}
			o.progressMu.Unlock()
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ok []*fileResult
	var failures []model.FileError
	for i, err := range errs {
		if err != nil {
			o.logger.Warn("file skipped", "file", paths[i], "error", err)
			failures = append(failures, model.FileError{File: paths[i], Error: err.Error()})
			continue
		}
		ok = append(ok, results[i])
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("all %d files failed: %w", len(paths), errors.Join(errs...))
	}
	return o.assemble(ok, failures, opts), nil
}

func (o *Orchestrator) analyzeFile(ctx context.Context, path, nameHint string, opts AnalysisOptions) (*fileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}

	f := parser.NewFile(path, nameHint)
	fileType := o.registry.DetectType(f)

	start := time.Now()
	fnd, cached, err := o.parse(ctx, f, fileType)
	o.metrics.ObserveStage(stageParse, start)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, parser.ErrUnsupportedFileType) {
			outcome = metrics.OutcomeUnsupported
		}
		o.metrics.FileAnalyzed(fileType, outcome)
		return nil, err
	}

	start = time.Now()
	matches := o.rules.MatchEvents(ctx, f.Name, fnd.ParserType, fnd.SecurityEvents)
	o.metrics.ObserveStage(stageRules, start)

	gen := o.generator
	if !opts.EnableAIAnalysis {
		gen = insight.RuleBased{}
	}
	start = time.Now()
	ins := gen.GenerateInsights(ctx, &fnd, matches)
	o.metrics.ObserveStage(stageInsights, start)

	fr := &fileResult{name: f.Name, findings: fnd, matches: matches, insights: ins}
	if opts.GenerateExecutiveReport {
		start = time.Now()
		rep := gen.GenerateExecutiveReport(ctx, &fnd, ins)
		o.metrics.ObserveStage(stageReport, start)
		fr.report = &rep
	}

	outcome := metrics.OutcomeOK
	if cached {
		outcome = metrics.OutcomeCached
	}
	o.metrics.FileAnalyzed(fnd.ParserType, outcome)
	o.logger.Debug("file analyzed",
		"file", f.Name, "type", fnd.ParserType, "events", len(fnd.SecurityEvents),
		"iocs", len(fnd.IOCs), "rule_matches", len(matches), "severity", ins.SeverityScore, "cached", cached)
	return fr, nil
}

// parse dispatches f and normalizes the events. Findings are cached by content hash and
// detected type; cached values are shared and never modified, callers get a copy.
func (o *Orchestrator) parse(ctx context.Context, f *parser.File, fileType string) (model.TechnicalFindings, bool, error) {
	var key string
	var meta model.FileMetadata
	if o.cache != nil && fileType != parser.UnknownType {
		var err error
		meta, err = parser.ComputeMetadata(f)
		if err != nil {
			return model.TechnicalFindings{}, false, fmt.Errorf("%s: %w", f.Name, err)
		}
		key = meta.SHA256 + "|" + fileType
		if hit, ok := o.cache.Get(key); ok {
			o.metrics.CacheLookup(true)
			out := model.Merge(model.TechnicalFindings{}, *hit)
			out.Metadata = meta
			return out, true, nil
		}
		o.metrics.CacheLookup(false)
	}

	fnd, err := o.registry.Dispatch(ctx, f)
	if err != nil {
		return model.TechnicalFindings{}, false, err
	}
	fnd.SecurityEvents = normalize.Collect(normalize.Events(fnd.SecurityEvents))
	if key != "" {
		o.cache.Add(key, fnd)
		return model.Merge(model.TechnicalFindings{}, *fnd), false, nil
	}
	return *fnd, false, nil
}

// assemble merges per-file results in order. The highest-severity file supplies the
// representative insight and report (ties keep the earliest); recommended actions are
// concatenated across files without repeats. Rule match indexes are rebased onto the
// merged event list.
func (o *Orchestrator) assemble(files []*fileResult, failures []model.FileError, opts AnalysisOptions) *model.AnalysisResult {
	start := time.Now()
	defer o.metrics.ObserveStage(stageMerge, start)

	res := &model.AnalysisResult{
		ID:           o.newID(),
		FileNames:    make([]string, 0, len(files)),
		FileTypes:    make([]string, 0, len(files)),
		Timestamp:    o.now().UTC(),
		Correlations: []model.CorrelatedGroup{},
		Errors:       failures,
	}

	list := make([]model.TechnicalFindings, 0, len(files))
	var best *fileResult
	var actions []string
	seen := make(map[string]bool)
	offset := 0
	for _, fr := range files {
		res.FileNames = append(res.FileNames, fr.name)
		res.FileTypes = append(res.FileTypes, fr.findings.ParserType)
		list = append(list, fr.findings)

		for _, m := range fr.matches {
			m.EventIndex += offset
			res.RuleMatches = append(res.RuleMatches, m)
		}
		offset += len(fr.findings.SecurityEvents)

		if best == nil || fr.insights.SeverityScore > best.insights.SeverityScore {
			best = fr
		}
		for _, a := range fr.insights.RecommendedActions {
			if !seen[a] {
				seen[a] = true
				actions = append(actions, a)
			}
		}
	}

	if len(list) == 1 {
		res.Findings = list[0]
	} else {
		res.Findings = model.MergeAll(list)
	}

	ins := best.insights
	ins.RecommendedActions = actions
	res.Insights = &ins
	res.Report = best.report

	events := res.Findings.SecurityEvents
	if opts.IncludeCorrelations {
		res.Correlations = o.correlator.Correlate(events)
	}
	if opts.IncludeTimeline {
		tl := timeline.BuildAt(events, res.Findings.Metadata, o.now())
		res.Timeline = &tl
	}
	return res
}
