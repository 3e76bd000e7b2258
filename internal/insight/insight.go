// Package insight derives severity, attack vector, recommended actions and an executive
// report from parsed findings.
package insight

import (
	"context"
	"log/slog"
	"time"

	"github.com/iyulab/log-coroner/internal/llm"
	"github.com/iyulab/log-coroner/internal/metrics"
	"github.com/iyulab/log-coroner/internal/model"
)

// Generator names stored in AIInsights.Generator.
const (
	RuleBasedName   = "rule-based"
	ModelBackedName = "model-backed"
)

// Generator produces insights and an executive report. Implementations never fail:
// every call returns a complete, valid value.
type Generator interface {
	Name() string
	IsAvailable() bool
	GenerateInsights(ctx context.Context, f *model.TechnicalFindings, matches []model.RuleMatch) model.AIInsights
	GenerateExecutiveReport(ctx context.Context, f *model.TechnicalFindings, ins model.AIInsights) model.ExecutiveReport
}

// RuleBased is the deterministic generator. It is always available.
type RuleBased struct{}

func (RuleBased) Name() string      { return RuleBasedName }
func (RuleBased) IsAvailable() bool { return true }

// GenerateInsights computes insights from the counting rules.
func (RuleBased) GenerateInsights(_ context.Context, f *model.TechnicalFindings, matches []model.RuleMatch) model.AIInsights {
	s := NewStats(f, matches)
	score := SeverityScore(s)
	return model.AIInsights{
		AttackVector:       formatVectors(s.Vectors),
		ThreatAssessment:   ThreatAssessment(s),
		SeverityScore:      score,
		RecommendedActions: RecommendedActions(s),
		BusinessImpact:     BusinessImpact(score),
		Generator:          RuleBasedName,
	}
}

// GenerateExecutiveReport builds the report from the shared template.
func (RuleBased) GenerateExecutiveReport(_ context.Context, f *model.TechnicalFindings, ins model.AIInsights) model.ExecutiveReport {
	return BuildExecutiveReport(f, ins)
}

// Options configures Select.
type Options struct {
	// Enabled turns on the model-backed generator when a provider is present.
	Enabled bool
	// Timeout bounds each model call. Zero uses DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Select returns the model-backed generator when enabled with a provider, else RuleBased.
func Select(opts Options, provider llm.Provider) Generator {
	if !opts.Enabled || provider == nil {
		return RuleBased{}
	}
	return NewModelBacked(provider, opts)
}
