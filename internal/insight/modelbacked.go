package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/iyulab/log-coroner/internal/llm"
	"github.com/iyulab/log-coroner/internal/metrics"
	"github.com/iyulab/log-coroner/internal/model"
)

// DefaultTimeout bounds one model call when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Fallback reasons, also used as metric labels.
const (
	ReasonNoProvider = "no_provider"
	ReasonTimeout    = "timeout"
	ReasonAPI        = "api_error"
	ReasonTransport  = "transport"
	ReasonNoJSON     = "no_json"
	ReasonBadJSON    = "malformed_json"
	ReasonSchema     = "schema"
)

// ExternalServiceError is a failed model call. It never leaves this package.
type ExternalServiceError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external model %s failed (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ResponseSchema constrains model output on providers that support structured output.
var ResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"attack_vector":       map[string]any{"type": "string"},
		"threat_assessment":   map[string]any{"type": "string"},
		"severity_score":      map[string]any{"type": "number"},
		"recommended_actions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"business_impact":     map[string]any{"type": "string"},
		"summary":             map[string]any{"type": "string"},
		"key_findings":        map[string]any{"type": "string"},
	},
}

var (
	insightsSchema = compileSchema(withRequired(ResponseSchema, "severity_score"))
	reportSchema   = compileSchema(withRequired(ResponseSchema, "summary"))
)

type compiledSchema struct {
	schema *gojsonschema.Schema
	err    error
}

func compileSchema(doc map[string]any) compiledSchema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	return compiledSchema{schema: s, err: err}
}

func withRequired(doc map[string]any, fields ...string) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	req := make([]any, len(fields))
	for i, f := range fields {
		req[i] = f
	}
	out["required"] = req
	return out
}

func (c compiledSchema) validate(raw string) error {
	if c.err != nil {
		return c.err
	}
	res, err := c.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// result carries either a value or the error that prevented it.
type result[T any] struct {
	val T
	err error
}

func failed[T any](err error) result[T] { return result[T]{err: err} }

// then applies fn to a successful value.
func then[T, U any](r result[T], fn func(T) (U, error)) result[U] {
	if r.err != nil {
		return failed[U](r.err)
	}
	v, err := fn(r.val)
	return result[U]{val: v, err: err}
}

// orElse returns the value, or fallback(err) when the result failed.
func (r result[T]) orElse(fallback func(error) T) T {
	if r.err != nil {
		return fallback(r.err)
	}
	return r.val
}

type modelResponse struct {
	AttackVector       string   `json:"attack_vector"`
	ThreatAssessment   string   `json:"threat_assessment"`
	SeverityScore      float64  `json:"severity_score"`
	RecommendedActions []string `json:"recommended_actions"`
	BusinessImpact     string   `json:"business_impact"`
	Summary            string   `json:"summary"`
	KeyFindings        string   `json:"key_findings"`
}

// ModelBacked asks an external model for insights and falls back to RuleBased on any failure.
type ModelBacked struct {
	provider llm.Provider
	fallback RuleBased
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewModelBacked wraps provider. Providers that accept an output schema get ResponseSchema.
func NewModelBacked(provider llm.Provider, opts Options) *ModelBacked {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if fs, ok := provider.(llm.FormatSetter); ok {
		fs.SetFormat(ResponseSchema)
	}
	return &ModelBacked{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "insight"),
		metrics:  opts.Metrics,
	}
}

func (m *ModelBacked) Name() string      { return ModelBackedName }
func (m *ModelBacked) IsAvailable() bool { return m != nil && m.provider != nil }

// GenerateInsights merges the model's answer over the rule-based result. Fields the model
// leaves empty keep their rule-based values and the score is clamped to [1, 10].
func (m *ModelBacked) GenerateInsights(ctx context.Context, f *model.TechnicalFindings, matches []model.RuleMatch) model.AIInsights {
	base := m.fallback.GenerateInsights(ctx, f, matches)
	res := m.ask(ctx, "insights", BuildInsightPrompt(f, matches), insightsSchema)
	return then(res, func(r modelResponse) (model.AIInsights, error) {
		out := base
		out.Generator = ModelBackedName
		out.SeverityScore = ClampScore(int(math.Round(math.Max(1, math.Min(10, r.SeverityScore)))))
		if r.AttackVector != "" {
			out.AttackVector = r.AttackVector
		}
		if r.ThreatAssessment != "" {
			out.ThreatAssessment = r.ThreatAssessment
		}
		if len(r.RecommendedActions) > 0 {
			out.RecommendedActions = r.RecommendedActions
		}
		if r.BusinessImpact != "" {
			out.BusinessImpact = r.BusinessImpact
		} else {
			out.BusinessImpact = BusinessImpact(out.SeverityScore)
		}
		return out, nil
	}).orElse(func(error) model.AIInsights { return base })
}

// GenerateExecutiveReport uses the model's summary when it supplies one. The risk level
// always comes from RiskLevel.
func (m *ModelBacked) GenerateExecutiveReport(ctx context.Context, f *model.TechnicalFindings, ins model.AIInsights) model.ExecutiveReport {
	base := BuildExecutiveReport(f, ins)
	res := m.ask(ctx, "report", BuildReportPrompt(f, ins), reportSchema)
	return then(res, func(r modelResponse) (model.ExecutiveReport, error) {
		out := base
		out.Summary = r.Summary
		if r.KeyFindings != "" {
			out.KeyFindings = r.KeyFindings
		}
		return out, nil
	}).orElse(func(error) model.ExecutiveReport { return base })
}

// ask performs one bounded model call. Every failure comes back as *ExternalServiceError
// and has already been logged and counted.
func (m *ModelBacked) ask(ctx context.Context, op, prompt string, schema compiledSchema) result[modelResponse] {
	res := m.call(ctx, op, prompt, schema)
	if res.err != nil {
		var ese *ExternalServiceError
		if errors.As(res.err, &ese) {
			m.logger.Warn("model call failed, using rule-based result",
				"op", op, "reason", ese.Reason, "error", ese.Err)
			m.metrics.InsightFallback(ese.Reason)
		}
	}
	return res
}

func (m *ModelBacked) call(ctx context.Context, op, prompt string, schema compiledSchema) result[modelResponse] {
	fail := func(reason string, err error) result[modelResponse] {
		return failed[modelResponse](&ExternalServiceError{Op: op, Reason: reason, Err: err})
	}
	if m.provider == nil {
		return fail(ReasonNoProvider, errors.New("no model provider configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.provider.Analyze(callCtx, SystemPrompt, prompt)
	if err != nil {
		var apiErr *llm.APIError
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return fail(ReasonTimeout, err)
		case errors.As(err, &apiErr):
			return fail(ReasonAPI, err)
		default:
			return fail(ReasonTransport, err)
		}
	}

	obj, ok := llm.ExtractJSON(raw)
	if !ok {
		return fail(ReasonNoJSON, fmt.Errorf("no JSON object in response: %s", truncate(raw, 200)))
	}
	if !json.Valid([]byte(obj)) {
		return fail(ReasonBadJSON, fmt.Errorf("malformed JSON: %s", truncate(obj, 200)))
	}
	if err := schema.validate(obj); err != nil {
		return fail(ReasonSchema, err)
	}
	var r modelResponse
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return fail(ReasonBadJSON, err)
	}
	return result[modelResponse]{val: r}
}
