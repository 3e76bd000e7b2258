// Package metrics holds the Prometheus collectors of the analysis pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for FilesAnalyzed.
const (
	OutcomeOK          = "ok"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
	OutcomeCached      = "cached"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FilesAnalyzed    *prometheus.CounterVec
	ParserFailures   *prometheus.CounterVec
	InsightFallbacks *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	ResultsPublished *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FilesAnalyzed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coroner",
			Name:      "files_analyzed_total",
			Help:      "Evidence files analyzed, by detected type and outcome",
		}, []string{"type", "outcome"}),
		ParserFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coroner",
			Name:      "parser_failures_total",
			Help:      "Parse attempts that failed and fell through to the next parser",
		}, []string{"parser"}),
		InsightFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coroner",
			Name:      "insight_fallbacks_total",
			Help:      "Model-backed insight calls that fell back to the rule-based result",
		}, []string{"reason"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coroner",
			Name:      "findings_cache_lookups_total",
			Help:      "Findings cache lookups by result",
		}, []string{"result"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coroner",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		ResultsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coroner",
			Name:      "results_published_total",
			Help:      "Analysis results handed to sinks, by sink and outcome",
		}, []string{"sink", "outcome"}),
	}
}

// FileAnalyzed counts one analyzed file.
func (m *Metrics) FileAnalyzed(fileType, outcome string) {
	if m == nil {
		return
	}
	m.FilesAnalyzed.WithLabelValues(fileType, outcome).Inc()
}

// ParserFailed counts a parse attempt that failed.
func (m *Metrics) ParserFailed(parser string) {
	if m == nil {
		return
	}
	m.ParserFailures.WithLabelValues(parser).Inc()
}

// InsightFallback counts a model-backed call replaced by the rule-based result.
func (m *Metrics) InsightFallback(reason string) {
	if m == nil {
		return
	}
	m.InsightFallbacks.WithLabelValues(reason).Inc()
}

// CacheLookup counts a findings cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Published counts a result handed to a sink.
func (m *Metrics) Published(sink string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.ResultsPublished.WithLabelValues(sink, outcome).Inc()
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
