// Package model defines the data carried through the ingestion-to-insight pipeline.
package model

import (
	"strings"
	"time"
)

// Severity is the label attached to a single security event.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Priority returns the numeric priority derived from the severity label (1 = Low .. 4 = Critical).
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// FileMetadata describes one analyzed evidence file. Computed once, never modified.
type FileMetadata struct {
	Name     string    `json:"name" yaml:"name"`
	Size     int64     `json:"size" yaml:"size"`
	Created  time.Time `json:"created" yaml:"created"`
	Modified time.Time `json:"modified" yaml:"modified"`
	SHA256   string    `json:"sha256" yaml:"sha256"`
	MIMEType string    `json:"mime_type" yaml:"mime_type"`
}

// IsZero reports whether no metadata has been computed.
func (m FileMetadata) IsZero() bool {
	return m.SHA256 == "" && m.Size == 0 && m.Name == ""
}

// SecurityEvent is one security-relevant record extracted by a parser.
// Parsers create it, the normalizer rewrites timestamp and attribute keys, after that it is read-only.
type SecurityEvent struct {
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	EventType   string            `json:"event_type" yaml:"event_type"`
	Description string            `json:"description" yaml:"description"`
	Severity    Severity          `json:"severity" yaml:"severity"`
	Priority    int               `json:"priority" yaml:"priority"`
	Source      string            `json:"source" yaml:"source"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Clone returns a deep copy of the event.
func (e SecurityEvent) Clone() SecurityEvent {
	out := e
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// IOC categories used as the prefix of an indicator string.
const (
	IOCTypeIP     = "IP"
	IOCTypeDomain = "Domain"
	IOCTypeHash   = "Hash"
	IOCTypeEmail  = "Email"
	IOCTypeURL    = "URL"
)

// FormatIOC builds the canonical "Type: value" indicator string.
func FormatIOC(typ, value string) string {
	return typ + ": " + value
}

// IOCCategory returns the type prefix of an indicator string ("IP: 1.2.3.4" -> "IP").
func IOCCategory(ioc string) string {
	if i := strings.Index(ioc, ":"); i > 0 {
		return strings.TrimSpace(ioc[:i])
	}
	return "Unknown"
}

// CorrelatedGroup is a set of at least two events sharing an attribute value or a time bucket.
type CorrelatedGroup struct {
	Key    string          `json:"key" yaml:"key"`
	Events []SecurityEvent `json:"events" yaml:"events"`
}

// TimelineEvent is one entry of the chronological timeline.
type TimelineEvent struct {
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Event      string    `json:"event" yaml:"event"`
	Source     string    `json:"source" yaml:"source"`
	Confidence string    `json:"confidence" yaml:"confidence"`
}

// Timeline is the ordered event sequence plus its activity bounds. Never empty.
type Timeline struct {
	Events        []TimelineEvent `json:"events" yaml:"events"`
	FirstActivity time.Time       `json:"first_activity" yaml:"first_activity"`
	LastActivity  time.Time       `json:"last_activity" yaml:"last_activity"`
}

// AIInsights is the insight generator output. SeverityScore is always within [1, 10].
type AIInsights struct {
	AttackVector       string   `json:"attack_vector" yaml:"attack_vector"`
	ThreatAssessment   string   `json:"threat_assessment" yaml:"threat_assessment"`
	SeverityScore      int      `json:"severity_score" yaml:"severity_score"`
	RecommendedActions []string `json:"recommended_actions" yaml:"recommended_actions"`
	BusinessImpact     string   `json:"business_impact" yaml:"business_impact"`
	Generator          string   `json:"generator" yaml:"generator"`
}

// Risk levels used by ExecutiveReport.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// ExecutiveReport is the management-facing summary of one analysis.
type ExecutiveReport struct {
	Summary                 string `json:"summary" yaml:"summary"`
	KeyFindings             string `json:"key_findings" yaml:"key_findings"`
	RiskLevel               string `json:"risk_level" yaml:"risk_level"`
	ImmediateActions        string `json:"immediate_actions" yaml:"immediate_actions"`
	LongTermRecommendations string `json:"long_term_recommendations" yaml:"long_term_recommendations"`
}

// RuleMatch records a detection rule hit against one normalized event.
type RuleMatch struct {
	File       string `json:"file" yaml:"file"`
	RuleTitle  string `json:"rule_title" yaml:"rule_title"`
	RuleID     string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	Level      string `json:"level" yaml:"level"`
	EventIndex int    `json:"event_index" yaml:"event_index"`
}

// FileError reports a file that was skipped in a multi-file analysis.
type FileError struct {
	File  string `json:"file" yaml:"file"`
	Error string `json:"error" yaml:"error"`
}

// AnalysisResult aggregates everything produced for one analysis request.
// Read-only once assembled.
type AnalysisResult struct {
	ID           string            `json:"id" yaml:"id"`
	FileNames    []string          `json:"file_names" yaml:"file_names"`
	FileTypes    []string          `json:"file_types" yaml:"file_types"`
	Timestamp    time.Time         `json:"timestamp" yaml:"timestamp"`
	Findings     TechnicalFindings `json:"technical_findings" yaml:"technical_findings"`
	Correlations []CorrelatedGroup `json:"correlations" yaml:"correlations"`
	Timeline     *Timeline         `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	Insights     *AIInsights       `json:"ai_insights,omitempty" yaml:"ai_insights,omitempty"`
	Report       *ExecutiveReport  `json:"executive_report,omitempty" yaml:"executive_report,omitempty"`
	RuleMatches  []RuleMatch       `json:"rule_matches,omitempty" yaml:"rule_matches,omitempty"`
	Errors       []FileError       `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// SeverityScore returns the insight severity score, or 0 when no insights were generated.
func (r *AnalysisResult) SeverityScore() int {
	if r == nil || r.Insights == nil {
		return 0
	}
	return r.Insights.SeverityScore
}
