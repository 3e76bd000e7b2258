// Package reporter renders analysis results and packages evidence for handoff.
package reporter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

// Urgency values of IsolationRecommendation.
const (
	UrgencyImmediate   = "immediate"
	UrgencyUrgent      = "urgent"
	UrgencyInvestigate = "investigate"
	UrgencyMonitor     = "monitor"
	UrgencyNone        = "none"
)

// IsolationRecommendation represents the containment decision for the analyzed source.
type IsolationRecommendation struct {
	Isolate              bool   `json:"isolate" yaml:"isolate"`
	Urgency              string `json:"urgency" yaml:"urgency"` // immediate, urgent, investigate, monitor, none
	Reason               string `json:"reason" yaml:"reason"`
	Banner               string `json:"banner" yaml:"banner"`                               // red, yellow, green
	IncompleteAssessment bool   `json:"incomplete_assessment" yaml:"incomplete_assessment"` // true when input files were skipped
}

// Aggregator computes the overall isolation recommendation from an analysis result.
type Aggregator struct{}

// ShouldIsolate decides containment from rule matches, the severity score and critical
// events. Skipped files escalate the urgency because "nothing found" may simply mean
// "not everything was read".
func (a *Aggregator) ShouldIsolate(res *model.AnalysisResult) IsolationRecommendation {
	levels := SummarizeRuleLevels(res.RuleMatches)
	score := res.SeverityScore()
	critical := countBySeverity(res.Findings.SecurityEvents, model.SeverityCritical)
	skipped := len(res.Errors)
	incomplete := skipped > 0

	if levels.Critical > 0 {
		return IsolationRecommendation{
			Isolate:              true,
			Urgency:              UrgencyImmediate,
			Reason:               firstRuleTitle(res.RuleMatches, "critical"),
			Banner:               "red",
			IncompleteAssessment: incomplete,
		}
	}

	if levels.High >= 2 || (score >= 8 && critical > 0) {
		return IsolationRecommendation{
			Isolate:              true,
			Urgency:              UrgencyUrgent,
			Reason:               fmt.Sprintf("Severity %d/10 with %d high-level detections and %d critical events", score, levels.High, critical),
			Banner:               "red",
			IncompleteAssessment: incomplete,
		}
	}

	if levels.High == 1 || score >= 5 {
		rec := IsolationRecommendation{
			Urgency:              UrgencyMonitor,
			Reason:               fmt.Sprintf("Suspicious activity (severity %d/10) - monitoring recommended", score),
			Banner:               "yellow",
			IncompleteAssessment: incomplete,
		}
		if incomplete {
			rec.Urgency = UrgencyInvestigate
			rec.Reason = fmt.Sprintf("Suspicious activity AND %d input file(s) skipped (%s). Assessment may be incomplete.", skipped, skippedNames(res.Errors))
		}
		return rec
	}

	if incomplete {
		return IsolationRecommendation{
			Urgency:              UrgencyMonitor,
			Reason:               fmt.Sprintf("Incomplete assessment - %d input file(s) skipped (%s).", skipped, skippedNames(res.Errors)),
			Banner:               "yellow",
			IncompleteAssessment: true,
		}
	}

	return IsolationRecommendation{
		Urgency: UrgencyNone,
		Reason:  "No intrusion evidence found",
		Banner:  "green",
	}
}

func countBySeverity(events []model.SecurityEvent, sev model.Severity) int {
	n := 0
	for _, ev := range events {
		if ev.Severity == sev {
			n++
		}
	}
	return n
}

func firstRuleTitle(matches []model.RuleMatch, level string) string {
	for _, m := range matches {
		if strings.EqualFold(m.Level, level) {
			return fmt.Sprintf("%s (%s)", m.RuleTitle, m.File)
		}
	}
	return ""
}

func skippedNames(errs []model.FileError) string {
	names := make([]string, len(errs))
	for i, e := range errs {
		names[i] = e.File
	}
	return strings.Join(names, ", ")
}

// LevelSummary counts rule matches by Sigma level for display.
type LevelSummary struct {
	Critical      int `json:"critical" yaml:"critical"`
	High          int `json:"high" yaml:"high"`
	Medium        int `json:"medium" yaml:"medium"`
	Low           int `json:"low" yaml:"low"`
	Informational int `json:"informational" yaml:"informational"`
}

// Total is the number of counted matches.
func (s LevelSummary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Informational
}

// SummarizeRuleLevels counts rule matches by level. Unknown levels count as informational.
func SummarizeRuleLevels(matches []model.RuleMatch) LevelSummary {
	var s LevelSummary
	for _, m := range matches {
		switch strings.ToLower(m.Level) {
		case "critical":
			s.Critical++
		case "high":
			s.High++
		case "medium":
			s.Medium++
		case "low":
			s.Low++
		default:
			s.Informational++
		}
	}
	return s
}

// IOCGroup is the set of indicator values of one category.
type IOCGroup struct {
	Type   string   `json:"type" yaml:"type"`
	Values []string `json:"values" yaml:"values"`
}

// GroupIOCs splits "Type: value" indicators by type. Values are deduplicated (the merged
// findings of a batch keep per-file duplicates) and keep first-seen order; groups are
// sorted by type.
func GroupIOCs(iocs []string) []IOCGroup {
	byType := make(map[string][]string)
	seen := make(map[string]bool)
	for _, ioc := range iocs {
		if seen[ioc] {
			continue
		}
		seen[ioc] = true
		typ := model.IOCCategory(ioc)
		value := strings.TrimSpace(strings.TrimPrefix(ioc, typ+":"))
		byType[typ] = append(byType[typ], value)
	}

	groups := make([]IOCGroup, 0, len(byType))
	for typ, values := range byType {
		groups = append(groups, IOCGroup{Type: typ, Values: values})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Type < groups[j].Type })
	return groups
}
