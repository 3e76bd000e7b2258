// Package sigma evaluates Sigma detection rules against normalized security events.
package sigma

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"

	"github.com/iyulab/log-coroner/internal/model"
)

//go:embed rules
var embeddedRules embed.FS

// Event field names visible to rules. Event attributes are exposed under their own keys.
const (
	FieldEventType   = "event_type"
	FieldDescription = "description"
	FieldSeverity    = "severity"
	FieldSource      = "source"
)

// Engine evaluates Sigma rules against events. Read-only after construction.
type Engine struct {
	rules []evaluator.RuleEvaluator
}

// NewDefault creates an Engine with the built-in rules plus every rule found in extraDir.
// An empty extraDir loads only the built-in rules.
func NewDefault(extraDir string) (*Engine, error) {
	sub, err := fs.Sub(embeddedRules, "rules")
	if err != nil {
		return nil, err
	}
	eng, err := New(sub)
	if err != nil {
		return nil, err
	}
	if extraDir == "" {
		return eng, nil
	}
	if _, err := os.Stat(extraDir); err != nil {
		return nil, fmt.Errorf("sigma rules dir: %w", err)
	}
	extra, err := New(os.DirFS(extraDir))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", extraDir, err)
	}
	eng.rules = append(eng.rules, extra.rules...)
	return eng, nil
}

// New creates an Engine from every .yml/.yaml file in rulesFS.
func New(rulesFS fs.FS) (*Engine, error) {
	var rules []evaluator.RuleEvaluator

	err := fs.WalkDir(rulesFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		data, err := fs.ReadFile(rulesFS, path)
		if err != nil {
			return err
		}
		rule, err := sigmalib.ParseRule(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		rules = append(rules, *evaluator.ForRule(rule))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Engine{rules: rules}, nil
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// MatchEvents evaluates every rule scoped to parserType against events and returns at
// most one match per rule: the first matching event. Rules without a logsource category
// apply to all parser types. file is recorded on each match.
func (e *Engine) MatchEvents(ctx context.Context, file, parserType string, events []model.SecurityEvent) []model.RuleMatch {
	if e == nil || len(events) == 0 {
		return nil
	}

	docs := make([]map[string]interface{}, len(events))
	for i, ev := range events {
		docs[i] = eventDocument(ev)
	}

	var matches []model.RuleMatch
	for _, ev := range e.rules {
		if ctx.Err() != nil {
			return matches
		}
		cat := ev.Rule.Logsource.Category
		if cat != "" && !strings.EqualFold(cat, parserType) {
			continue
		}

		for i, doc := range docs {
			res, err := ev.Matches(ctx, doc)
			if err != nil || !res.Match {
				continue
			}
			matches = append(matches, model.RuleMatch{
				File:       file,
				RuleTitle:  ev.Rule.Title,
				RuleID:     ev.Rule.ID,
				Level:      ev.Rule.Level,
				EventIndex: i,
			})
			break
		}
	}
	return matches
}

// eventDocument flattens an event into the field map rules are evaluated against.
func eventDocument(ev model.SecurityEvent) map[string]interface{} {
	doc := make(map[string]interface{}, len(ev.Attributes)+4)
	for k, v := range ev.Attributes {
		doc[k] = v
	}
	doc[FieldEventType] = ev.EventType
	doc[FieldDescription] = ev.Description
	doc[FieldSeverity] = string(ev.Severity)
	doc[FieldSource] = ev.Source
	return doc
}
