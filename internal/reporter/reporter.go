package reporter

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/iyulab/log-coroner/internal/model"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Output formats accepted by Write.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// ErrUnknownFormat is returned for an output format other than json, yaml or text.
var ErrUnknownFormat = errors.New("unknown output format")

const topEventTypes = 5

// Reporter renders analysis results.
type Reporter struct {
	tmpl *template.Template
}

// typeCount is one row of the top event types table.
type typeCount struct {
	Type  string
	Count int
}

// textView is the data passed to the text template.
type textView struct {
	Result    *model.AnalysisResult
	Triage    IsolationRecommendation
	Levels    LevelSummary
	IOCGroups []IOCGroup
	TopTypes  []typeCount
}

// New creates a Reporter with the embedded text template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"utc": func(t time.Time) string {
			return t.UTC().Format(time.RFC3339)
		},
		"bytes": func(n int64) string {
			if n < 0 {
				n = 0
			}
			return humanize.IBytes(uint64(n))
		},
		"comma": func(n int) string {
			return humanize.Comma(int64(n))
		},
		"upper": strings.ToUpper,
		"join":  strings.Join,
		"head": func(values []string, n int) []string {
			if len(values) > n {
				return values[:n]
			}
			return values
		},
		"inc": func(i int) int { return i + 1 },
	}

	tmpl, err := template.New("summary.txt.tmpl").Funcs(funcMap).ParseFS(templates, "templates/summary.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Reporter{tmpl: tmpl}, nil
}

// Extension returns the file extension used for format.
func Extension(format string) string {
	switch format {
	case FormatYAML:
		return ".yaml"
	case FormatText:
		return ".txt"
	default:
		return ".json"
	}
}

// Write renders res to w in the given format.
func (r *Reporter) Write(w io.Writer, res *model.AnalysisResult, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatText:
		if err := r.tmpl.Execute(w, newTextView(res)); err != nil {
			return fmt.Errorf("render summary: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Generate writes res to <outputDir>/<id><ext> and returns the path.
func (r *Reporter) Generate(res *model.AnalysisResult, outputDir, format string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, res.ID+Extension(format))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := r.Write(f, res, format); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	return path, nil
}

func newTextView(res *model.AnalysisResult) textView {
	agg := &Aggregator{}
	return textView{
		Result:    res,
		Triage:    agg.ShouldIsolate(res),
		Levels:    SummarizeRuleLevels(res.RuleMatches),
		IOCGroups: GroupIOCs(res.Findings.IOCs),
		TopTypes:  topTypes(res.Findings.EventsByType, topEventTypes),
	}
}

// topTypes returns the n most frequent event types, ties by name.
func topTypes(counts map[string]int, n int) []typeCount {
	out := make([]typeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, typeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
