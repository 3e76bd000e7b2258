package reporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iyulab/log-coroner/internal/model"
)

func sampleResult() *model.AnalysisResult {
	ts := time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)
	f := model.NewFindings("Syslog")
	for i := 0; i < 3; i++ {
		f.AddEvent(model.SecurityEvent{
			Timestamp:   ts.Add(time.Duration(i) * time.Second),
			EventType:   "authentication_failure",
			Description: "Failed password for root from 203.0.113.7",
			Severity:    model.SeverityMedium,
			Source:      "SYSLOG",
			Attributes:  map[string]string{"ip": "203.0.113.7"},
		})
	}
	f.AddEvent(model.SecurityEvent{Timestamp: ts, EventType: "brute_force", Severity: model.SeverityHigh, Source: "SYSLOG"})
	f.AddIOC("IP: 203.0.113.7")
	f.AddIOC("Domain: evil.example")
	f.TotalLines = 1200
	f.Metadata = model.FileMetadata{Name: "auth.log", Size: 2048, SHA256: "abc123"}

	return &model.AnalysisResult{
		ID:          "result-1",
		FileNames:   []string{"auth.log"},
		FileTypes:   []string{"Syslog"},
		Timestamp:   ts,
		Findings:    *f,
		RuleMatches: []model.RuleMatch{{File: "auth.log", RuleTitle: "Repeated Authentication Failures", Level: "high", EventIndex: 3}},
		Insights: &model.AIInsights{
			AttackVector:       "Authentication Attack",
			ThreatAssessment:   "HIGH: repeated failures",
			SeverityScore:      6,
			RecommendedActions: []string{"Enforce multi-factor authentication", "Review account lockout policy"},
			BusinessImpact:     "Moderate",
			Generator:          "rule-based",
		},
		Report: &model.ExecutiveReport{Summary: "Three failed logins were observed.", RiskLevel: model.RiskMedium},
		Timeline: &model.Timeline{
			Events:        []model.TimelineEvent{{Timestamp: ts, Event: "x"}},
			FirstActivity: ts,
			LastActivity:  ts.Add(2 * time.Second),
		},
	}
}

func newReporter(t *testing.T) *Reporter {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := newReporter(t).Write(&buf, sampleResult(), FormatJSON); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"id", "technical_findings", "ai_insights", "executive_report", "timeline", "rule_matches"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := newReporter(t).Write(&buf, sampleResult(), FormatYAML); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var decoded struct {
		ID       string `yaml:"id"`
		Insights struct {
			SeverityScore int `yaml:"severity_score"`
		} `yaml:"ai_insights"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if decoded.ID != "result-1" || decoded.Insights.SeverityScore != 6 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := newReporter(t).Write(&buf, sampleResult(), FormatText); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"=== log-coroner analysis result-1 ===",
		"  - auth.log (Syslog)",
		"Evidence:  auth.log, 2.0 KiB, sha256 abc123",
		"TRIAGE: MONITOR [yellow]",
		"Severity:      6/10",
		"Records: 1,200  Events: 4  IOCs: 2",
		"authentication_failure",
		"[high] Repeated Authentication Failures - auth.log event #3",
		"IP (1): 203.0.113.7",
		"  2. Review account lockout policy",
		"Timeline: 2024-03-10T09:15:00Z .. 2024-03-10T09:15:02Z (1 entries)",
		"Executive summary (MEDIUM risk):",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
}

func TestWriteTextMinimal(t *testing.T) {
	res := &model.AnalysisResult{ID: "empty", Findings: *model.NewFindings("Text Log")}
	var buf bytes.Buffer
	if err := newReporter(t).Write(&buf, res, FormatText); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), "TRIAGE: NONE [green]") {
		t.Errorf("summary = %s", buf.String())
	}
	if strings.Contains(buf.String(), "Detections") {
		t.Error("empty sections should be omitted")
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	err := newReporter(t).Write(&bytes.Buffer{}, sampleResult(), "html")
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path, err := newReporter(t).Generate(sampleResult(), dir, FormatYAML)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if path != filepath.Join(dir, "result-1.yaml") {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "id: result-1") {
		t.Errorf("report content = %s", data)
	}
}

func TestTopTypes(t *testing.T) {
	got := topTypes(map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	if len(got) != 3 || got[0].Type != "c" || got[1].Type != "a" || got[2].Type != "b" {
		t.Errorf("topTypes = %+v", got)
	}
}
