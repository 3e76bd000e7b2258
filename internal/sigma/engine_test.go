package sigma

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

// testRule builds a minimal Sigma rule YAML for testing.
func testRule(category, title, field, value string) []byte {
	cat := ""
	if category != "" {
		cat = "\n  category: " + category
	}
	return []byte(`title: ` + title + `
id: test-001
status: experimental
logsource:
  product: log-coroner` + cat + `
detection:
  selection:
    ` + field + `|contains: '` + value + `'
  condition: selection
level: high
`)
}

func ev(typ, desc string, attrs map[string]string) model.SecurityEvent {
	return model.SecurityEvent{
		Timestamp:   time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC),
		EventType:   typ,
		Description: desc,
		Severity:    model.SeverityMedium,
		Source:      "SYSLOG",
		Attributes:  attrs,
	}
}

func TestNew_LoadsRules(t *testing.T) {
	fakeFS := fstest.MapFS{
		"linux/test.yml":  &fstest.MapFile{Data: testRule("Syslog", "Test Rule", "description", "malware")},
		"linux/notes.txt": &fstest.MapFile{Data: []byte("not a rule")},
	}
	eng, err := New(fakeFS)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if eng.Len() != 1 {
		t.Errorf("expected 1 rule, got %d", eng.Len())
	}
}

func TestNew_InvalidRule(t *testing.T) {
	fakeFS := fstest.MapFS{"bad.yml": &fstest.MapFile{Data: []byte("title: [unterminated")}}
	if _, err := New(fakeFS); err == nil {
		t.Error("expected error for invalid rule")
	}
}

func TestMatchEvents_FirstMatchPerRule(t *testing.T) {
	eng, err := New(fstest.MapFS{
		"r.yml": &fstest.MapFile{Data: testRule("Syslog", "Malware Mention", "description", "malware")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := []model.SecurityEvent{
		ev("generic", "all quiet", nil),
		ev("generic", "malware detected in /tmp/x", nil),
		ev("generic", "malware detected again", nil),
	}
	matches := eng.MatchEvents(context.Background(), "auth.log", "Syslog", events)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.EventIndex != 1 || m.RuleTitle != "Malware Mention" || m.Level != "high" || m.File != "auth.log" {
		t.Errorf("match = %+v", m)
	}
}

func TestMatchEvents_CategoryScope(t *testing.T) {
	eng, _ := New(fstest.MapFS{
		"scoped.yml": &fstest.MapFile{Data: testRule("Web Access Log", "Scoped", "description", "malware")},
		"global.yml": &fstest.MapFile{Data: testRule("", "Global", "description", "malware")},
	})
	events := []model.SecurityEvent{ev("generic", "malware", nil)}

	matches := eng.MatchEvents(context.Background(), "a.log", "Syslog", events)
	if len(matches) != 1 || matches[0].RuleTitle != "Global" {
		t.Errorf("syslog matches = %+v", matches)
	}
	if matches := eng.MatchEvents(context.Background(), "a.log", "Web Access Log", events); len(matches) != 2 {
		t.Errorf("web matches = %+v", matches)
	}
}

func TestMatchEvents_AttributeFields(t *testing.T) {
	eng, _ := New(fstest.MapFS{
		"ip.yml": &fstest.MapFile{Data: testRule("", "Bad Subnet", "ip", "203.0.113.")},
	})
	events := []model.SecurityEvent{ev("authentication_failure", "Failed password", map[string]string{"ip": "203.0.113.9"})}
	if matches := eng.MatchEvents(context.Background(), "f", "Syslog", events); len(matches) != 1 {
		t.Errorf("attribute match failed: %+v", matches)
	}
}

func TestMatchEvents_Empty(t *testing.T) {
	eng, _ := NewDefault("")
	if got := eng.MatchEvents(context.Background(), "f", "Syslog", nil); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	var nilEngine *Engine
	if got := nilEngine.MatchEvents(context.Background(), "f", "Syslog", []model.SecurityEvent{ev("x", "y", nil)}); got != nil {
		t.Errorf("nil engine should match nothing, got %+v", got)
	}
}

func TestNewDefault_EmbeddedRules(t *testing.T) {
	eng, err := NewDefault("")
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	if eng.Len() < 10 {
		t.Errorf("expected the built-in rule set, got %d rules", eng.Len())
	}

	events := []model.SecurityEvent{
		ev("authentication_failure", "Failed password for root", map[string]string{"ip": "203.0.113.9"}),
		ev("brute_force", "5 failed logins from 203.0.113.9", map[string]string{"ip": "203.0.113.9"}),
		ev("privilege_escalation", "alice : user NOT in sudoers ; TTY=pts/0 ; COMMAND=/bin/bash", map[string]string{"user": "alice"}),
	}
	matches := eng.MatchEvents(context.Background(), "auth.log", "Syslog", events)
	got := make(map[string]model.RuleMatch)
	for _, m := range matches {
		got[m.RuleTitle] = m
	}
	if m, ok := got["Repeated Authentication Failures"]; !ok || m.EventIndex != 1 || m.Level != "high" {
		t.Errorf("brute force rule: %+v (all: %+v)", m, matches)
	}
	if m, ok := got["Unauthorized Sudo Attempt"]; !ok || m.EventIndex != 2 {
		t.Errorf("sudo rule: %+v (all: %+v)", m, matches)
	}
	if _, ok := got["Security Log Cleared"]; ok {
		t.Error("windows-scoped rule fired on syslog events")
	}
}

func TestNewDefault_ExtraDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), testRule("", "Custom", "description", "beacon"), 0o644); err != nil {
		t.Fatal(err)
	}
	base, _ := NewDefault("")
	eng, err := NewDefault(dir)
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	if eng.Len() != base.Len()+1 {
		t.Errorf("expected %d rules, got %d", base.Len()+1, eng.Len())
	}
	if _, err := NewDefault(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing rules dir should be an error")
	}
}
