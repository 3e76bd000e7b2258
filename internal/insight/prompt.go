package insight

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/iyulab/log-coroner/internal/model"
)

const (
	promptMaxEvents = 20
	promptMaxIOCs   = 30
)

// SystemPrompt is the analyst persona sent with every model call.
const SystemPrompt = `You are an experienced security operations analyst reviewing findings extracted from security log files.

RULES:
- Base every statement on the data provided. NEVER invent IP addresses, domains, hashes, accounts or event types that do not appear in the input.
- If the data is insufficient for a conclusion, say so.
- Severity is an integer from 1 (benign) to 10 (active, confirmed compromise).
- Respond with a single JSON object and nothing else.`

// BuildInsightPrompt renders findings for the insights call.
func BuildInsightPrompt(f *model.TechnicalFindings, matches []model.RuleMatch) string {
	var b strings.Builder
	writeFindings(&b, f)
	if len(matches) > 0 {
		b.WriteString("\nDETECTION RULE MATCHES:\n")
		for _, m := range matches {
			fmt.Fprintf(&b, "- [%s] %s (event #%d)\n", m.Level, m.RuleTitle, m.EventIndex)
		}
	}
	b.WriteString(`
Return JSON with these fields:
{
  "attack_vector": "primary attack vector label",
  "threat_assessment": "one or two sentences",
  "severity_score": 1-10,
  "recommended_actions": ["ordered list of concrete actions"],
  "business_impact": "one sentence"
}`)
	return b.String()
}

// BuildReportPrompt renders findings and insights for the executive summary call.
func BuildReportPrompt(f *model.TechnicalFindings, ins model.AIInsights) string {
	var b strings.Builder
	writeFindings(&b, f)
	fmt.Fprintf(&b, "\nASSESSMENT:\nattack vector: %s\nseverity: %d/10\nthreat: %s\n",
		ins.AttackVector, ins.SeverityScore, ins.ThreatAssessment)
	b.WriteString(`
Write an executive summary for non-technical management. Return JSON:
{
  "summary": "2-3 sentences referencing the event and indicator counts and the primary attack vector",
  "key_findings": "short bullet list, one finding per line starting with '- '"
}`)
	return b.String()
}

func writeFindings(b *strings.Builder, f *model.TechnicalFindings) {
	if f == nil {
		f = model.NewFindings("")
	}
	fmt.Fprintf(b, "FILE TYPE: %s\nTOTAL RECORDS: %d\nSECURITY EVENTS: %d\nIOCS: %d\n",
		f.ParserType, f.TotalLines, len(f.SecurityEvents), len(f.IOCs))

	b.WriteString("\nEVENTS BY TYPE:\n")
	for _, k := range sortedKeys(f.EventsByType) {
		fmt.Fprintf(b, "- %s: %d\n", k, f.EventsByType[k])
	}

	n := min(len(f.SecurityEvents), promptMaxEvents)
	fmt.Fprintf(b, "\nEVENTS (first %d of %d):\n", n, len(f.SecurityEvents))
	for _, ev := range f.SecurityEvents[:n] {
		fmt.Fprintf(b, "- %s [%s] %s: %s\n",
			ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), ev.Severity, ev.EventType, truncate(ev.Description, 300))
	}

	m := min(len(f.IOCs), promptMaxIOCs)
	fmt.Fprintf(b, "\nIOCS (first %d of %d):\n", m, len(f.IOCs))
	for _, ioc := range f.IOCs[:m] {
		fmt.Fprintf(b, "- %s\n", ioc)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
