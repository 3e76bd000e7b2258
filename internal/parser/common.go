package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iyulab/log-coroner/internal/model"
)

// securityKeywords decide whether a record is security-relevant.
// Matching is on whole lower-cased tokens: "scanner" does not match "scan" and
// "logins" does not match "login". Plural and derived forms must be listed explicitly.
var securityKeywords = map[string]bool{
	"failed": true, "error": true, "unauthorized": true, "blocked": true, "denied": true,
	"attack": true, "malware": true, "suspicious": true, "breach": true, "intrusion": true,
	"exploit": true, "vulnerability": true, "trojan": true, "virus": true, "scan": true,
	"escalation": true, "exfiltration": true, "alert": true, "warning": true, "login": true,
	"authentication": true, "access": true, "permission": true, "firewall": true, "dropped": true,
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// Tokens splits text into lower-cased alphanumeric tokens.
func Tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// MatchedKeywords returns the security keywords present in text as whole tokens, in order of appearance.
func MatchedKeywords(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range Tokens(text) {
		if securityKeywords[tok] && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// IsSecurityRelevant reports whether text contains at least one security keyword token.
func IsSecurityRelevant(text string) bool {
	for _, tok := range Tokens(text) {
		if securityKeywords[tok] {
			return true
		}
	}
	return false
}

// SeverityFromField maps an explicit severity value. ok is false for unknown values.
func SeverityFromField(v string) (model.Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "critical", "high", "4", "3":
		return model.SeverityHigh, true
	case "medium", "moderate", "2":
		return model.SeverityMedium, true
	case "low", "info", "informational", "1", "0":
		return model.SeverityLow, true
	default:
		return "", false
	}
}

// SeverityFromText infers a severity from keyword bands when no explicit field exists.
func SeverityFromText(text string) model.Severity {
	toks := make(map[string]bool)
	for _, t := range Tokens(text) {
		toks[t] = true
	}
	switch {
	case toks["critical"] || toks["fatal"] || toks["attack"] || toks["malware"]:
		return model.SeverityHigh
	case toks["error"] || toks["failed"] || toks["blocked"] || toks["unauthorized"]:
		return model.SeverityMedium
	case toks["warning"] || toks["alert"]:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// ClassifyEventType derives a coarse event type tag from free text.
func ClassifyEventType(text string) string {
	toks := make(map[string]bool)
	for _, t := range Tokens(text) {
		toks[t] = true
	}
	switch {
	case toks["malware"] || toks["trojan"] || toks["virus"] || toks["ransomware"]:
		return "malware"
	case toks["exfiltration"]:
		return "data_exfiltration"
	case toks["escalation"] || toks["sudo"] || toks["privilege"]:
		return "privilege_escalation"
	case toks["exploit"] || toks["injection"] || toks["vulnerability"]:
		return "exploit_attempt"
	case (toks["login"] || toks["authentication"] || toks["password"] || toks["logon"]) && (toks["failed"] || toks["failure"] || toks["invalid"]):
		return "authentication_failure"
	case toks["login"] || toks["authentication"] || toks["logon"]:
		return "authentication"
	case toks["firewall"] || toks["dropped"] || toks["blocked"] || toks["scan"]:
		return "network_security"
	case toks["denied"] || toks["unauthorized"] || toks["permission"] || toks["access"]:
		return "access_violation"
	case toks["attack"] || toks["intrusion"] || toks["breach"] || toks["suspicious"]:
		return "security_alert"
	case toks["error"] || toks["failed"]:
		return "error"
	case toks["warning"] || toks["alert"]:
		return "warning"
	default:
		return "security_event"
	}
}

// timestampFields are attribute names scanned (case-insensitively) for an explicit timestamp.
var timestampFields = []string{
	"timestamp", "@timestamp", "time", "datetime", "date", "eventtime", "event_time",
	"timecreated", "created", "created_at", "logged", "ts",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
	"01/02/2006 15:04:05",
	"01/02/2006 03:04:05 PM",
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
	"2006-01-02",
}

var syslogLayouts = []string{"Jan _2 15:04:05", "Jan 2 15:04:05", "Jan _2 2006 15:04:05"}

var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2}| [+-]\d{4})?`),
	regexp.MustCompile(`\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}`),
	regexp.MustCompile(`\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4} \d{2}:\d{2}:\d{2}`),
	regexp.MustCompile(`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2} \d{2}:\d{2}:\d{2}`),
}

// ParseTimestamp parses a single timestamp value. Values without a zone are taken as UTC.
// Year-less syslog stamps get the year of now, or the previous year if that would put
// them more than a day in the future.
func ParseTimestamp(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if isDigits(s) && (len(s) == 10 || len(s) == 13) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			if len(s) == 13 {
				return time.UnixMilli(n).UTC(), true
			}
			return time.Unix(n, 0).UTC(), true
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	collapsed := strings.Join(strings.Fields(s), " ")
	for _, layout := range syslogLayouts {
		t, err := time.Parse(layout, collapsed)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = t.AddDate(now.Year(), 0, 0)
			if t.After(now.Add(24 * time.Hour)) {
				t = t.AddDate(-1, 0, 0)
			}
		}
		return t, true
	}
	return time.Time{}, false
}

// FindTimestamp locates the first recognizable timestamp inside free text.
func FindTimestamp(text string, now time.Time) (time.Time, bool) {
	for _, re := range timestampPatterns {
		if m := re.FindString(text); m != "" {
			if t, ok := ParseTimestamp(m, now); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// TimestampFromFields scans known timestamp field names in attrs.
func TimestampFromFields(attrs map[string]string, now time.Time) (time.Time, bool) {
	lower := make(map[string]string, len(attrs))
	for k, v := range attrs {
		lower[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, name := range timestampFields {
		if v, ok := lower[name]; ok {
			if t, ok := ParseTimestamp(v, now); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
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
