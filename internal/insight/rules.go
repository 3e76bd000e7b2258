package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

// Attack vector labels.
const (
	VectorAuthentication = "Authentication Attack"
	VectorNetwork        = "Network Intrusion"
	VectorMalware        = "Malware"
	VectorPrivilege      = "Privilege Escalation"
	VectorExfiltration   = "Data Exfiltration"
	VectorDoS            = "Denial of Service"
	VectorInjection      = "Code Injection"
	VectorGeneral        = "General Security Event"
)

// vectorKeywords is checked in order; the first label with a matching substring wins.
var vectorKeywords = []struct {
	label    string
	keywords []string
}{
	{VectorMalware, []string{"malware", "trojan", "virus", "ransomware", "backdoor", "rootkit"}},
	{VectorInjection, []string{"injection", "xss", "sqli", "traversal", "union select", "<script"}},
	{VectorPrivilege, []string{"privilege", "escalation", "sudo", "group_membership", "explicit_credential", "service_installation"}},
	{VectorExfiltration, []string{"exfiltration", "tunnel", "upload", "data transfer"}},
	{VectorDoS, []string{"denial of service", "ddos", "flood", "dos attack"}},
	{VectorAuthentication, []string{"authentication", "login", "logon", "password", "brute", "credential", "sasl"}},
	{VectorNetwork, []string{"port_scan", "scan", "firewall", "connection", "reconnaissance", "intrusion", "network", "dns"}},
}

// maliciousKeywords mark an event as malicious for scoring.
var maliciousKeywords = []string{"malware", "trojan", "virus", "exploit", "ransomware", "backdoor"}

// ClassifyEvent returns the attack vector label of one event.
func ClassifyEvent(ev model.SecurityEvent) string {
	text := strings.ToLower(ev.Description + " " + ev.EventType)
	for _, v := range vectorKeywords {
		for _, kw := range v.keywords {
			if strings.Contains(text, kw) {
				return v.label
			}
		}
	}
	return VectorGeneral
}

// VectorCount is one attack vector tally.
type VectorCount struct {
	Label string
	Count int
}

// tallyVectors counts labels and orders them by descending count, ties by first occurrence.
func tallyVectors(events []model.SecurityEvent) []VectorCount {
	idx := make(map[string]int)
	var out []VectorCount
	for _, ev := range events {
		label := ClassifyEvent(ev)
		i, ok := idx[label]
		if !ok {
			i = len(out)
			idx[label] = i
			out = append(out, VectorCount{Label: label})
		}
		out[i].Count++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Stats are the counts every rule below is computed from.
type Stats struct {
	Events    int
	IOCs      int
	Critical  int
	High      int
	Malicious int
	// Vectors holds attack vector tallies, plurality first.
	Vectors []VectorCount
	Auth    bool
	Network bool
}

// NewStats computes Stats from findings. Events hit by a high or critical detection rule
// count as malicious.
func NewStats(f *model.TechnicalFindings, matches []model.RuleMatch) Stats {
	if f == nil {
		return Stats{}
	}
	flagged := make(map[int]bool)
	for _, m := range matches {
		switch strings.ToLower(m.Level) {
		case "critical", "high":
			flagged[m.EventIndex] = true
		}
	}

	s := Stats{Events: len(f.SecurityEvents), IOCs: len(f.IOCs)}
	for i, ev := range f.SecurityEvents {
		switch ev.Severity {
		case model.SeverityCritical:
			s.Critical++
		case model.SeverityHigh:
			s.High++
		}
		if flagged[i] || containsAny(strings.ToLower(ev.Description+" "+ev.EventType), maliciousKeywords) {
			s.Malicious++
		}
	}
	s.Vectors = tallyVectors(f.SecurityEvents)
	for _, v := range s.Vectors {
		switch v.Label {
		case VectorAuthentication:
			s.Auth = true
		case VectorNetwork:
			s.Network = true
		}
	}
	return s
}

// SeverityScore is clamp(1, 10, min(events/10, 3) + min(iocs/5, 2) + 2*critical + high + malicious).
func SeverityScore(s Stats) int {
	score := min(s.Events/10, 3) + min(s.IOCs/5, 2) + 2*s.Critical + s.High + s.Malicious
	return ClampScore(score)
}

// ClampScore bounds a score to [1, 10].
func ClampScore(score int) int {
	return max(1, min(10, score))
}

// RiskLevel bands a severity score. Every generator uses it.
func RiskLevel(score int) string {
	switch {
	case score > 7:
		return model.RiskHigh
	case score > 4:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// ResultRiskLevel is the risk level of a finished analysis: the executive
// report's when present, else the band of the insight score. It is empty when
// neither stage ran.
func ResultRiskLevel(res *model.AnalysisResult) string {
	if res.Report != nil && res.Report.RiskLevel != "" {
		return res.Report.RiskLevel
	}
	if res.Insights != nil {
		return RiskLevel(res.Insights.SeverityScore)
	}
	return ""
}

// ThreatAssessment picks the threat text for the stats.
func ThreatAssessment(s Stats) string {
	switch {
	case s.Critical > 0 || s.Malicious > 0:
		return "CRITICAL: Confirmed malicious activity or critical security events detected. Immediate containment is required."
	case s.High > 5 || s.IOCs > 50:
		return "HIGH: Multiple high-severity events and a large set of indicators suggest an active attack."
	case s.High > 0 || s.IOCs > 10:
		return "MODERATE: Suspicious activity detected that warrants investigation."
	default:
		return "LOW: No significant threats identified. Routine activity with minor anomalies."
	}
}

// BusinessImpact picks the impact text for a severity score.
func BusinessImpact(score int) string {
	switch {
	case score >= 9:
		return "Severe: likely compromise of critical systems with potential data loss and service disruption."
	case score > 7:
		return "High: significant risk to business operations and sensitive data."
	case score > 4:
		return "Moderate: limited exposure, containment prevents escalation."
	default:
		return "Low: minimal impact on business operations."
	}
}

// ClassifyAttackVector reports the plurality vector, annotated with up to two secondary vectors.
func ClassifyAttackVector(events []model.SecurityEvent) string {
	return formatVectors(tallyVectors(events))
}

func formatVectors(vectors []VectorCount) string {
	if len(vectors) == 0 {
		return VectorGeneral
	}
	primary := vectors[0].Label
	var secondary []string
	for _, v := range vectors[1:] {
		if len(secondary) == 2 {
			break
		}
		secondary = append(secondary, v.Label)
	}
	if len(secondary) == 0 {
		return primary
	}
	return fmt.Sprintf("%s (also: %s)", primary, strings.Join(secondary, ", "))
}

// PrimaryVector strips the secondary annotation from an attack vector label.
func PrimaryVector(vector string) string {
	if i := strings.Index(vector, " (also:"); i > 0 {
		return vector[:i]
	}
	return vector
}

// RecommendedActions returns the deterministic action list for the stats.
func RecommendedActions(s Stats) []string {
	var actions []string
	if s.Critical > 0 || s.Malicious > 0 {
		actions = append(actions,
			"Isolate affected systems from the network immediately",
			"Initiate the incident response procedure and preserve evidence",
		)
	}
	if s.Malicious > 0 {
		actions = append(actions, "Run a full malware scan on affected hosts")
	}
	if s.IOCs > 20 {
		actions = append(actions, "Block identified malicious IP addresses and domains at the perimeter")
	}
	if s.Auth {
		actions = append(actions,
			"Review authentication logs and reset potentially compromised credentials",
			"Enforce multi-factor authentication on exposed accounts",
		)
	}
	if s.Network {
		actions = append(actions, "Review firewall rules and restrict exposed services")
	}
	if len(actions) == 0 {
		actions = []string{
			"Continue monitoring for suspicious activity",
			"Review security logs regularly",
			"Keep systems and security tools up to date",
		}
	}
	return actions
}

var longTermBaseline = []string{
	"Deploy centralized log collection and monitoring",
	"Conduct regular security awareness training",
	"Perform periodic vulnerability assessments",
}

// BuildExecutiveReport derives the management summary from findings and insights.
func BuildExecutiveReport(f *model.TechnicalFindings, ins model.AIInsights) model.ExecutiveReport {
	s := NewStats(f, nil)
	score := ClampScore(ins.SeverityScore)
	risk := RiskLevel(score)
	vector := PrimaryVector(ins.AttackVector)
	if vector == "" {
		vector = formatVectors(s.Vectors)
	}

	summary := fmt.Sprintf("Analysis identified %d security events and %d indicators of compromise. "+
		"The primary attack vector is %s. Overall severity is %d/10, which is %s risk.",
		s.Events, s.IOCs, vector, score, risk)
	if s.Critical > 0 {
		summary += fmt.Sprintf(" %d critical events require immediate attention.", s.Critical)
	}

	var kf strings.Builder
	if f != nil {
		if top := topCounts(f.EventsByType, 3); top != "" {
			fmt.Fprintf(&kf, "- Top event types: %s\n", top)
		}
		if top := topCounts(f.IOCsByCategory, 3); top != "" {
			fmt.Fprintf(&kf, "- Top IOC categories: %s\n", top)
		}
	}
	fmt.Fprintf(&kf, "- Attack vector: %s\n", vector)
	fmt.Fprintf(&kf, "- Severity score: %d/10", score)

	immediate := ins.RecommendedActions
	if len(immediate) > 3 {
		immediate = immediate[:3]
	}

	longTerm := append([]string(nil), longTermBaseline...)
	if s.Network {
		longTerm = append(longTerm, "Harden network segmentation and egress filtering")
	}
	if s.IOCs > 20 {
		longTerm = append(longTerm, "Establish a proactive threat hunting program based on collected indicators")
	}

	return model.ExecutiveReport{
		Summary:                 summary,
		KeyFindings:             kf.String(),
		RiskLevel:               risk,
		ImmediateActions:        strings.Join(immediate, "; "),
		LongTermRecommendations: strings.Join(longTerm, "; "),
	}
}

// topCounts formats the n largest counters as "a (3), b (1)", ties by name.
func topCounts(counts map[string]int, n int) string {
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d)", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
