package parser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

var accessLogRe = regexp.MustCompile(`^(\S+) \S+ (\S+) \[([^\]]+)\] "(\S+)(?: (\S*))?(?: (\S*))?" (\d{3}) (\d+|-)(?: "([^"]*)" "([^"]*)")?`)

// webAttack is one request signature checked against the decoded URL (and user agent
// where noted), in order; the first hit wins.
type webAttack struct {
	eventType string
	severity  model.Severity
	re        *regexp.Regexp
	agent     bool
}

var webAttacks = []webAttack{
	{"sql_injection", model.SeverityCritical, regexp.MustCompile(`(?i)(union(\s|\+)+(all(\s|\+)+)?select|'\s*or\s*'?\d+'?\s*=\s*'?\d|\bor(\s|\+)+1=1|'--|;--|sleep\(\d+\)|benchmark\(|information_schema|waitfor(\s|\+)+delay)`), false},
	{"command_injection", model.SeverityCritical, regexp.MustCompile(`(?i)(;\s*(wget|curl|bash|sh|nc|cat)\b|\|\s*(sh|bash)\b|\$\(|` + "`" + `)`), false},
	{"path_traversal", model.SeverityHigh, regexp.MustCompile(`(?i)(\.\./|\.\.\\|/etc/passwd|/etc/shadow|win\.ini|boot\.ini)`), false},
	{"xss_attempt", model.SeverityHigh, regexp.MustCompile(`(?i)(<script|javascript:|onerror\s*=|onload\s*=|<img[^>]+src|alert\()`), false},
	{"scanner_activity", model.SeverityMedium, regexp.MustCompile(`(?i)(sqlmap|nikto|nmap|masscan|dirbuster|gobuster|wpscan|acunetix|nessus|zgrab|nuclei|hydra)`), true},
	{"sensitive_path_probe", model.SeverityMedium, regexp.MustCompile(`(?i)(/\.env|/\.git/|/wp-login\.php|/xmlrpc\.php|/phpmyadmin|/server-status|/\.htaccess|/cgi-bin/|/actuator)`), false},
}

// webBurstThreshold is how many 4xx responses one client must receive before a
// reconnaissance event is raised for it.
const webBurstThreshold = 20

var webAccessNames = []string{"access.log", "access_log", "ssl_access", "nginx", "httpd", "apache"}

// WebAccessParser handles Apache and Nginx access logs in combined or common format.
type WebAccessParser struct {
	base
}

// NewWebAccessParser creates a WebAccessParser.
func NewWebAccessParser(opts Options) *WebAccessParser {
	return &WebAccessParser{base: newBase("Web Access Log", 70, opts)}
}

func (p *WebAccessParser) CanParse(f *File) bool {
	if !logLikeExt(f) {
		return false
	}
	if headMatches(f, 2, accessLogRe.MatchString) {
		return true
	}
	name := f.BaseName()
	for _, n := range webAccessNames {
		if strings.Contains(name, n) {
			return len(f.Head()) == 0 || headMatches(f, 1, accessLogRe.MatchString)
		}
	}
	return false
}

func (p *WebAccessParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	statusCounts := make(map[string]int)
	clientErrors := make(map[string]int)
	var clientOrder []string
	lastSeen := make(map[string]time.Time)
	requests, unparsed := 0, 0

	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		m := accessLogRe.FindStringSubmatch(line)
		if m == nil {
			unparsed++
			return
		}
		requests++
		ip, user, stamp, method, target, status, size, referer, agent := m[1], m[2], m[3], m[4], m[5], m[7], m[8], m[9], m[10]
		statusCounts[status]++

		ts, ok := ParseTimestamp(stamp, p.now())
		if !ok {
			ts = p.nowUTC()
		}
		attrs := map[string]string{
			"ip":     ip,
			"method": method,
			"url":    target,
			"status": status,
			"line":   strconv.Itoa(lineNo),
		}
		if user != "-" {
			attrs["user"] = user
		}
		if size != "-" {
			attrs["bytes"] = size
		}
		if referer != "" && referer != "-" {
			attrs["referer"] = referer
		}
		if agent != "" && agent != "-" {
			attrs["ua"] = agent
		}

		code, _ := strconv.Atoi(status)
		if code >= 400 && code < 500 {
			if clientErrors[ip] == 0 {
				clientOrder = append(clientOrder, ip)
			}
			clientErrors[ip]++
		}

		decoded := target
		if u, err := url.QueryUnescape(target); err == nil {
			decoded = u
		}
		for _, a := range webAttacks {
			subject := decoded
			if a.agent {
				subject = agent
			}
			if a.re.MatchString(subject) {
				desc := fmt.Sprintf("%s %s %s from %s", strings.ReplaceAll(a.eventType, "_", " "), method, target, ip)
				fnd.AddEvent(p.event(ts, a.eventType, desc, a.severity, attrs))
				lastSeen[ip] = ts
				return
			}
		}

		if code >= 400 && code < 500 {
			lastSeen[ip] = ts
		}
		switch {
		case code == 401 || code == 403:
			fnd.AddEvent(p.event(ts, "access_denied", fmt.Sprintf("%s %s denied (%s) for %s", method, target, status, ip), model.SeverityMedium, attrs))
		case code >= 500:
			fnd.AddEvent(p.event(ts, "server_error", fmt.Sprintf("%s %s returned %s to %s", method, target, status, ip), model.SeverityLow, attrs))
		}
	})
	if err != nil {
		return nil, err
	}

	for _, ip := range clientOrder {
		n := clientErrors[ip]
		if n < webBurstThreshold {
			continue
		}
		attrs := map[string]string{"ip": ip, "client_errors": strconv.Itoa(n)}
		fnd.AddEvent(p.event(lastSeen[ip], "reconnaissance",
			fmt.Sprintf("%d client error responses to %s suggest scanning or brute forcing", n, ip),
			model.SeverityHigh, attrs))
	}

	fnd.RawData["requests"] = requests
	fnd.RawData["status_counts"] = statusCounts
	fnd.RawData["unique_error_clients"] = sortedKeys(clientErrors)
	if unparsed > 0 {
		fnd.RawData["unparsed_lines"] = unparsed
	}
	return fnd, nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
