package parser

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	bindQueryRe = regexp.MustCompile(`client (?:@\S+ )?(\d{1,3}(?:\.\d{1,3}){3})#\d+(?: \(([^)]+)\))?: (?:view \S+: )?query: (\S+) IN (\w+)`)
	dnsmasqRe   = regexp.MustCompile(`dnsmasq\[\d+\]: (query|reply|forwarded|cached|config)(?:\[(\w+)\])? (\S+) (?:from|is|to) (\S+)`)
	nxdomainRe  = regexp.MustCompile(`(?i)\bNXDOMAIN\b`)
	refusedRe   = regexp.MustCompile(`(?i)(query \(cache\) '[^']+' denied|REFUSED|update '[^']+' denied)`)
)

// suspiciousTLDs are top-level domains commonly abused for throwaway infrastructure.
var suspiciousTLDs = map[string]bool{
	"xyz": true, "top": true, "tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
	"zip": true, "mov": true, "onion": true, "click": true, "work": true, "su": true, "bit": true,
}

const (
	tunnelLabelLen     = 50
	tunnelEntropy      = 4.0
	tunnelMinLabel     = 20
	nxdomainBurstCount = 20
)

var dnsNames = []string{"named", "bind", "dnsmasq", "query.log", "queries", "dns"}

// DNSParser handles BIND query logs and dnsmasq lines.
type DNSParser struct {
	base
}

// NewDNSParser creates a DNSParser.
func NewDNSParser(opts Options) *DNSParser {
	return &DNSParser{base: newBase("DNS Log", 60, opts)}
}

func isDNSLine(l string) bool {
	return bindQueryRe.MatchString(l) || dnsmasqRe.MatchString(l)
}

func (p *DNSParser) CanParse(f *File) bool {
	if !logLikeExt(f) {
		return false
	}
	if headMatches(f, 2, isDNSLine) {
		return true
	}
	name := f.BaseName()
	for _, n := range dnsNames {
		if strings.Contains(name, n) {
			return len(f.Head()) == 0 || headMatches(f, 1, isDNSLine)
		}
	}
	return false
}

// labelEntropy is the Shannon entropy in bits per character of s.
func labelEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len([]rune(s)))
	var h float64
	for _, c := range counts {
		pr := float64(c) / n
		h -= pr * math.Log2(pr)
	}
	return h
}

// classifyDomain returns an event type and severity for a suspicious name, or "" when the
// name looks ordinary.
func classifyDomain(name, qtype string) (string, model.Severity) {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	labels := strings.Split(name, ".")
	for _, l := range labels {
		if len(l) > tunnelLabelLen {
			return "dns_tunneling", model.SeverityHigh
		}
	}
	first := labels[0]
	if len(first) >= tunnelMinLabel && labelEntropy(first) > tunnelEntropy {
		return "dns_tunneling", model.SeverityHigh
	}
	if strings.EqualFold(qtype, "TXT") && len(first) >= tunnelMinLabel {
		return "dns_tunneling", model.SeverityMedium
	}
	if len(labels) > 1 && suspiciousTLDs[labels[len(labels)-1]] {
		return "suspicious_domain", model.SeverityMedium
	}
	return "", ""
}

func (p *DNSParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	queries := 0
	qtypes := make(map[string]int)
	nxByClient := make(map[string]int)
	var nxOrder []string
	lastSeen := make(map[string]time.Time)
	// pending maps a dnsmasq query name to its client so NXDOMAIN replies can be attributed.
	pending := make(map[string]string)

	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		ts := p.timestamp(line)
		attrs := map[string]string{"line": strconv.Itoa(lineNo)}

		var client, name, qtype string
		if m := bindQueryRe.FindStringSubmatch(line); m != nil {
			client, name, qtype = m[1], m[3], m[4]
		} else if m := dnsmasqRe.FindStringSubmatch(line); m != nil {
			switch m[1] {
			case "query":
				client, name, qtype = m[4], m[3], m[2]
				pending[strings.ToLower(m[3])] = m[4]
			case "reply", "cached", "config":
				name = m[3]
				client = pending[strings.ToLower(m[3])]
				if m[4] == "NXDOMAIN" {
					attrs["rcode"] = "NXDOMAIN"
				}
			default:
				return
			}
		}

		if name == "" {
			if refusedRe.MatchString(line) || IsSecurityRelevant(line) {
				if ip := p.iocs.FirstIP(line); ip != "" {
					attrs["ip"] = ip
				}
				fnd.AddEvent(p.event(ts, "dns_refused", line, model.SeverityMedium, attrs))
			}
			return
		}

		attrs["query"] = name
		if client != "" && p.iocs.ValidIP(client) {
			attrs["ip"] = client
		}
		if qtype != "" {
			attrs["qtype"] = qtype
			qtypes[strings.ToUpper(qtype)]++
			queries++
		}

		if attrs["rcode"] == "NXDOMAIN" || nxdomainRe.MatchString(line) {
			attrs["rcode"] = "NXDOMAIN"
			if client != "" {
				if nxByClient[client] == 0 {
					nxOrder = append(nxOrder, client)
				}
				nxByClient[client]++
				lastSeen[client] = ts
			}
		}

		if typ, sev := classifyDomain(name, qtype); typ != "" {
			fnd.AddEvent(p.event(ts, typ, fmt.Sprintf("Suspicious %s query for %s from %s", qtype, name, client), sev, attrs))
			return
		}
		if attrs["rcode"] == "NXDOMAIN" {
			fnd.AddEvent(p.event(ts, "nxdomain", fmt.Sprintf("NXDOMAIN for %s", name), model.SeverityLow, attrs))
		}
	})
	if err != nil {
		return nil, err
	}

	for _, client := range nxOrder {
		n := nxByClient[client]
		if n < nxdomainBurstCount {
			continue
		}
		attrs := map[string]string{"nxdomain_count": strconv.Itoa(n)}
		if p.iocs.ValidIP(client) {
			attrs["ip"] = client
		}
		fnd.AddEvent(p.event(lastSeen[client], "dga_activity",
			fmt.Sprintf("%s received %d NXDOMAIN answers, consistent with generated domains", client, n),
			model.SeverityHigh, attrs))
	}
	fnd.RawData["queries"] = queries
	fnd.RawData["query_types"] = qtypes
	return fnd, nil
}
