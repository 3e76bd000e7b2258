package parser

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	mtaRe         = regexp.MustCompile(`\b(postfix(?:/[\w-]+)?|sendmail|exim|dovecot|opendkim|amavis)\[\d+\]:`)
	eximLineRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:\.\d+)? (?:\[\d+\] )?\S{6}-\S{6}-\S{2,4} (<=|=>|->|\*\*|==|Completed)`)
	mailRejectRe  = regexp.MustCompile(`(?:NOQUEUE|\w+): reject: \w+ from \S*?\[([\d.]+)\]:? (\d{3})[^;]*; ([^;]+);`)
	saslFailRe    = regexp.MustCompile(`\[([\d.]+)\]: SASL (\w+) authentication failed`)
	dovecotFailRe = regexp.MustCompile(`auth(?:-worker)?\(.*?\): (?:.*)?(?:password mismatch|unknown user|Authentication failure).*?rip=([\d.]+)`)
	relayDeniedRe = regexp.MustCompile(`(?i)relay (?:access )?denied`)
	mailFromRe    = regexp.MustCompile(`from=<([^>]*)>`)
	mailToRe      = regexp.MustCompile(`to=<([^>]*)>`)
	bracketIPRe   = regexp.MustCompile(`\[(\d{1,3}(?:\.\d{1,3}){3})\]`)
	malwareMailRe = regexp.MustCompile(`(?i)\b(virus|infected|malware|trojan|phish(?:ing)?)\b`)
	spamMailRe    = regexp.MustCompile(`(?i)\b(spam|blocklist(?:ed)?|blacklist(?:ed)?|rbl|spamhaus)\b`)
)

var mailNames = []string{"mail", "maillog", "postfix", "exim", "sendmail", "dovecot"}

// MailParser handles Postfix, Sendmail, Dovecot and Exim logs.
type MailParser struct {
	base
}

// NewMailParser creates a MailParser.
func NewMailParser(opts Options) *MailParser {
	return &MailParser{base: newBase("Mail Log", 55, opts)}
}

func isMailLine(l string) bool {
	return mtaRe.MatchString(l) || eximLineRe.MatchString(l)
}

func (p *MailParser) CanParse(f *File) bool {
	if !logLikeExt(f) && f.Ext() != ".err" && f.Ext() != ".info" && f.Ext() != ".warn" {
		return false
	}
	if headMatches(f, 2, isMailLine) {
		return true
	}
	name := f.BaseName()
	for _, n := range mailNames {
		if strings.HasPrefix(name, n) {
			return len(f.Head()) == 0 || headMatches(f, 1, isMailLine)
		}
	}
	return false
}

func (p *MailParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	stats := make(map[string]int)
	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		attrs := map[string]string{"line": strconv.Itoa(lineNo)}
		if m := mailFromRe.FindStringSubmatch(line); m != nil && m[1] != "" {
			attrs["from"] = strings.ToLower(m[1])
		}
		if m := mailToRe.FindStringSubmatch(line); m != nil && m[1] != "" {
			attrs["to"] = strings.ToLower(m[1])
		}
		if m := bracketIPRe.FindStringSubmatch(line); m != nil && p.iocs.ValidIP(m[1]) {
			attrs["ip"] = m[1]
		}
		if m := mtaRe.FindStringSubmatch(line); m != nil {
			attrs["program"] = m[1]
		}
		ts := p.timestamp(line)

		add := func(eventType string, sev model.Severity) {
			stats[eventType]++
			fnd.AddEvent(p.event(ts, eventType, line, sev, attrs))
		}

		switch {
		case saslFailRe.MatchString(line):
			m := saslFailRe.FindStringSubmatch(line)
			attrs["mechanism"] = m[2]
			add("authentication_failure", model.SeverityMedium)
		case dovecotFailRe.MatchString(line):
			m := dovecotFailRe.FindStringSubmatch(line)
			if p.iocs.ValidIP(m[1]) {
				attrs["ip"] = m[1]
			}
			add("authentication_failure", model.SeverityMedium)
		case malwareMailRe.MatchString(line):
			add("malware", model.SeverityHigh)
		case relayDeniedRe.MatchString(line):
			add("relay_denied", model.SeverityMedium)
		case mailRejectRe.MatchString(line):
			m := mailRejectRe.FindStringSubmatch(line)
			attrs["code"] = m[2]
			attrs["reason"] = strings.TrimSpace(m[3])
			if spamMailRe.MatchString(line) {
				add("spam_rejected", model.SeverityMedium)
			} else {
				add("mail_rejected", model.SeverityLow)
			}
		case spamMailRe.MatchString(line):
			add("spam", model.SeverityLow)
		case strings.Contains(line, " ** "):
			add("delivery_failure", model.SeverityLow)
		case IsSecurityRelevant(line):
			add(ClassifyEventType(line), SeverityFromText(line))
		}
	})
	if err != nil {
		return nil, err
	}
	fnd.RawData["event_counts"] = stats
	return fnd, nil
}
