package parser

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	rfc3164Re = regexp.MustCompile(`^(?:<(\d{1,3})>)?([A-Z][a-z]{2}\s+\d{1,2} \d{2}:\d{2}:\d{2})\s+(\S+)\s+([^\s:\[]+)(?:\[(\d+)\])?:\s*(.*)$`)
	rfc5424Re = regexp.MustCompile(`^<(\d{1,3})>1 (\S+) (\S+) (\S+) (\S+) (\S+) (?:-|(?:\[.*?\])+)\s?(.*)$`)
	isoSysRe  = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\S+)\s+(\S+)\s+([^\s:\[]+)(?:\[(\d+)\])?:\s*(.*)$`)

	sshFailedRe   = regexp.MustCompile(`Failed (?:password|publickey|none) for (?:invalid user )?(\S+) from (\S+)(?: port (\d+))?`)
	sshAcceptedRe = regexp.MustCompile(`Accepted (?:password|publickey|keyboard-interactive/pam) for (\S+) from (\S+)(?: port (\d+))?`)
	sshInvalidRe  = regexp.MustCompile(`[Ii]nvalid user (\S+) from (\S+)`)
	pamFailureRe  = regexp.MustCompile(`authentication failure;.*?(?:rhost=(\S*))?(?:\s+user=(\S+))?$`)
	sudoCmdRe     = regexp.MustCompile(`^\s*(\S+) : .*?USER=(\S+) ; COMMAND=(.*)$`)
	sessionOpenRe = regexp.MustCompile(`session opened for user (\S+?)(?:\(uid=\d+\))?(?: by|$)`)
)

var syslogNames = []string{"syslog", "messages", "auth.log", "secure", "kern.log", "daemon.log", "user.log", "system.log"}

// SyslogParser handles RFC 3164 and RFC 5424 lines, including the sshd, sudo and su
// messages that show up in auth logs.
type SyslogParser struct {
	base
}

// NewSyslogParser creates a SyslogParser.
func NewSyslogParser(opts Options) *SyslogParser {
	return &SyslogParser{base: newBase("Syslog", 40, opts)}
}

func (p *SyslogParser) CanParse(f *File) bool {
	name := f.BaseName()
	for _, n := range syslogNames {
		if strings.HasPrefix(name, n) {
			return true
		}
	}
	return headMatches(f, 2, func(l string) bool {
		return rfc3164Re.MatchString(l) || rfc5424Re.MatchString(l) || isoSysRe.MatchString(l)
	})
}

type syslogLine struct {
	pri     int // -1 when absent
	ts      time.Time
	hasTS   bool
	host    string
	program string
	pid     string
	msg     string
}

func (p *SyslogParser) split(line string) (syslogLine, bool) {
	if m := rfc5424Re.FindStringSubmatch(line); m != nil {
		pri, _ := strconv.Atoi(m[1])
		ts, ok := ParseTimestamp(m[2], p.now())
		return syslogLine{pri: pri, ts: ts, hasTS: ok, host: m[3], program: m[4], pid: m[5], msg: m[7]}, true
	}
	if m := rfc3164Re.FindStringSubmatch(line); m != nil {
		pri := -1
		if m[1] != "" {
			pri, _ = strconv.Atoi(m[1])
		}
		ts, ok := ParseTimestamp(m[2], p.now())
		return syslogLine{pri: pri, ts: ts, hasTS: ok, host: m[3], program: m[4], pid: m[5], msg: m[6]}, true
	}
	if m := isoSysRe.FindStringSubmatch(line); m != nil {
		ts, ok := ParseTimestamp(m[1], p.now())
		return syslogLine{pri: -1, ts: ts, hasTS: ok, host: m[2], program: m[3], pid: m[4], msg: m[5]}, true
	}
	return syslogLine{}, false
}

// priSeverity maps the severity part of a PRI value.
func priSeverity(pri int) (model.Severity, bool) {
	if pri < 0 || pri > 191 {
		return "", false
	}
	switch pri % 8 {
	case 0, 1, 2:
		return model.SeverityCritical, true
	case 3:
		return model.SeverityHigh, true
	case 4:
		return model.SeverityMedium, true
	default:
		return model.SeverityLow, true
	}
}

func maxSeverity(a, b model.Severity) model.Severity {
	if b.Priority() > a.Priority() {
		return b
	}
	return a
}

func (p *SyslogParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	programs := make(map[string]int)
	unparsed := 0
	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		sl, ok := p.split(line)
		if !ok {
			unparsed++
			sl = syslogLine{pri: -1, msg: line}
		}
		if sl.program != "" {
			programs[sl.program]++
		}
		ts := sl.ts
		if !sl.hasTS {
			ts = p.timestamp(line)
		}

		attrs := map[string]string{"line": strconv.Itoa(lineNo)}
		if sl.host != "" {
			attrs["host"] = sl.host
		}
		if sl.program != "" {
			attrs["program"] = sl.program
		}
		if sl.pid != "" {
			attrs["pid"] = sl.pid
		}

		if ev, ok := p.authEvent(ts, sl, attrs); ok {
			fnd.AddEvent(ev)
			return
		}

		priSev, hasPri := priSeverity(sl.pri)
		urgent := hasPri && priSev.Priority() >= model.SeverityHigh.Priority()
		if !urgent && !IsSecurityRelevant(sl.msg) {
			return
		}
		sev := SeverityFromText(sl.msg)
		if hasPri {
			sev = maxSeverity(sev, priSev)
		}
		if ip := p.iocs.FirstIP(sl.msg); ip != "" {
			attrs["ip"] = ip
		}
		fnd.AddEvent(p.event(ts, ClassifyEventType(sl.msg), sl.msg, sev, attrs))
	})
	if err != nil {
		return nil, err
	}
	fnd.RawData["programs"] = programs
	if unparsed > 0 {
		fnd.RawData["unparsed_lines"] = unparsed
	}
	return fnd, nil
}

// authEvent recognizes the sshd, PAM and sudo messages that carry user and source fields.
func (p *SyslogParser) authEvent(ts time.Time, sl syslogLine, attrs map[string]string) (model.SecurityEvent, bool) {
	msg := sl.msg
	setIP := func(ip string) {
		if p.iocs.ValidIP(ip) {
			attrs["ip"] = ip
		}
	}
	switch {
	case sshFailedRe.MatchString(msg):
		m := sshFailedRe.FindStringSubmatch(msg)
		attrs["user"] = m[1]
		setIP(m[2])
		if m[3] != "" {
			attrs["port"] = m[3]
		}
		return p.event(ts, "authentication_failure", msg, model.SeverityMedium, attrs), true
	case sshInvalidRe.MatchString(msg):
		m := sshInvalidRe.FindStringSubmatch(msg)
		attrs["user"] = m[1]
		setIP(m[2])
		return p.event(ts, "authentication_failure", msg, model.SeverityMedium, attrs), true
	case sshAcceptedRe.MatchString(msg):
		m := sshAcceptedRe.FindStringSubmatch(msg)
		attrs["user"] = m[1]
		setIP(m[2])
		sev := model.SeverityLow
		if m[1] == "root" {
			sev = model.SeverityMedium
		}
		return p.event(ts, "authentication_success", msg, sev, attrs), true
	case pamFailureRe.MatchString(msg):
		m := pamFailureRe.FindStringSubmatch(msg)
		if m[1] != "" {
			setIP(m[1])
		}
		if m[2] != "" {
			attrs["user"] = m[2]
		}
		return p.event(ts, "authentication_failure", msg, model.SeverityMedium, attrs), true
	case sl.program == "sudo" && sudoCmdRe.MatchString(msg):
		m := sudoCmdRe.FindStringSubmatch(msg)
		attrs["user"] = m[1]
		attrs["target_user"] = m[2]
		attrs["command"] = m[3]
		sev := model.SeverityLow
		if m[2] == "root" {
			sev = model.SeverityMedium
		}
		if strings.Contains(msg, "NOT in sudoers") || strings.Contains(msg, "incorrect password") {
			sev = model.SeverityHigh
		}
		return p.event(ts, "privilege_escalation", msg, sev, attrs), true
	case (sl.program == "su" || sl.program == "sudo") && sessionOpenRe.MatchString(msg):
		m := sessionOpenRe.FindStringSubmatch(msg)
		attrs["target_user"] = m[1]
		return p.event(ts, "privilege_escalation", msg, model.SeverityLow, attrs), true
	}
	return model.SecurityEvent{}, false
}
