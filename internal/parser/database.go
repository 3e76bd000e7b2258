package parser

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	mysqlDeniedRe  = regexp.MustCompile(`Access denied for user '([^']*)'@'([^']*)'`)
	pgAuthFailRe   = regexp.MustCompile(`FATAL:\s+(?:password|Ident|peer|md5|scram-sha-256) authentication failed for user "([^"]*)"`)
	pgNoEntryRe    = regexp.MustCompile(`FATAL:\s+no pg_hba\.conf entry for host "([^"]*)", user "([^"]*)"`)
	mssqlFailRe    = regexp.MustCompile(`Login failed for user '([^']*)'.*?\[CLIENT: ([^\]]+)\]`)
	pgHostRe       = regexp.MustCompile(`host=([\d.]+)`)
	dbInjectionRe  = regexp.MustCompile(`(?i)(union\s+(all\s+)?select|\bor\s+'?1'?\s*=\s*'?1|;\s*drop\s+table|xp_cmdshell|into\s+outfile|load_file\(|information_schema\.tables|sleep\(\d+\)|waitfor\s+delay|benchmark\(\d+)`)
	dbPrivilegeRe  = regexp.MustCompile(`(?i)\b(grant\s+(all|super|file|dba)|create\s+(user|role|login)|alter\s+(user|role|login)|drop\s+(database|user|role|schema)|sp_addsrvrolemember|set\s+role)\b`)
	dbSevereRe     = regexp.MustCompile(`\b(FATAL|PANIC|CRITICAL)\b`)
	dbErrorRe      = regexp.MustCompile(`\b(ERROR|\[ERROR\]|Error:)`)
	dbSignatureRes = []*regexp.Regexp{
		regexp.MustCompile(`\[(?:Warning|Note|ERROR|System)\] \[MY-\d+\]`),
		regexp.MustCompile(`\bmysqld(?:\[\d+\])?:`),
		regexp.MustCompile(`\b(?:LOG|ERROR|FATAL|STATEMENT|DETAIL|HINT|WARNING):  \S`),
		regexp.MustCompile(`\bpostgres(?:ql)?\[\d+\]`),
		regexp.MustCompile(`\bLogin failed for user\b|\bspid\d+\b|\bLogon\s+Login succeeded\b`),
	}
)

var dbNames = []string{"mysql", "mariadb", "postgres", "postgresql", "pg_log", "mssql", "sqlserver", "errorlog", "audit", "general.log", "slow"}

// DatabaseParser handles MySQL/MariaDB, PostgreSQL and SQL Server error and audit logs.
type DatabaseParser struct {
	base
}

// NewDatabaseParser creates a DatabaseParser.
func NewDatabaseParser(opts Options) *DatabaseParser {
	return &DatabaseParser{base: newBase("Database Log", 50, opts)}
}

func isDatabaseLine(l string) bool {
	for _, re := range dbSignatureRes {
		if re.MatchString(l) {
			return true
		}
	}
	return false
}

func (p *DatabaseParser) CanParse(f *File) bool {
	if !logLikeExt(f) && f.Ext() != ".err" {
		return false
	}
	if headMatches(f, 2, isDatabaseLine) {
		return true
	}
	name := f.BaseName()
	for _, n := range dbNames {
		if strings.Contains(name, n) {
			return len(f.Head()) == 0 || headMatches(f, 1, isDatabaseLine)
		}
	}
	return false
}

func (p *DatabaseParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	stats := make(map[string]int)
	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		attrs := map[string]string{"line": strconv.Itoa(lineNo)}
		setIP := func(host string) {
			host = strings.TrimSpace(host)
			if p.iocs.ValidIP(host) {
				attrs["ip"] = host
			} else if host != "" {
				attrs["host"] = host
			}
		}
		ts := p.timestamp(line)
		add := func(eventType string, sev model.Severity) {
			stats[eventType]++
			fnd.AddEvent(p.event(ts, eventType, line, sev, attrs))
		}

		switch {
		case mysqlDeniedRe.MatchString(line):
			m := mysqlDeniedRe.FindStringSubmatch(line)
			attrs["user"] = m[1]
			setIP(m[2])
			add("authentication_failure", model.SeverityMedium)
		case pgAuthFailRe.MatchString(line):
			m := pgAuthFailRe.FindStringSubmatch(line)
			attrs["user"] = m[1]
			if h := pgHostRe.FindStringSubmatch(line); h != nil {
				setIP(h[1])
			}
			add("authentication_failure", model.SeverityMedium)
		case pgNoEntryRe.MatchString(line):
			m := pgNoEntryRe.FindStringSubmatch(line)
			setIP(m[1])
			attrs["user"] = m[2]
			add("access_violation", model.SeverityMedium)
		case mssqlFailRe.MatchString(line):
			m := mssqlFailRe.FindStringSubmatch(line)
			attrs["user"] = m[1]
			setIP(m[2])
			add("authentication_failure", model.SeverityMedium)
		case dbInjectionRe.MatchString(line):
			if ip := p.iocs.FirstIP(line); ip != "" {
				attrs["ip"] = ip
			}
			add("sql_injection", model.SeverityCritical)
		case dbPrivilegeRe.MatchString(line):
			add("privilege_change", model.SeverityHigh)
		case dbSevereRe.MatchString(line):
			add("database_error", model.SeverityHigh)
		case dbErrorRe.MatchString(line) && IsSecurityRelevant(line):
			add("database_error", model.SeverityMedium)
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
