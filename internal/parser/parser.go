// Package parser turns raw evidence files into TechnicalFindings, one parser per log family.
package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iyulab/log-coroner/internal/ioc"
	"github.com/iyulab/log-coroner/internal/model"
)

// Parser is one log-family implementation.
type Parser interface {
	// Type is the tag reported by DetectType and stored on the findings.
	Type() string
	// Priority orders parsers in the registry; higher runs first.
	Priority() int
	// CanParse is a cheap, side-effect-free check on extension and a shallow content sniff.
	CanParse(f *File) bool
	// Parse extracts findings. Failures are *ParseError; malformed but readable input
	// yields empty findings instead of an error.
	Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error)
}

// Options configures the shared behavior of the built-in parsers.
type Options struct {
	// IOC is the indicator extractor; the zero value keeps private addresses.
	IOC ioc.Extractor
	// Now supplies the fallback timestamp for records without one. Defaults to time.Now.
	Now func() time.Time
}

// ctxCheckInterval is how many records are processed between cancellation checks.
const ctxCheckInterval = 256

// base carries what every built-in parser shares.
type base struct {
	typ      string
	priority int
	iocs     ioc.Extractor
	now      func() time.Time
}

func newBase(typ string, priority int, opts Options) base {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return base{typ: typ, priority: priority, iocs: opts.IOC, now: now}
}

func (b base) Type() string  { return b.typ }
func (b base) Priority() int { return b.priority }

// nowUTC is the fallback timestamp. Records without a recognizable time are placed at
// analysis time, which misplaces historical events on the timeline.
func (b base) nowUTC() time.Time {
	return b.now().UTC()
}

// timestamp finds a timestamp in text or falls back to now.
func (b base) timestamp(text string) time.Time {
	if t, ok := FindTimestamp(text, b.now()); ok {
		return t
	}
	return b.nowUTC()
}

// newFindings creates findings with metadata computed for f.
func (b base) newFindings(f *File) (*model.TechnicalFindings, error) {
	meta, err := ComputeMetadata(f)
	if err != nil {
		return nil, err
	}
	fnd := model.NewFindings(b.typ)
	fnd.Metadata = meta
	fnd.RawData["format"] = b.typ
	return fnd, nil
}

// event builds a SecurityEvent with its priority derived from severity.
func (b base) event(ts time.Time, eventType, desc string, sev model.Severity, attrs map[string]string) model.SecurityEvent {
	if sev == "" {
		sev = model.SeverityLow
	}
	return model.SecurityEvent{
		Timestamp:   ts,
		EventType:   eventType,
		Description: truncate(desc, 500),
		Severity:    sev,
		Priority:    sev.Priority(),
		Source:      b.typ,
		Attributes:  attrs,
	}
}

// lineHandler is called for each non-blank line of a text file.
type lineHandler func(fnd *model.TechnicalFindings, lineNo int, line string)

// scanLines reads f line by line, calling handle for each non-blank line and extracting
// IOCs from every line. TotalLines counts all lines read.
func (b base) scanLines(ctx context.Context, f *File, handle lineHandler) (*model.TechnicalFindings, error) {
	fnd, err := b.newFindings(f)
	if err != nil {
		return nil, newParseError(b.typ, f, err)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, newParseError(b.typ, f, err)
	}
	defer rc.Close()

	lr := newLineReader(rc)
	n := 0
	for lr.Next() {
		n++
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, newParseError(b.typ, f, err)
			}
		}
		line := strings.TrimRight(lr.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		handle(fnd, n, line)
		fnd.AddIOCs(b.iocs.Extract(line))
	}
	if err := lr.Err(); err != nil {
		return nil, newParseError(b.typ, f, fmt.Errorf("read: %w", err))
	}
	fnd.TotalLines = n
	if t := lr.Truncated(); t > 0 {
		fnd.RawData["truncated_lines"] = t
	}
	return fnd, nil
}

// hasExt reports whether f's extension is one of exts.
func hasExt(f *File, exts ...string) bool {
	ext := f.Ext()
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// logLikeExt reports whether f has a plain log extension, none at all, or a numeric
// rotation suffix such as "access.log.1".
func logLikeExt(f *File) bool {
	ext := f.Ext()
	return hasExt(f, "", ".log", ".txt", ".out") || isDigits(strings.TrimPrefix(ext, "."))
}

// headMatches reports whether at least min of the first sniffed lines satisfy match.
func headMatches(f *File, min int, match func(string) bool) bool {
	lines := f.HeadLines(10)
	hits := 0
	for _, l := range lines {
		if match(l) {
			hits++
		}
	}
	if len(lines) < min {
		return hits > 0 && hits == len(lines)
	}
	return hits >= min
}
