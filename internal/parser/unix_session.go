package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

// glibc struct utmp on 64-bit Linux.
const (
	utmpRecordSize = 384
	utmpLineOff    = 8
	utmpUserOff    = 44
	utmpHostOff    = 76
	utmpSecOff     = 340
	utmpAddrOff    = 348

	utEmpty       = 0
	utBootTime    = 2
	utLoginProc   = 6
	utUserProcess = 7
	utDeadProcess = 8
	utAccounting  = 9
)

const sessionBruteForce = 5

var lastLineRe = regexp.MustCompile(`^(\S+)\s+(system boot|\S+)\s+(?:(\S+)\s+)?(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun)\s+(\w{3})\s+(\d{1,2})\s+(\d{2}:\d{2}(?::\d{2})?)(?:\s+(\d{4}))?`)

// UnixSessionParser reads binary wtmp/btmp/utmp accounting files and the text output
// of last and lastb.
type UnixSessionParser struct {
	base
}

// NewUnixSessionParser creates a UnixSessionParser.
func NewUnixSessionParser(opts Options) *UnixSessionParser {
	return &UnixSessionParser{base: newBase("Unix Session Log", 80, opts)}
}

func sessionKind(name string) (binaryName, failed bool) {
	for _, prefix := range []string{"wtmp", "btmp", "utmp"} {
		if strings.HasPrefix(name, prefix) {
			return true, prefix == "btmp"
		}
	}
	return false, strings.HasPrefix(name, "lastb")
}

func (p *UnixSessionParser) CanParse(f *File) bool {
	name := f.BaseName()
	if bin, _ := sessionKind(name); bin {
		return true
	}
	if hasExt(f, ".wtmp", ".btmp", ".utmp") {
		return true
	}
	if strings.HasPrefix(name, "last") && f.IsText() {
		return headMatches(f, 2, lastLineRe.MatchString)
	}
	return false
}

func (p *UnixSessionParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	name := f.BaseName()
	_, failed := sessionKind(name)
	if strings.Contains(name, "btmp") || f.Ext() == ".btmp" {
		failed = true
	}
	// Binary records always carry NUL padding, so text content means last(1) output.
	if f.IsText() {
		return p.parseText(ctx, f, failed)
	}
	return p.parseBinary(ctx, f, failed)
}

type utmpRecord struct {
	typ  int16
	line string
	user string
	host string
	ts   time.Time
	addr string
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func decodeUtmp(rec []byte) utmpRecord {
	r := utmpRecord{
		typ:  int16(binary.LittleEndian.Uint16(rec[0:2])),
		line: cString(rec[utmpLineOff : utmpLineOff+32]),
		user: cString(rec[utmpUserOff : utmpUserOff+32]),
		host: cString(rec[utmpHostOff : utmpHostOff+256]),
		ts:   time.Unix(int64(int32(binary.LittleEndian.Uint32(rec[utmpSecOff:utmpSecOff+4]))), 0).UTC(),
	}
	addr := rec[utmpAddrOff : utmpAddrOff+16]
	if !bytes.Equal(addr[4:], make([]byte, 12)) {
		r.addr = net.IP(addr).String()
	} else if !bytes.Equal(addr[:4], make([]byte, 4)) {
		r.addr = net.IPv4(addr[0], addr[1], addr[2], addr[3]).String()
	}
	return r
}

func (p *UnixSessionParser) parseBinary(ctx context.Context, f *File, failed bool) (*model.TechnicalFindings, error) {
	fnd, err := p.newFindings(f)
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	rc, err := f.OpenRaw()
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	defer rc.Close()

	tracker := newFailureTracker()
	buf := make([]byte, utmpRecordSize)
	records := 0
	for {
		_, err := io.ReadFull(rc, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			fnd.Partial = true
			fnd.RawData["trailing_bytes"] = true
			break
		}
		if err != nil {
			return nil, newParseError(p.typ, f, err)
		}
		records++
		if records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, newParseError(p.typ, f, err)
			}
		}

		rec := decodeUtmp(buf)
		if rec.typ < utEmpty || rec.typ > utAccounting {
			fnd.Partial = true
			continue
		}
		p.addSession(fnd, tracker, rec, failed)
	}
	fnd.TotalLines = records
	fnd.RawData["records"] = records
	tracker.flush(p.base, fnd)
	return fnd, nil
}

func (p *UnixSessionParser) addSession(fnd *model.TechnicalFindings, tracker *failureTracker, rec utmpRecord, failed bool) {
	attrs := map[string]string{}
	if rec.user != "" {
		attrs["user"] = rec.user
	}
	if rec.line != "" {
		attrs["tty"] = rec.line
	}
	if rec.host != "" {
		attrs["host"] = rec.host
	}
	ip := rec.addr
	if ip == "" || !p.iocs.ValidIP(ip) {
		ip = p.iocs.FirstIP(rec.host)
	}
	if ip != "" && p.iocs.ValidIP(ip) {
		attrs["ip"] = ip
	}
	fnd.AddIOCs(p.iocs.Extract(rec.host + " " + ip))

	switch {
	case rec.typ == utBootTime:
		fnd.AddEvent(p.event(rec.ts, "system_boot", "System boot", model.SeverityLow, attrs))
	case failed && (rec.typ == utUserProcess || rec.typ == utLoginProc):
		fnd.AddEvent(p.event(rec.ts, "authentication_failure",
			fmt.Sprintf("Failed login for %s on %s from %s", rec.user, rec.line, hostOrLocal(rec.host)), model.SeverityMedium, attrs))
		tracker.add(attrs["ip"], rec.ts)
	case rec.typ == utUserProcess:
		sev := model.SeverityLow
		if rec.user == "root" && rec.host != "" {
			sev = model.SeverityMedium
		}
		fnd.AddEvent(p.event(rec.ts, "authentication_success",
			fmt.Sprintf("Login by %s on %s from %s", rec.user, rec.line, hostOrLocal(rec.host)), sev, attrs))
	case rec.typ == utDeadProcess && rec.line != "":
		fnd.AddEvent(p.event(rec.ts, "logoff", fmt.Sprintf("Session ended on %s", rec.line), model.SeverityLow, attrs))
	}
}

func hostOrLocal(h string) string {
	if h == "" {
		return "local console"
	}
	return h
}

func (p *UnixSessionParser) parseText(ctx context.Context, f *File, failed bool) (*model.TechnicalFindings, error) {
	tracker := newFailureTracker()
	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		if strings.HasPrefix(line, "wtmp begins") || strings.HasPrefix(line, "btmp begins") {
			return
		}
		m := lastLineRe.FindStringSubmatch(line)
		if m == nil {
			return
		}
		rec := utmpRecord{typ: utUserProcess, user: m[1], line: m[2], host: m[3]}
		if rec.user == "reboot" {
			rec.typ = utBootTime
		}
		year := m[7]
		if year == "" {
			year = strconv.Itoa(p.now().Year())
		}
		clock := m[6]
		if len(clock) == 5 {
			clock += ":00"
		}
		stamp := fmt.Sprintf("%s %s %s %s", m[4], m[5], year, clock)
		if ts, ok := ParseTimestamp(stamp, p.now()); ok {
			rec.ts = ts.UTC()
		} else {
			rec.ts = p.nowUTC()
		}
		p.addSession(fnd, tracker, rec, failed)
	})
	if err != nil {
		return nil, err
	}
	tracker.flush(p.base, fnd)
	return fnd, nil
}

// failureTracker counts failed logins per source to raise a brute force event.
type failureTracker struct {
	counts map[string]int
	last   map[string]time.Time
	order  []string
}

func newFailureTracker() *failureTracker {
	return &failureTracker{counts: make(map[string]int), last: make(map[string]time.Time)}
}

func (t *failureTracker) add(ip string, ts time.Time) {
	if ip == "" {
		return
	}
	if t.counts[ip] == 0 {
		t.order = append(t.order, ip)
	}
	t.counts[ip]++
	if ts.After(t.last[ip]) {
		t.last[ip] = ts
	}
}

func (t *failureTracker) flush(b base, fnd *model.TechnicalFindings) {
	for _, ip := range t.order {
		n := t.counts[ip]
		if n < sessionBruteForce {
			continue
		}
		fnd.AddEvent(b.event(t.last[ip], "brute_force",
			fmt.Sprintf("%d failed logins from %s", n, ip), model.SeverityHigh,
			map[string]string{"ip": ip, "failures": strconv.Itoa(n)}))
	}
}
