package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	evtxFileMagic  = []byte("ElfFile\x00")
	evtxChunkMagic = []byte("ElfChnk\x00")
)

const (
	// evtxMaxBytes bounds how much of a binary log is carved for strings.
	evtxMaxBytes = 64 << 20
	// evtxMinRunes is the shortest UTF-16 run kept as a carved string.
	evtxMinRunes = 8
)

// winEventInfo describes a well-known security event ID.
type winEventInfo struct {
	eventType string
	severity  model.Severity
	summary   string
}

var winEventIDs = map[int]winEventInfo{
	1102: {"log_cleared", model.SeverityCritical, "Security audit log was cleared"},
	4624: {"authentication_success", model.SeverityLow, "Successful logon"},
	4625: {"authentication_failure", model.SeverityMedium, "Failed logon"},
	4634: {"logoff", model.SeverityLow, "Account logged off"},
	4648: {"explicit_credential_use", model.SeverityMedium, "Logon attempted with explicit credentials"},
	4672: {"privilege_escalation", model.SeverityMedium, "Special privileges assigned to new logon"},
	4688: {"process_creation", model.SeverityLow, "New process created"},
	4697: {"service_installation", model.SeverityCritical, "Service installed in the system"},
	4720: {"account_created", model.SeverityMedium, "User account created"},
	4726: {"account_deleted", model.SeverityMedium, "User account deleted"},
	4732: {"group_membership_change", model.SeverityHigh, "Member added to security-enabled local group"},
	4740: {"account_lockout", model.SeverityMedium, "User account locked out"},
	7045: {"service_installation", model.SeverityCritical, "New service installed"},
}

// suspiciousCommandTokens raise a 4688 process creation to High.
var suspiciousCommandTokens = []string{
	"mimikatz", "-encodedcommand", "-enc ", "invoke-expression", "iex(", "downloadstring",
	"bypass", "vssadmin delete", "wevtutil cl", "certutil -urlcache", "rundll32", "regsvr32 /s",
	"procdump", "lsass",
}

// WindowsEventParser handles exported Windows event logs: XML renderings of <Event>
// records, and binary .evtx files which are only carved for strings.
type WindowsEventParser struct {
	base
}

// NewWindowsEventParser creates a WindowsEventParser.
func NewWindowsEventParser(opts Options) *WindowsEventParser {
	return &WindowsEventParser{base: newBase("Windows Event Log", 90, opts)}
}

func (p *WindowsEventParser) CanParse(f *File) bool {
	if hasExt(f, ".evtx") {
		return true
	}
	if m := f.Magic(); len(m) >= len(evtxFileMagic) && bytes.Equal(m[:len(evtxFileMagic)], evtxFileMagic) {
		return true
	}
	if hasExt(f, ".xml") {
		return bytes.Contains(f.Head(), []byte("<Event"))
	}
	return false
}

func (p *WindowsEventParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	m := f.Magic()
	if hasExt(f, ".evtx") || (len(m) >= len(evtxFileMagic) && bytes.Equal(m[:len(evtxFileMagic)], evtxFileMagic)) {
		return p.parseBinary(ctx, f)
	}
	return p.parseXML(ctx, f)
}

type xmlEvent struct {
	System struct {
		Provider struct {
			Name string `xml:"Name,attr"`
		} `xml:"Provider"`
		EventID     string `xml:"EventID"`
		Level       string `xml:"Level"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
		Computer string `xml:"Computer"`
		Channel  string `xml:"Channel"`
	} `xml:"System"`
	EventData struct {
		Data []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"EventData"`
	RenderingInfo struct {
		Message string `xml:"Message"`
	} `xml:"RenderingInfo"`
}

func (p *WindowsEventParser) parseXML(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	fnd, err := p.newFindings(f)
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	dec.Strict = false
	// Exports declare UTF-16 even after the reader has already decoded to UTF-8.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	ids := make(map[string]int)
	records := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if records == 0 {
				return nil, newParseError(p.typ, f, fmt.Errorf("xml: %w", err))
			}
			fnd.Partial = true
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Event" {
			continue
		}
		var ev xmlEvent
		if err := dec.DecodeElement(&ev, &start); err != nil {
			fnd.Partial = true
			break
		}
		records++
		if records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, newParseError(p.typ, f, err)
			}
		}
		ids[strings.TrimSpace(ev.System.EventID)]++
		p.addXMLEvent(fnd, ev)
	}

	fnd.TotalLines = records
	fnd.RawData["records"] = records
	fnd.RawData["event_ids"] = ids
	return fnd, nil
}

func (p *WindowsEventParser) addXMLEvent(fnd *model.TechnicalFindings, ev xmlEvent) {
	id, _ := strconv.Atoi(strings.TrimSpace(ev.System.EventID))
	attrs := map[string]string{
		"event_id": strconv.Itoa(id),
		"provider": ev.System.Provider.Name,
		"computer": ev.System.Computer,
	}
	if ev.System.Channel != "" {
		attrs["channel"] = ev.System.Channel
	}
	var texts []string
	for _, d := range ev.EventData.Data {
		v := strings.TrimSpace(d.Value)
		if d.Name == "" || v == "" || v == "-" {
			continue
		}
		attrs[strings.ToLower(d.Name)] = v
		texts = append(texts, v)
	}
	if v := attrs["ipaddress"]; v != "" && p.iocs.ValidIP(v) {
		attrs["ip"] = v
	}
	if v := attrs["targetusername"]; v != "" {
		attrs["user"] = v
	}
	message := strings.TrimSpace(ev.RenderingInfo.Message)
	fnd.AddIOCs(p.iocs.Extract(strings.Join(texts, " ") + " " + message))

	ts, ok := ParseTimestamp(ev.System.TimeCreated.SystemTime, p.now())
	if !ok {
		ts = p.nowUTC()
	}

	info, known := winEventIDs[id]
	if !known {
		// Windows levels: 1 critical, 2 error, 3 warning.
		text := message + " " + strings.Join(texts, " ")
		switch strings.TrimSpace(ev.System.Level) {
		case "1":
			info = winEventInfo{ClassifyEventType(text), model.SeverityHigh, ""}
		case "2":
			info = winEventInfo{ClassifyEventType(text), model.SeverityMedium, ""}
		default:
			if !IsSecurityRelevant(text) {
				return
			}
			info = winEventInfo{ClassifyEventType(text), SeverityFromText(text), ""}
		}
	}

	sev := info.severity
	switch id {
	case 4624:
		// Remote interactive (10) and network (3) logons from a routable source matter more.
		if lt := attrs["logontype"]; lt == "10" || (lt == "3" && attrs["ip"] != "") {
			sev = model.SeverityMedium
		}
	case 4688:
		cmd := strings.ToLower(attrs["commandline"] + " " + attrs["newprocessname"])
		for _, tok := range suspiciousCommandTokens {
			if strings.Contains(cmd, tok) {
				sev = model.SeverityHigh
				info.eventType = "suspicious_process"
				break
			}
		}
	}

	desc := info.summary
	if desc == "" {
		desc = fmt.Sprintf("Event %d from %s", id, ev.System.Provider.Name)
	}
	if message != "" {
		desc += ": " + message
	} else if u := attrs["user"]; u != "" {
		desc += " for " + u
		if ip := attrs["ip"]; ip != "" {
			desc += " from " + ip
		}
	}
	fnd.AddEvent(p.event(ts, info.eventType, desc, sev, attrs))
}

// parseBinary carves UTF-16LE strings out of an .evtx file. Record structure (BinXML) is
// not decoded, so findings are always marked Partial.
func (p *WindowsEventParser) parseBinary(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	fnd, err := p.newFindings(f)
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	fnd.Partial = true

	rc, err := f.OpenRaw()
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, evtxMaxBytes))
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	if len(data) == 0 {
		return fnd, nil
	}
	if !bytes.HasPrefix(data, evtxFileMagic) {
		return nil, newParseError(p.typ, f, errors.New("missing ElfFile header"))
	}
	if err := ctx.Err(); err != nil {
		return nil, newParseError(p.typ, f, err)
	}

	fnd.RawData["chunks"] = bytes.Count(data, evtxChunkMagic)
	strs := carveUTF16(data, evtxMinRunes)
	fnd.RawData["carved_strings"] = len(strs)
	fnd.TotalLines = len(strs)

	seen := make(map[string]bool)
	for i, s := range strs {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, newParseError(p.typ, f, err)
			}
		}
		fnd.AddIOCs(p.iocs.Extract(s))
		if seen[s] || !IsSecurityRelevant(s) {
			continue
		}
		seen[s] = true
		attrs := map[string]string{"carved": "true"}
		if ip := p.iocs.FirstIP(s); ip != "" {
			attrs["ip"] = ip
		}
		fnd.AddEvent(p.event(p.timestamp(s), ClassifyEventType(s), s, SeverityFromText(s), attrs))
	}
	return fnd, nil
}

// carveUTF16 returns runs of printable UTF-16LE characters at least minRunes long.
func carveUTF16(data []byte, minRunes int) []string {
	var out []string
	var run []uint16
	flush := func() {
		if len(run) >= minRunes {
			out = append(out, strings.TrimSpace(string(utf16.Decode(run))))
		}
		run = run[:0]
	}
	for align := 0; align < 2; align++ {
		for i := align; i+1 < len(data); i += 2 {
			c := binary.LittleEndian.Uint16(data[i : i+2])
			if c == '\t' || (c >= 0x20 && c < 0x7f) || (c >= 0xa0 && c < 0xd800) {
				run = append(run, c)
				continue
			}
			flush()
		}
		flush()
	}
	return out
}
