package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/iyulab/log-coroner/internal/model"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func dispatch(t *testing.T, f *File, wantType string) *model.TechnicalFindings {
	t.Helper()
	reg := Default(nil, testOptions(), nil)
	if got := reg.DetectType(f); got != wantType {
		t.Fatalf("DetectType(%s) = %q, want %q", f.Name, got, wantType)
	}
	fnd, err := reg.Dispatch(context.Background(), f)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", f.Name, err)
	}
	if fnd.ParserType != wantType {
		t.Fatalf("ParserType = %q, want %q", fnd.ParserType, wantType)
	}
	return fnd
}

func eventsOfType(fnd *model.TechnicalFindings, typ string) []model.SecurityEvent {
	var out []model.SecurityEvent
	for _, ev := range fnd.SecurityEvents {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

func hasIOC(fnd *model.TechnicalFindings, ioc string) bool {
	for _, v := range fnd.IOCs {
		if v == ioc {
			return true
		}
	}
	return false
}

func TestEmptyLogYieldsNoEvents(t *testing.T) {
	f := writeFixture(t, "empty.log", nil)
	fnd := dispatch(t, f, "Text Log")
	if len(fnd.SecurityEvents) != 0 {
		t.Errorf("expected no events, got %d", len(fnd.SecurityEvents))
	}
	if fnd.Metadata.SHA256 != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("SHA256 = %s", fnd.Metadata.SHA256)
	}
}

func TestTextParserKeywordLines(t *testing.T) {
	data := "2024-03-10 09:00:00 service started\n" +
		"2024-03-10 09:01:00 failed login for admin from 203.0.113.5\n" +
		"2024-03-10 09:02:00 scanner finished\n"
	fnd := dispatch(t, writeFixture(t, "app.txt", []byte(data)), "Text Log")
	if len(fnd.SecurityEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fnd.SecurityEvents))
	}
	ev := fnd.SecurityEvents[0]
	if ev.EventType != "authentication_failure" {
		t.Errorf("EventType = %q", ev.EventType)
	}
	if ev.Severity != model.SeverityMedium {
		t.Errorf("Severity = %q", ev.Severity)
	}
	if !ev.Timestamp.Equal(time.Date(2024, 3, 10, 9, 1, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
	if ev.Attributes["ip"] != "203.0.113.5" {
		t.Errorf("ip attribute = %q", ev.Attributes["ip"])
	}
	if fnd.TotalLines != 3 {
		t.Errorf("TotalLines = %d", fnd.TotalLines)
	}
}

func TestOversizedLineIsTruncated(t *testing.T) {
	data := "2024-03-10 10:00:00 failed login from 8.8.8.8\n" +
		strings.Repeat("A", 2<<20) + "\n" +
		"2024-03-10 10:00:02 access denied for 8.8.4.4\n"
	fnd := dispatch(t, writeFixture(t, "app.log", []byte(data)), "Text Log")
	if fnd.RawData["truncated_lines"] != 1 {
		t.Errorf("truncated_lines = %v", fnd.RawData["truncated_lines"])
	}
	if fnd.TotalLines != 3 {
		t.Errorf("TotalLines = %d", fnd.TotalLines)
	}
	if len(fnd.SecurityEvents) != 2 {
		t.Errorf("expected 2 events, got %d", len(fnd.SecurityEvents))
	}
	for _, ioc := range []string{"IP: 8.8.8.8", "IP: 8.8.4.4"} {
		if !hasIOC(fnd, ioc) {
			t.Errorf("missing IOC %q in %v", ioc, fnd.IOCs)
		}
	}
}

func TestCSVFailedLogins(t *testing.T) {
	data := "timestamp,src_ip,message,severity\n" +
		"2024-03-10 09:15:01,10.0.0.5,failed login for admin,medium\n" +
		"2024-03-10 09:15:20,10.0.0.5,failed login for admin,medium\n" +
		"2024-03-10 09:15:45,10.0.0.5,failed login for root,medium\n" +
		"2024-03-10 09:16:00,10.0.0.9,backup completed,low\n"
	fnd := dispatch(t, writeFixture(t, "auth_events.csv", []byte(data)), "CSV Log")
	if len(fnd.SecurityEvents) != 3 {
		t.Fatalf("expected 3 events, got %d", len(fnd.SecurityEvents))
	}
	for _, ev := range fnd.SecurityEvents {
		if ev.Attributes["src_ip"] != "10.0.0.5" {
			t.Errorf("src_ip = %q", ev.Attributes["src_ip"])
		}
		if ev.Timestamp.Minute() != 15 {
			t.Errorf("timestamp = %v", ev.Timestamp)
		}
		if ev.Severity != model.SeverityMedium {
			t.Errorf("severity = %q", ev.Severity)
		}
	}
	if !hasIOC(fnd, "IP: 10.0.0.5") {
		t.Errorf("IOCs = %v", fnd.IOCs)
	}
	if fnd.TotalLines != 4 {
		t.Errorf("TotalLines = %d", fnd.TotalLines)
	}
}

func TestCSVExplicitHighSeverityWithoutKeyword(t *testing.T) {
	data := "time,action,level\n2024-03-10T10:00:00Z,config change,high\n"
	fnd := dispatch(t, writeFixture(t, "audit.csv", []byte(data)), "CSV Log")
	if len(fnd.SecurityEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fnd.SecurityEvents))
	}
	if fnd.SecurityEvents[0].EventType != "config change" {
		t.Errorf("EventType = %q", fnd.SecurityEvents[0].EventType)
	}
}

func TestJSONLines(t *testing.T) {
	data := `{"ts":"2024-03-10T08:00:00Z","level":"error","msg":"permission denied","client":{"ip":"198.51.100.4"}}
not json
{"ts":"2024-03-10T08:00:05Z","level":"info","msg":"heartbeat"}
`
	fnd := dispatch(t, writeFixture(t, "events.jsonl", []byte(data)), "JSON Log")
	if len(fnd.SecurityEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fnd.SecurityEvents))
	}
	ev := fnd.SecurityEvents[0]
	if ev.Attributes["client.ip"] != "198.51.100.4" {
		t.Errorf("flattened attribute missing: %v", ev.Attributes)
	}
	if ev.Description != "permission denied" {
		t.Errorf("Description = %q", ev.Description)
	}
	if fnd.RawData["malformed_records"] != 1 {
		t.Errorf("malformed_records = %v", fnd.RawData["malformed_records"])
	}
}

func TestJSONArray(t *testing.T) {
	data := `[{"time":"2024-03-10T08:00:00Z","message":"malware detected on host"},{"message":"ok"}]`
	fnd := dispatch(t, writeFixture(t, "alerts.json", []byte(data)), "JSON Log")
	if len(fnd.SecurityEvents) != 1 || fnd.SecurityEvents[0].EventType != "malware" {
		t.Fatalf("events = %+v", fnd.SecurityEvents)
	}
	if fnd.SecurityEvents[0].Severity != model.SeverityHigh {
		t.Errorf("Severity = %q", fnd.SecurityEvents[0].Severity)
	}
}

func TestSyslogAuth(t *testing.T) {
	data := "Mar 10 09:15:01 web1 sshd[811]: Failed password for invalid user oracle from 203.0.113.7 port 52211 ssh2\n" +
		"Mar 10 09:16:01 web1 sshd[812]: Accepted publickey for deploy from 198.51.100.20 port 40022 ssh2\n" +
		"Mar 10 09:17:01 web1 CRON[900]: (root) CMD (run-parts /etc/cron.hourly)\n" +
		"<34>Mar 10 09:18:01 web1 kernel: disk controller reset\n"
	fnd := dispatch(t, writeFixture(t, "auth.log", []byte(data)), "Syslog")

	fails := eventsOfType(fnd, "authentication_failure")
	if len(fails) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(fails))
	}
	if fails[0].Attributes["ip"] != "203.0.113.7" || fails[0].Attributes["user"] != "oracle" {
		t.Errorf("attributes = %v", fails[0].Attributes)
	}
	if !fails[0].Timestamp.Equal(time.Date(2024, 3, 10, 9, 15, 1, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", fails[0].Timestamp)
	}
	if len(eventsOfType(fnd, "authentication_success")) != 1 {
		t.Error("expected accepted login event")
	}
	var critical int
	for _, ev := range fnd.SecurityEvents {
		if ev.Severity == model.SeverityCritical {
			critical++
		}
	}
	if critical != 1 {
		t.Errorf("expected PRI 34 line to be critical, got %d critical events", critical)
	}
	if len(fnd.SecurityEvents) != 3 {
		t.Errorf("expected 3 events, got %d", len(fnd.SecurityEvents))
	}
}

func TestSyslogSudo(t *testing.T) {
	data := "Mar 10 10:00:00 web1 sudo:    alice : TTY=pts/0 ; PWD=/home/alice ; USER=root ; COMMAND=/bin/bash\n" +
		"Mar 10 10:00:05 web1 sudo:    mallory : user NOT in sudoers ; TTY=pts/1 ; PWD=/tmp ; USER=root ; COMMAND=/bin/cat /etc/shadow\n"
	fnd := dispatch(t, writeFixture(t, "secure", []byte(data)), "Syslog")
	priv := eventsOfType(fnd, "privilege_escalation")
	if len(priv) != 2 {
		t.Fatalf("expected 2 privilege events, got %d", len(priv))
	}
	if priv[1].Severity != model.SeverityHigh {
		t.Errorf("sudoers violation severity = %q", priv[1].Severity)
	}
	if priv[0].Attributes["command"] != "/bin/bash" {
		t.Errorf("command = %q", priv[0].Attributes["command"])
	}
}

func TestWebAccessAttacks(t *testing.T) {
	lines := []string{
		`203.0.113.9 - - [10/Mar/2024:09:15:01 +0000] "GET /products?id=1%20UNION%20SELECT%20password%20FROM%20users HTTP/1.1" 200 512 "-" "Mozilla/5.0"`,
		`203.0.113.9 - - [10/Mar/2024:09:15:02 +0000] "GET /../../etc/passwd HTTP/1.1" 404 0 "-" "Mozilla/5.0"`,
		`198.51.100.3 - - [10/Mar/2024:09:15:03 +0000] "GET / HTTP/1.1" 200 1024 "-" "sqlmap/1.7"`,
		`198.51.100.4 - bob [10/Mar/2024:09:15:04 +0000] "GET /admin HTTP/1.1" 403 12 "-" "curl/8.0"`,
		`192.0.2.1 - - [10/Mar/2024:09:15:05 +0000] "GET /index.html HTTP/1.1" 200 1024 "-" "Mozilla/5.0"`,
	}
	fnd := dispatch(t, writeFixture(t, "access.log", []byte(strings.Join(lines, "\n")+"\n")), "Web Access Log")

	sqli := eventsOfType(fnd, "sql_injection")
	if len(sqli) != 1 || sqli[0].Severity != model.SeverityCritical {
		t.Fatalf("sql injection events = %+v", sqli)
	}
	if sqli[0].Attributes["ip"] != "203.0.113.9" || sqli[0].Attributes["method"] != "GET" {
		t.Errorf("attributes = %v", sqli[0].Attributes)
	}
	if !sqli[0].Timestamp.Equal(time.Date(2024, 3, 10, 9, 15, 1, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", sqli[0].Timestamp)
	}
	if len(eventsOfType(fnd, "path_traversal")) != 1 {
		t.Error("expected path traversal event")
	}
	if len(eventsOfType(fnd, "scanner_activity")) != 1 {
		t.Error("expected scanner event")
	}
	denied := eventsOfType(fnd, "access_denied")
	if len(denied) != 1 || denied[0].Attributes["user"] != "bob" {
		t.Errorf("access denied events = %+v", denied)
	}
	if len(fnd.SecurityEvents) != 4 {
		t.Errorf("expected 4 events, got %d", len(fnd.SecurityEvents))
	}
}

func TestWebAccessBurst(t *testing.T) {
	var b strings.Builder
	for i := 0; i < webBurstThreshold; i++ {
		b.WriteString(`203.0.113.50 - - [10/Mar/2024:09:15:01 +0000] "GET /missing HTTP/1.1" 404 0 "-" "Mozilla/5.0"` + "\n")
	}
	fnd := dispatch(t, writeFixture(t, "access_log", []byte(b.String())), "Web Access Log")
	recon := eventsOfType(fnd, "reconnaissance")
	if len(recon) != 1 || recon[0].Attributes["ip"] != "203.0.113.50" {
		t.Fatalf("reconnaissance events = %+v", recon)
	}
}

func TestFirewallBlocksAndPortScan(t *testing.T) {
	var b strings.Builder
	for port := 20; port < 20+portScanThreshold; port++ {
		b.WriteString("Mar 10 09:15:01 gw kernel: [12345.678] [UFW BLOCK] IN=eth0 OUT= MAC=00:11 SRC=203.0.113.66 DST=192.0.2.10 LEN=44 PROTO=TCP SPT=40000 DPT=")
		b.WriteString(strconv.Itoa(port))
		b.WriteString(" WINDOW=1024 SYN URGP=0\n")
	}
	b.WriteString("Mar 10 09:16:01 gw kernel: [UFW ALLOW] IN=eth0 SRC=198.51.100.8 DST=192.0.2.10 PROTO=TCP SPT=50000 DPT=22\n")
	fnd := dispatch(t, writeFixture(t, "ufw.log", []byte(b.String())), "Firewall Log")

	if got := len(eventsOfType(fnd, "firewall_block")); got != portScanThreshold {
		t.Errorf("block events = %d, want %d", got, portScanThreshold)
	}
	scans := eventsOfType(fnd, "port_scan")
	if len(scans) != 1 || scans[0].Attributes["ip"] != "203.0.113.66" {
		t.Fatalf("port scan events = %+v", scans)
	}
	allowed := eventsOfType(fnd, "firewall_allow_sensitive")
	if len(allowed) != 1 || allowed[0].Attributes["service"] != "ssh" {
		t.Errorf("allow events = %+v", allowed)
	}
}

func TestDNSHeuristics(t *testing.T) {
	tunnel := strings.Repeat("a1b2c3d4e5", 6) + ".t.example.com"
	lines := []string{
		"10-Mar-2024 09:15:01.123 client @0x7f1 192.0.2.50#53211 (" + tunnel + "): query: " + tunnel + " IN TXT + (10.0.0.1)",
		"10-Mar-2024 09:15:02.123 client @0x7f1 192.0.2.50#53212 (update.example.xyz): query: update.example.xyz IN A + (10.0.0.1)",
		"10-Mar-2024 09:15:03.123 client @0x7f1 192.0.2.51#53213 (www.example.com): query: www.example.com IN A + (10.0.0.1)",
	}
	fnd := dispatch(t, writeFixture(t, "query.log", []byte(strings.Join(lines, "\n")+"\n")), "DNS Log")
	tunnels := eventsOfType(fnd, "dns_tunneling")
	if len(tunnels) != 1 || tunnels[0].Severity != model.SeverityHigh {
		t.Fatalf("tunneling events = %+v", tunnels)
	}
	if tunnels[0].Attributes["ip"] != "192.0.2.50" {
		t.Errorf("ip = %q", tunnels[0].Attributes["ip"])
	}
	if len(eventsOfType(fnd, "suspicious_domain")) != 1 {
		t.Error("expected suspicious TLD event")
	}
	if len(fnd.SecurityEvents) != 2 {
		t.Errorf("expected 2 events, got %d", len(fnd.SecurityEvents))
	}
}

func TestLabelEntropy(t *testing.T) {
	if e := labelEntropy("aaaaaaaa"); e != 0 {
		t.Errorf("entropy of repeated rune = %v", e)
	}
	if e := labelEntropy("abcd"); e != 2 {
		t.Errorf("entropy of abcd = %v", e)
	}
}

func TestMailAuthFailure(t *testing.T) {
	data := "Mar 10 09:15:01 mx postfix/smtpd[2211]: warning: unknown[198.51.100.23]: SASL LOGIN authentication failed: UGFzc3dvcmQ6\n" +
		"Mar 10 09:15:02 mx postfix/smtpd[2211]: NOQUEUE: reject: RCPT from unknown[198.51.100.24]: 554 5.7.1 <x@victim.example>: Relay access denied; from=<spam@bad.example> to=<x@victim.example> proto=ESMTP helo=<bad>\n" +
		"Mar 10 09:15:03 mx postfix/qmgr[100]: 4F2A1: from=<alice@corp.example>, size=1200, nrcpt=1 (queue active)\n"
	fnd := dispatch(t, writeFixture(t, "maillog", []byte(data)), "Mail Log")
	auth := eventsOfType(fnd, "authentication_failure")
	if len(auth) != 1 || auth[0].Attributes["ip"] != "198.51.100.23" {
		t.Fatalf("auth failures = %+v", auth)
	}
	relay := eventsOfType(fnd, "relay_denied")
	if len(relay) != 1 || relay[0].Attributes["from"] != "spam@bad.example" {
		t.Fatalf("relay events = %+v", relay)
	}
	if !hasIOC(fnd, "Email: spam@bad.example") {
		t.Errorf("IOCs = %v", fnd.IOCs)
	}
	if len(fnd.SecurityEvents) != 2 {
		t.Errorf("expected 2 events, got %d", len(fnd.SecurityEvents))
	}
}

func TestDatabaseLog(t *testing.T) {
	data := "2024-03-10T09:15:01.123456Z 12 [Warning] [MY-010055] [Server] Access denied for user 'root'@'203.0.113.9' (using password: YES)\n" +
		"2024-03-10T09:15:02.000000Z 13 [Note] [MY-010000] [Server] Query: SELECT * FROM users WHERE id=1 UNION SELECT password FROM admins\n" +
		"2024-03-10T09:15:03.000000Z 14 [Note] [MY-010000] [Server] Query: GRANT ALL PRIVILEGES ON *.* TO 'x'@'%'\n"
	fnd := dispatch(t, writeFixture(t, "mysql-error.log", []byte(data)), "Database Log")
	denied := eventsOfType(fnd, "authentication_failure")
	if len(denied) != 1 || denied[0].Attributes["user"] != "root" || denied[0].Attributes["ip"] != "203.0.113.9" {
		t.Fatalf("denied events = %+v", denied)
	}
	sqli := eventsOfType(fnd, "sql_injection")
	if len(sqli) != 1 || sqli[0].Severity != model.SeverityCritical {
		t.Fatalf("sql injection events = %+v", sqli)
	}
	if len(eventsOfType(fnd, "privilege_change")) != 1 {
		t.Error("expected privilege change event")
	}
}

func utmpRecordBytes(typ int16, line, user, host string, sec int32, addr [4]byte) []byte {
	rec := make([]byte, utmpRecordSize)
	binary.LittleEndian.PutUint16(rec[0:2], uint16(typ))
	copy(rec[utmpLineOff:], line)
	copy(rec[utmpUserOff:], user)
	copy(rec[utmpHostOff:], host)
	binary.LittleEndian.PutUint32(rec[utmpSecOff:], uint32(sec))
	copy(rec[utmpAddrOff:], addr[:])
	return rec
}

func TestUnixSessionBtmp(t *testing.T) {
	var buf bytes.Buffer
	start := int32(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC).Unix())
	for i := int32(0); i < sessionBruteForce; i++ {
		buf.Write(utmpRecordBytes(utLoginProc, "ssh:notty", "admin", "203.0.113.77", start+i, [4]byte{203, 0, 113, 77}))
	}
	fnd := dispatch(t, writeFixture(t, "btmp", buf.Bytes()), "Unix Session Log")

	fails := eventsOfType(fnd, "authentication_failure")
	if len(fails) != sessionBruteForce {
		t.Fatalf("failures = %d, want %d", len(fails), sessionBruteForce)
	}
	if fails[0].Attributes["ip"] != "203.0.113.77" || fails[0].Attributes["user"] != "admin" {
		t.Errorf("attributes = %v", fails[0].Attributes)
	}
	if fails[0].Timestamp.Unix() != int64(start) {
		t.Errorf("Timestamp = %v", fails[0].Timestamp)
	}
	if len(eventsOfType(fnd, "brute_force")) != 1 {
		t.Error("expected brute force event")
	}
	if fnd.TotalLines != sessionBruteForce || fnd.Partial {
		t.Errorf("TotalLines = %d, Partial = %v", fnd.TotalLines, fnd.Partial)
	}
}

func TestUnixSessionWtmpTruncated(t *testing.T) {
	rec := utmpRecordBytes(utUserProcess, "pts/0", "root", "198.51.100.2", 1710061200, [4]byte{198, 51, 100, 2})
	data := append(rec, make([]byte, 100)...)
	fnd := dispatch(t, writeFixture(t, "wtmp", data), "Unix Session Log")
	logins := eventsOfType(fnd, "authentication_success")
	if len(logins) != 1 || logins[0].Severity != model.SeverityMedium {
		t.Fatalf("logins = %+v", logins)
	}
	if !fnd.Partial {
		t.Error("expected Partial for trailing bytes")
	}
}

func TestUnixSessionLastOutput(t *testing.T) {
	data := "root     pts/0        198.51.100.2     Sun Mar 10 09:15   still logged in\n" +
		"bob      tty1                          Sun Mar 10 08:00 - 08:30  (00:30)\n" +
		"\nwtmp begins Fri Mar  1 00:00:01 2024\n"
	fnd := dispatch(t, writeFixture(t, "last.txt", []byte(data)), "Unix Session Log")
	logins := eventsOfType(fnd, "authentication_success")
	if len(logins) != 2 {
		t.Fatalf("logins = %d, want 2", len(logins))
	}
	if !logins[0].Timestamp.Equal(time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", logins[0].Timestamp)
	}
	if logins[0].Attributes["ip"] != "198.51.100.2" {
		t.Errorf("ip = %q", logins[0].Attributes["ip"])
	}
}

func pcapFixture(packets ...[]byte) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, pcapGlobalHeaderLen)
	copy(hdr[0:4], pcapMagicMicro)
	binary.LittleEndian.PutUint16(hdr[4:6], 2)
	binary.LittleEndian.PutUint16(hdr[6:8], 4)
	binary.LittleEndian.PutUint32(hdr[16:20], 65535)
	binary.LittleEndian.PutUint32(hdr[20:24], linkTypeEthernet)
	buf.Write(hdr)
	for i, pkt := range packets {
		rec := make([]byte, pcapRecordHeaderLen)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(1710061200+i))
		binary.LittleEndian.PutUint32(rec[8:12], uint32(len(pkt)))
		binary.LittleEndian.PutUint32(rec[12:16], uint32(len(pkt)))
		buf.Write(rec)
		buf.Write(pkt)
	}
	return buf.Bytes()
}

func tcpFrame(src, dst [4]byte, sport, dport uint16, flags byte) []byte {
	frame := make([]byte, 14+20+20)
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)
	ip := frame[14:]
	ip[0] = 0x45
	ip[9] = protoTCP
	copy(ip[12:16], src[:])
	copy(ip[16:20], dst[:])
	tcp := ip[20:]
	binary.BigEndian.PutUint16(tcp[0:2], sport)
	binary.BigEndian.PutUint16(tcp[2:4], dport)
	tcp[12] = 0x50
	tcp[13] = flags
	return frame
}

func TestPcapFlows(t *testing.T) {
	attacker := [4]byte{203, 0, 113, 10}
	server := [4]byte{192, 0, 2, 20}
	data := pcapFixture(
		tcpFrame(attacker, server, 40000, 4444, 0x02),
		tcpFrame(server, attacker, 4444, 40000, 0x12),
		tcpFrame(attacker, server, 40000, 4444, 0x10),
		tcpFrame(attacker, server, 40001, 80, 0x02),
	)
	fnd := dispatch(t, writeFixture(t, "capture.pcap", data), "Packet Capture")
	conns := eventsOfType(fnd, "network_connection")
	if len(conns) != 2 {
		t.Fatalf("flows = %d, want 2: %+v", len(conns), conns)
	}
	if conns[0].Severity != model.SeverityHigh || conns[0].Attributes["dpt"] != "4444" {
		t.Errorf("first flow = %+v", conns[0])
	}
	if conns[0].Attributes["ip"] != "203.0.113.10" {
		t.Errorf("ip = %q", conns[0].Attributes["ip"])
	}
	if !conns[0].Timestamp.Equal(time.Unix(1710061200, 0).UTC()) {
		t.Errorf("Timestamp = %v", conns[0].Timestamp)
	}
	if !hasIOC(fnd, "IP: 192.0.2.20") {
		t.Errorf("IOCs = %v", fnd.IOCs)
	}
	if fnd.TotalLines != 4 {
		t.Errorf("TotalLines = %d", fnd.TotalLines)
	}
}

func TestPcapngPartial(t *testing.T) {
	data := append([]byte{0x0a, 0x0d, 0x0d, 0x0a}, make([]byte, 28)...)
	fnd := dispatch(t, writeFixture(t, "trace.pcapng", data), "Packet Capture")
	if !fnd.Partial || len(fnd.SecurityEvents) != 0 {
		t.Errorf("Partial = %v, events = %d", fnd.Partial, len(fnd.SecurityEvents))
	}
}

const windowsXML = `<?xml version="1.0" encoding="UTF-8"?>
<Events>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing"/>
    <EventID>4625</EventID>
    <Level>0</Level>
    <TimeCreated SystemTime="2024-03-10T09:15:01.000Z"/>
    <Computer>DC01</Computer>
  </System>
  <EventData>
    <Data Name="TargetUserName">administrator</Data>
    <Data Name="IpAddress">203.0.113.44</Data>
    <Data Name="LogonType">3</Data>
  </EventData>
</Event>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Eventlog"/>
    <EventID>1102</EventID>
    <TimeCreated SystemTime="2024-03-10T09:20:00.000Z"/>
    <Computer>DC01</Computer>
  </System>
</Event>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing"/>
    <EventID>4688</EventID>
    <TimeCreated SystemTime="2024-03-10T09:21:00.000Z"/>
  </System>
  <EventData>
    <Data Name="NewProcessName">C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe</Data>
    <Data Name="CommandLine">powershell -EncodedCommand SQBFAFgA</Data>
  </EventData>
</Event>
</Events>`

func TestWindowsXMLExport(t *testing.T) {
	fnd := dispatch(t, writeFixture(t, "security.xml", []byte(windowsXML)), "Windows Event Log")
	if len(fnd.SecurityEvents) != 3 {
		t.Fatalf("expected 3 events, got %d", len(fnd.SecurityEvents))
	}
	failed := fnd.SecurityEvents[0]
	if failed.EventType != "authentication_failure" || failed.Attributes["ip"] != "203.0.113.44" || failed.Attributes["user"] != "administrator" {
		t.Errorf("failed logon = %+v", failed)
	}
	if !failed.Timestamp.Equal(time.Date(2024, 3, 10, 9, 15, 1, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", failed.Timestamp)
	}
	cleared := fnd.SecurityEvents[1]
	if cleared.EventType != "log_cleared" || cleared.Severity != model.SeverityCritical {
		t.Errorf("log cleared = %+v", cleared)
	}
	proc := fnd.SecurityEvents[2]
	if proc.EventType != "suspicious_process" || proc.Severity != model.SeverityHigh {
		t.Errorf("process = %+v", proc)
	}
}

func utf16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

func TestEvtxCarving(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(evtxFileMagic)
	buf.Write(make([]byte, 120))
	buf.Write(evtxChunkMagic)
	buf.Write(make([]byte, 8))
	buf.Write(utf16LE("An account failed to log on from 203.0.113.88"))
	buf.Write(make([]byte, 4))
	buf.Write(utf16LE("Routine heartbeat entry"))
	buf.Write(make([]byte, 4))

	fnd := dispatch(t, writeFixture(t, "Security.evtx", buf.Bytes()), "Windows Event Log")
	if !fnd.Partial {
		t.Error("binary evtx must be marked partial")
	}
	if len(fnd.SecurityEvents) != 1 {
		t.Fatalf("expected 1 carved event, got %d", len(fnd.SecurityEvents))
	}
	if fnd.SecurityEvents[0].Attributes["ip"] != "203.0.113.88" {
		t.Errorf("attributes = %v", fnd.SecurityEvents[0].Attributes)
	}
	if fnd.RawData["chunks"] != 1 {
		t.Errorf("chunks = %v", fnd.RawData["chunks"])
	}
}

func TestGzipAndZstdAreTransparent(t *testing.T) {
	line := "Mar 10 09:15:01 web1 sshd[811]: Failed password for root from 203.0.113.7 port 52211 ssh2\n"

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(line))
	zw.Close()
	fnd := dispatch(t, writeFixture(t, "auth.log.gz", gz.Bytes()), "Syslog")
	if len(fnd.SecurityEvents) != 1 {
		t.Errorf("gzip: expected 1 event, got %d", len(fnd.SecurityEvents))
	}
	if fnd.Metadata.MIMEType != "application/gzip" {
		t.Errorf("MIMEType = %q", fnd.Metadata.MIMEType)
	}

	var zs bytes.Buffer
	enc, err := zstd.NewWriter(&zs)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	enc.Write([]byte(line))
	enc.Close()
	fnd = dispatch(t, writeFixture(t, "auth.log.zst", zs.Bytes()), "Syslog")
	if len(fnd.SecurityEvents) != 1 {
		t.Errorf("zstd: expected 1 event, got %d", len(fnd.SecurityEvents))
	}
}

func TestUTF16TextIsDecoded(t *testing.T) {
	data := append([]byte{0xff, 0xfe}, utf16LE("failed login from 203.0.113.5\r\n")...)
	fnd := dispatch(t, writeFixture(t, "export.txt", data), "Text Log")
	if len(fnd.SecurityEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fnd.SecurityEvents))
	}
	if fnd.SecurityEvents[0].Description != "failed login from 203.0.113.5" {
		t.Errorf("Description = %q", fnd.SecurityEvents[0].Description)
	}
}
