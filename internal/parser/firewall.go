package parser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	kvRe        = regexp.MustCompile(`\b([A-Z]{2,6})=(\S*)`)
	ufwActionRe = regexp.MustCompile(`\[UFW (\w+)\]`)
	asaRe       = regexp.MustCompile(`%(?:ASA|FTD|PIX)-\d-(\d{6}):`)
	fwActionRe  = regexp.MustCompile(`(?i)\b(deny|denied|drop|dropped|block|blocked|reject|rejected|permit|permitted|allow|allowed|accept|accepted|built)\b`)
	endpointRe  = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})(?:[/:](\d{1,5}))`)
	protoRe     = regexp.MustCompile(`(?i)\b(tcp|udp|icmp)\b`)
)

// sensitivePorts are destination ports whose allowed traffic is still worth an event.
var sensitivePorts = map[string]string{
	"21": "ftp", "22": "ssh", "23": "telnet", "135": "msrpc", "139": "netbios", "445": "smb",
	"1433": "mssql", "3306": "mysql", "3389": "rdp", "4444": "metasploit", "5432": "postgres",
	"5900": "vnc", "6379": "redis", "9200": "elasticsearch",
}

// portScanThreshold is the number of distinct destination ports one source must touch
// before a port scan is reported.
const portScanThreshold = 10

var firewallNames = []string{"firewall", "ufw", "iptables", "pf.log", "pflog", "asa", "fw"}

// FirewallParser handles iptables/ufw kernel lines and ASA or pf style deny/permit logs.
type FirewallParser struct {
	base
}

// NewFirewallParser creates a FirewallParser.
func NewFirewallParser(opts Options) *FirewallParser {
	return &FirewallParser{base: newBase("Firewall Log", 65, opts)}
}

func isFirewallLine(l string) bool {
	if strings.Contains(l, "SRC=") && strings.Contains(l, "DST=") {
		return true
	}
	if asaRe.MatchString(l) {
		return true
	}
	return fwActionRe.MatchString(l) && len(endpointRe.FindAllString(l, 2)) == 2
}

func (p *FirewallParser) CanParse(f *File) bool {
	if !logLikeExt(f) {
		return false
	}
	if headMatches(f, 2, isFirewallLine) {
		return true
	}
	name := f.BaseName()
	for _, n := range firewallNames {
		if strings.HasPrefix(name, n) {
			return headMatches(f, 1, isFirewallLine) || len(f.Head()) == 0
		}
	}
	return false
}

type flow struct {
	action, proto, src, dst, spt, dpt, iface string
}

func (p *FirewallParser) decode(line string) (flow, bool) {
	var fl flow
	if strings.Contains(line, "SRC=") {
		kv := make(map[string]string)
		for _, m := range kvRe.FindAllStringSubmatch(line, -1) {
			if _, dup := kv[m[1]]; !dup {
				kv[m[1]] = m[2]
			}
		}
		fl = flow{proto: kv["PROTO"], src: kv["SRC"], dst: kv["DST"], spt: kv["SPT"], dpt: kv["DPT"], iface: kv["IN"]}
		if m := ufwActionRe.FindStringSubmatch(line); m != nil {
			fl.action = m[1]
		} else if m := fwActionRe.FindStringSubmatch(line); m != nil {
			fl.action = m[1]
		}
		return fl, fl.src != ""
	}

	eps := endpointRe.FindAllStringSubmatch(line, 2)
	if len(eps) < 2 {
		return flow{}, false
	}
	fl.src, fl.spt = eps[0][1], eps[0][2]
	fl.dst, fl.dpt = eps[1][1], eps[1][2]
	if m := fwActionRe.FindStringSubmatch(line); m != nil {
		fl.action = m[1]
	}
	if m := protoRe.FindStringSubmatch(line); m != nil {
		fl.proto = m[1]
	}
	return fl, true
}

func actionClass(action string) string {
	switch strings.ToLower(action) {
	case "deny", "denied", "drop", "dropped", "block", "blocked", "reject", "rejected":
		return "block"
	case "permit", "permitted", "allow", "allowed", "accept", "accepted", "built":
		return "allow"
	case "audit":
		return "audit"
	default:
		return ""
	}
}

func (p *FirewallParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	actions := make(map[string]int)
	ports := make(map[string]map[string]bool)
	var srcOrder []string
	lastSeen := make(map[string]time.Time)

	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		fl, ok := p.decode(line)
		if !ok {
			if IsSecurityRelevant(line) {
				fnd.AddEvent(p.event(p.timestamp(line), ClassifyEventType(line), line, SeverityFromText(line),
					map[string]string{"line": strconv.Itoa(lineNo)}))
			}
			return
		}
		class := actionClass(fl.action)
		actions[class]++
		ts := p.timestamp(line)

		if fl.dpt != "" {
			if ports[fl.src] == nil {
				ports[fl.src] = make(map[string]bool)
				srcOrder = append(srcOrder, fl.src)
			}
			ports[fl.src][fl.dpt] = true
			lastSeen[fl.src] = ts
		}

		attrs := map[string]string{"ip": fl.src, "dst": fl.dst, "action": strings.ToLower(fl.action), "line": strconv.Itoa(lineNo)}
		if fl.proto != "" {
			attrs["proto"] = strings.ToLower(fl.proto)
		}
		if fl.spt != "" {
			attrs["spt"] = fl.spt
		}
		if fl.dpt != "" {
			attrs["dpt"] = fl.dpt
		}
		if fl.iface != "" {
			attrs["iface"] = fl.iface
		}

		service := sensitivePorts[fl.dpt]
		switch class {
		case "block":
			sev := model.SeverityMedium
			if service != "" {
				attrs["service"] = service
			}
			fnd.AddEvent(p.event(ts, "firewall_block",
				fmt.Sprintf("Blocked %s %s -> %s:%s", attrs["proto"], fl.src, fl.dst, fl.dpt), sev, attrs))
		case "allow":
			if service == "" {
				return
			}
			attrs["service"] = service
			sev := model.SeverityLow
			if service == "telnet" || service == "metasploit" {
				sev = model.SeverityHigh
			}
			fnd.AddEvent(p.event(ts, "firewall_allow_sensitive",
				fmt.Sprintf("Allowed %s %s -> %s:%s (%s)", attrs["proto"], fl.src, fl.dst, fl.dpt, service), sev, attrs))
		default:
			if IsSecurityRelevant(line) {
				fnd.AddEvent(p.event(ts, "network_security", line, SeverityFromText(line), attrs))
			}
		}
	})
	if err != nil {
		return nil, err
	}

	for _, src := range srcOrder {
		n := len(ports[src])
		if n < portScanThreshold {
			continue
		}
		fnd.AddEvent(p.event(lastSeen[src], "port_scan",
			fmt.Sprintf("%s probed %d distinct destination ports", src, n),
			model.SeverityHigh, map[string]string{"ip": src, "distinct_ports": strconv.Itoa(n)}))
	}
	fnd.RawData["actions"] = actions
	return fnd, nil
}
