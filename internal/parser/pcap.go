package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

const (
	pcapGlobalHeaderLen = 24
	pcapRecordHeaderLen = 16
	// pcapMaxSnap bounds a single captured frame; larger values mean a corrupt record.
	pcapMaxSnap = 256 * 1024
	// pcapMaxFlows caps the number of flow-start events per capture.
	pcapMaxFlows = 5000

	linkTypeEthernet = 1
	linkTypeRaw      = 101
	linkTypeLinuxSLL = 113

	protoICMP = 1
	protoTCP  = 6
	protoUDP  = 17
)

var (
	pcapMagicMicro = []byte{0xd4, 0xc3, 0xb2, 0xa1}
	pcapMagicNano  = []byte{0x4d, 0x3c, 0xb2, 0xa1}
	pcapngMagic    = []byte{0x0a, 0x0d, 0x0d, 0x0a}
)

// riskyPorts are destination ports whose flows are raised above Low.
var riskyPorts = map[uint16]model.Severity{
	23: model.SeverityMedium, 445: model.SeverityMedium, 3389: model.SeverityMedium,
	5900: model.SeverityMedium, 1433: model.SeverityMedium, 3306: model.SeverityMedium,
	6667: model.SeverityHigh, 4444: model.SeverityHigh, 31337: model.SeverityHigh,
}

// PcapParser reads libpcap captures and reports one event per flow start.
// pcapng files are recognized but not decoded.
type PcapParser struct {
	base
}

// NewPcapParser creates a PcapParser.
func NewPcapParser(opts Options) *PcapParser {
	return &PcapParser{base: newBase("Packet Capture", 85, opts)}
}

func isPcapMagic(m []byte) bool {
	if len(m) < 4 {
		return false
	}
	head := m[:4]
	for _, magic := range [][]byte{pcapMagicMicro, pcapMagicNano} {
		if bytes.Equal(head, magic) || bytes.Equal(head, reversed(magic)) {
			return true
		}
	}
	return false
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (p *PcapParser) CanParse(f *File) bool {
	if hasExt(f, ".pcap", ".pcapng", ".cap") {
		return true
	}
	m := f.Magic()
	return isPcapMagic(m) || (len(m) >= 4 && bytes.Equal(m[:4], pcapngMagic))
}

type packet struct {
	ts           time.Time
	src, dst     net.IP
	proto        uint8
	sport, dport uint16
	syn, ack     bool
}

func (p *PcapParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	fnd, err := p.newFindings(f)
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	rc, err := f.OpenRaw()
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	defer rc.Close()

	hdr := make([]byte, pcapGlobalHeaderLen)
	if _, err := io.ReadFull(rc, hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return fnd, nil
		}
		if len(hdr) >= 4 && bytes.Equal(hdr[:4], pcapngMagic) {
			fnd.Partial = true
			fnd.RawData["capture_format"] = "pcapng"
			return fnd, nil
		}
		return nil, newParseError(p.typ, f, fmt.Errorf("global header: %w", err))
	}
	if bytes.Equal(hdr[:4], pcapngMagic) {
		fnd.Partial = true
		fnd.RawData["capture_format"] = "pcapng"
		return fnd, nil
	}

	var order binary.ByteOrder
	nano := false
	switch {
	case bytes.Equal(hdr[:4], pcapMagicMicro):
		order = binary.LittleEndian
	case bytes.Equal(hdr[:4], reversed(pcapMagicMicro)):
		order = binary.BigEndian
	case bytes.Equal(hdr[:4], pcapMagicNano):
		order, nano = binary.LittleEndian, true
	case bytes.Equal(hdr[:4], reversed(pcapMagicNano)):
		order, nano = binary.BigEndian, true
	default:
		return nil, newParseError(p.typ, f, fmt.Errorf("bad magic %x", hdr[:4]))
	}
	linkType := order.Uint32(hdr[20:24]) & 0x0fffffff
	fnd.RawData["capture_format"] = "pcap"
	fnd.RawData["link_type"] = linkType

	flows := make(map[string]bool)
	synTargets := make(map[string]map[uint16]bool)
	var synOrder []string
	lastSYN := make(map[string]time.Time)
	protocols := make(map[string]int)

	rec := make([]byte, pcapRecordHeaderLen)
	frame := make([]byte, 0, 2048)
	packets := 0
	for {
		if _, err := io.ReadFull(rc, rec); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				fnd.Partial = true
			} else if !errors.Is(err, io.EOF) {
				return nil, newParseError(p.typ, f, err)
			}
			break
		}
		packets++
		if packets%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, newParseError(p.typ, f, err)
			}
		}
		sec := int64(order.Uint32(rec[0:4]))
		frac := int64(order.Uint32(rec[4:8]))
		incl := order.Uint32(rec[8:12])
		if incl > pcapMaxSnap {
			fnd.Partial = true
			break
		}
		if cap(frame) < int(incl) {
			frame = make([]byte, incl)
		}
		frame = frame[:incl]
		if _, err := io.ReadFull(rc, frame); err != nil {
			fnd.Partial = true
			break
		}
		ts := time.Unix(sec, frac*1000).UTC()
		if nano {
			ts = time.Unix(sec, frac).UTC()
		}

		pkt, ok := decodeFrame(linkType, frame)
		if !ok {
			continue
		}
		pkt.ts = ts
		protocols[protoName(pkt.proto)]++

		if pkt.proto == protoTCP && pkt.syn && !pkt.ack {
			key := pkt.src.String()
			if synTargets[key] == nil {
				synTargets[key] = make(map[uint16]bool)
				synOrder = append(synOrder, key)
			}
			synTargets[key][pkt.dport] = true
			lastSYN[key] = ts
		}

		// Replies belong to the flow their peer opened; a bare SYN always opens its own.
		flowKey := fmt.Sprintf("%s>%s/%d:%d", pkt.src, pkt.dst, pkt.proto, pkt.dport)
		if flows[flowKey] || len(flows) >= pcapMaxFlows {
			continue
		}
		if !(pkt.syn && !pkt.ack) {
			reverse := fmt.Sprintf("%s>%s/%d:%d", pkt.dst, pkt.src, pkt.proto, pkt.sport)
			if flows[reverse] {
				continue
			}
		}
		flows[flowKey] = true
		p.addFlow(fnd, pkt)
	}

	for _, src := range synOrder {
		n := len(synTargets[src])
		if n < portScanThreshold {
			continue
		}
		attrs := map[string]string{"distinct_ports": strconv.Itoa(n)}
		if p.iocs.ValidIP(src) {
			attrs["ip"] = src
		}
		fnd.AddEvent(p.event(lastSYN[src], "port_scan",
			fmt.Sprintf("%s sent SYNs to %d distinct ports", src, n), model.SeverityHigh, attrs))
	}

	fnd.TotalLines = packets
	fnd.RawData["packets"] = packets
	fnd.RawData["flows"] = len(flows)
	fnd.RawData["protocols"] = protocols
	return fnd, nil
}

func (p *PcapParser) addFlow(fnd *model.TechnicalFindings, pkt packet) {
	src, dst := pkt.src.String(), pkt.dst.String()
	attrs := map[string]string{"dst": dst, "proto": protoName(pkt.proto)}
	if p.iocs.ValidIP(src) {
		attrs["ip"] = src
	}
	if pkt.proto == protoTCP || pkt.proto == protoUDP {
		attrs["spt"] = strconv.Itoa(int(pkt.sport))
		attrs["dpt"] = strconv.Itoa(int(pkt.dport))
	}
	for _, ip := range []string{src, dst} {
		if p.iocs.ValidIP(ip) {
			fnd.AddIOC(model.FormatIOC(model.IOCTypeIP, ip))
		}
	}
	sev := model.SeverityLow
	if s, ok := riskyPorts[pkt.dport]; ok && (pkt.proto == protoTCP || pkt.proto == protoUDP) {
		sev = s
	}
	desc := fmt.Sprintf("%s connection %s -> %s", attrs["proto"], src, dst)
	if attrs["dpt"] != "" {
		desc = fmt.Sprintf("%s connection %s:%s -> %s:%s", attrs["proto"], src, attrs["spt"], dst, attrs["dpt"])
	}
	fnd.AddEvent(p.event(pkt.ts, "network_connection", desc, sev, attrs))
}

func protoName(proto uint8) string {
	switch proto {
	case protoTCP:
		return "tcp"
	case protoUDP:
		return "udp"
	case protoICMP:
		return "icmp"
	default:
		return "ip-" + strconv.Itoa(int(proto))
	}
}

// decodeFrame extracts the IPv4 five-tuple from a link-layer frame.
func decodeFrame(linkType uint32, frame []byte) (packet, bool) {
	var ip []byte
	switch linkType {
	case linkTypeEthernet:
		if len(frame) < 14 {
			return packet{}, false
		}
		etherType := binary.BigEndian.Uint16(frame[12:14])
		off := 14
		if etherType == 0x8100 && len(frame) >= 18 {
			etherType = binary.BigEndian.Uint16(frame[16:18])
			off = 18
		}
		if etherType != 0x0800 {
			return packet{}, false
		}
		ip = frame[off:]
	case linkTypeLinuxSLL:
		if len(frame) < 16 || binary.BigEndian.Uint16(frame[14:16]) != 0x0800 {
			return packet{}, false
		}
		ip = frame[16:]
	case linkTypeRaw:
		ip = frame
	default:
		return packet{}, false
	}

	if len(ip) < 20 || ip[0]>>4 != 4 {
		return packet{}, false
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < 20 || len(ip) < ihl {
		return packet{}, false
	}
	pkt := packet{
		proto: ip[9],
		src:   net.IPv4(ip[12], ip[13], ip[14], ip[15]),
		dst:   net.IPv4(ip[16], ip[17], ip[18], ip[19]),
	}
	l4 := ip[ihl:]
	switch pkt.proto {
	case protoTCP:
		if len(l4) >= 14 {
			pkt.sport = binary.BigEndian.Uint16(l4[0:2])
			pkt.dport = binary.BigEndian.Uint16(l4[2:4])
			flags := l4[13]
			pkt.syn = flags&0x02 != 0
			pkt.ack = flags&0x10 != 0
		}
	case protoUDP:
		if len(l4) >= 4 {
			pkt.sport = binary.BigEndian.Uint16(l4[0:2])
			pkt.dport = binary.BigEndian.Uint16(l4[2:4])
		}
	}
	return pkt, true
}
