// Package ioc extracts indicators of compromise (IPs, domains, hashes, emails) from free text.
package ioc

import (
	"net"
	"regexp"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

var (
	ipv4Re   = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\b`)
	domainRe = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
	emailRe  = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}\b`)
	sha256Re = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
	sha1Re   = regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)
	md5Re    = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)
)

// fileExtensionTLDs are suffixes that make a dotted token a file name rather than a domain.
var fileExtensionTLDs = map[string]bool{
	"log": true, "txt": true, "exe": true, "dll": true, "sys": true, "bat": true, "ps1": true,
	"sh": true, "py": true, "js": true, "php": true, "html": true, "htm": true, "css": true,
	"json": true, "xml": true, "csv": true, "conf": true, "cfg": true, "ini": true, "tmp": true,
	"bak": true, "gz": true, "zip": true, "tar": true, "jpg": true, "png": true, "gif": true,
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true, "so": true, "jsp": true,
	"asp": true, "aspx": true, "cgi": true, "pl": true, "rb": true, "go": true, "java": true,
	"class": true, "jar": true, "evtx": true, "pcap": true, "sql": true, "db": true, "pid": true,
	"sock": true, "service": true, "timer": true, "local": true, "localdomain": true, "lan": true,
	"internal": true, "arpa": true,
}

// privateCIDRs are the ranges dropped when ExcludePrivate is enabled.
var privateCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
}

var parsedPrivateNets []*net.IPNet

func init() {
	for _, cidr := range privateCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			parsedPrivateNets = append(parsedPrivateNets, n)
		}
	}
}

// Extractor pulls indicators out of text.
// The zero value keeps RFC 1918 addresses, which is the default behavior.
type Extractor struct {
	// ExcludePrivate drops RFC 1918 and link-local IPv4 addresses.
	ExcludePrivate bool
}

// Default is the extractor used when no configuration is supplied.
var Default = Extractor{}

// Extract returns the indicators found in text as "Type: value" strings, deduplicated
// and in order of first appearance within each category.
func (x Extractor) Extract(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	add := func(typ, value string) {
		ioc := model.FormatIOC(typ, value)
		if !seen[ioc] {
			seen[ioc] = true
			out = append(out, ioc)
		}
	}

	for _, ip := range ipv4Re.FindAllString(text, -1) {
		if x.ValidIP(ip) {
			add(model.IOCTypeIP, ip)
		}
	}

	emailDomains := make(map[string]bool)
	for _, email := range emailRe.FindAllString(text, -1) {
		email = strings.ToLower(email)
		add(model.IOCTypeEmail, email)
		if at := strings.LastIndex(email, "@"); at >= 0 {
			emailDomains[email[at+1:]] = true
		}
	}

	for _, d := range domainRe.FindAllString(text, -1) {
		d = strings.ToLower(d)
		if emailDomains[d] || !looksLikeDomain(d) {
			continue
		}
		add(model.IOCTypeDomain, d)
	}

	// Longest hashes first so a SHA256 is not also reported as a shorter digest.
	for _, h := range sha256Re.FindAllString(text, -1) {
		add(model.IOCTypeHash, strings.ToLower(h))
	}
	for _, h := range sha1Re.FindAllString(text, -1) {
		add(model.IOCTypeHash, strings.ToLower(h))
	}
	for _, h := range md5Re.FindAllString(text, -1) {
		add(model.IOCTypeHash, strings.ToLower(h))
	}
	return out
}

// ValidIP reports whether ip should be kept as an indicator.
// Loopback (127.x), the 0.x block and the broadcast address are always excluded.
// Private ranges are kept unless ExcludePrivate is set.
func (x Extractor) ValidIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return false
	}
	if strings.HasPrefix(ip, "127.") || strings.HasPrefix(ip, "0.") || ip == "255.255.255.255" {
		return false
	}
	if x.ExcludePrivate {
		for _, n := range parsedPrivateNets {
			if n.Contains(parsed) {
				return false
			}
		}
	}
	return true
}

// FirstIP returns the first IPv4 address in text that passes ValidIP, or "".
func (x Extractor) FirstIP(text string) string {
	for _, ip := range ipv4Re.FindAllString(text, -1) {
		if x.ValidIP(ip) {
			return ip
		}
	}
	return ""
}

// Extract runs the default extractor.
func Extract(text string) []string {
	return Default.Extract(text)
}

func looksLikeDomain(d string) bool {
	if net.ParseIP(d) != nil {
		return false
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return false
	}
	tld := labels[len(labels)-1]
	if fileExtensionTLDs[tld] {
		return false
	}
	for _, l := range labels[:len(labels)-1] {
		if l == "" {
			return false
		}
	}
	return true
}
