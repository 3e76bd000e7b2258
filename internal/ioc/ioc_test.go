package ioc

import (
	"slices"
	"testing"
)

func TestExtract_PublicAndPrivateIPs(t *testing.T) {
	got := Extract("connection from 192.168.1.1 to 8.8.8.8 rejected")
	if !slices.Contains(got, "IP: 8.8.8.8") {
		t.Errorf("expected IP: 8.8.8.8 in %v", got)
	}
	// RFC 1918 addresses are kept by default.
	if !slices.Contains(got, "IP: 192.168.1.1") {
		t.Errorf("expected private IP to be kept by default, got %v", got)
	}
}

func TestExtract_ExcludePrivate(t *testing.T) {
	x := Extractor{ExcludePrivate: true}
	got := x.Extract("10.0.0.5 172.20.1.1 192.168.1.1 169.254.10.10 8.8.8.8")
	if len(got) != 1 || got[0] != "IP: 8.8.8.8" {
		t.Errorf("got %v, want only IP: 8.8.8.8", got)
	}
}

func TestExtract_ExcludesLoopbackZeroBroadcast(t *testing.T) {
	got := Extract("127.0.0.1 0.0.0.0 0.1.2.3 255.255.255.255")
	if len(got) != 0 {
		t.Errorf("expected no IOCs, got %v", got)
	}
}

func TestExtract_Dedup(t *testing.T) {
	got := Extract("8.8.8.8 then 8.8.8.8 again")
	if len(got) != 1 {
		t.Errorf("expected 1 IOC, got %v", got)
	}
}

func TestExtract_Hashes(t *testing.T) {
	md5 := "d41d8cd98f00b204e9800998ecf8427e"
	sha1 := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	sha256 := "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"
	got := Extract("md5=" + md5 + " sha1=" + sha1 + " sha256=" + sha256)

	for _, want := range []string{
		"Hash: " + md5,
		"Hash: " + sha1,
		"Hash: e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	if len(got) != 3 {
		t.Errorf("expected exactly 3 hashes, got %v", got)
	}
}

func TestExtract_DomainsAndEmails(t *testing.T) {
	got := Extract("beacon to evil.example and c2.bad-domain.net, mail from attacker@phish.example")
	for _, want := range []string{"Domain: evil.example", "Domain: c2.bad-domain.net", "Email: attacker@phish.example"} {
		if !slices.Contains(got, want) {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	if slices.Contains(got, "Domain: phish.example") {
		t.Errorf("email domain should not be double counted: %v", got)
	}
}

func TestExtract_SkipsFileNames(t *testing.T) {
	got := Extract("wrote /var/log/auth.log and C:\\temp\\payload.exe")
	for _, ioc := range got {
		if ioc == "Domain: auth.log" || ioc == "Domain: payload.exe" {
			t.Errorf("file name treated as domain: %v", got)
		}
	}
}

func TestExtract_Empty(t *testing.T) {
	if got := Extract(""); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
