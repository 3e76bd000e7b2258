package collector

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCollect_PlainFilesKeepOrder(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"b.log": "b", "a.log": "a"})
	b := filepath.Join(dir, "b.log")
	a := filepath.Join(dir, "a.log")

	c, err := Collect([]string{b, a, b}, Options{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !reflect.DeepEqual(c.Files, []string{b, a}) {
		t.Errorf("Files = %v", c.Files)
	}
}

func TestCollect_MissingFilePassesThrough(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.log")
	c, err := Collect([]string{missing}, Options{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(c.Files) != 1 || c.Files[0] != missing {
		t.Errorf("Files = %v", c.Files)
	}
}

func TestCollect_Directory(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"auth.log":            "x",
		"access.log":          "x",
		".bash_history":       "x",
		"nested/fw.log":       "x",
		".git/config":         "x",
		"nested/deep/dns.log": "x",
	})

	flat, err := Collect([]string{dir}, Options{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{filepath.Join(dir, "access.log"), filepath.Join(dir, "auth.log")}
	if !reflect.DeepEqual(flat.Files, want) {
		t.Errorf("flat Files = %v, want %v", flat.Files, want)
	}

	deep, err := Collect([]string{dir}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want = []string{
		filepath.Join(dir, "access.log"),
		filepath.Join(dir, "auth.log"),
		filepath.Join(dir, "nested", "deep", "dns.log"),
		filepath.Join(dir, "nested", "fw.log"),
	}
	if !reflect.DeepEqual(deep.Files, want) {
		t.Errorf("recursive Files = %v, want %v", deep.Files, want)
	}
	var hidden int
	for _, s := range deep.Skipped {
		if s.Kind == SkipHidden {
			hidden++
		}
	}
	if hidden != 2 {
		t.Errorf("hidden skips = %d, want 2 (%+v)", hidden, deep.Skipped)
	}

	all, err := Collect([]string{dir}, Options{Recursive: true, IncludeHidden: true})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(all.Files) != 6 {
		t.Errorf("IncludeHidden Files = %v", all.Files)
	}
}

func TestCollect_MaxSize(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"small.log": "ok", "big.log": strings.Repeat("x", 100)})

	c, err := Collect([]string{dir}, Options{MaxSize: 10})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(c.Files) != 1 || filepath.Base(c.Files[0]) != "small.log" {
		t.Errorf("Files = %v", c.Files)
	}
	if len(c.Skipped) != 1 || c.Skipped[0].Kind != SkipTooLarge || c.Skipped[0].Detail != "100 bytes" {
		t.Errorf("Skipped = %+v", c.Skipped)
	}

	// Explicitly named files are not size-limited.
	big := filepath.Join(dir, "big.log")
	c, err = Collect([]string{big}, Options{MaxSize: 10})
	if err != nil || len(c.Files) != 1 {
		t.Errorf("explicit big file: %v %v", c.Files, err)
	}
}

func TestCollect_Glob(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.log": "x", "b.log": "x", "c.csv": "x"})

	c, err := Collect([]string{filepath.Join(dir, "*.log"), filepath.Join(dir, "*.evtx")}, Options{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(c.Files) != 2 {
		t.Errorf("Files = %v", c.Files)
	}
	if len(c.Skipped) != 1 || c.Skipped[0].Kind != SkipNoMatch {
		t.Errorf("Skipped = %+v", c.Skipped)
	}
}

func TestCollect_NoEvidence(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{".hidden": "x"})
	_, err := Collect([]string{dir, filepath.Join(dir, "*.log")}, Options{})
	if !errors.Is(err, ErrNoEvidence) {
		t.Errorf("err = %v, want ErrNoEvidence", err)
	}
}

func TestSkipKindString(t *testing.T) {
	tests := map[SkipKind]string{
		SkipHidden:     "hidden",
		SkipTooLarge:   "too_large",
		SkipNotRegular: "not_regular",
		SkipNoMatch:    "no_match",
		SkipUnreadable: "unreadable",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}
