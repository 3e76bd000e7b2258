package parser

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func readAll(t *testing.T, input string) ([]string, int) {
	t.Helper()
	lr := newLineReader(strings.NewReader(input))
	var lines []string
	for lr.Next() {
		lines = append(lines, lr.Text())
	}
	if err := lr.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	return lines, lr.Truncated()
}

func TestLineReader(t *testing.T) {
	long := strings.Repeat("b", 200*1024)
	lines, truncated := readAll(t, "a\n"+long+"\nc")
	if truncated != 0 {
		t.Errorf("Truncated() = %d, want 0", truncated)
	}
	if len(lines) != 3 || lines[0] != "a" || lines[1] != long || lines[2] != "c" {
		t.Errorf("unexpected lines: %d read", len(lines))
	}

	lines, _ = readAll(t, "")
	if len(lines) != 0 {
		t.Errorf("empty input gave %d lines", len(lines))
	}
}

func TestLineReaderCutsAtRuneBoundary(t *testing.T) {
	// "é" is two bytes, so the limit falls inside a rune.
	line := "x" + strings.Repeat("é", MaxLineBytes)
	lines, truncated := readAll(t, line+"\nnext\n")
	if truncated != 1 {
		t.Errorf("Truncated() = %d, want 1", truncated)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if len(lines[0]) > MaxLineBytes || len(lines[0]) < MaxLineBytes-1 {
		t.Errorf("cut line is %d bytes", len(lines[0]))
	}
	if !utf8.ValidString(lines[0]) {
		t.Error("cut line is not valid UTF-8")
	}
	if lines[1] != "next" {
		t.Errorf("line after cut = %q", lines[1])
	}
}

func TestRuneCut(t *testing.T) {
	b := []byte("aé") // 'a', 0xC3, 0xA9
	tests := []struct{ n, want int }{{0, 0}, {1, 1}, {2, 1}, {3, 3}, {9, 3}}
	for _, tt := range tests {
		if got := runeCut(b, tt.n); got != tt.want {
			t.Errorf("runeCut(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
