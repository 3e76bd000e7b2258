package browser

import (
	"reflect"
	"testing"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"windows", "cmd", []string{"/c", "start", "", "http://localhost:8080/results"}},
		{"darwin", "open", []string{"http://localhost:8080/results"}},
		{"linux", "xdg-open", []string{"http://localhost:8080/results"}},
		{"freebsd", "xdg-open", []string{"http://localhost:8080/results"}},
	}
	for _, tt := range tests {
		name, args := command(tt.goos, "http://localhost:8080/results")
		if name != tt.name || !reflect.DeepEqual(args, tt.args) {
			t.Errorf("%s: got %s %v", tt.goos, name, args)
		}
	}
}

func TestURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://localhost:8080/results",
		"0.0.0.0:9000":   "http://localhost:9000/results",
		"[::]:8080":      "http://localhost:8080/results",
		"127.0.0.1:4321": "http://127.0.0.1:4321/results",
	}
	for addr, want := range tests {
		if got := URL(addr, "results"); got != want {
			t.Errorf("URL(%q) = %q, want %q", addr, got, want)
		}
	}
}
