// Package browser opens the results API in the system browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Open starts the default browser on url. It does not wait for the browser to exit.
func Open(url string) error {
	name, args := command(runtime.GOOS, url)
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}

// URL turns a listen address into a browsable URL for path.
// Wildcard hosts (":8080", "0.0.0.0:8080", "[::]:8080") become localhost.
func URL(addr, path string) string {
	host, port := addr, ""
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host, port = addr[:i], addr[i+1:]
	}
	switch host {
	case "", "0.0.0.0", "[::]", "::":
		host = "localhost"
	}
	if port != "" {
		host += ":" + port
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + host + path
}

func command(goos, url string) (string, []string) {
	switch goos {
	case "windows":
		return "cmd", []string{"/c", "start", "", url}
	case "darwin":
		return "open", []string{url}
	default: // linux + others
		return "xdg-open", []string{url}
	}
}
