package handlers

import (
	"fmt"
	"net/http"
	"net/netip"
	"path/filepath"
	"regexp"
	"strconv"
)

// --- Regex patterns (compiled once) ---

var (
	reSerialPort  = regexp.MustCompile(`^/dev/(tty[a-zA-Z0-9._-]+|cu\.[a-zA-Z0-9._-]+|serial/[a-zA-Z0-9/:._-]+)$`)
	reWindowsPort = regexp.MustCompile(`^(?i)COM[1-9][0-9]{0,2}$`)
)

const (
	defaultLogLines = 100
	maxLogLines     = 5000
)

// --- Input validators ---

// validateSerialPort accepts /dev/tty*, /dev/cu.*, /dev/serial/... and COMn.
func validateSerialPort(port string) error {
	if port == "" {
		return fmt.Errorf("serial port is required")
	}
	if reWindowsPort.MatchString(port) {
		return nil
	}
	// Clean the path first to resolve any ..
	clean := filepath.Clean(port)
	if clean != port {
		return fmt.Errorf("invalid serial port path (traversal detected)")
	}
	if !reSerialPort.MatchString(clean) {
		return fmt.Errorf("invalid serial port (must be /dev/tty*, /dev/cu.*, /dev/serial/* or COMn)")
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number (must be 1-65535)")
	}
	return nil
}

// validateIPAddress accepts a literal IPv4 address. Hostnames are rejected:
// the engine never resolves names.
func validateIPAddress(s string) error {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("invalid IP address %q", s)
	}
	if !a.Unmap().Is4() {
		return fmt.Errorf("invalid IP address %q (IPv4 required)", s)
	}
	return nil
}

// parseLines reads ?lines=N, clamped to [1, maxLogLines].
func parseLines(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("lines"))
	if err != nil || n < 1 {
		return defaultLogLines
	}
	return min(n, maxLogLines)
}

// limitBody wraps the request body with http.MaxBytesReader to prevent oversized payloads.
func limitBody(r *http.Request, maxBytes int64) *http.Request {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	return r
}
