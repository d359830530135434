package llm

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent represents a Server-Sent Event.
type SSEEvent struct {
	Type string
	Data string
}

// SSEScanner scans Server-Sent Events from a reader. Lines are buffered so
// an event split across reads is still delivered whole.
type SSEScanner struct {
	scanner *bufio.Scanner
	event   SSEEvent
}

// NewSSEScanner creates a new SSE scanner.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{scanner: scanner}
}

// Scan advances to the next complete event. It returns false when the
// stream ends or the underlying read fails.
func (s *SSEScanner) Scan() bool {
	var current SSEEvent
	seen := false

	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")

		if line == "" {
			// Blank line terminates an event.
			if seen {
				s.event = current
				return true
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// Comment, ignored.
		case strings.HasPrefix(line, "event:"):
			current.Type = strings.TrimSpace(line[len("event:"):])
			seen = true
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line[len("data:"):], " ")
			if current.Data != "" {
				current.Data += "\n"
			}
			current.Data += data
			seen = true
		}
	}

	// Stream ended mid-event: deliver what we have.
	if seen {
		s.event = current
		return true
	}
	return false
}

// Event returns the most recently scanned SSE event.
func (s *SSEScanner) Event() SSEEvent {
	return s.event
}

// Err returns the first non-EOF error hit while reading the stream. A clean
// end of input leaves it nil.
func (s *SSEScanner) Err() error {
	return s.scanner.Err()
}
