package process

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer keeping the last N lines written to it.
// Partial lines are buffered until their newline arrives.
type LineRing struct {
	mu      sync.RWMutex
	lines   []string
	head    int
	size    int
	partial strings.Builder
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = DefaultStderrLines
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := string(p)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			r.partial.WriteString(s)
			break
		}
		r.partial.WriteString(s[:i])
		r.push(r.partial.String())
		r.partial.Reset()
		s = s[i+1:]
	}
	return len(p), nil
}

func (r *LineRing) push(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	r.lines[r.head] = line
	r.head = (r.head + 1) % r.size
}

// LastN returns the last n lines in chronological order, including an unterminated trailing line.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]string, 0, r.size+1)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if tail := strings.TrimSpace(r.partial.String()); tail != "" {
		ordered = append(ordered, tail)
	}
	if n <= 0 || len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// String returns every retained line joined by newlines.
func (r *LineRing) String() string {
	return strings.Join(r.LastN(0), "\n")
}
