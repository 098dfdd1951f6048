// Package logbuf keeps the tail of a child process's output in memory.
package logbuf

import (
	"bytes"
	"strings"
	"sync"
)

// Ring is a thread-safe ring buffer that stores the last N lines of output.
// It implements io.Writer so it can be used as stdout/stderr for a process.
//
// Every stored line gets a sequence number. Readers that follow the stream
// remember the next sequence they want and wait on Changed between reads.
type Ring struct {
	mu    sync.Mutex
	lines []string
	size  int
	total int // lines ever stored; next sequence number
	// partial holds an incomplete line (no trailing newline yet)
	partial bytes.Buffer
	changed chan struct{}
	closed  bool
}

// New creates a ring buffer that stores the last n lines.
func New(n int) *Ring {
	if n <= 0 {
		n = 1
	}
	return &Ring{
		lines:   make([]string, n),
		size:    n,
		changed: make(chan struct{}),
	}
}

// Write implements io.Writer. Splits input on newlines and stores each line.
// Writes after Close are discarded.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return len(p), nil
	}

	r.partial.Write(p)

	added := false
	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			// No more complete lines; put the partial back
			r.partial.Reset()
			r.partial.WriteString(line)
			break
		}
		r.addLine(strings.TrimRight(line, "\r\n"))
		added = true
	}

	if added {
		r.notify()
	}
	return len(p), nil
}

// Close flushes any partial line and marks the stream finished. Followers
// blocked on Changed are woken up.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if r.partial.Len() > 0 {
		r.addLine(strings.TrimRight(r.partial.String(), "\r"))
		r.partial.Reset()
	}
	r.closed = true
	r.notify()
	return nil
}

func (r *Ring) addLine(line string) {
	r.lines[r.total%r.size] = line
	r.total++
}

// notify wakes every follower; caller holds r.mu.
func (r *Ring) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Changed returns a channel closed on the next write or on Close.
// Grab it before calling Since so no write can slip between the two.
func (r *Ring) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Since returns the retained lines with sequence >= seq, the sequence to
// ask for next, and whether the stream is closed. Lines that were already
// overwritten are skipped.
func (r *Ring) Since(seq int) ([]string, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := r.total - r.size
	if oldest < 0 {
		oldest = 0
	}
	if seq < oldest {
		seq = oldest
	}
	if seq >= r.total {
		return nil, r.total, r.closed
	}

	out := make([]string, 0, r.total-seq)
	for i := seq; i < r.total; i++ {
		out = append(out, r.lines[i%r.size])
	}
	return out, r.total, r.closed
}

// Lines returns all stored lines in order, oldest first.
func (r *Ring) Lines() []string {
	lines, _, _ := r.Since(0)
	if lines == nil {
		return []string{}
	}
	return lines
}

// Last returns the last n lines. If fewer lines exist, returns all of them.
func (r *Ring) Last(n int) []string {
	all := r.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
