package console

import (
	"context"
	"strings"
	"sync"
)

// LogBuffer is an append-only, ordered list of log lines. One writer
// appends while any number of readers scan; readers never mutate it and
// the writer never waits on them.
type LogBuffer struct {
	mu      sync.Mutex
	lines   []string
	changed chan struct{}
	closed  bool
}

// NewLogBuffer returns an empty buffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{changed: make(chan struct{})}
}

// Append adds a line and wakes waiting readers. Appending to a closed
// buffer is ignored.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.lines = append(b.lines, line)
	b.notify()
}

// Write appends p as a single line, minus any trailing line terminator.
// It lets a LogBuffer act as a process output sink.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.Append(strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}

// Len is the number of lines appended so far.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Lines returns a copy of the lines from index from onwards.
func (b *LogBuffer) Lines(from int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if from < 0 {
		from = 0
	}
	if from >= len(b.lines) {
		return nil
	}

	return append([]string(nil), b.lines[from:]...)
}

// Changed returns a channel that is closed on the next Append or Close.
func (b *LogBuffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// Close marks the end of the stream. Readers are woken; no more lines
// will be appended.
func (b *LogBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	b.notify()
}

// Closed reports whether Close has been called.
func (b *LogBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// snapshot returns lines from index from, the channel to wait on for
// more, and whether the buffer is closed, all observed atomically.
func (b *LogBuffer) snapshot(from int) ([]string, <-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lines []string
	if from < len(b.lines) {
		lines = b.lines[from:len(b.lines):len(b.lines)]
	}

	return lines, b.changed, b.closed
}

// Follow calls fn for every line from index from onwards, including lines
// appended later, until ctx is done, the buffer is closed, or fn returns
// false. It returns the index after the last line delivered.
func (b *LogBuffer) Follow(ctx context.Context, from int, fn func(line string) bool) int {
	next := from

	for {
		lines, changed, closed := b.snapshot(next)

		for _, l := range lines {
			next++
			if !fn(l) {
				return next
			}
		}

		if closed {
			return next
		}

		select {
		case <-ctx.Done():
			return next
		case <-changed:
		}
	}
}

func (b *LogBuffer) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}
