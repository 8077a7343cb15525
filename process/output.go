package process

import (
	"bytes"
	"sync"
)

// lineWriter reassembles arbitrary writes into lines and hands each
// complete line, without its terminator, to emit.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line []byte)
}

func newLineWriter(emit func(line []byte)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}

		line := bytes.TrimSuffix(w.buf[:i], []byte{'\r'})
		w.emit(append([]byte(nil), line...))
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(append([]byte(nil), w.buf...))
		w.buf = nil
	}
}
