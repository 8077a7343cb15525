package main

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/apex/log"
)

// consoleReporter records console lines to a transcript file and passes
// each one on to the next writer.
type consoleReporter struct {
	mu      sync.Mutex
	logFile *os.File
	next    io.Writer
	closed  bool
}

func newConsoleReporter(path string, next io.Writer) (*consoleReporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return &consoleReporter{logFile: file, next: next}, nil
}

// Write records one line.
func (r *consoleReporter) Write(line []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		r.logFile.Write(line)
		r.logFile.Write([]byte{'\n'})
	}

	if r.next != nil {
		r.next.Write(line)
	}

	return len(line), nil
}

// ConsoleOutput returns the lines recorded so far.
func (r *consoleReporter) ConsoleOutput() []string {
	r.mu.Lock()
	name := r.logFile.Name()
	r.mu.Unlock()

	content, err := os.ReadFile(name)
	if err != nil {
		log.WithError(err).Warn("reading transcript")
		return nil
	}

	text := strings.TrimSuffix(string(content), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Close closes the transcript file.
func (r *consoleReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	err := r.logFile.Close()
	log.WithField("file", r.logFile.Name()).Debug("reporter closed")
	return err
}
