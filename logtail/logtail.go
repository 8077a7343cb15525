// Package logtail follows a log file written by the engine and forwards
// each new line to a sink.
package logtail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
)

// Config holds tailer options.
type Config struct {
	// Path of the log file. It does not need to exist yet.
	Path string

	// FromStart replays lines already in the file. Otherwise only lines
	// written after Start are forwarded.
	FromStart bool

	// PollInterval rescans the file in case a change notification is
	// missed. Zero uses one second.
	PollInterval time.Duration
}

// Tailer forwards lines appended to a file to Sink, one Write per line.
type Tailer struct {
	cfg  Config
	sink io.Writer

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
	started   bool

	offset  int64
	partial []byte
}

// New creates a tailer for cfg.Path writing to sink.
func New(cfg Config, sink io.Writer) (*Tailer, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Tailer{
		cfg:       cfg,
		sink:      sink,
		fsWatcher: fsw,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start begins following the file.
func (t *Tailer) Start() error {
	dir := filepath.Dir(t.cfg.Path)
	if err := t.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}

	if !t.cfg.FromStart {
		if info, err := os.Stat(t.cfg.Path); err == nil {
			t.offset = info.Size()
		}
	}

	t.started = true
	go t.loop()
	return nil
}

// Stop ends following and flushes a trailing partial line. It is safe to
// call more than once.
func (t *Tailer) Stop() error {
	var err error

	t.stopOnce.Do(func() {
		close(t.done)
		err = t.fsWatcher.Close()
		if t.started {
			<-t.stopped
		}
	})

	return err
}

func (t *Tailer) loop() {
	defer close(t.stopped)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	// pick up anything written before the watch was in place
	t.read()

	for {
		select {
		case event, ok := <-t.fsWatcher.Events:
			if !ok {
				t.final()
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(t.cfg.Path) {
				continue
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				t.flush()
				t.offset = 0
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.read()
			}

		case err, ok := <-t.fsWatcher.Errors:
			if !ok {
				t.final()
				return
			}
			log.WithError(err).WithField("file", t.cfg.Path).Warn("watch error")

		case <-ticker.C:
			t.read()

		case <-t.done:
			t.final()
			return
		}
	}
}

func (t *Tailer) final() {
	t.read()
	t.flush()
}

// read forwards complete lines written since the last read.
func (t *Tailer) read() {
	f, err := os.Open(t.cfg.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("file", t.cfg.Path).Debug("unable to open log")
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}

	// truncated or replaced by a shorter file
	if info.Size() < t.offset {
		t.flush()
		t.offset = 0
	}

	if info.Size() == t.offset {
		return
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		log.WithError(err).WithField("file", t.cfg.Path).Debug("read failed")
	}

	t.offset += int64(len(data))
	t.partial = append(t.partial, data...)

	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}

		t.emit(t.partial[:i])
		t.partial = t.partial[i+1:]
	}
}

func (t *Tailer) flush() {
	if len(t.partial) > 0 {
		t.emit(t.partial)
		t.partial = nil
	}
}

func (t *Tailer) emit(line []byte) {
	t.sink.Write(bytes.TrimSuffix(append([]byte(nil), line...), []byte{'\r'}))
}
