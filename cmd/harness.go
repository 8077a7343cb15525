package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/artifacts"
	"github.com/ivan3bx/enginetest/console"
	"github.com/ivan3bx/enginetest/launcher"
	"github.com/ivan3bx/enginetest/logtail"
	"github.com/ivan3bx/enginetest/metrics"
	"github.com/ivan3bx/enginetest/process"
)

// dataSender accepts structured updates, such as state changes.
type dataSender interface {
	Send(data enginetest.Data)
}

// harness runs one target and the remote console attached to it.
type harness struct {
	cfg       Config
	driver    *launcher.Driver
	session   *console.Session
	artifacts *artifacts.Manager
	reporter  *consoleReporter
	tailer    *logtail.Tailer

	mu      sync.Mutex
	running bool
}

// newHarness builds a harness for cfg. Console lines, process output and
// state changes are written to out.
func newHarness(host enginetest.Host, cfg Config, level string, out io.Writer, m *metrics.Metrics) (*harness, error) {
	arts, err := artifacts.New(cfg.Workspace.ArtifactsDir)
	if err != nil {
		return nil, err
	}

	reporter, err := newConsoleReporter(filepath.Join(arts.Dir(), "console.log"), out)
	if err != nil {
		return nil, err
	}

	platform := cfg.Platform
	if platform == "" {
		platform = host.Platform
	}

	driver, err := launcher.New(host, platform, cfg.Workspace,
		launcher.Config{
			Controller: &process.Controller{Sink: reporter},
			Binary:     cfg.Binary,
		},
		launcher.WithArgs(cfg.launchArgs(level)...),
		launcher.WithMetrics(m),
	)
	if err != nil {
		reporter.Close()
		return nil, err
	}

	if s, ok := out.(dataSender); ok {
		driver.Notifier().Forward(s.Send)
	}

	session := console.NewSession()
	session.Mirror = reporter
	session.Metrics = m

	return &harness{
		cfg:       cfg,
		driver:    driver,
		session:   session,
		artifacts: arts,
		reporter:  reporter,
	}, nil
}

// Start launches the target and connects to its console. Anything
// started is stopped again on failure.
func (h *harness) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return enginetest.StateError("start", h.driver.State())
	}

	log := log.WithFields(log.Fields{"action": "harness.Start()", "launcher": h.driver.Name(), "run": h.artifacts.RunID})

	stop, err := h.driver.Start(ctx, h.cfg.StartTimeout)
	if err != nil {
		return err
	}

	if h.cfg.TailLog {
		if err := h.startTail(); err != nil {
			log.WithError(err).Warn("not following game log")
		}
	}

	if h.cfg.Console.Enabled {
		if err := h.session.Start(ctx, h.cfg.Console.Host, h.cfg.Console.Port, h.cfg.Console.Timeout); err != nil {
			h.stopTail()
			return errors.Join(err, stop(context.Background()))
		}
	}

	h.running = true
	log.Info("target ready")
	return nil
}

func (h *harness) startTail() error {
	t, err := logtail.New(logtail.Config{Path: h.cfg.Workspace.GameLog(h.driver.Settings().Platform)}, h.reporter)
	if err != nil {
		return err
	}

	if err := t.Start(); err != nil {
		t.Stop()
		return err
	}

	h.tailer = t
	return nil
}

func (h *harness) stopTail() {
	if h.tailer == nil {
		return
	}
	if err := h.tailer.Stop(); err != nil {
		log.WithError(err).Warn("stopping log tail")
	}
	h.tailer = nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (h *harness) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// State is the launcher state.
func (h *harness) State() enginetest.LauncherState {
	return h.driver.State()
}

// Command sends one line to the console.
func (h *harness) Command(cmd string) error {
	log.WithField("cmd", cmd).Info("executing command")
	return h.session.SendCommand(cmd)
}

// Expect waits for a console line matching pattern.
func (h *harness) Expect(pattern string, timeout time.Duration) (string, error) {
	return h.session.ExpectLogLine(pattern, timeout)
}

// History returns recorded console and process output.
func (h *harness) History() []string {
	return h.reporter.ConsoleOutput()
}

// Stop disconnects the console before tearing the target down, then saves
// the game log into the run directory. Every step is attempted.
func (h *harness) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error

	if err := h.session.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("console: %w", err))
	}

	h.stopTail()

	if err := h.driver.Teardown(ctx); err != nil {
		errs = append(errs, err)
	}

	gameLog := h.cfg.Workspace.GameLog(h.driver.Settings().Platform)
	if _, err := os.Stat(gameLog); err == nil {
		if _, err := h.artifacts.SaveFile(gameLog); err != nil {
			log.WithError(err).Warn("saving game log")
		}
	}

	h.running = false
	return errors.Join(errs...)
}

// Close releases the transcript. The harness can not be used afterwards.
func (h *harness) Close() error {
	return h.reporter.Close()
}
