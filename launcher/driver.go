// Package launcher drives a game, server or editor executable through its
// lifecycle: setup, launch, liveness polling, kill and teardown.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/metrics"
	"github.com/ivan3bx/enginetest/process"
	"github.com/ivan3bx/enginetest/settings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ enginetest.Launcher = &Driver{}

const (
	tracerName = "github.com/ivan3bx/enginetest/launcher"

	// DefaultPollInterval paces liveness polling.
	DefaultPollInterval = time.Millisecond * 250
)

// Driver implements the launcher state machine on top of a Platform.
// Transitions are sequential: a second Setup or Launch while one is in
// progress fails with ErrInvalidState.
type Driver struct {
	platform  Platform
	workspace enginetest.Workspace
	store     *settings.Store
	args      []string

	pollInterval time.Duration
	metrics      *metrics.Metrics
	tracer       trace.Tracer

	notifier Notifier
	cleanup  Cleanup

	mu    sync.Mutex
	state enginetest.LauncherState
	busy  bool

	// staged is set once the autoexec undo is registered, until teardown.
	staged bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithArgs sets the arguments passed to the target on launch.
func WithArgs(args ...string) Option {
	return func(d *Driver) {
		d.args = append([]string(nil), args...)
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithTracer records a span per lifecycle operation.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) {
		d.tracer = t
	}
}

// WithPollInterval changes how often liveness is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.pollInterval = interval
	}
}

// NewDriver returns an Uninitialized launcher for p.
func NewDriver(p Platform, ws enginetest.Workspace, opts ...Option) *Driver {
	d := &Driver{
		platform:     p,
		workspace:    ws,
		store:        settings.NewStore(ws, settingsPlatform(p.Name())),
		pollInterval: DefaultPollInterval,
		tracer:       otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Name is the platform name.
func (d *Driver) Name() string {
	return d.platform.Name()
}

// Platform is the variant this driver runs.
func (d *Driver) Platform() Platform {
	return d.platform
}

// Args are the arguments passed to the target on launch.
func (d *Driver) Args() []string {
	return append([]string(nil), d.args...)
}

// Settings is the settings store used during setup.
func (d *Driver) Settings() *settings.Store {
	return d.store
}

// Notifier reports state transitions.
func (d *Driver) Notifier() *Notifier {
	return &d.notifier
}

// State is the current lifecycle state.
func (d *Driver) State() enginetest.LauncherState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Setup backs up settings, prepares the platform, applies configuration
// and starts companions. If any step fails the launcher stays
// Uninitialized and Teardown undoes the steps that completed.
func (d *Driver) Setup(ctx context.Context) (err error) {
	ctx, span := d.startSpan(ctx, "setup")
	defer d.finish(span, "setup", time.Now(), &err)

	if err := d.begin("setup", enginetest.Uninitialized); err != nil {
		return err
	}
	defer d.end()

	if n := d.cleanup.Len(); n > 0 {
		return enginetest.NewError(enginetest.ErrInvalidState, "setup", d.Name(),
			fmt.Errorf("%d cleanup steps pending from an earlier setup", n))
	}

	if err := d.setup(ctx); err != nil {
		return enginetest.Classify(enginetest.ErrSetup, "setup", d.Name(), err)
	}

	d.transition(enginetest.Configured)
	return nil
}

func (d *Driver) setup(ctx context.Context) error {
	log := log.WithFields(log.Fields{"action": "Driver.setup()", "launcher": d.Name()})

	d.cleanup.Push("restore settings", func(context.Context) error {
		return d.store.RestoreAll()
	})

	if err := d.store.BackupAll(); err != nil {
		return fmt.Errorf("backing up settings: %w", err)
	}

	if err := d.platform.Prepare(ctx, &d.cleanup); err != nil {
		return err
	}

	if err := d.platform.Configure(d.store); err != nil {
		return fmt.Errorf("configuring settings: %w", err)
	}

	for _, c := range d.platform.Companions() {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", c.Name(), err)
		}

		d.cleanup.Push("stop "+c.Name(), c.Stop)
		log.WithField("companion", c.Name()).Debug("companion running")
	}

	return nil
}

// Launch starts the target. On failure the launcher stays Configured.
func (d *Driver) Launch(ctx context.Context) (err error) {
	ctx, span := d.startSpan(ctx, "launch")
	defer d.finish(span, "launch", time.Now(), &err)

	if err := d.begin("launch", enginetest.Configured); err != nil {
		return err
	}
	defer d.end()

	if err := d.stageAutoexec(); err != nil {
		return enginetest.Classify(enginetest.ErrLaunch, "launch", d.workspace.AutoexecFile(), err)
	}

	if err := d.platform.Launch(ctx, d.Args()); err != nil {
		return enginetest.Classify(enginetest.ErrLaunch, "launch", d.Name(), err)
	}

	d.transition(enginetest.Running)
	return nil
}

// stageAutoexec writes the level load command for platforms that read it
// from the startup command file.
func (d *Driver) stageAutoexec() error {
	stager, ok := d.platform.(AutoexecStager)
	if !ok || !stager.StagesAutoexec() {
		return nil
	}

	cmd := MapCommand(d.args)
	if cmd == "" {
		return nil
	}

	path := d.workspace.AutoexecFile()
	log := log.WithFields(log.Fields{"action": "Driver.stageAutoexec()", "file": path, "command": cmd})

	if d.staged {
		log.Debug("autoexec already staged")
		return WriteAutoexec(path, cmd)
	}

	if _, err := os.Stat(path); err == nil {
		if err := d.store.Backup(path); err != nil {
			return err
		}
	} else {
		d.cleanup.Push("remove autoexec", func(context.Context) error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		})
	}
	d.staged = true

	log.Info("staging autoexec")
	return WriteAutoexec(path, cmd)
}

// IsAlive reports whether the target is running.
func (d *Driver) IsAlive() bool {
	return d.platform.IsAlive()
}

// Kill forcefully stops a Running target. Killing a Configured or Stopped
// launcher does nothing.
func (d *Driver) Kill() (err error) {
	_, span := d.startSpan(context.Background(), "kill")
	defer d.finish(span, "kill", time.Now(), &err)

	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	switch state {
	case enginetest.Uninitialized:
		return enginetest.StateError("kill", state)
	case enginetest.Configured, enginetest.Stopped:
		return nil
	}

	if err := d.platform.Kill(); err != nil {
		return enginetest.Classify(enginetest.ErrTeardown, "kill", d.Name(), err)
	}

	d.transition(enginetest.Stopped)
	return nil
}

// Teardown kills a running target, then undoes every completed setup step
// even if some fail. The launcher always ends Uninitialized. Tearing down
// an Uninitialized launcher with nothing to undo does nothing.
func (d *Driver) Teardown(ctx context.Context) (err error) {
	ctx, span := d.startSpan(ctx, "teardown")
	defer d.finish(span, "teardown", time.Now(), &err)

	d.mu.Lock()
	if d.busy {
		defer d.mu.Unlock()
		return enginetest.StateError("teardown", d.state)
	}
	state := d.state
	d.busy = true
	d.mu.Unlock()
	defer d.end()

	if state == enginetest.Uninitialized && d.cleanup.Len() == 0 {
		return nil
	}

	var errs []error

	if state == enginetest.Running {
		if err := d.platform.Kill(); err != nil {
			log.WithError(err).WithField("launcher", d.Name()).Error("kill during teardown failed")
			errs = append(errs, fmt.Errorf("kill: %w", err))
		} else {
			d.transition(enginetest.Stopped)
		}
	}

	if err := d.cleanup.Run(ctx); err != nil {
		errs = append(errs, err)
	}
	d.staged = false

	d.transition(enginetest.Uninitialized)

	if len(errs) > 0 {
		return enginetest.NewError(enginetest.ErrTeardown, "teardown", d.Name(), errors.Join(errs...))
	}

	return nil
}

// WaitUntilAlive polls until the target is running.
func (d *Driver) WaitUntilAlive(ctx context.Context, timeout time.Duration) error {
	return process.Poll(ctx, d.Name()+" alive", timeout, d.pollInterval, d.IsAlive)
}

// WaitUntilStopped polls until the target has exited. A Running launcher
// becomes Stopped.
func (d *Driver) WaitUntilStopped(ctx context.Context, timeout time.Duration) error {
	err := process.Poll(ctx, d.Name()+" stopped", timeout, d.pollInterval, func() bool {
		return !d.IsAlive()
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	running := d.state == enginetest.Running
	d.mu.Unlock()

	if running {
		d.transition(enginetest.Stopped)
	}

	return nil
}

// WaitUntilListening polls until a TCP port on the local host accepts
// connections, e.g. the remote console once the target has booted.
func (d *Driver) WaitUntilListening(ctx context.Context, port int, timeout time.Duration) error {
	return process.Poll(ctx, fmt.Sprintf("%s port %d", d.Name(), port), timeout, d.pollInterval, func() bool {
		return process.PortOpen("127.0.0.1", port)
	})
}

// Start runs Setup, Launch and WaitUntilAlive. On failure everything that
// was set up is torn down again. The returned stop function tears the
// launcher down.
func (d *Driver) Start(ctx context.Context, timeout time.Duration) (stop func(context.Context) error, err error) {
	stop = d.Teardown

	for _, step := range []func() error{
		func() error { return d.Setup(ctx) },
		func() error { return d.Launch(ctx) },
		func() error { return d.WaitUntilAlive(ctx, timeout) },
	} {
		if err := step(); err != nil {
			if errors.Is(err, enginetest.ErrInvalidState) {
				return nil, err
			}
			if terr := d.Teardown(context.Background()); terr != nil {
				return nil, errors.Join(err, terr)
			}
			return nil, err
		}
	}

	return stop, nil
}

// begin claims the driver for op if it is in the expected state.
func (d *Driver) begin(op string, expected enginetest.LauncherState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.busy || d.state != expected {
		return enginetest.StateError(op, d.state)
	}

	d.busy = true
	return nil
}

func (d *Driver) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
}

func (d *Driver) transition(next enginetest.LauncherState) {
	d.mu.Lock()
	prev := d.state
	d.state = next
	d.mu.Unlock()

	log.WithFields(log.Fields{
		"launcher": d.Name(),
		"state":    fmt.Sprintf("%v->%v", prev, next),
	}).Info("state transition")

	d.metrics.Transition(d.Name(), prev.String(), next.String())
	d.notifier.Notify(next)
}

func (d *Driver) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "launcher."+op, trace.WithAttributes(
		attribute.String("launcher", d.Name()),
	))
}

func (d *Driver) finish(span trace.Span, op string, started time.Time, errp *error) {
	if err := *errp; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("state", d.State().String()))
	span.End()

	d.metrics.Operation(d.Name(), op, started, *errp)
}

// settingsPlatform maps a launcher name to the platform whose system
// config it edits.
func settingsPlatform(name string) string {
	switch name {
	case "windows", "windows_editor", "windows_dedicated":
		return "windows"
	case "linux", "linux_dedicated":
		return "linux"
	default:
		return name
	}
}
