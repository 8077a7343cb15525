package launcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/process"
	"github.com/ivan3bx/enginetest/settings"
)

// Kind distinguishes the executables a desktop launcher can run.
type Kind int

const (
	// Game is the game client launcher.
	Game Kind = iota

	// DedicatedServer is the headless server launcher.
	DedicatedServer

	// Editor is the level editor.
	Editor
)

// Desktop runs a target as a local child process.
type Desktop struct {
	name       string
	kind       Kind
	goos       string
	binary     string
	workspace  enginetest.Workspace
	controller *process.Controller
	companions []Companion

	// StopTimeout bounds a graceful stop during Kill before the process is
	// killed outright. Zero kills immediately.
	StopTimeout time.Duration

	mu     sync.Mutex
	handle *process.Handle
}

// NewDesktop returns the named desktop variant. goos selects executable
// naming ("windows", "darwin" or anything else for linux).
func NewDesktop(name string, kind Kind, goos string, ws enginetest.Workspace, cfg Config) *Desktop {
	d := &Desktop{
		name:       name,
		kind:       kind,
		goos:       goos,
		binary:     cfg.Binary,
		workspace:  ws,
		controller: cfg.controller(),
	}

	if kind == Game && ws.ShaderCompiler != "" {
		d.companions = append(d.companions, NewShaderCompiler(ws.ShaderCompiler, d.controller))
	}

	return d
}

// Name is the registry name.
func (d *Desktop) Name() string {
	return d.name
}

// Binary is the executable this launcher starts.
func (d *Desktop) Binary() string {
	if d.binary != "" {
		return d.binary
	}
	return BinaryPath(d.workspace, d.kind, d.goos)
}

// BinaryPath locates the executable of kind in a build directory.
func BinaryPath(ws enginetest.Workspace, kind Kind, goos string) string {
	ext := ""
	if goos == "windows" {
		ext = ".exe"
	}

	switch kind {
	case Editor:
		return filepath.Join(ws.BuildDir, "Editor"+ext)
	case DedicatedServer:
		return filepath.Join(ws.BuildDir, ws.Project+"Launcher_Server"+ext)
	}

	name := ws.Project + "Launcher"
	if goos == "darwin" {
		return filepath.Join(ws.BuildDir, name+".app", "Contents", "MacOS", name)
	}

	return filepath.Join(ws.BuildDir, name+ext)
}

// Prepare has nothing to acquire on desktop platforms.
func (d *Desktop) Prepare(ctx context.Context, cleanup *Cleanup) error {
	return nil
}

// Configure points the bootstrap config at the workspace project.
func (d *Desktop) Configure(store *settings.Store) error {
	if d.workspace.Project == "" {
		return nil
	}
	return store.ModifyBootstrap("sys_game_folder", d.workspace.Project)
}

// Companions lists the services started with this launcher.
func (d *Desktop) Companions() []Companion {
	return d.companions
}

// Launch starts the binary in the build directory.
func (d *Desktop) Launch(ctx context.Context, args []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != nil && d.controller.IsAlive(d.handle) {
		return enginetest.NewError(enginetest.ErrInvalidState, "launch", process.Describe(d.handle),
			nil)
	}

	dir := d.workspace.BuildDir
	if dir == "" {
		dir = filepath.Dir(d.Binary())
	}

	h, err := d.controller.Start(d.Binary(), args, dir)
	if err != nil {
		return err
	}

	d.handle = h
	return nil
}

// IsAlive reports whether the launched process is running.
func (d *Desktop) IsAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controller.IsAlive(d.handle)
}

// Kill terminates the launched process.
func (d *Desktop) Kill() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == nil || d.handle.Released() {
		return nil
	}

	if d.StopTimeout > 0 {
		return d.controller.Stop(d.handle, d.StopTimeout)
	}

	return d.controller.Kill(d.handle)
}

// PID is the process id of the launched target, or 0.
func (d *Desktop) PID() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == nil {
		return 0
	}
	return d.handle.PID()
}
