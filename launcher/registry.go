package launcher

import (
	"fmt"
	"sort"

	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/adb"
	"github.com/ivan3bx/enginetest/process"
)

// Config carries the platform level overrides used when building a
// launcher by name.
type Config struct {
	// Controller runs local processes. Nil uses a Controller with no
	// output sink.
	Controller *process.Controller

	// Binary replaces the executable a desktop launcher would locate in
	// the build directory.
	Binary string

	// Bridge replaces the adb bridge an android launcher resolves from the
	// devices file.
	Bridge *adb.Bridge

	// PackageName replaces the android package read from project.json.
	PackageName string
}

func (c Config) controller() *process.Controller {
	if c.Controller == nil {
		return &process.Controller{}
	}
	return c.Controller
}

// Factory builds the platform registered under a name.
type Factory func(ws enginetest.Workspace, cfg Config) Platform

func desktop(name string, kind Kind, goos string) Factory {
	return func(ws enginetest.Workspace, cfg Config) Platform {
		return NewDesktop(name, kind, goos, ws, cfg)
	}
}

var factories = map[string]Factory{
	"windows":           desktop("windows", Game, "windows"),
	"windows_dedicated": desktop("windows_dedicated", DedicatedServer, "windows"),
	"windows_editor":    desktop("windows_editor", Editor, "windows"),
	"mac":               desktop("mac", Game, "darwin"),
	"linux":             desktop("linux", Game, "linux"),
	"linux_dedicated":   desktop("linux_dedicated", DedicatedServer, "linux"),
	"android": func(ws enginetest.Workspace, cfg Config) Platform {
		return NewAndroid(ws, cfg)
	},
}

// Names lists every registered launcher name.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named launcher. The name must be supported on host.
func New(host enginetest.Host, name string, ws enginetest.Workspace, cfg Config, opts ...Option) (*Driver, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, enginetest.NewError(enginetest.ErrSetup, "create", name, fmt.Errorf("unknown launcher, expected one of %v", Names()))
	}

	if !host.Supports(name) {
		return nil, enginetest.NewError(enginetest.ErrSetup, "create", name, fmt.Errorf("not supported on %s", host.OS))
	}

	return NewDriver(factory(ws, cfg), ws, opts...), nil
}

// NewLauncher builds the game client launcher for host.
func NewLauncher(host enginetest.Host, ws enginetest.Workspace, cfg Config, opts ...Option) (*Driver, error) {
	return New(host, host.Platform, ws, cfg, opts...)
}

// NewDedicated builds the dedicated server launcher for host.
func NewDedicated(host enginetest.Host, ws enginetest.Workspace, cfg Config, opts ...Option) (*Driver, error) {
	if host.DedicatedServer == "" {
		return nil, enginetest.NewError(enginetest.ErrSetup, "create", "dedicated server", fmt.Errorf("not supported on %s", host.OS))
	}
	return New(host, host.DedicatedServer, ws, cfg, opts...)
}

// NewEditor builds the editor launcher for host.
func NewEditor(host enginetest.Host, ws enginetest.Workspace, cfg Config, opts ...Option) (*Driver, error) {
	if host.Editor == "" {
		return nil, enginetest.NewError(enginetest.ErrSetup, "create", "editor", fmt.Errorf("not supported on %s", host.OS))
	}
	return New(host, host.Editor, ws, cfg, opts...)
}
