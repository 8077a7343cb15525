package launcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/process"
)

// ProcessCompanion runs a helper executable, such as the shader compiler,
// for the lifetime of a launcher.
type ProcessCompanion struct {
	Label      string
	Executable string
	Args       []string

	// StopTimeout bounds a graceful stop before the process is killed.
	StopTimeout time.Duration

	Controller *process.Controller

	mu     sync.Mutex
	handle *process.Handle
}

// NewShaderCompiler returns a companion running the shader compiler at exe.
func NewShaderCompiler(exe string, ctl *process.Controller) *ProcessCompanion {
	return &ProcessCompanion{
		Label:       "shader compiler",
		Executable:  exe,
		StopTimeout: time.Second * 5,
		Controller:  ctl,
	}
}

// Name describes the companion.
func (c *ProcessCompanion) Name() string {
	return c.Label
}

// Start launches the companion. Starting a running companion is an error.
func (c *ProcessCompanion) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil && c.Controller.IsAlive(c.handle) {
		return enginetest.NewError(enginetest.ErrInvalidState, "setup", c.Label, nil)
	}

	h, err := c.Controller.Start(c.Executable, c.Args, filepath.Dir(c.Executable))
	if err != nil {
		return enginetest.Classify(enginetest.ErrSetup, "setup", c.Label, err)
	}

	log.WithFields(log.Fields{"action": "ProcessCompanion.Start()", "companion": c.Label, "pid": h.PID()}).Info("companion started")
	c.handle = h
	return nil
}

// Stop ends the companion. Stopping a companion that is not running does
// nothing.
func (c *ProcessCompanion) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}

	h := c.handle
	c.handle = nil

	return c.Controller.Stop(h, c.StopTimeout)
}

// Alive reports whether the companion is running.
func (c *ProcessCompanion) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Controller.IsAlive(c.handle)
}
