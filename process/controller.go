// Package process starts, probes and stops the operating system processes
// a launcher drives.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
)

const (
	// waitDelay bounds how long output copying may outlive the process.
	waitDelay = time.Second * 2

	// killWait is how long a forced kill may take to be observed.
	killWait = time.Second * 5
)

// Controller starts and stops processes, capturing their output.
type Controller struct {
	// Sink receives captured stdout and stderr, one Write per line with
	// the line terminator removed. A nil Sink discards output.
	Sink io.Writer

	// Env is appended to the parent environment of started processes.
	Env []string

	mu sync.Mutex
}

// Handle refers to a process started by a Controller. It is released by
// Stop or Kill; a released handle can not be used again.
type Handle struct {
	Executable string

	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	released bool
	exitErr  error
}

// PID is the operating system process id.
func (h *Handle) PID() int {
	return h.pid
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr is the result of waiting on the process. It is only meaningful
// once Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Released reports whether Stop or Kill has released this handle.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) acquire(op string) error {
	if h == nil {
		return enginetest.NewError(enginetest.ErrInvalidState, op, "no process", nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return enginetest.NewError(enginetest.ErrInvalidState, op,
			fmt.Sprintf("process %d already released", h.pid), nil)
	}

	h.released = true
	return nil
}

// Start spawns exe with args in dir. The process runs asynchronously;
// its output is sent to the controller's Sink.
func (c *Controller) Start(exe string, args []string, dir string) (*Handle, error) {
	log := log.WithFields(log.Fields{"action": "Controller.Start()", "exe": exe})

	path, err := resolve(exe)
	if err != nil {
		log.WithError(err).Error("executable not found")
		return nil, enginetest.NewError(enginetest.ErrLaunch, "launch", exe, err)
	}

	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			if err == nil {
				err = fmt.Errorf("%s is not a directory", dir)
			}
			log.WithError(err).Error("invalid working directory")
			return nil, enginetest.NewError(enginetest.ErrLaunch, "launch", dir, err)
		}
	}

	stdout := newLineWriter(c.emit)
	stderr := newLineWriter(c.emit)

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		log.WithError(err).Error("command failed")
		return nil, enginetest.NewError(enginetest.ErrLaunch, "launch", exe, err)
	}

	h := &Handle{
		Executable: path,
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		done:       make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()

		stdout.Flush()
		stderr.Flush()

		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()

		log.WithField("pid", h.pid).WithField("exit", fmt.Sprint(err)).Debug("process exited")
		close(h.done)
	}()

	log.WithField("pid", h.pid).Info("process started")
	return h, nil
}

// IsAlive reports whether the process behind h is running. Lookup
// failures are logged and reported as not alive.
func (c *Controller) IsAlive(h *Handle) bool {
	if h == nil || h.Released() || h.Exited() {
		return false
	}

	alive, err := pidAlive(h.pid)
	if err != nil {
		log.WithError(err).WithField("pid", h.pid).Debug("liveness probe failed")
		return false
	}

	return alive
}

// Wait returns a channel closed once the process behind h has exited.
func (c *Controller) Wait(h *Handle) <-chan struct{} {
	return h.Done()
}

// Stop asks the process to exit and kills it if it has not done so
// within timeout. The handle is released.
func (c *Controller) Stop(h *Handle, timeout time.Duration) error {
	if err := h.acquire("stop"); err != nil {
		return err
	}

	log := log.WithFields(log.Fields{"action": "Controller.Stop()", "pid": h.pid})

	if h.Exited() {
		return nil
	}

	log.Info("clean shutdown starting")
	if err := terminate(h.cmd.Process); err != nil {
		log.WithError(err).Debug("unable to signal process")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		log.Info("shutdown completed")
		return nil
	case <-timer.C:
		log.Debug("deadline expired. force quit.")
	}

	return forceKill(h)
}

// Kill forcefully terminates the process. Killing an exited process is
// not an error. The handle is released.
func (c *Controller) Kill(h *Handle) error {
	if err := h.acquire("kill"); err != nil {
		return err
	}

	if h.Exited() {
		return nil
	}

	return forceKill(h)
}

func forceKill(h *Handle) error {
	log := log.WithFields(log.Fields{"action": "forceKill()", "pid": h.pid})

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.WithError(err).Warn("kill failed")

		if alive, _ := pidAlive(h.pid); alive {
			return enginetest.NewError(enginetest.ErrTeardown, "kill", fmt.Sprintf("process %d", h.pid), err)
		}
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(killWait):
		return enginetest.TimeoutError("kill", fmt.Sprintf("process %d", h.pid), killWait, enginetest.ErrTeardown)
	}
}

func (c *Controller) emit(line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Sink != nil {
		c.Sink.Write(line)
	}
}

// resolve finds exe either as a path or on the PATH.
func resolve(exe string) (string, error) {
	if exe == "" {
		return "", errors.New("no executable given")
	}

	if !strings.ContainsAny(exe, `/\`) {
		return exec.LookPath(exe)
	}

	info, err := os.Stat(exe)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", exe)
	}

	return exe, nil
}
