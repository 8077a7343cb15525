//go:build !windows

package process

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// pidAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func pidAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	err := unix.Kill(pid, 0)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, err
	}
}

// terminate requests a graceful exit.
func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
