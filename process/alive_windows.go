//go:build windows

package process

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

func pidAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return false, nil
		}
		return false, err
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false, err
	}

	return code == stillActive, nil
}

// terminate has no graceful equivalent for console-less game processes on
// Windows, so it kills.
func terminate(p *os.Process) error {
	return p.Kill()
}
