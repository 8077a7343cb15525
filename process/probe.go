package process

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
)

// ErrNoResponse is returned when a watched port stops responding.
var ErrNoResponse = errors.New("no response or check failed")

// DefaultInterval is used by WatchPort and Poll when given a non-positive
// interval.
const DefaultInterval = time.Millisecond * 250

// PortOpen reports whether a TCP connection to host:port can be made.
func PortOpen(host string, port int) bool {
	hostname := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", hostname, time.Second)

	if err != nil || conn == nil {
		return false
	}

	conn.Close()
	return true
}

// WatchPort checks host:port every interval. It returns ErrNoResponse as
// soon as the port is closed, or nil when ctx is done.
func WatchPort(ctx context.Context, host string, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !PortOpen(host, port) {
				log.WithField("action", "WatchPort()").Warn("probe failed")
				return ErrNoResponse
			}
		}
	}
}

// Poll calls cond every interval until it returns true. It gives up with
// an ErrTimeout error once timeout has elapsed, and returns early if ctx
// is cancelled. cond is always evaluated at least once.
func Poll(ctx context.Context, what string, timeout, interval time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}

	if interval <= 0 {
		interval = DefaultInterval
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return enginetest.NewError(enginetest.ErrTimeout, "wait", what, ctx.Err())
		case <-timer.C:
			if cond() {
				return nil
			}
			return enginetest.TimeoutError("wait", what, timeout, nil)
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

// Describe names a pid for error messages.
func Describe(h *Handle) string {
	if h == nil {
		return "no process"
	}
	return fmt.Sprintf("%s (pid %d)", h.Executable, h.pid)
}
