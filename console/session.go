// Package console talks to the remote console a running engine exposes:
// newline delimited UTF-8 text over TCP, commands one way and log lines
// the other.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/metrics"
	"golang.org/x/time/rate"
)

const (
	// DefaultPort is the engine's remote console port.
	DefaultPort = 4600

	defaultRetryInterval = time.Millisecond * 250
	writeTimeout         = time.Second * 5
)

// ErrInvalidCommand is returned for commands that span more than one line.
var ErrInvalidCommand = errors.New("command must be a single line")

// Dialer opens network connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session is a client of one remote console. It holds at most one live
// connection; reconnecting is Stop followed by Start.
type Session struct {
	// RetryInterval paces connection attempts in Start.
	RetryInterval time.Duration

	// Dialer opens the connection. Defaults to a net.Dialer.
	Dialer Dialer

	// Mirror, if set, receives every line read from the console.
	Mirror io.Writer

	Metrics *metrics.Metrics

	mu     sync.Mutex
	state  enginetest.ConnectionState
	addr   string
	conn   net.Conn
	done   chan struct{}
	buffer *LogBuffer
	cursor int
}

// NewSession returns a disconnected session.
func NewSession() *Session {
	return &Session{buffer: NewLogBuffer()}
}

// State is the current connection state.
func (s *Session) State() enginetest.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer holds the lines received on the current, or last, connection.
func (s *Session) Buffer() *LogBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer == nil {
		s.buffer = NewLogBuffer()
	}
	return s.buffer
}

// Start connects to host:port, retrying until timeout has elapsed. Once
// connected, lines are read in the background into Buffer.
func (s *Session) Start(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log := log.WithFields(log.Fields{"action": "Session.Start()", "addr": addr})

	s.mu.Lock()
	if s.state == enginetest.Connecting || s.state == enginetest.Connected {
		defer s.mu.Unlock()
		return enginetest.StateError("connect", s.state)
	}

	// release a connection that was lost but never stopped
	if s.conn != nil {
		s.conn.Close()
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}

	s.state = enginetest.Connecting
	s.addr = addr
	s.conn = nil
	if s.buffer == nil || s.buffer.Closed() {
		s.buffer = NewLogBuffer()
		s.cursor = 0
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx, addr, timeout)
	s.Metrics.Connect(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = enginetest.Disconnected
		log.WithError(err).Warn("unable to connect")
		return err
	}

	if s.state != enginetest.Connecting {
		// stopped while dialing
		conn.Close()
		return enginetest.NewError(enginetest.ErrConnection, "connect", addr, errors.New("session stopped"))
	}

	s.conn = conn
	s.done = make(chan struct{})
	s.state = enginetest.Connected

	go s.receive(conn, s.buffer, s.done)

	log.Info("connected")
	return nil
}

func (s *Session) dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	interval := s.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	var dialer Dialer = &net.Dialer{}
	if s.Dialer != nil {
		dialer = s.Dialer
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(dctx); err != nil {
			break
		}

		conn, err := dialer.DialContext(dctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Debug("connect attempt failed")

		if dctx.Err() != nil {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, enginetest.NewError(enginetest.ErrConnection, "connect", addr, err)
	}

	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}

	return nil, &enginetest.Error{
		Kind:     enginetest.ErrConnection,
		Phase:    "connect",
		Resource: addr,
		Deadline: timeout,
		Err:      lastErr,
	}
}

// receive drains conn into buf until the connection ends.
func (s *Session) receive(conn net.Conn, buf *LogBuffer, done chan struct{}) {
	defer close(done)
	defer buf.Close()

	r := bufio.NewReader(conn)

	for {
		line, err := r.ReadString('\n')

		if line != "" && (err == nil || errors.Is(err, io.EOF)) {
			s.deliver(buf, line)
		}

		if err != nil {
			s.mu.Lock()
			if s.conn == conn && s.state == enginetest.Connected {
				s.state = enginetest.Disconnected
				log.WithError(err).WithField("addr", s.addr).Warn("connection lost")
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *Session) deliver(buf *LogBuffer, raw string) {
	line := strings.TrimRight(raw, "\r\n")
	line = strings.ToValidUTF8(line, "�")

	// the mirror sees each line before any waiter does
	if s.Mirror != nil {
		s.Mirror.Write([]byte(line))
	}

	buf.Append(line)
	s.Metrics.LineReceived()
}

// SendCommand writes one command line to the console.
func (s *Session) SendCommand(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != enginetest.Connected {
		return enginetest.NewError(enginetest.ErrConnection, "send", s.addr,
			fmt.Errorf("session is %s", s.state))
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := io.WriteString(s.conn, text+"\n"); err != nil {
		return enginetest.NewError(enginetest.ErrConnection, "send", s.addr, err)
	}

	log.WithFields(log.Fields{"action": "Session.SendCommand()", "command": text}).Debug("sent")
	s.Metrics.CommandSent()
	return nil
}

// Matcher decides whether a log line is the one being waited for.
type Matcher func(line string) bool

// ExpectLogLine waits up to timeout for a line containing pattern.
func (s *Session) ExpectLogLine(pattern string, timeout time.Duration) (string, error) {
	return s.expect(context.Background(), fmt.Sprintf("%q", pattern), func(line string) bool {
		return strings.Contains(line, pattern)
	}, timeout)
}

// ExpectLogMatch waits up to timeout for a line matching re.
func (s *Session) ExpectLogMatch(re *regexp.Regexp, timeout time.Duration) (string, error) {
	return s.expect(context.Background(), "/"+re.String()+"/", re.MatchString, timeout)
}

// Expect waits up to timeout, or until ctx is done, for a line satisfying
// match.
func (s *Session) Expect(ctx context.Context, match Matcher, timeout time.Duration) (string, error) {
	return s.expect(ctx, "matcher", match, timeout)
}

// expect scans from the read cursor. A match moves the cursor past the
// matched line; a failed wait leaves it where it was.
func (s *Session) expect(ctx context.Context, desc string, match Matcher, timeout time.Duration) (string, error) {
	started := time.Now()

	s.mu.Lock()
	if s.buffer == nil {
		s.buffer = NewLogBuffer()
	}
	buf := s.buffer
	next := s.cursor
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	resource := "log line " + desc

	for {
		lines, changed, closed := buf.snapshot(next)

		for _, l := range lines {
			next++
			if match(l) {
				s.advance(buf, next)
				s.Metrics.Expect(started, nil)
				return l, nil
			}
		}

		if closed {
			err := enginetest.NewError(enginetest.ErrConnection, "wait", resource, errors.New("connection closed"))
			s.Metrics.Expect(started, err)
			return "", err
		}

		select {
		case <-ctx.Done():
			err := enginetest.NewError(enginetest.ErrTimeout, "wait", resource, ctx.Err())
			s.Metrics.Expect(started, err)
			return "", err
		case <-timer.C:
			err := enginetest.TimeoutError("wait", resource, timeout, nil)
			s.Metrics.Expect(started, err)
			return "", err
		case <-changed:
		}
	}
}

func (s *Session) advance(buf *LogBuffer, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer == buf && to > s.cursor {
		s.cursor = to
	}
}

// Skip marks every line received so far as consumed.
func (s *Session) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer != nil {
		s.cursor = s.buffer.Len()
	}
}

// Stop closes the connection and waits for the reader to finish. Stopping
// a stopped session does nothing.
func (s *Session) Stop() error {
	s.mu.Lock()

	if s.state == enginetest.Closed {
		s.mu.Unlock()
		return nil
	}

	s.state = enginetest.Closed
	conn, done := s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	<-done

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return enginetest.NewError(enginetest.ErrConnection, "stop", s.addr, err)
	}

	log.WithFields(log.Fields{"action": "Session.Stop()", "addr": s.addr}).Info("disconnected")
	return nil
}
