package console

import (
	"bufio"
	"context"
	"net"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// mockConsole accepts a single connection and hands it to the test.
type mockConsole struct {
	ln    net.Listener
	conns chan net.Conn
}

func newMockConsole(t *testing.T) *mockConsole {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := &mockConsole{ln: ln, conns: make(chan net.Conn, 4)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			m.conns <- c
		}
	}()

	return m
}

func (m *mockConsole) port() int {
	return m.ln.Addr().(*net.TCPAddr).Port
}

func (m *mockConsole) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case c := <-m.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(time.Second * 2):
		t.Fatal("no connection accepted")
		return nil
	}
}

func connect(t *testing.T) (*Session, net.Conn) {
	t.Helper()

	m := newMockConsole(t)
	s := NewSession()
	require.NoError(t, s.Start(context.Background(), "127.0.0.1", m.port(), time.Second))
	t.Cleanup(func() { s.Stop() })

	return s, m.accept(t)
}

func TestSessionStartUnreachable(t *testing.T) {
	// grab a free port, then close it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSession()
	s.RetryInterval = time.Millisecond * 20

	const timeout = time.Millisecond * 300
	start := time.Now()

	err = s.Start(context.Background(), "127.0.0.1", port, timeout)

	assert.ErrorIs(t, err, enginetest.ErrConnection)
	assert.Less(t, time.Since(start), timeout+time.Second)
	assert.Contains(t, err.Error(), strconv.Itoa(port))
	assert.Equal(t, enginetest.Disconnected, s.State())
}

func TestSessionStartCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession()
	err := s.Start(ctx, "127.0.0.1", 1, time.Minute)
	assert.ErrorIs(t, err, enginetest.ErrConnection)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionStartWaitsForListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	// bring the console up after the first attempts fail
	go func() {
		time.Sleep(time.Millisecond * 150)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer ln.Close()
		c, err := ln.Accept()
		if err == nil {
			time.Sleep(time.Millisecond * 200)
			c.Close()
		}
	}()

	s := NewSession()
	s.RetryInterval = time.Millisecond * 20

	assert.NoError(t, s.Start(context.Background(), "127.0.0.1", port, time.Second*3))
	s.Stop()
}

func TestSessionReceive(t *testing.T) {
	t.Run("reassembles partial reads", func(t *testing.T) {
		s, conn := connect(t)

		conn.Write([]byte("hel"))
		time.Sleep(time.Millisecond * 20)
		conn.Write([]byte("lo\nwor"))
		time.Sleep(time.Millisecond * 20)
		conn.Write([]byte("ld\r\n"))

		assert.Eventually(t, func() bool { return s.Buffer().Len() == 2 }, time.Second, time.Millisecond*5)
		assert.Equal(t, []string{"hello", "world"}, s.Buffer().Lines(0))
	})

	t.Run("mirrors lines", func(t *testing.T) {
		m := newMockConsole(t)
		mirror := &lineRecorder{}

		s := NewSession()
		s.Mirror = mirror
		require.NoError(t, s.Start(context.Background(), "127.0.0.1", m.port(), time.Second))
		defer s.Stop()

		conn := m.accept(t)
		conn.Write([]byte("a\nb\n"))

		assert.Eventually(t, func() bool { return len(mirror.get()) == 2 }, time.Second, time.Millisecond*5)
		assert.Equal(t, []string{"a", "b"}, mirror.get())
	})
}

func TestSessionExpectLogLine(t *testing.T) {
	t.Run("returns when line arrives", func(t *testing.T) {
		s, conn := connect(t)

		go func() {
			time.Sleep(time.Millisecond * 50)
			conn.Write([]byte("noise\nLevel loaded: jack\n"))
		}()

		start := time.Now()
		line, err := s.ExpectLogLine("Level loaded", time.Second*5)

		require.NoError(t, err)
		assert.Equal(t, "Level loaded: jack", line)
		assert.Less(t, time.Since(start), time.Second*2)
	})

	t.Run("times out at deadline", func(t *testing.T) {
		s, conn := connect(t)
		conn.Write([]byte("something else\n"))

		const timeout = time.Millisecond * 150
		start := time.Now()
		_, err := s.ExpectLogLine("never printed", timeout)

		assert.ErrorIs(t, err, enginetest.ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), timeout)
		assert.Contains(t, err.Error(), "never printed")
	})

	t.Run("sequential waits do not rematch", func(t *testing.T) {
		s, conn := connect(t)

		go func() {
			for _, l := range []string{"L1\n", "L2\n", "L3\n"} {
				conn.Write([]byte(l))
				time.Sleep(time.Millisecond * 10)
			}
		}()

		first, err := s.ExpectLogMatch(regexp.MustCompile(`^L1$`), time.Second*2)
		require.NoError(t, err)
		assert.Equal(t, "L1", first)

		second, err := s.ExpectLogMatch(regexp.MustCompile(`^L[13]$`), time.Second*2)
		require.NoError(t, err)
		assert.Equal(t, "L3", second)
	})

	t.Run("failed wait keeps lines visible", func(t *testing.T) {
		s, conn := connect(t)
		conn.Write([]byte("alpha\nbeta\n"))
		assert.Eventually(t, func() bool { return s.Buffer().Len() == 2 }, time.Second, time.Millisecond*5)

		_, err := s.ExpectLogLine("gamma", time.Millisecond*50)
		assert.ErrorIs(t, err, enginetest.ErrTimeout)

		line, err := s.ExpectLogLine("beta", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "beta", line)

		// alpha precedes the last match, so it is consumed
		_, err = s.ExpectLogLine("alpha", time.Millisecond*50)
		assert.ErrorIs(t, err, enginetest.ErrTimeout)
	})

	t.Run("skip ignores history", func(t *testing.T) {
		s, conn := connect(t)
		conn.Write([]byte("ready\n"))
		assert.Eventually(t, func() bool { return s.Buffer().Len() == 1 }, time.Second, time.Millisecond*5)

		s.Skip()
		_, err := s.ExpectLogLine("ready", time.Millisecond*50)
		assert.ErrorIs(t, err, enginetest.ErrTimeout)

		conn.Write([]byte("ready\n"))
		line, err := s.ExpectLogLine("ready", time.Second)
		assert.NoError(t, err)
		assert.Equal(t, "ready", line)
	})

	t.Run("connection lost", func(t *testing.T) {
		s, conn := connect(t)
		conn.Write([]byte("bye\n"))
		conn.Close()

		_, err := s.ExpectLogLine("never printed", time.Second*5)
		assert.ErrorIs(t, err, enginetest.ErrConnection)
		assert.Eventually(t, func() bool { return s.State() == enginetest.Disconnected }, time.Second, time.Millisecond*5)

		// lines received before the loss are still matched
		s2, conn2 := connect(t)
		conn2.Write([]byte("last words\n"))
		conn2.Close()
		line, err := s2.ExpectLogLine("last", time.Second)
		assert.NoError(t, err)
		assert.Equal(t, "last words", line)
	})

	t.Run("context cancelled", func(t *testing.T) {
		s, _ := connect(t)
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*30)
		defer cancel()

		_, err := s.Expect(ctx, func(string) bool { return false }, time.Minute)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSessionSendCommand(t *testing.T) {
	t.Run("writes one line", func(t *testing.T) {
		s, conn := connect(t)

		require.NoError(t, s.SendCommand("map jack_locomotion"))

		conn.SetReadDeadline(time.Now().Add(time.Second * 2))
		line, err := bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "map jack_locomotion\n", line)
	})

	t.Run("rejects multiple lines", func(t *testing.T) {
		s, _ := connect(t)
		assert.ErrorIs(t, s.SendCommand("quit\nmap x"), ErrInvalidCommand)
	})

	t.Run("not connected", func(t *testing.T) {
		s := NewSession()
		assert.ErrorIs(t, s.SendCommand("quit"), enginetest.ErrConnection)
	})
}

func TestSessionLifecycle(t *testing.T) {
	m := newMockConsole(t)
	s := NewSession()
	ctx := context.Background()

	assert.Equal(t, enginetest.Disconnected, s.State())
	require.NoError(t, s.Start(ctx, "127.0.0.1", m.port(), time.Second))
	m.accept(t)
	assert.Equal(t, enginetest.Connected, s.State())

	// only one live connection
	assert.ErrorIs(t, s.Start(ctx, "127.0.0.1", m.port(), time.Second), enginetest.ErrInvalidState)

	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	assert.Equal(t, enginetest.Closed, s.State())
	assert.ErrorIs(t, s.SendCommand("quit"), enginetest.ErrConnection)

	// reconnect
	require.NoError(t, s.Start(ctx, "127.0.0.1", m.port(), time.Second))
	conn := m.accept(t)
	conn.Write([]byte("again\n"))

	line, err := s.ExpectLogLine("again", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, "again", line)
	assert.NoError(t, s.Stop())
}

type lineRecorder struct {
	sync.Mutex
	lines []string
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.Lock()
	defer r.Unlock()
	r.lines = append(r.lines, string(p))
	return len(p), nil
}

func (r *lineRecorder) get() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.lines...)
}
