package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ivan3bx/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBootstrap = "sys_game_folder=OldProject\n"

var linuxHost = enginetest.HostFor("linux", false)

// testConfig runs `sleep 30` as the linux game launcher. A zero port
// disables the console.
func testConfig(t *testing.T, port int) Config {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires sleep")
	}

	ws := enginetest.Workspace{
		DevDir:       t.TempDir(),
		BuildDir:     t.TempDir(),
		Project:      "SamplesProject",
		TempDir:      t.TempDir(),
		ArtifactsDir: t.TempDir(),
	}
	require.NoError(t, os.WriteFile(ws.BootstrapConfig(), []byte(testBootstrap), 0o644))

	return Config{
		Platform:     "linux",
		Binary:       "sleep",
		Args:         []string{"30"},
		StartTimeout: time.Second * 5,
		Workspace:    ws,
		Console: ConsoleConfig{
			Enabled: port > 0,
			Host:    "127.0.0.1",
			Port:    port,
			Timeout: time.Second * 5,
		},
	}
}

// fakeConsole accepts one remote console connection.
type fakeConsole struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeConsole(t *testing.T) *fakeConsole {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeConsole{ln: ln, conns: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f.conns <- conn
	}()

	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeConsole) Port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func TestHarnessRoundTrip(t *testing.T) {
	fc := newFakeConsole(t)
	cfg := testConfig(t, fc.Port())
	ctx := context.Background()

	h, err := newHarness(linuxHost, cfg, "", io.Discard, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Start(ctx))
	assert.True(t, h.Running())
	assert.Equal(t, enginetest.Running, h.State())
	assert.ErrorIs(t, h.Start(ctx), enginetest.ErrInvalidState)

	conn := <-fc.conns
	defer conn.Close()

	require.NoError(t, h.Command("map Town"))

	received, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "map Town\n", received)

	_, err = conn.Write([]byte("Loading level Town\r\nLevel Town loaded\n"))
	require.NoError(t, err)

	line, err := h.Expect(`Level \w+ loaded`, time.Second*2)
	require.NoError(t, err)
	assert.Equal(t, "Level Town loaded", line)

	assert.Contains(t, h.History(), "Level Town loaded")

	require.NoError(t, h.Stop(ctx))
	assert.False(t, h.Running())
	assert.Equal(t, enginetest.Uninitialized, h.State())

	b, err := os.ReadFile(cfg.Workspace.BootstrapConfig())
	require.NoError(t, err)
	assert.Equal(t, testBootstrap, string(b))

	assert.FileExists(t, filepath.Join(h.artifacts.Dir(), "console.log"))
}

func TestHarnessConsoleUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig(t, port)
	cfg.Console.Timeout = time.Millisecond * 300

	h, err := newHarness(linuxHost, cfg, "", io.Discard, nil)
	require.NoError(t, err)
	defer h.Close()

	err = h.Start(context.Background())
	assert.ErrorIs(t, err, enginetest.ErrConnection)
	assert.False(t, h.Running())
	assert.Equal(t, enginetest.Uninitialized, h.State(), "target torn down")

	b, err := os.ReadFile(cfg.Workspace.BootstrapConfig())
	require.NoError(t, err)
	assert.Equal(t, testBootstrap, string(b))
}

func TestHarnessUnknownPlatform(t *testing.T) {
	cfg := testConfig(t, 0)
	cfg.Platform = "windows_editor"

	_, err := newHarness(linuxHost, cfg, "", io.Discard, nil)
	assert.ErrorIs(t, err, enginetest.ErrSetup)
}

func TestScript(t *testing.T) {
	cfg := testConfig(t, 0)

	h, err := newHarness(linuxHost, cfg, "", io.Discard, nil)
	require.NoError(t, err)
	defer h.Close()

	assert.NoError(t, script(h, nil, nil, time.Second))
	assert.ErrorIs(t, script(h, []string{"quit"}, nil, time.Second), enginetest.ErrConnection)
}
