package enginetest_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame is one websocket message seen by a viewer.
type frame struct {
	kind    int
	payload []byte
}

// upgradeServer hands every upgraded browser connection to the test
// through conns.
type upgradeServer struct {
	url   string
	conns chan *websocket.Conn
}

func newUpgradeServer(t *testing.T) *upgradeServer {
	t.Helper()

	s := &upgradeServer{conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			assert.Fail(t, "upgrade rejected", err.Error())
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(srv.Close)

	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

// viewer plays the browser side of the console stream.
type viewer struct {
	conn   *websocket.Conn
	frames chan frame
}

// dial connects to url and records pings and messages until the
// connection drops.
func dial(t *testing.T, url string) *viewer {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	v := &viewer{conn: conn, frames: make(chan frame, 16)}

	conn.SetPingHandler(func(appData string) error {
		v.frames <- frame{kind: websocket.PingMessage, payload: []byte(appData)}
		return nil
	})

	go func() {
		defer close(v.frames)
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			v.frames <- frame{kind, payload}
		}
	}()

	return v
}

// expect waits briefly for a frame of the given kind whose payload
// matches pattern. An empty pattern matches any payload.
func (v *viewer) expect(kind int, pattern string) error {
	re := regexp.MustCompile(pattern)

	deadline := time.After(time.Millisecond * 400)
	for {
		select {
		case <-deadline:
			return fmt.Errorf("no %d frame matching %q", kind, pattern)
		case f, ok := <-v.frames:
			if !ok {
				return fmt.Errorf("closed before a frame matched %q", pattern)
			}
			if f.kind == kind && re.Match(f.payload) {
				return nil
			}
		}
	}
}
