package enginetest_test

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/ivan3bx/enginetest"
	"github.com/stretchr/testify/assert"
)

func TestClientManager(t *testing.T) {
	server := newUpgradeServer(t)

	tests := []struct {
		name      string
		checkFunc func(*testing.T, *viewer)
	}{
		{
			name: "adding client starts pinging",
			checkFunc: func(t *testing.T, client *viewer) {
				m := enginetest.ClientManager{}
				defer m.Close()

				m.AddClient(<-server.conns)
				assert.NoError(t, client.expect(websocket.PingMessage, ""))
			},
		},
		{
			name: "server wraps plain text as JSON to client",
			checkFunc: func(t *testing.T, client *viewer) {
				m := enginetest.ClientManager{}
				defer m.Close()

				m.AddClient(<-server.conns)
				m.Write([]byte("hi there"))

				assert.NoError(t, client.expect(websocket.TextMessage, `{"output":"hi there"}`))
			},
		},
		{
			name: "server serializes JSON directly to client",
			checkFunc: func(t *testing.T, client *viewer) {
				m := enginetest.ClientManager{}
				defer m.Close()

				m.AddClient(<-server.conns)
				m.Write([]byte(`{"status":"Running"}`))

				assert.NoError(t, client.expect(websocket.TextMessage, `{"status":"Running"}`))
			},
		},
		{
			name: "status changes are sent by name",
			checkFunc: func(t *testing.T, client *viewer) {
				m := enginetest.ClientManager{}
				defer m.Close()

				m.AddClient(<-server.conns)
				m.Send(enginetest.StatusChange{State: enginetest.Stopped})

				assert.NoError(t, client.expect(websocket.TextMessage, `{"status":"Stopped"}`))
			},
		},
		{
			name: "console lines with quotes stay valid JSON",
			checkFunc: func(t *testing.T, client *viewer) {
				m := enginetest.ClientManager{}
				defer m.Close()

				m.AddClient(<-server.conns)
				m.Send(enginetest.ConsoleLine{Text: `say "hello"`})

				assert.NoError(t, client.expect(websocket.TextMessage, `\{"output":"say \\"hello\\""\}`))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.checkFunc(t, dial(t, server.url))
		})
	}
}

func TestClientManagerClose(t *testing.T) {
	m := enginetest.ClientManager{}

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close(), "second close is a no-op")

	// sending after close must not block
	m.Send(enginetest.ConsoleLine{Text: "late"})
	assert.Equal(t, 0, m.Clients())
}
