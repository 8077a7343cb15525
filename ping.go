package enginetest

import (
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

const frequency = time.Second * 10
const rspTimeout = time.Second * 5

// keepAlive pings conn immediately and then on every tick until a ping
// fails or done is closed.
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	tick := time.NewTicker(frequency)
	defer tick.Stop()

	for {
		if err := ping(conn); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-tick.C:
		}
	}
}

func ping(conn *websocket.Conn) error {
	var (
		deadline = time.Now().Add(rspTimeout)
		msg      = websocket.PingMessage
		data     = []byte("engine")
		err      error
	)

	if err = conn.WriteControl(msg, data, deadline); err != nil {
		log.WithField("host", conn.RemoteAddr()).Warn("client failed ping")
		conn.Close()
	}

	return err
}
