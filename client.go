package enginetest

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

type websocketClient struct {
	*websocket.Conn
}

var _ io.Writer = &ClientManager{}

// ClientManager is a collection of websocket clients watching a test run.
// Console lines and status changes are broadcast to every client.
type ClientManager struct {
	sync.Mutex
	output chan Data
	done   chan struct{}
	pool   map[string]*websocketClient
	closed bool
}

func (c *ClientManager) initialize() {
	c.Lock()
	defer c.Unlock()

	if c.pool == nil {
		c.pool = map[string]*websocketClient{}
	}

	if c.output == nil {
		// start run loop for broadcasting to clients
		c.output = make(chan Data, 64)
		c.done = make(chan struct{})

		go func(output <-chan Data, done <-chan struct{}) {
			for {
				select {
				case <-done:
					return
				case data := <-output:
					c.broadcast(data)
				}
			}
		}(c.output, c.done)
	}
}

// AddClient adds a new client to this manager and starts pinging it.
func (c *ClientManager) AddClient(conn *websocket.Conn) {
	c.initialize()

	c.Lock()
	client := websocketClient{conn}
	c.pool[conn.RemoteAddr().String()] = &client
	done := c.done
	c.Unlock()

	go keepAlive(conn, done)
}

// Clients returns the number of connected clients.
func (c *ClientManager) Clients() int {
	c.Lock()
	defer c.Unlock()
	return len(c.pool)
}

// Send queues data for broadcast.
func (c *ClientManager) Send(data Data) {
	c.initialize()

	c.Lock()
	closed := c.closed
	c.Unlock()

	if closed {
		return
	}

	select {
	case c.output <- data:
	case <-c.done:
	}
}

// Write will send data down a channel to be sent to clients. This
// operation must write to a channel, as writes to an underlying
// websocket can not happen concurrently. Well-formed JSON objects are
// sent as-is; anything else is wrapped as console output.
func (c *ClientManager) Write(data []byte) (int, error) {
	holder := map[string]interface{}{}

	if err := json.Unmarshal(data, &holder); err == nil {
		c.Send(json.RawMessage(append([]byte(nil), data...)))
	} else {
		c.Send(ConsoleLine{Text: string(data)})
	}

	return len(data), nil
}

// Close stops broadcasting and closes every client connection.
func (c *ClientManager) Close() error {
	c.initialize()

	c.Lock()
	defer c.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	for remoteAddr, client := range c.pool {
		client.Close()
		delete(c.pool, remoteAddr)
	}

	return nil
}

func (c *ClientManager) broadcast(data Data) {
	c.Lock()
	defer c.Unlock()

	for remoteAddr, client := range c.pool {
		if err := client.WriteJSON(data); err != nil {
			log.WithField("remoteAddr", remoteAddr).Warn("client disconnected")
			client.Close()
			delete(c.pool, remoteAddr)
		}
	}
}
