package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingEvery  = pongWait * 9 / 10
	queueDepth = 16

	// Clients only ever send control frames.
	maxInbound = 512
)

// client is one dashboard connection. Messages are queued on out and written
// by the client's own writer goroutine.
type client struct {
	conn *websocket.Conn
	out  chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, out: make(chan []byte, queueDepth)}
}

// offer queues msg without blocking and reports whether it fit.
func (c *client) offer(msg []byte) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// write sends queued messages and keepalive pings until out is closed or a
// write fails.
func (c *client) write() {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var (
			kind = websocket.PingMessage
			msg  []byte
		)
		select {
		case m, open := <-c.out:
			if !open {
				c.frame(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			kind, msg = websocket.TextMessage, m
		case <-ping.C:
		}
		if err := c.frame(kind, msg); err != nil {
			return
		}
	}
}

func (c *client) frame(kind int, msg []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return c.conn.WriteMessage(kind, msg)
}

// read consumes inbound frames so pongs and close frames are processed. It
// returns once the peer goes away or stops answering pings.
func (c *client) read() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxInbound)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	extend("") //nolint:errcheck
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
