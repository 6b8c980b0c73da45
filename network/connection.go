// network/connection.go
package network

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection 传输层抽象，便于测试替换
type Connection interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	WritePing() error
	WriteClose(code int, reason string) error
	SetHeartbeat(pongWait time.Duration)
	Close() error
	RemoteAddr() net.Addr
}

// maxFrameSize bounds inbound frames; the largest legal one is a chat message.
const maxFrameSize = 8192

type WSConnection struct {
	conn         *websocket.Conn
	sendMutex    sync.Mutex
	writeTimeout time.Duration
}

func NewWSConnection(conn *websocket.Conn, writeTimeout time.Duration) *WSConnection {
	conn.SetReadLimit(maxFrameSize)
	return &WSConnection{conn: conn, writeTimeout: writeTimeout}
}

func (c *WSConnection) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

// WriteMessage sends one JSON text frame.
func (c *WSConnection) WriteMessage(data []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConnection) WritePing() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, c.deadline())
}

// WriteClose sends a close frame. It may be called concurrently with writes.
func (c *WSConnection) WriteClose(code int, reason string) error {
	deadline := c.deadline()
	if deadline.IsZero() {
		deadline = time.Now().Add(time.Second)
	}
	return c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func (c *WSConnection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// SetHeartbeat arms the read deadline and extends it on every pong.
func (c *WSConnection) SetHeartbeat(pongWait time.Duration) {
	if pongWait <= 0 {
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
