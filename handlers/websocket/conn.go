package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// conn adapts a gorilla connection to collab.Conn and keeps it alive
// with protocol pings.
type conn struct {
	ws        *websocket.Conn
	stop      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{ws: ws, stop: make(chan struct{})}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop()
	return c
}

func (c *conn) ReadMessage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	return data, nil
}

func (c *conn) WriteMessage(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason, then drops the socket.
func (c *conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		msg := websocket.FormatCloseMessage(code, reason)
		writeErr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		if errors.Is(writeErr, websocket.ErrCloseSent) {
			writeErr = nil
		}
		err = errors.Join(writeErr, c.ws.Close())
	})
	return err
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
