// Package agent is the worker process's coordinator-facing half: it dials
// the coordinator's websocket endpoint, runs the Hello handshake, dispatches
// Run frames to the executor, and forwards the executor's Output/Status
// frames back upstream, reconnecting with backoff when the link drops.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/wire"
)

// conn is the minimal surface Session needs from a websocket connection,
// narrow enough to fake in tests without a real network socket. Mirrors the
// coordinator hub's own conn interface, but adapts gorilla/websocket instead
// of coder/websocket since the worker is the dialing side.
type conn interface {
	Read(ctx context.Context) (wire.Message, error)
	Write(ctx context.Context, m wire.Message) error
	Close() error
}

// gorillaConn adapts *websocket.Conn (github.com/gorilla/websocket) to conn.
type gorillaConn struct {
	ws *websocket.Conn
}

func dial(ctx context.Context, url string) (*gorillaConn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", barrors.ConnectError, url, err)
	}
	ws.SetReadLimit(4 * 1024 * 1024)
	return &gorillaConn{ws: ws}, nil
}

func (c *gorillaConn) Read(ctx context.Context) (wire.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	}
	typ, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: websocket read: %v", barrors.ConnectError, err)
	}
	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: expected binary frame, got %d", barrors.ProtocolError, typ)
	}
	return wire.Decode(data)
}

func (c *gorillaConn) Write(ctx context.Context, m wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: websocket write: %v", barrors.ConnectError, err)
	}
	return nil
}

func (c *gorillaConn) Close() error {
	return c.ws.Close()
}
