package hub

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/wire"
)

// conn is the minimal surface the hub needs from a websocket connection,
// narrow enough to fake in tests without a real network socket.
type conn interface {
	Read(ctx context.Context) (wire.Message, error)
	Write(ctx context.Context, m wire.Message) error
	Close(code websocket.StatusCode, reason string) error
}

// coderConn adapts *websocket.Conn (github.com/coder/websocket) to conn,
// applying the wire codec on each side of the binary frame boundary.
type coderConn struct {
	ws *websocket.Conn
}

func newCoderConn(ws *websocket.Conn) *coderConn {
	ws.SetReadLimit(4 * 1024 * 1024)
	return &coderConn{ws: ws}
}

func (c *coderConn) Read(ctx context.Context) (wire.Message, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket read: %v", barrors.ConnectError, err)
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("%w: expected binary frame, got %v", barrors.ProtocolError, typ)
	}
	return wire.Decode(data)
}

func (c *coderConn) Write(ctx context.Context, m wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("%w: websocket write: %v", barrors.ConnectError, err)
	}
	return nil
}

func (c *coderConn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
