// Package cliclient is barto-cli's thin RPC layer: dial the coordinator's
// CLI websocket endpoint, send CliHello, then issue one CliRequest per
// invocation and wait for its matching CliResponse.
package cliclient

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/config"
	"github.com/rustyhorde/barto/wire"
)

// requestTimeout is the default RPC-like exchange timeout.
const requestTimeout = 30 * time.Second

// Client is a single short-lived connection to the coordinator's CLI
// endpoint: one process invocation, one connection, one or more requests.
type Client struct {
	ws *websocket.Conn
}

// Dial connects and completes the CliHello handshake.
func Dial(ctx context.Context, cfg config.CLIConfig) (*Client, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := cfg.Bartos.URL("/cli")
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", barrors.ConnectError, url, err)
	}
	ws.SetReadLimit(4 * 1024 * 1024)

	frame, err := wire.Encode(wire.CliHello{CliName: cfg.Name})
	if err != nil {
		ws.Close()
		return nil, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: sending CliHello: %v", barrors.ConnectError, err)
	}
	return &Client{ws: ws}, nil
}

func (c *Client) Close() error { return c.ws.Close() }

// Query sends op and blocks for its CliResponse, failing after
// requestTimeout with barrors.ErrTimeout.
func (c *Client) Query(ctx context.Context, op wire.CliOp) (wire.CliResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqID := uuid.New()
	frame, err := wire.Encode(wire.CliRequest{ReqID: reqID, Body: op})
	if err != nil {
		return wire.CliResult{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return wire.CliResult{}, fmt.Errorf("%w: sending request: %v", barrors.ConnectError, err)
	}

	type readResult struct {
		msg wire.Message
		err error
	}
	results := make(chan readResult, 1)
	go func() {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			results <- readResult{err: fmt.Errorf("%w: reading response: %v", barrors.ConnectError, err)}
			return
		}
		if typ != websocket.BinaryMessage {
			results <- readResult{err: fmt.Errorf("%w: expected binary frame, got %d", barrors.ProtocolError, typ)}
			return
		}
		m, err := wire.Decode(data)
		results <- readResult{msg: m, err: err}
	}()

	select {
	case <-ctx.Done():
		return wire.CliResult{}, fmt.Errorf("%w: waiting for response", barrors.ErrTimeout)
	case res := <-results:
		if res.err != nil {
			return wire.CliResult{}, res.err
		}
		resp, ok := res.msg.(wire.CliResponse)
		if !ok || resp.ReqID != reqID {
			return wire.CliResult{}, fmt.Errorf("%w: unexpected response frame", barrors.ProtocolError)
		}
		return resp.Body, nil
	}
}
