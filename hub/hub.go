// Package hub implements the coordinator-side websocket hub: the worker
// registration table, the framed binary session protocol, command dispatch,
// result fan-in, and the CLI's query endpoint.
package hub

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/rustyhorde/barto/sink"
	"github.com/rustyhorde/barto/wire"
)

// DispatchRequest is what the scheduler hands the hub for one fired command.
type DispatchRequest struct {
	WorkerName string
	CmdUUID    string
	Command    string
}

// Hub owns the Worker Registration table and the CLI client table. It
// never holds a reference back from a session beyond the outbound channel
// each session already has.
type Hub struct {
	registry *Registry
	clients  *clientRegistry
	sink     *sink.Sink
	logf     func(string, ...any)
	onUpdate UpdateHandler
}

func New(sk *sink.Sink, logf func(string, ...any)) *Hub {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Hub{
		registry: newRegistry(),
		clients:  newClientRegistry(),
		sink:     sk,
		logf:     logf,
	}
}

// Dispatch routes one scheduled command to its worker, or records a missed
// dispatch if the worker is not connected.
func (h *Hub) Dispatch(req DispatchRequest) {
	sess := h.registry.Lookup(req.WorkerName)
	if sess == nil {
		h.logf("[hub] missed dispatch: worker %s not connected for cmd %s", req.WorkerName, req.CmdUUID)
		h.sink.MissedDispatch(req.CmdUUID)
		return
	}
	cmdUUID, err := uuid.Parse(req.CmdUUID)
	if err != nil {
		h.logf("[hub] dropping dispatch with malformed cmd_uuid %s: %v", req.CmdUUID, err)
		return
	}
	sess.Send(wire.Run{CmdUUID: cmdUUID, Command: req.Command})
}

// WorkerCount reports the number of live worker registrations (invariant 5).
func (h *Hub) WorkerCount() int { return h.registry.Count() }

// Clients returns a snapshot of connected worker registrations, for the CLI
// `clients` operation.
func (h *Hub) Clients() []Registration { return h.registry.Snapshot() }

// ServeWorkerWS is the http.HandlerFunc a coordinator mounts for worker
// connections: accept, hand off to a fresh WorkerSession, run until close.
func (h *Hub) ServeWorkerWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.logf("[hub] websocket accept failed: %v", err)
		return
	}
	sess := newWorkerSession(newCoderConn(ws), h.registry, h.sink, h.logf)
	sess.Run(r.Context())
}

// ServeCLIWS is the http.HandlerFunc a coordinator mounts for CLI client
// connections.
func (h *Hub) ServeCLIWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.logf("[hub] websocket accept failed: %v", err)
		return
	}
	sess := newCliSession(newCoderConn(ws), h, h.logf)
	sess.Run(r.Context())
}

