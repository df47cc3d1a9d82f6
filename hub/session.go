package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/rustyhorde/barto/sink"
	"github.com/rustyhorde/barto/wire"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateHandshaking
	stateReady
	stateDispatching
	stateClosing
	stateClosed
)

const (
	pingInterval  = 30 * time.Second
	pongTimeout   = 90 * time.Second
	writeTimeout  = 5 * time.Second
)

// WorkerSession is one live websocket connection from a worker, tracking the
// lifecycle states: connecting -> handshaking -> ready -> dispatching ->
// closing -> closed.
type WorkerSession struct {
	conn       conn
	registry   *Registry
	sink       *sink.Sink
	outbound   chan wire.Message
	state      atomic.Int32
	workerName string
	workerUUID uuid.UUID
	logf       func(string, ...any)

	// terminated tracks cmd_uuids this session has already seen a Status
	// for; it is only ever touched from this session's own read loop, so it
	// needs no lock. A frame arriving after Status for the same cmd_uuid is
	// a protocol violation, logged and dropped rather than torn down, since
	// the command is already finalized.
	terminated map[string]bool
}

func newWorkerSession(c conn, reg *Registry, sk *sink.Sink, logf func(string, ...any)) *WorkerSession {
	s := &WorkerSession{
		conn:       c,
		registry:   reg,
		sink:       sk,
		outbound:   make(chan wire.Message, 256),
		logf:       logf,
		terminated: make(map[string]bool),
	}
	s.state.Store(int32(stateConnecting))
	return s
}

func (s *WorkerSession) Send(m wire.Message) bool {
	select {
	case s.outbound <- m:
		return true
	default:
		s.logf("[hub] dropping outbound frame for worker %s: outbound buffer full", s.workerName)
		return false
	}
}

// Run drives the session's handshake, read loop, write loop, and liveness
// check until ctx is cancelled or the connection fails. It always
// deregisters the session itself on exit rather than relying on a
// hub-to-session callback.
func (s *WorkerSession) Run(ctx context.Context) {
	defer func() {
		s.state.Store(int32(stateClosed))
		s.registry.Deregister(s.workerName, s)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.state.Store(int32(stateHandshaking))
	first, err := s.conn.Read(ctx)
	if err != nil {
		return
	}
	hello, ok := first.(wire.Hello)
	if !ok {
		s.conn.Close(policyViolation, "expected Hello")
		return
	}
	s.workerName = hello.WorkerName
	s.workerUUID = hello.WorkerUUID

	if prev := s.registry.Register(s.workerName, s.workerUUID, s); prev != nil {
		prev.supersede()
	}
	s.state.Store(int32(stateReady))
	_ = s.conn.Write(ctx, wire.HelloAck{CoordinatorVersion: coordinatorVersion})

	go s.writeLoop(ctx)
	s.readLoop(ctx)
}

const coordinatorVersion = "1.0.0"

const policyViolation websocket.StatusCode = 1008

func (s *WorkerSession) supersede() {
	s.Send(wire.Shutdown{Reason: wire.ReasonSuperseded})
	s.state.Store(int32(stateClosing))
	s.conn.Close(websocket.StatusNormalClosure, "superseded")
}

func (s *WorkerSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, wire.Ping{})
			cancel()
			if err != nil {
				return
			}
		case m, ok := <-s.outbound:
			if !ok {
				return
			}
			s.state.Store(int32(stateDispatching))
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, m)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *WorkerSession) readLoop(ctx context.Context) {
	lastSeen := time.Now()
	deadline := time.NewTimer(pongTimeout)
	defer deadline.Stop()

	frames := make(chan wire.Message, 16)
	errs := make(chan error, 1)
	go func() {
		for {
			m, err := s.conn.Read(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case frames <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			if time.Since(lastSeen) >= pongTimeout {
				s.conn.Close(websocket.StatusNormalClosure, "liveness timeout")
				return
			}
			deadline.Reset(pongTimeout - time.Since(lastSeen))
		case err := <-errs:
			if err == wire.UnknownVariant {
				s.conn.Close(policyViolation, "unknown variant")
			}
			return
		case m := <-frames:
			lastSeen = time.Now()
			s.registry.Touch(s.workerName)
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
			deadline.Reset(pongTimeout)
			if s.handleInbound(ctx, m) {
				return
			}
		}
	}
}

// handleInbound classifies one inbound frame and routes it to the sink or
// registry. Returns true if the session must close.
func (s *WorkerSession) handleInbound(ctx context.Context, m wire.Message) bool {
	switch frame := m.(type) {
	case wire.Output:
		cmdUUID := frame.CmdUUID.String()
		if s.terminated[cmdUUID] {
			s.logf("[hub] protocol violation: Output for already-terminated cmd %s from worker %s", cmdUUID, s.workerName)
			return false
		}
		s.sink.AppendOutput(ctx, sink.OutputRecord{
			Timestamp:  parseTimestamp(frame.Timestamp),
			WorkerUUID: s.workerUUID.String(),
			WorkerName: s.workerName,
			CmdUUID:    cmdUUID,
			Kind:       frame.Kind,
			Data:       frame.Line,
		})
		return false
	case wire.Status:
		cmdUUID := frame.CmdUUID.String()
		if s.terminated[cmdUUID] {
			s.logf("[hub] protocol violation: duplicate Status for cmd %s from worker %s", cmdUUID, s.workerName)
			return false
		}
		s.terminated[cmdUUID] = true
		if err := s.sink.AppendStatus(ctx, sink.StatusRecord{
			CmdUUID: cmdUUID, ExitCode: frame.ExitCode, Success: frame.Success,
		}); err != nil {
			s.logf("[hub] append_status failed for cmd %s: %v", cmdUUID, err)
		}
		return false
	case wire.Pong:
		return false
	default:
		s.logf("[hub] protocol violation: unexpected frame %T from worker %s", frame, s.workerName)
		s.conn.Close(policyViolation, "protocol_error")
		return true
	}
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
