package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rustyhorde/barto/executor"
	"github.com/rustyhorde/barto/wire"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 90 * time.Second
	outboundSize = 256
)

// runner is the subset of *executor.Executor a session needs, narrow enough
// to fake in tests.
type runner interface {
	Run(ctx context.Context, run wire.Run)
	Cancel(cmdUUID uuid.UUID)
}

// session is one live connection to the coordinator: handshake, read loop,
// write loop. A fresh session is created for every reconnect attempt;
// Agent owns the retry loop around it.
type session struct {
	conn       conn
	exec       runner
	outbound   chan wire.Message
	workerUUID uuid.UUID
	workerName string
	caps       []string
	logf       func(string, ...any)
}

func newSession(c conn, ex runner, workerUUID uuid.UUID, workerName string, caps []string, logf func(string, ...any)) *session {
	return &session{
		conn:       c,
		exec:       ex,
		outbound:   make(chan wire.Message, outboundSize),
		workerUUID: workerUUID,
		workerName: workerName,
		caps:       caps,
		logf:       logf,
	}
}

// EmitOutput implements executor.Emitter, routing an executor's output
// frames onto this session's outbound channel.
func (s *session) EmitOutput(o wire.Output) {
	select {
	case s.outbound <- o:
	default:
		s.logf("[agent] dropping Output for cmd %s: outbound buffer full", o.CmdUUID)
	}
}

// EmitStatus implements executor.Emitter. Status delivery takes priority
// over Output: a full buffer is drained of its oldest entry rather than
// dropping the Status itself.
func (s *session) EmitStatus(st wire.Status) {
	select {
	case s.outbound <- st:
		return
	default:
	}
	select {
	case <-s.outbound:
	default:
	}
	select {
	case s.outbound <- st:
	default:
		s.logf("[agent] dropping Status for cmd %s: outbound buffer full", st.CmdUUID)
	}
}

var _ executor.Emitter = (*session)(nil)

// run drives the handshake then the read/write loops until ctx is
// cancelled or the connection fails, returning the error that ended it.
func (s *session) run(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := s.conn.Write(hctx, wire.Hello{WorkerUUID: s.workerUUID, WorkerName: s.workerName, Capabilities: s.caps})
	cancel()
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, readTimeout)
	first, err := s.conn.Read(rctx)
	cancel()
	if err != nil {
		return err
	}
	if _, ok := first.(wire.HelloAck); !ok {
		return errUnexpectedFrame
	}

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	errs := make(chan error, 2)
	go func() { errs <- s.writeLoop(ctx) }()
	go func() { errs <- s.readLoop(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		return err
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-s.outbound:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, m)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		rctx, cancel := context.WithTimeout(ctx, readTimeout)
		m, err := s.conn.Read(rctx)
		cancel()
		if err != nil {
			return err
		}
		switch frame := m.(type) {
		case wire.Run:
			s.exec.Run(ctx, frame)
		case wire.Ping:
			select {
			case s.outbound <- wire.Pong{}:
			default:
			}
		case wire.Shutdown:
			return errShutdown
		default:
			s.logf("[agent] unexpected frame %T from coordinator, closing", frame)
			return errUnexpectedFrame
		}
	}
}
