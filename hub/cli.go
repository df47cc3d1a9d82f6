package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/wire"
)

// clientRegistry tracks connected CLI sessions, separately from the Worker
// Registration table — CLI clients never receive dispatch routing or
// liveness deregistration side effects on the scheduler.
type clientRegistry struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*cliSession
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{byID: make(map[uuid.UUID]*cliSession)}
}

func (r *clientRegistry) add(id uuid.UUID, s *cliSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = s
}

func (r *clientRegistry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// cliSession handles one CLI client connection: CliHello handshake, then a
// request/response loop over CliRequest/CliResponse.
type cliSession struct {
	id   uuid.UUID
	conn conn
	hub  *Hub
	logf func(string, ...any)
}

func newCliSession(c conn, h *Hub, logf func(string, ...any)) *cliSession {
	return &cliSession{id: uuid.New(), conn: c, hub: h, logf: logf}
}

func (s *cliSession) Run(ctx context.Context) {
	first, err := s.conn.Read(ctx)
	if err != nil {
		return
	}
	if _, ok := first.(wire.CliHello); !ok {
		s.conn.Close(policyViolation, "expected CliHello")
		return
	}
	s.hub.clients.add(s.id, s)
	defer s.hub.clients.remove(s.id)

	for {
		m, err := s.conn.Read(ctx)
		if err != nil {
			if err == wire.UnknownVariant {
				s.conn.Close(policyViolation, "unknown variant")
			}
			return
		}
		req, ok := m.(wire.CliRequest)
		if !ok {
			s.conn.Close(policyViolation, "protocol_error")
			return
		}
		resp := s.handle(ctx, req)
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = s.conn.Write(wctx, resp)
		cancel()
		if err != nil {
			return
		}
	}
}

func (s *cliSession) handle(ctx context.Context, req wire.CliRequest) wire.CliResponse {
	qctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := s.hub.handleCliOp(qctx, req.Body)
	if err != nil {
		return wire.CliResponse{ReqID: req.ReqID, Body: wire.CliResult{
			IsOk: false, ErrKind: barrors.Kind(err), ErrMsg: err.Error(),
		}}
	}
	return wire.CliResponse{ReqID: req.ReqID, Body: wire.CliResult{IsOk: true, Payload: payload}}
}

// defaultRetention is used by the Cleanup op when no per-call override is
// wired; the retention window is left to configuration the CLI doesn't set
// per-call.
const defaultRetention = 30 * 24 * time.Hour
