package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rustyhorde/barto/wire"
)

// fakeConn is an in-memory conn for session tests: inbound is a scripted
// queue of frames to hand back from Read, outbound records every Write.
type fakeConn struct {
	mu      sync.Mutex
	inbound []wire.Message
	written []wire.Message
	closed  bool
}

func (f *fakeConn) Read(ctx context.Context) (wire.Message, error) {
	for {
		f.mu.Lock()
		if len(f.inbound) > 0 {
			m := f.inbound[0]
			f.inbound = f.inbound[1:]
			f.mu.Unlock()
			return m, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (f *fakeConn) Write(ctx context.Context, m wire.Message) error {
	f.mu.Lock()
	f.written = append(f.written, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) push(m wire.Message) {
	f.mu.Lock()
	f.inbound = append(f.inbound, m)
	f.mu.Unlock()
}

type fakeRunner struct {
	mu  sync.Mutex
	ran []wire.Run
}

func (r *fakeRunner) Run(ctx context.Context, run wire.Run) {
	r.mu.Lock()
	r.ran = append(r.ran, run)
	r.mu.Unlock()
}

func (r *fakeRunner) Cancel(uuid.UUID) {}

func TestSessionHandshakeAndRun(t *testing.T) {
	c := &fakeConn{}
	c.push(wire.HelloAck{CoordinatorVersion: "1.0.0"})
	run := wire.Run{CmdUUID: uuid.New(), Command: "echo hi"}
	c.push(run)

	rn := &fakeRunner{}
	sess := newSession(c, rn, uuid.New(), "worker-1", Capabilities, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sess.run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got err %v, want context.DeadlineExceeded once inbound drains", err)
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if len(rn.ran) != 1 || rn.ran[0].CmdUUID != run.CmdUUID {
		t.Fatalf("got ran %+v, want the dispatched Run forwarded to the executor", rn.ran)
	}
}

func TestSessionRejectsNonHelloAckFirst(t *testing.T) {
	c := &fakeConn{}
	c.push(wire.Ping{})

	sess := newSession(c, &fakeRunner{}, uuid.New(), "worker-1", Capabilities, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sess.run(ctx)
	if !errors.Is(err, errUnexpectedFrame) {
		t.Fatalf("got err %v, want errUnexpectedFrame", err)
	}
}

func TestSessionRespondsToPingWithPong(t *testing.T) {
	c := &fakeConn{}
	c.push(wire.HelloAck{CoordinatorVersion: "1.0.0"})
	c.push(wire.Ping{})

	sess := newSession(c, &fakeRunner{}, uuid.New(), "worker-1", Capabilities, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sess.run(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	found := false
	for _, m := range c.written {
		if _, ok := m.(wire.Pong); ok {
			found = true
		}
	}
	if !found {
		t.Errorf("got written %+v, want a Pong in response to Ping", c.written)
	}
}
