package agent

import (
	"sync"

	"github.com/rustyhorde/barto/executor"
	"github.com/rustyhorde/barto/wire"
)

// EmitterRouter is the one long-lived executor.Emitter a worker process
// constructs its Executor with. The Executor outlives any single
// connection, so each reconnect's session installs itself as the current
// target; frames emitted with no session connected (a gap between a drop
// and a successful redial) are logged and discarded.
type EmitterRouter struct {
	mu     sync.RWMutex
	target executor.Emitter
	logf   func(string, ...any)
}

// NewEmitterRouter returns a router with no target installed.
func NewEmitterRouter(logf func(string, ...any)) *EmitterRouter {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &EmitterRouter{logf: logf}
}

// setTarget installs the active session as the frame destination.
func (r *EmitterRouter) setTarget(e executor.Emitter) {
	r.mu.Lock()
	r.target = e
	r.mu.Unlock()
}

// clearTarget removes the target if it is still cur, avoiding a race where
// a newer session's setTarget is clobbered by an older session's epilogue.
func (r *EmitterRouter) clearTarget(cur executor.Emitter) {
	r.mu.Lock()
	if r.target == cur {
		r.target = nil
	}
	r.mu.Unlock()
}

func (r *EmitterRouter) EmitOutput(o wire.Output) {
	r.mu.RLock()
	t := r.target
	r.mu.RUnlock()
	if t == nil {
		r.logf("[agent] dropping Output for cmd %s: no connected session", o.CmdUUID)
		return
	}
	t.EmitOutput(o)
}

func (r *EmitterRouter) EmitStatus(s wire.Status) {
	r.mu.RLock()
	t := r.target
	r.mu.RUnlock()
	if t == nil {
		r.logf("[agent] dropping Status for cmd %s: no connected session", s.CmdUUID)
		return
	}
	t.EmitStatus(s)
}

var _ executor.Emitter = (*EmitterRouter)(nil)
