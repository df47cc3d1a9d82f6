package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registration is the coordinator's record of one connected worker.
// WorkerRegistration invariant: at most one live registration per
// worker_name; Registry.Register enforces this by superseding.
type Registration struct {
	WorkerUUID     uuid.UUID
	WorkerName     string
	ConnectedSince time.Time
	LastHeartbeat  time.Time
	session        *WorkerSession
}

// Registry is the hub's exclusive owner of the Worker Registration table.
// It is the only place worker_name -> session lookups happen.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Registration
}

func newRegistry() *Registry {
	return &Registry{byName: make(map[string]*Registration)}
}

// Register installs sess as the live registration for workerName, returning
// the previous registration's session if one existed (the caller must
// supersede it — send Shutdown{superseded} and close it).
func (r *Registry) Register(workerName string, workerUUID uuid.UUID, sess *WorkerSession) *WorkerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byName[workerName]
	r.byName[workerName] = &Registration{
		WorkerUUID:     workerUUID,
		WorkerName:     workerName,
		ConnectedSince: time.Now(),
		LastHeartbeat:  time.Now(),
		session:        sess,
	}
	if prev != nil {
		return prev.session
	}
	return nil
}

// Deregister removes the registration for workerName only if it still points
// at sess — this prevents a superseded session's epilogue from evicting the
// newer registration that replaced it.
func (r *Registry) Deregister(workerName string, sess *WorkerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byName[workerName]; ok && cur.session == sess {
		delete(r.byName, workerName)
	}
}

// Lookup returns the live session for workerName, or nil if none.
func (r *Registry) Lookup(workerName string) *WorkerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.byName[workerName]; ok {
		return reg.session
	}
	return nil
}

// Touch updates the last-heartbeat time on receipt of any frame from workerName.
func (r *Registry) Touch(workerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.byName[workerName]; ok {
		reg.LastHeartbeat = time.Now()
	}
}

// Snapshot returns a copy of all live registrations, for the CLI `clients` op.
func (r *Registry) Snapshot() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.byName))
	for _, reg := range r.byName {
		out = append(out, *reg)
	}
	return out
}

// Count reports the number of live registrations (invariant 5: at any
// instant, len <= distinct worker_names, which Register enforces by
// construction — one entry per key).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
