// Package scheduler implements the coordinator's ticking event source: it
// holds the set of active Schedules in a min-priority queue keyed by next
// fire time, sleeps until the head is due, and emits a Dispatch event per
// fired command for the hub to route.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyhorde/barto/calendar"
)

// Schedule is one (worker_name, job_name, expression, commands) tuple.
// Schedules are immutable for the coordinator's lifetime except across a
// Reload, which replaces the whole set atomically.
type Schedule struct {
	WorkerName string
	JobName    string
	Expression *calendar.Expression
	Commands   []string
	// Parallel selects whether this schedule's multiple Commands fire
	// concurrently or strictly in sequence.
	Parallel bool
}

// Dispatch is what the scheduler hands the hub for one fired command.
type Dispatch struct {
	WorkerName string
	CmdUUID    string
	Command    string
}

const dispatchBuffer = 256

// Scheduler owns the schedule priority queue exclusively. It never
// blocks on dispatch: a full outbound channel is drained of its oldest entry
// before the new one is enqueued (drop-oldest-and-log), because the
// scheduler must not fall behind wall time.
type Scheduler struct {
	mu       sync.Mutex
	pq       scheduleHeap
	rng      calendar.RandSource
	logf     func(string, ...any)
	now      func() time.Time
	dispatch chan Dispatch
	wakeup   chan struct{}
}

// New builds a Scheduler over the given schedules, computing each one's
// first fire time relative to now(). rng resolves any R fields; a nil
// logf discards log messages.
func New(schedules []Schedule, rng calendar.RandSource, logf func(string, ...any)) (*Scheduler, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Scheduler{
		rng:      rng,
		logf:     logf,
		now:      time.Now,
		dispatch: make(chan Dispatch, dispatchBuffer),
		wakeup:   make(chan struct{}, 1),
	}
	entries, err := s.buildEntries(schedules)
	if err != nil {
		return nil, err
	}
	s.pq = entries
	heap.Init(&s.pq)
	return s, nil
}

func (s *Scheduler) buildEntries(schedules []Schedule) (scheduleHeap, error) {
	now := s.now()
	entries := make(scheduleHeap, 0, len(schedules))
	for i := range schedules {
		sc := schedules[i]
		fireAt, err := sc.Expression.NextFire(now, s.rng)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &scheduleEntry{schedule: sc, fireAt: fireAt})
	}
	return entries, nil
}

// Dispatches returns the channel the scheduler emits fired commands on. The
// caller (the coordinator's main wiring) reads from it and hands each event
// to the hub.
func (s *Scheduler) Dispatches() <-chan Dispatch { return s.dispatch }

// Reload atomically replaces the active schedule set, recomputing every new
// schedule's first fire time relative to now.
// Run is nudged via wakeup so it re-evaluates the new heap's head immediately
// instead of sleeping out the old schedule's remaining timer.
func (s *Scheduler) Reload(schedules []Schedule) error {
	entries, err := s.buildEntries(schedules)
	if err != nil {
		return err
	}
	heap.Init(&entries)
	s.mu.Lock()
	s.pq = entries
	s.mu.Unlock()
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// Run drives the scheduler loop until ctx is cancelled: a global shutdown
// signal stops the loop without firing whatever is still queued.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		var sleepFor time.Duration
		var due bool
		if len(s.pq) > 0 {
			sleepFor = s.pq[0].fireAt.Sub(s.now())
			due = sleepFor <= 0
		} else {
			sleepFor = time.Hour
		}
		s.mu.Unlock()

		if due {
			s.fireHead(ctx)
			continue
		}

		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		}
	}
}

// fireHead pops the head schedule, dispatches its commands, and reinserts it
// with its next fire time.
func (s *Scheduler) fireHead(ctx context.Context) {
	s.mu.Lock()
	if len(s.pq) == 0 {
		s.mu.Unlock()
		return
	}
	entry := heap.Pop(&s.pq).(*scheduleEntry)
	s.mu.Unlock()

	sc := entry.schedule
	if sc.Parallel {
		for _, cmd := range sc.Commands {
			cmdUUID := uuid.NewString()
			go s.emit(ctx, Dispatch{WorkerName: sc.WorkerName, CmdUUID: cmdUUID, Command: cmd})
		}
	} else {
		for _, cmd := range sc.Commands {
			cmdUUID := uuid.NewString()
			s.emit(ctx, Dispatch{WorkerName: sc.WorkerName, CmdUUID: cmdUUID, Command: cmd})
		}
	}

	nextFire, err := sc.Expression.NextFire(s.now(), s.rng)
	if err != nil {
		s.logf("[sched] schedule %s/%s has no further fire time: %v", sc.WorkerName, sc.JobName, err)
		return
	}
	s.mu.Lock()
	heap.Push(&s.pq, &scheduleEntry{schedule: sc, fireAt: nextFire})
	s.mu.Unlock()
}

// emit hands d to the dispatch channel, applying drop_oldest_and_log
// backpressure if the channel is saturated.
func (s *Scheduler) emit(ctx context.Context, d Dispatch) {
	select {
	case s.dispatch <- d:
		return
	case <-ctx.Done():
		return
	default:
	}
	select {
	case old := <-s.dispatch:
		s.logf("[sched] dropping dispatch for worker %s cmd %s: outbound channel saturated", old.WorkerName, old.CmdUUID)
	default:
	}
	select {
	case s.dispatch <- d:
	case <-ctx.Done():
	}
}
