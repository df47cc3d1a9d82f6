package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rustyhorde/barto/calendar"
)

type fixedRand struct{}

func (fixedRand) Intn(n int) int { return 0 }

func everySecond(t *testing.T) *calendar.Expression {
	t.Helper()
	e, err := calendar.Parse("*-*-* *:*:*")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return e
}

func TestFiresAndReinserts(t *testing.T) {
	sc := Schedule{WorkerName: "w1", JobName: "j1", Expression: everySecond(t), Commands: []string{"echo hi"}}
	s, err := New([]Schedule{sc}, fixedRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case d := <-s.Dispatches():
		if d.WorkerName != "w1" || d.Command != "echo hi" {
			t.Errorf("got %+v, want worker w1 cmd 'echo hi'", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	// The schedule must have been reinserted with a future fire time, so a
	// second dispatch eventually arrives too.
	select {
	case <-s.Dispatches():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second dispatch")
	}
}

func TestParallelDispatchesAllCommands(t *testing.T) {
	sc := Schedule{
		WorkerName: "w1", JobName: "j1", Expression: everySecond(t),
		Commands: []string{"a", "b", "c"}, Parallel: true,
	}
	s, err := New([]Schedule{sc}, fixedRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case d := <-s.Dispatches():
			seen[d.Command] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d dispatches", i)
		}
	}
	for _, cmd := range sc.Commands {
		if !seen[cmd] {
			t.Errorf("command %q never dispatched", cmd)
		}
	}
}

func TestReloadRepopulatesQueue(t *testing.T) {
	sc1 := Schedule{WorkerName: "w1", JobName: "j1", Expression: everySecond(t), Commands: []string{"old"}}
	s, err := New([]Schedule{sc1}, fixedRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	sc2 := Schedule{WorkerName: "w2", JobName: "j2", Expression: everySecond(t), Commands: []string{"new"}}
	if err := s.Reload([]Schedule{sc2}); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	select {
	case d := <-s.Dispatches():
		if d.Command != "new" || d.WorkerName != "w2" {
			t.Errorf("got %+v, want the reloaded schedule's command", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch after reload")
	}
}

func TestEmitDropsOldestWhenSaturated(t *testing.T) {
	sc := Schedule{WorkerName: "w1", JobName: "j1", Expression: everySecond(t), Commands: []string{"x"}}
	s, err := New([]Schedule{sc}, fixedRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Saturate the dispatch channel directly, bypassing Run, then confirm
	// emit still returns promptly instead of blocking forever.
	for i := 0; i < dispatchBuffer; i++ {
		s.dispatch <- Dispatch{WorkerName: "filler", CmdUUID: "x", Command: "x"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.emit(ctx, Dispatch{WorkerName: "w1", CmdUUID: "new", Command: "new"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a saturated channel instead of dropping oldest")
	}
	if got := len(s.dispatch); got != dispatchBuffer {
		t.Fatalf("got %d queued dispatches, want %d (oldest dropped, new one enqueued)", got, dispatchBuffer)
	}
	var last Dispatch
	for i := 0; i < dispatchBuffer; i++ {
		last = <-s.dispatch
	}
	if last.CmdUUID != "new" {
		t.Errorf("got tail dispatch %+v, want the newly emitted one", last)
	}
}
