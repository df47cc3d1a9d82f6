package executor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rustyhorde/barto/kv"
	"github.com/rustyhorde/barto/wire"
)

type fakeEmitter struct {
	mu       sync.Mutex
	outputs  []wire.Output
	statuses []wire.Status
	done     chan struct{}
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{done: make(chan struct{}, 8)}
}

func (f *fakeEmitter) EmitOutput(o wire.Output) {
	f.mu.Lock()
	f.outputs = append(f.outputs, o)
	f.mu.Unlock()
}

func (f *fakeEmitter) EmitStatus(s wire.Status) {
	f.mu.Lock()
	f.statuses = append(f.statuses, s)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeEmitter) snapshot() ([]wire.Output, []wire.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Output(nil), f.outputs...), append([]wire.Status(nil), f.statuses...)
}

func newTestDedup(t *testing.T) *kv.DedupCache {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "dedup")
	c, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRunEmitsOutputAndSuccessStatus(t *testing.T) {
	if os.Getenv("GOOS") == "windows" {
		t.Skip("posix-only test")
	}
	dedup := newTestDedup(t)
	emitter := newFakeEmitter()
	ex := New(dedup, emitter, nil)

	run := wire.Run{CmdUUID: uuid.New(), Command: "echo hello"}
	ex.Run(context.Background(), run)

	select {
	case <-emitter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
	}

	outputs, statuses := emitter.snapshot()
	if len(statuses) != 1 || !statuses[0].Success || statuses[0].ExitCode != 0 {
		t.Fatalf("got statuses %+v, want one successful status", statuses)
	}
	found := false
	for _, o := range outputs {
		if o.Line == "hello" && o.Kind == wire.Stdout {
			found = true
		}
	}
	if !found {
		t.Errorf("got outputs %+v, want a stdout line %q", outputs, "hello")
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	dedup := newTestDedup(t)
	emitter := newFakeEmitter()
	ex := New(dedup, emitter, nil)

	run := wire.Run{CmdUUID: uuid.New(), Command: "exit 3"}
	ex.Run(context.Background(), run)

	select {
	case <-emitter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
	}

	_, statuses := emitter.snapshot()
	if len(statuses) != 1 || statuses[0].Success || statuses[0].ExitCode != 3 {
		t.Fatalf("got statuses %+v, want exit code 3 failure", statuses)
	}
}

func TestRunReplaysCachedStatusWithoutRespawning(t *testing.T) {
	dedup := newTestDedup(t)
	emitter := newFakeEmitter()
	ex := New(dedup, emitter, nil)

	cmdUUID := uuid.New()
	cached := wire.Status{CmdUUID: cmdUUID, ExitCode: 0, Success: true}
	if err := dedup.MarkDone(cmdUUID.String(), cached, time.Hour); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	// This command would fail if actually spawned; a cache hit must prevent
	// that and replay the cached terminal status instead.
	ex.Run(context.Background(), wire.Run{CmdUUID: cmdUUID, Command: "exit 9"})

	select {
	case <-emitter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
	}

	_, statuses := emitter.snapshot()
	if len(statuses) != 1 || statuses[0].ExitCode != 0 || !statuses[0].Success {
		t.Fatalf("got statuses %+v, want the replayed cached status", statuses)
	}
	if statuses[0].CmdUUID != cmdUUID {
		t.Fatalf("got CmdUUID %s, want %s", statuses[0].CmdUUID, cmdUUID)
	}
}

func TestCancelSuppressesStatus(t *testing.T) {
	dedup := newTestDedup(t)
	emitter := newFakeEmitter()
	ex := New(dedup, emitter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	run := wire.Run{CmdUUID: uuid.New(), Command: "sleep 30"}
	ex.Run(ctx, run)

	time.Sleep(100 * time.Millisecond)
	ex.Cancel(run.CmdUUID)
	cancel()

	select {
	case <-emitter.done:
		t.Fatal("got a status for a cancelled command, want none")
	case <-time.After(1 * time.Second):
	}
}
