// Package executor is the worker-side command runner: it spawns a
// shell per Run frame, streams stdout/stderr line by line, and reports
// exactly one terminal Status, consulting a local idempotency cache so a
// reconnect that replays an unacknowledged Run cannot double-spawn it.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyhorde/barto/kv"
	"github.com/rustyhorde/barto/wire"
)

// dedupTTL bounds how long a completed command's terminal status is kept
// around to answer a replayed Run without respawning.
const dedupTTL = time.Hour

// outputBuffer is the per-command bounded line buffer; on overflow the
// oldest lines are dropped in favor of the newest.
const outputBuffer = 1024

// gracePeriod is how long a killed child is given to exit on SIGTERM before
// SIGKILL follows.
const gracePeriod = 5 * time.Second

// Emitter is how the executor reports frames upstream; the agent/session
// package supplies an implementation backed by the outbound websocket
// channel.
type Emitter interface {
	EmitOutput(wire.Output)
	EmitStatus(wire.Status)
}

// Executor runs commands dispatched by Run frames, one goroutine per
// in-flight command.
type Executor struct {
	dedup  *kv.DedupCache
	emit   Emitter
	logf   func(string, ...any)
	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

func New(dedup *kv.DedupCache, emit Emitter, logf func(string, ...any)) *Executor {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Executor{
		dedup:  dedup,
		emit:   emit,
		logf:   logf,
		active: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Run handles one Run frame, spawning a goroutine that owns the child
// process for its whole lifetime.
func (e *Executor) Run(parent context.Context, run wire.Run) {
	if cached, ok, err := e.dedup.Lookup(run.CmdUUID.String()); err == nil && ok {
		e.logf("[executor] cmd %s already completed, replaying cached status", run.CmdUUID)
		cached.CmdUUID = run.CmdUUID
		e.emit.EmitStatus(cached)
		return
	} else if err != nil {
		e.logf("[executor] dedup lookup failed for cmd %s: %v", run.CmdUUID, err)
	}

	ctx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.active[run.CmdUUID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.active, run.CmdUUID)
			e.mu.Unlock()
			cancel()
		}()
		e.exec(ctx, run)
	}()
}

// Cancel stops the command's session-scoped context; the child's process
// group is signalled and reaped, and no Status is sent upstream.
func (e *Executor) Cancel(cmdUUID uuid.UUID) {
	e.mu.Lock()
	cancel, ok := e.active[cmdUUID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// shellCommand builds the platform shell invocation.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/c", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

func (e *Executor) exec(ctx context.Context, run wire.Run) {
	cmd := shellCommand(ctx, run.Command)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateGracefully(cmd) }
	cmd.WaitDelay = gracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.logf("[executor] cmd %s: stdout pipe: %v", run.CmdUUID, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.logf("[executor] cmd %s: stderr pipe: %v", run.CmdUUID, err)
		return
	}

	if err := cmd.Start(); err != nil {
		e.logf("[executor] cmd %s: start failed: %v", run.CmdUUID, err)
		status := wire.Status{CmdUUID: run.CmdUUID, ExitCode: 127, Success: false}
		e.emit.EmitStatus(status)
		e.recordDone(run.CmdUUID, status)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go e.stream(&wg, run.CmdUUID, wire.Stdout, stdout)
	go e.stream(&wg, run.CmdUUID, wire.Stderr, stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		// Session-cancelled, not a natural exit: no Status upstream.
		return
	}

	exitCode, success := normalizeExit(waitErr)
	status := wire.Status{CmdUUID: run.CmdUUID, ExitCode: exitCode, Success: success}
	e.emit.EmitStatus(status)
	e.recordDone(run.CmdUUID, status)
}

func (e *Executor) recordDone(cmdUUID uuid.UUID, status wire.Status) {
	if err := e.dedup.MarkDone(cmdUUID.String(), status, dedupTTL); err != nil {
		e.logf("[executor] cmd %s: dedup write failed: %v", cmdUUID, err)
	}
}

// stream reads r line by line, emitting an Output frame per line, applying
// drop-oldest backpressure when the caller can't keep up.
func (e *Executor) stream(wg *sync.WaitGroup, cmdUUID uuid.UUID, kind wire.OutputKind, r io.Reader) {
	defer wg.Done()
	lines := make(chan string, outputBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for line := range lines {
			e.emit.EmitOutput(wire.Output{
				CmdUUID:   cmdUUID,
				Kind:      kind,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Line:      line,
			})
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	dropped := 0
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		default:
			select {
			case <-lines:
				dropped++
			default:
			}
			select {
			case lines <- scanner.Text():
			default:
			}
		}
	}
	close(lines)
	<-done
	if dropped > 0 {
		e.emit.EmitOutput(wire.Output{
			CmdUUID:   cmdUUID,
			Kind:      wire.Stderr,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Line:      fmt.Sprintf("[barto: %d lines dropped]", dropped),
		})
	}
}
