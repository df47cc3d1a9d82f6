package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/config"
	"github.com/rustyhorde/barto/executor"
)

var (
	errUnexpectedFrame = fmt.Errorf("%w: unexpected frame from coordinator", barrors.ProtocolError)
	errShutdown        = errors.New("coordinator requested shutdown")
)

// ErrRetriesExhausted is returned by Agent.Run when the reconnect loop gives
// up after cfg.RetryCount attempts; the worker binary maps this to exit
// code 3.
var ErrRetriesExhausted = errors.New("agent: reconnect retries exhausted")

// Capabilities advertised in every Hello; presently just a protocol marker,
// left open for future negotiation.
var Capabilities = []string{"shell"}

// Agent owns the worker's reconnect loop: it dials the coordinator, runs a
// session to completion, and on failure backs off and redials, up to
// cfg.RetryCount attempts (0 meaning unlimited).
type Agent struct {
	cfg    config.WorkerConfig
	exec   runner
	router *EmitterRouter
	logf   func(string, ...any)
}

// New builds an Agent. router must be the same EmitterRouter the caller
// constructed exec with (executor.New(dedup, router, ...)): Run installs
// each connection's session as the router's target for its lifetime.
func New(cfg config.WorkerConfig, exec *executor.Executor, router *EmitterRouter, logf func(string, ...any)) *Agent {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Agent{cfg: cfg, exec: exec, router: router, logf: logf}
}

// Run dials and redials until ctx is cancelled (returning nil) or retries
// are exhausted (returning ErrRetriesExhausted).
func (a *Agent) Run(ctx context.Context) error {
	workerUUID := uuid.New()
	url := a.cfg.Bartos.URL("/worker")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // bounded by RetryCount below, not elapsed wall time

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c, err := dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			if a.cfg.RetryCount > 0 && attempts >= a.cfg.RetryCount {
				return ErrRetriesExhausted
			}
			a.logf("[agent] dial %s failed (attempt %d): %v", url, attempts, err)
			if !sleepBackoff(ctx, bo) {
				return nil
			}
			continue
		}

		sess := newSession(c, a.exec, workerUUID, a.cfg.Name, Capabilities, a.logf)
		a.router.setTarget(sess)
		err = sess.run(ctx)
		a.router.clearTarget(sess)
		_ = c.Close()

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errShutdown) {
			a.logf("[agent] coordinator requested shutdown, reconnecting")
		} else if err != nil {
			a.logf("[agent] session ended: %v", err)
		}

		bo.Reset()
		attempts++
		if a.cfg.RetryCount > 0 && attempts >= a.cfg.RetryCount {
			return ErrRetriesExhausted
		}
		if !sleepBackoff(ctx, bo) {
			return nil
		}
	}
}

func sleepBackoff(ctx context.Context, bo backoff.BackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
