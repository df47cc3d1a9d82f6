// Command barto-worker dials a coordinator, executes dispatched commands,
// and streams their output and terminal status back.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rustyhorde/barto/agent"
	"github.com/rustyhorde/barto/config"
	"github.com/rustyhorde/barto/executor"
	"github.com/rustyhorde/barto/kv"
)

func main() {
	configPath := flag.String("config-absolute-path", "", "absolute path to the worker's TOML config")
	dedupDir := flag.String("dedup-dir", "./dedup", "directory for the worker's local idempotency cache")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.LoadWorkerConfig(*configPath)
	if err != nil {
		logger.Fatalf("[worker] config: %v", err)
	}

	if err := os.MkdirAll(filepath.Clean(*dedupDir), 0o755); err != nil {
		logger.Fatalf("[worker] dedup dir: %v", err)
	}
	dedup, err := kv.Open(*dedupDir)
	if err != nil {
		logger.Fatalf("[worker] dedup cache: %v", err)
	}
	defer dedup.Close()

	// router is the one long-lived Emitter the executor is built with; each
	// reconnect's session installs itself as the router's current target
	// for the life of that connection (agent.EmitterRouter).
	router := agent.NewEmitterRouter(loggerFunc(logger, "agent"))
	exec := executor.New(dedup, router, loggerFunc(logger, "exec"))
	a := agent.New(*cfg, exec, router, loggerFunc(logger, "agent"))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("[worker] received %s, shutting down", sig)
		cancel()
	}()

	err = a.Run(ctx)
	cancel()
	if errors.Is(err, agent.ErrRetriesExhausted) {
		logger.Printf("[worker] reconnect retries exhausted")
		os.Exit(3)
	}
	if err != nil {
		logger.Fatalf("[worker] fatal: %v", err)
	}
}

func loggerFunc(l *log.Logger, _ string) func(string, ...any) {
	return l.Printf
}
