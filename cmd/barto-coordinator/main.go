// Command barto-coordinator runs the scheduler, websocket hub, and durable
// sink as a single long-lived process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyhorde/barto/calendar"
	"github.com/rustyhorde/barto/config"
	"github.com/rustyhorde/barto/hub"
	"github.com/rustyhorde/barto/scheduler"
	"github.com/rustyhorde/barto/sink"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config-absolute-path", "", "absolute path to the coordinator's TOML config")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.LoadCoordinatorConfig(*configPath)
	if err != nil {
		logger.Fatalf("[coordinator] config: %v", err)
	}

	sk, err := sink.New(cfg.Storage, loggerFunc(logger, "sink"))
	if err != nil {
		logger.Fatalf("[coordinator] sink: %v", err)
	}
	defer sk.Close()

	h := hub.New(sk, loggerFunc(logger, "hub"))

	sched, err := buildScheduler(cfg, loggerFunc(logger, "sched"))
	if err != nil {
		logger.Fatalf("[coordinator] scheduler: %v", err)
	}

	h.SetUpdateHandler(func(name, updateKind string) error {
		logger.Printf("[coordinator] updates request: name=%s kind=%s (config is reloaded from disk, not per schedule)", name, updateKind)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *configPath != "" {
		watcher, err := config.WatchSchedules(*configPath, func(newCfg *config.CoordinatorConfig) {
			newSchedules, err := schedulesFromConfig(newCfg)
			if err != nil {
				logger.Printf("[coordinator] reload rejected: %v", err)
				return
			}
			if err := sched.Reload(newSchedules); err != nil {
				logger.Printf("[coordinator] reload failed: %v", err)
				return
			}
			logger.Printf("[coordinator] schedules reloaded from %s", *configPath)
		})
		if err != nil {
			logger.Printf("[coordinator] hot-reload watcher not started: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	go sched.Run(ctx)
	go func() {
		for d := range sched.Dispatches() {
			h.Dispatch(hub.DispatchRequest{WorkerName: d.WorkerName, CmdUUID: d.CmdUUID, Command: d.Command})
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/worker", h.ServeWorkerWS)
	mux.HandleFunc("/cli", h.ServeCLIWS)

	addr := fmt.Sprintf("%s:%d", cfg.Actix.IP, cfg.Actix.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	serverErrs := make(chan error, 1)
	go func() {
		if cfg.Actix.TLS != nil {
			serverErrs <- srv.ListenAndServeTLS(cfg.Actix.TLS.CertFilePath, cfg.Actix.TLS.KeyFilePath)
			return
		}
		serverErrs <- srv.ListenAndServe()
	}()
	logger.Printf("[coordinator] listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("[coordinator] received %s, shutting down", sig)
	case err := <-serverErrs:
		if err != nil && err != http.ErrServerClosed {
			logger.Printf("[coordinator] server error: %v", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("[coordinator] shutdown: %v", err)
	}
}

func buildScheduler(cfg *config.CoordinatorConfig, logf func(string, ...any)) (*scheduler.Scheduler, error) {
	schedules, err := schedulesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return scheduler.New(schedules, calendar.NewSystemRand(), logf)
}

func schedulesFromConfig(cfg *config.CoordinatorConfig) ([]scheduler.Schedule, error) {
	var out []scheduler.Schedule
	for _, ws := range cfg.Schedules {
		for _, sc := range ws.Schedules {
			expr, err := calendar.Parse(sc.OnCalendar)
			if err != nil {
				return nil, err
			}
			out = append(out, scheduler.Schedule{
				WorkerName: ws.WorkerName,
				JobName:    sc.Name,
				Expression: expr,
				Commands:   sc.Cmds,
				Parallel:   sc.Parallel,
			})
		}
	}
	return out, nil
}

// loggerFunc adapts a *log.Logger into the func(string, ...any) seam every
// core component takes; each component already tags its own messages
// (`[sched]`, `[hub]`, …), so this just forwards to the logger.
func loggerFunc(l *log.Logger, _ string) func(string, ...any) {
	return l.Printf
}
