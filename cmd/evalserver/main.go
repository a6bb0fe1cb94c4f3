// Command evalserver runs the sandboxed code evaluation HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RyanPotat/eval-server/internal/config"
	"github.com/RyanPotat/eval-server/internal/debug"
	"github.com/RyanPotat/eval-server/internal/handlers"
	"github.com/RyanPotat/eval-server/internal/listener"
	"github.com/RyanPotat/eval-server/internal/metrics"
	"github.com/RyanPotat/eval-server/internal/sandbox/fetchbridge"
	"github.com/RyanPotat/eval-server/internal/sandbox/isolate"
	"github.com/RyanPotat/eval-server/internal/sandbox/queue"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bridge := fetchbridge.New(cfg.MaxFetchConcurrency)
	runner := isolate.New(bridge)
	admission := queue.New(runner)

	addr := fmt.Sprintf(":%d", cfg.Port)
	rawLn, err := listener.ListenTCP("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("evalserver: listen %s: %w", addr, err))
		os.Exit(1)
	}
	connLimiter := listener.NewConnLimiter(rawLn, listener.ConnLimiterConfig{
		MaxConnsPerIP: cfg.MaxConnsPerIP,
		MaxTotalConns: cfg.MaxTotalConns,
		OnReject:      listener.LoggingOnReject,
	})

	mux := http.NewServeMux()
	mux.Handle("/eval", handlers.NewEval(admission, cfg.AuthSecret))
	mux.Handle("/healthz", handlers.NewHealth(connLimiter, admission, queue.Capacity))
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Handler: mux}

	go func() {
		debug.Log("startup", "listening on %s", addr)
		if err := srv.Serve(connLimiter); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, fmt.Errorf("evalserver: serve: %w", err))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	debug.Log("startup", "shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("evalserver: shutdown: %w", err))
		os.Exit(1)
	}
}
