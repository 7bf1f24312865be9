// Command fsmhost-ui runs the Broadcaster: it receives datagram frames
// from every engine process and fans them out to WebSocket clients
// (spec.md §4.5, §6 "Broadcaster entrypoint").
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsmhost/fsmhost/internal/broadcaster"
	"github.com/fsmhost/fsmhost/internal/config"
	"github.com/fsmhost/fsmhost/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to fsmhost.yaml")
	flag.Parse()

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.StorePath, "error", err)
		return 1
	}
	defer st.Close()

	hub := broadcaster.NewHub(st)

	done := make(chan struct{})
	go hub.Run(done)

	ep, err := broadcaster.ListenDatagrams(cfg.EventsSocketPath(), hub, done)
	if err != nil {
		logger.Error("failed to bind shared datagram socket", "error", err)
		return 1
	}
	defer ep.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/events", hub.HandleWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.WebSocket.Address, cfg.WebSocket.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		close(done)
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("broadcaster starting", "address", cfg.WebSocket.Address, "port", cfg.WebSocket.Port)
	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		logger.Error("broadcaster server failed", "error", err)
		return 1
	}

	logger.Info("broadcaster stopped")
	return 0
}
