package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/logging"
	"github.com/BioHazard786/meshroom/internal/relay"
	"github.com/BioHazard786/meshroom/internal/server"
	"github.com/BioHazard786/meshroom/internal/version"
)

func main() {
	config.LoadDotEnv()
	logging.Init(slog.LevelInfo)

	if err := run(); err != nil {
		slog.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadRelay()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 1. Create the hub and run its event loop
	hub := relay.NewHub(relay.Options{
		MaxRoomSize: cfg.MaxRoomSize,
		Metrics:     relay.NewMetrics(registry),
		Logger:      slog.Default(),
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	// 2. Serve HTTP
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.NewRouter(hub, cfg, registry, slog.Default()),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting signaling relay", "addr", cfg.Addr, "version", version.Version, "max_room_size", cfg.MaxRoomSize)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// 3. Drain: stop accepting, then close every client through the hub
	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	stopHub()
	<-hub.Done()
	return err
}
