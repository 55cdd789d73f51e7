package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/authcore/internal/app"
	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	if cfg.Store == "memory" {
		log.Error("the sweeper needs a shared store, USER_STORE=memory is not supported")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	// the API owns migrations
	store, err := app.OpenStore(ctx, cfg, prom, false)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	sw := worker.NewSweeper(worker.Config{Interval: cfg.SweepInterval}, store.Users, log, prom)

	addr := cfg.WorkerAddr

	srv := &http.Server{
		Addr:              addr,
		Handler:           sw.HealthHandler(store, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("sweeper started", "interval", cfg.SweepInterval)

	if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sweeper stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
