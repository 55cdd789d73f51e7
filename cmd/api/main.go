package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/authcore/internal/app"
	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/db"
	httpx "github.com/geocoder89/authcore/internal/http"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "authcore-api", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	store, err := app.OpenStore(ctx, cfg, prom, true)
	if err != nil {
		log.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	created, err := db.EnsureAdminUser(ctx, store.Users, cfg.Admin)
	if err != nil {
		log.Error("admin seed failed", "err", err)
		os.Exit(1)
	}
	if created {
		log.Info("admin user created", "email", cfg.Admin.Email)
	}

	notifier := app.NewNotifier(cfg, log)
	if !cfg.Email.Enabled() {
		log.Warn("EMAIL_HOST not set, reset emails are written to the log")
	}

	core := app.NewAuth(cfg, store.Users, notifier, log)
	limiters := app.NewLimiters(cfg, log)
	defer limiters.Close()

	router := httpx.NewRouter(httpx.RouterDeps{
		Env:           cfg.Env,
		ServiceName:   "authcore-api",
		Log:           log,
		Accounts:      core.Accounts,
		Gate:          core.Gate,
		Prom:          prom,
		Gatherer:      reg,
		LoginLimiter:  limiters.Login,
		ForgotLimiter: limiters.Forgot,
		Checks:        append(store.Checks, limiters.Checks...),
		CORSOrigins:   cfg.CORSOrigins,
		ResetURLBase:  cfg.ResetURLBase,
	})

	srv := httpx.Server(fmt.Sprintf(":%d", cfg.Port), router)

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}

		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
