package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/claude-sandbox/sandboxd/internal/config"
	"github.com/claude-sandbox/sandboxd/internal/gitmon"
	"github.com/claude-sandbox/sandboxd/internal/handlers"
	"github.com/claude-sandbox/sandboxd/internal/logging"
	"github.com/claude-sandbox/sandboxd/internal/ports"
	"github.com/claude-sandbox/sandboxd/internal/runtime"
	"github.com/claude-sandbox/sandboxd/internal/session"
)

func main() {
	config.Load()
	logging.Init()

	defaults, err := config.LoadDefaults(config.Cfg.DefaultsFile)
	if err != nil {
		log.Fatalf("Defaults: %v", err)
	}

	ctx := context.Background()
	rt, err := runtime.Select(ctx, config.Cfg.RuntimeBackend, config.Cfg.DockerHost, config.Cfg.PodmanSocket)
	if err != nil {
		log.Fatalf("Runtime init: %v", err)
	}
	log.Printf("Runtime backend: %s", rt.BackendName())

	alloc := ports.NewAllocator(config.Cfg.PortBase, config.Cfg.PortCount)

	mgr := session.NewManager(session.Options{
		Runtime:        rt,
		Allocator:      alloc,
		Defaults:       defaults,
		RuntimeTimeout: config.Cfg.RuntimeTimeout,
		PollInterval:   config.Cfg.GitPollInterval,
	})
	handlers.Mgr = mgr

	hub := gitmon.NewHub()
	handlers.EventHub = hub
	go hub.Run(mgr.Events())

	// Adopt containers left over from a previous process.
	mgr.Reconcile(ctx)

	// Periodic reconcile keeps registry state aligned with the runtime.
	sched := cron.New()
	sched.AddFunc("@every 1m", func() { mgr.Reconcile(context.Background()) })
	sched.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", handlers.ListSessions)
		r.Post("/sessions", handlers.CreateSession)
		r.Get("/sessions/{id}", handlers.GetSession)
		r.Post("/sessions/{id}/start", handlers.StartSession)
		r.Post("/sessions/{id}/stop", handlers.StopSession)
		r.Delete("/sessions/{id}", handlers.RemoveSession)
		r.Post("/cleanup", handlers.Cleanup)

		r.Get("/sessions/{id}/terminal", handlers.TerminalWS)
		r.Get("/sessions/{id}/git/events", handlers.GitEventsWS)
		r.Get("/sessions/{id}/git/status", handlers.GitStatus)

		r.Get("/logs", handlers.ServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sched.Stop()
	mgr.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
