package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/codeport/devport/internal/config"
	"github.com/codeport/devport/internal/database"
	"github.com/codeport/devport/internal/engine"
	"github.com/codeport/devport/internal/handlers"
	"github.com/codeport/devport/internal/logging"
	"github.com/codeport/devport/internal/ports"
	"github.com/codeport/devport/internal/session"
	"github.com/codeport/devport/internal/terminal"
)

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	store, err := database.Open(config.Cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Database init: %v", err)
	}

	if err := os.MkdirAll(config.Cfg.SessionRoot, 0o755); err != nil {
		log.Fatalf("Session root init: %v", err)
	}

	ctx := context.Background()
	engineTimeout := parseDuration(config.Cfg.EngineTimeout, 60*time.Second)
	eng, err := engine.Detect(ctx, config.Cfg.EngineBackend, config.Cfg.DockerHost,
		config.Cfg.EngineBinary, engineTimeout)
	if err != nil {
		log.Fatalf("Engine init: %v", err)
	}

	alloc, err := ports.New(config.Cfg.PortRangeStart, config.Cfg.PortRangeEnd)
	if err != nil {
		log.Fatalf("Port allocator init: %v", err)
	}
	alloc = alloc.WithProbe(ports.DialProbe)

	extraEnv := map[string]string{}
	if config.Cfg.APIKey != "" {
		extraEnv["API_KEY"] = config.Cfg.APIKey
	}
	if config.Cfg.ADBServerSocket != "" {
		extraEnv["ADB_SERVER_SOCKET"] = config.Cfg.ADBServerSocket
	}

	registry := session.NewRegistry(store, alloc, eng, session.Options{
		SessionRoot:    config.Cfg.SessionRoot,
		Image:          config.Cfg.Image,
		ContainerPort:  config.Cfg.ContainerPort,
		WorkspaceMount: config.Cfg.WorkspaceMount,
		MemoryLimit:    config.Cfg.MemoryLimit,
		AccessHost:     config.Cfg.AccessHost,
		ExtraEnv:       extraEnv,
	})

	// Settle sessions that outlived (or died with) the previous process.
	if err := registry.Resync(ctx); err != nil {
		log.Printf("WARNING: startup resync: %v", err)
	}

	termMgr := terminal.NewManager()
	termMgr.ScrollbackSize = config.Cfg.TerminalHistorySize
	termMgr.IdleTimeout = parseDuration(config.Cfg.TerminalIdleTimeout, terminal.DefaultIdleTimeout)

	// Idle shell cleanup
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			termMgr.CleanupIdle()
		}
	}()

	reconciler := session.NewReconciler(registry,
		parseDuration(config.Cfg.ReconcileInterval, 5*time.Second))
	if err := reconciler.Start(); err != nil {
		log.Fatalf("Reconciler init: %v", err)
	}

	h := handlers.New(registry, termMgr, store)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	h.Routes(r)

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s (engine: %s)", config.Cfg.ListenAddr, eng.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	reconciler.Stop()
	termMgr.CloseAll()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 60*time.Second)
	registry.StopAll(stopCtx)
	cancelStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
