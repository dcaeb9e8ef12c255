package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vapidispatch/pkg/config"
	"vapidispatch/pkg/extract"
	"vapidispatch/pkg/logger"
	"vapidispatch/pkg/middleware"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()
	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// `dispatcher migrate` runs migrations (and the development seed) then exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.DBAutoMigrate = true
		if _, err := initDB(cfg); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("migration completed")
		return
	}

	db, err := initDB(cfg)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	sessions, closeSessions, err := openSessions(cfg, db)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.SessionBackend, "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	prompt := extract.NewPrompt()
	if cfg.ExtractPromptPath != "" {
		if err := prompt.Watch(ctx, cfg.ExtractPromptPath); err != nil {
			slog.Warn("extraction prompt override not loaded, using built-in prompt", "path", cfg.ExtractPromptPath, "error", err)
		}
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; site updates will be marked failed")
	}
	extractor := extract.NewClient(extract.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
	}, prompt)

	srv := newServer(cfg, store.New(db), sessions, extractor)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	srv.setupRoutes(router)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "environment", cfg.Environment, "webhook_base_url", cfg.WebhookBaseURL())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server exited")
}

// openSessions picks the session backend. Lookups are retried so a context
// written by another instance a moment ago is still found.
func openSessions(cfg config.Config, db *gorm.DB) (session.Store, func(), error) {
	var (
		base    session.Store
		closeFn = func() {}
	)
	switch cfg.SessionBackend {
	case "sqlite":
		s, err := session.OpenSQLite(cfg.SessionSQLitePath, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		base = s
		closeFn = func() { s.Close() }
	case "postgres", "":
		base = session.NewGormStore(db, cfg.SessionTTL)
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
	return session.WithRetry(base, cfg.SessionLookupAttempts, cfg.SessionLookupBackoff), closeFn, nil
}
