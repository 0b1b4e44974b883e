package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/storefront-labs/apoio-importer/internal/api"
	"github.com/storefront-labs/apoio-importer/internal/cache"
	"github.com/storefront-labs/apoio-importer/internal/catalog"
	"github.com/storefront-labs/apoio-importer/internal/config"
	"github.com/storefront-labs/apoio-importer/internal/extractor"
	"github.com/storefront-labs/apoio-importer/internal/images"
	"github.com/storefront-labs/apoio-importer/internal/importer"
	"github.com/storefront-labs/apoio-importer/internal/ratelimit"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Images.StorageDir, 0o755); err != nil {
		logger.Error("failed to create image storage dir", "dir", cfg.Images.StorageDir, "error", err)
		os.Exit(1)
	}

	// Initialize services
	store := cache.New()
	limiter := ratelimit.NewGapLimiter(cfg.Upstream.MinRequestGap)
	extractorService := extractor.NewService(cfg.Upstream, store, limiter, logger)
	imagePipeline := images.NewPipeline(cfg.Images, cfg.Upstream.BaseURL, logger)
	catalogClient := catalog.NewHTTPClient(cfg.Catalog)
	engine := importer.NewEngine(cfg.Importer, extractorService, catalogClient, imagePipeline, logger)

	handlers := api.NewHandlers(engine, extractorService, cfg.Upstream.ProductListTTL, logger)

	// Setup Chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Mount("/", api.Routes(handlers, cfg.Images.StorageDir, cfg.Images.PublicPath))

	// Start server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		// Stop background import work before closing the listener.
		engine.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"catalog", cfg.Catalog.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
