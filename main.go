package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gallerybox/gallerybox/internal/blob"
	"github.com/gallerybox/gallerybox/internal/config"
	"github.com/gallerybox/gallerybox/internal/handler"
	"github.com/gallerybox/gallerybox/internal/repository/sqlite"
	"github.com/gallerybox/gallerybox/internal/service"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// The store must be reachable before we accept requests; bounded
	// retries, then fatal.
	db, err := sqlite.Connect(cfg.DatabasePath, cfg.DBConnectRetries, cfg.DBConnectRetryDelay())
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations applied")

	blobs, err := blob.NewFSStore(cfg.UploadDir)
	if err != nil {
		slog.Error("failed to init blob store", "error", err)
		os.Exit(1)
	}

	images := db.Images()
	imageService := service.NewImageService(images, blobs, cfg.PublicBaseURL)
	ingestService := service.NewIngestService(images, blobs)
	exportService := service.NewExportService(images, blobs)
	janitor := service.NewJanitor()

	gallery := handler.NewGalleryHandler(imageService, ingestService, exportService, janitor, cfg.ExportSpoolDir, cfg.ExportTTL())
	e := handler.NewRouter(gallery, blobs.Root(), cfg.AllowedOrigins)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		slog.Info("server starting", "addr", addr, "baseURL", cfg.PublicBaseURL)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Let in-flight background ingestion drain before closing the store.
	ingestService.Wait()
	janitor.Stop()
	slog.Info("server stopped")
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join("config", "config.yaml")
	}
	return filepath.Join(cwd, "config", "config.yaml")
}
