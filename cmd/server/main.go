package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/framelab-backend/internal/api"
	"github.com/jengzang/framelab-backend/internal/backend"
	"github.com/jengzang/framelab-backend/internal/config"
	"github.com/jengzang/framelab-backend/internal/database"
	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/handler"
	"github.com/jengzang/framelab-backend/internal/middleware"
	"github.com/jengzang/framelab-backend/internal/raster"
	"github.com/jengzang/framelab-backend/internal/repository"
	"github.com/jengzang/framelab-backend/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
		return err
	}
	defer database.Close()
	db, err := database.GetDB()
	if err != nil {
		return err
	}

	stateRepo := repository.NewStateRepository(db)
	jobRepo := repository.NewJobRepository(db)
	animationRepo := repository.NewAnimationRepository(db)

	studio := service.NewStudio(ctx, stateRepo, service.StudioConfig{
		PersistDelay:   cfg.Studio.PersistDelay,
		PreviewWorkers: cfg.Studio.PreviewWorkers,
	}, logger)
	defer studio.Close()

	orchestrator := generation.NewOrchestrator(newBackend(cfg, logger), raster.PoseToImage, studio, generation.Config{
		PollInterval:     cfg.Generation.PollInterval,
		MaxPollDuration:  cfg.Generation.MaxPollDuration,
		MaxPollErrors:    cfg.Generation.MaxPollErrors,
		RequestTimeout:   cfg.Generation.RequestTimeout,
		RequireReference: cfg.Generation.RequireReference,
	}, logger)
	orchestrator.SetRecorder(jobRepo)
	defer orchestrator.Close()

	animations := service.NewAnimationService(animationRepo, studio, logger)
	if _, err := animations.SeedPresets(ctx, cfg.AnimationsDir); err != nil {
		logger.Warn("failed to seed animation presets", "error", err)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	// 初始化路由
	router := api.SetupRouter(cfg, api.Handlers{
		Studio:     handler.NewStudioHandler(studio),
		Generation: handler.NewGenerationHandler(service.NewGenerationService(studio, orchestrator, jobRepo)),
		Animations: handler.NewAnimationHandler(animations),
	}, limiter, logger)

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// 启动服务器
		logger.Info("server starting", "addr", cfg.Port, "backend", cfg.Backend.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBackend(cfg *config.Config, logger *slog.Logger) generation.Backend {
	if cfg.Backend.Mode == config.BackendHTTP {
		return backend.NewClient(backend.ClientConfig{
			BaseURL:    cfg.Backend.URL,
			Token:      cfg.Backend.Token,
			BasePrompt: cfg.Backend.BasePrompt,
			Timeout:    cfg.Backend.Timeout,
		})
	}
	logger.Info("using the local backend, generated frames are pose renders")
	return backend.NewLocal()
}
