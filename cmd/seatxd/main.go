package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"seat-exchange-backend/config"
	"seat-exchange-backend/internal/api"
	"seat-exchange-backend/internal/db"
	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
	"seat-exchange-backend/internal/notification"
	"seat-exchange-backend/internal/registrar"
	"seat-exchange-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := catalogFrom(cfg.Catalog)
	if err := appStore.UpsertCourses(ctx, catalog); err != nil {
		logger.Fatal("failed to seed course catalog", zap.Error(err))
	}

	// Event listeners: persistence always, push only with VAPID keys.
	recorder := store.NewRecorder(appStore, cfg.Recorder.Shards, logger.Named("recorder"))
	recorder.Start()
	listeners := exchange.Fanout{recorder}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Warn("VAPID keys are not configured; push notifications are disabled")
	} else {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.Buffer, appStore, &webpushOptions, logger.Named("push"))
		pool.Start(ctx)
		listeners = append(listeners, pool)
	}

	engine, err := exchange.New(engineConfig(cfg, catalog),
		exchange.WithLogger(logger.Named("engine")),
		exchange.WithListener(listeners),
	)
	if err != nil {
		logger.Fatal("invalid engine configuration", zap.Error(err))
	}

	snap, err := appStore.LoadActive(ctx)
	if err != nil {
		logger.Fatal("failed to load active state", zap.Error(err))
	}
	if err := engine.Restore(snap); err != nil {
		logger.Fatal("failed to restore engine state", zap.Error(err))
	}

	sweeper := exchange.NewSweeper(engine, cfg.Engine.SweepInterval, cfg.Engine.SweepConcurrency)
	go sweeper.Run(ctx)

	registrarSvc := registrar.NewService(cfg.Registrar, engine, logger.Named("registrar"))
	go registrarSvc.Run(ctx)

	// Initialize router
	handler := api.NewHandler(engine, appStore, &webpushOptions, logger.Named("api"))
	router := api.NewRouter(handler, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server Shutdown", zap.Error(err))
	}
	cancel()

	// Events emitted before the server stopped must still reach the database.
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error("event recorder did not drain", zap.Int("pending", recorder.Pending()), zap.Error(err))
	}
	written, failed := recorder.Stats()
	logger.Info("server gracefully stopped", zap.Int64("events_written", written), zap.Int64("events_failed", failed))
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func catalogFrom(entries []config.CourseConfig) []model.Course {
	courses := make([]model.Course, 0, len(entries))
	for _, c := range entries {
		courses = append(courses, model.Course{
			CRN:      c.CRN,
			Title:    c.Title,
			Capacity: c.Capacity,
			Enrolled: c.Enrolled,
		})
	}
	return courses
}

func engineConfig(cfg *config.Config, catalog []model.Course) exchange.Config {
	e := cfg.Engine
	return exchange.Config{
		OfferTTL:               e.OfferTTL,
		LockWindow:             e.LockWindow,
		MaxWaitHorizon:         e.MaxWaitHorizon,
		Retention:              e.Retention,
		DefaultWaitPerPosition: e.DefaultWaitPerPosition,
		AbuseThreshold:         e.AbuseThreshold,
		Settings: exchange.Settings{
			FairnessWeight:    *e.FairnessWeight,
			MaxActiveRequests: e.MaxActiveRequests,
			OffersPerDay:      e.OffersPerDay,
			RequestsPerDay:    e.RequestsPerDay,
		},
		Catalog: catalog,
	}
}
