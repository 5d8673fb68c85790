package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/crm-bulk-import/internal/api"
	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/database"
	"github.com/crm-bulk-import/internal/metrics"
	"github.com/crm-bulk-import/internal/repository"
	"github.com/crm-bulk-import/internal/service"
	"github.com/crm-bulk-import/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info", "json")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting CRM bulk import server...")

	// Initialize database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Server.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Metrics
	m := metrics.New()
	if err := m.RegisterDB(db.DB); err != nil {
		log.Warn().Err(err).Msg("Failed to register database metrics")
	}
	if err := m.RegisterRuntime(); err != nil {
		log.Warn().Err(err).Msg("Failed to register runtime metrics")
	}

	// Initialize repositories
	repos := repository.New(db)

	// Initialize services
	services := service.NewServices(repos, cfg, m, log)

	// Start background job processor
	processorCtx, stopProcessor := context.WithCancel(context.Background())
	defer stopProcessor()
	go services.Job.StartProcessor(processorCtx)
	log.Info().
		Int("workers", cfg.Import.Workers).
		Int("queue_size", cfg.Import.QueueSize).
		Msg("Background job processor started")

	// Initialize router
	router := api.NewRouter(services, cfg, db, m.Handler(), log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Running jobs are failed rather than left in processing
	services.Job.StopProcessor()

	log.Info().Msg("Server exited gracefully")
}
