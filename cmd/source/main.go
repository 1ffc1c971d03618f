package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weather-source/internal/config"
	"weather-source/internal/connector"
	"weather-source/internal/handlers"
	"weather-source/internal/repository"
	"weather-source/internal/scheduler"
	"weather-source/internal/services"
	"weather-source/pkg/database"
	"weather-source/pkg/logging"
	"weather-source/pkg/metrics"
	"weather-source/pkg/secrets"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with the shared credential redactor
	logLevel := logging.InfoLevel
	if cfg.Logging.Level == "debug" {
		logLevel = logging.DebugLevel
	}

	logger := logging.NewStructuredLogger("weather-source", "1.0.0", logLevel)

	redactor := secrets.NewRedactor()
	logger.SetScrubber(redactor.Redact)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting realtime weather source", logging.Fields{
		"version":        "1.0.0",
		"table":          cfg.Source.Table,
		"fetch_interval": cfg.Source.FetchInterval.String(),
		"db_host":        cfg.Database.Host,
		"db_name":        cfg.Database.Database,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("weather_source")

	// Initialize sink database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to sink database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize sink repository
	sinkRepo := repository.NewSinkRepository(db, logger, metricsCollector)

	if err := sinkRepo.EnsureTable(ctx, cfg.Source.Table); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to prepare sink table", logging.Fields{
			"table": cfg.Source.Table,
		}, err)
	}

	// Resolve the connection URI into call parameters
	parser := connector.NewParser(logger, redactor)
	spec, err := parser.Parse(ctx, cfg.Source.URI, cfg.Source.Table)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to parse connection URI", logging.Fields{}, err)
	}

	// Initialize the fetch-and-flatten pipeline
	pipeline, err := services.NewPipelineService(spec, sinkRepo, nil, logger, metricsCollector, redactor)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to build pipeline", logging.Fields{}, err)
	}

	// One-shot mode: external orchestration schedules the runner.
	if cfg.Source.FetchInterval <= 0 {
		result, err := pipeline.Run(ctx)
		if err != nil {
			logger.Fatal(ctx, "[RUN_ERROR] Invocation failed", logging.Fields{}, err)
		}

		logger.Info(ctx, "[RUN_COMPLETE] Invocation completed", logging.Fields{
			"records_appended": result.RecordsAppended,
			"load_datetime":    result.LoadDatetime,
			"duration_ms":      result.Duration.Milliseconds(),
		})
		return
	}

	// Scheduled mode: periodic invocations plus the admin HTTP server.
	sched := scheduler.New(pipeline, cfg.Source.FetchInterval, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to start scheduler", logging.Fields{}, err)
	}
	defer sched.Stop()

	adminHandler := handlers.NewAdminHandler(sinkRepo, cfg.Source.Table, logger, metricsCollector)

	router := mux.NewRouter()
	adminHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] Admin HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Stopped", logging.Fields{})
}
