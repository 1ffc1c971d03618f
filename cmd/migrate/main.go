package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"weather-source/internal/config"
	"weather-source/internal/repository"
	"weather-source/pkg/database"
	"weather-source/pkg/logging"
	"weather-source/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

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

	logger := logging.NewStructuredLogger("weather-source-migrate", "1.0.0", logging.InfoLevel)
	metricsCollector := metrics.NewCollector("weather_source_migrate")

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
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	sinkRepo := repository.NewSinkRepository(db, logger, metricsCollector)

	ctx := context.Background()
	table := cfg.Source.Table

	switch *direction {
	case "up":
		fmt.Printf("Creating sink table: %s\n", table)
		if err := sinkRepo.EnsureTable(ctx, table); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create sink table: %v\n", err)
			os.Exit(1)
		}
	case "down":
		fmt.Printf("Dropping sink table: %s\n", table)
		if err := sinkRepo.DropTable(ctx, table); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to drop sink table: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown direction: %s\n", *direction)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
