package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"weather-source/internal/models"
	"weather-source/pkg/database"
	"weather-source/pkg/logging"
	"weather-source/pkg/metrics"
)

// SinkRepository provides append-only access to the sink table. Records
// are appended as-is: no update or merge semantics and no primary key
// beyond the surrogate row id.
type SinkRepository interface {
	EnsureTable(ctx context.Context, table string) error
	DropTable(ctx context.Context, table string) error
	Append(ctx context.Context, table string, records []models.Record) error
	LatestRecord(ctx context.Context, table string) (models.Record, error)
	CountRecords(ctx context.Context, table string) (int, error)
	HealthCheck(ctx context.Context) error
}

// tableNamePattern restricts sink table names to plain SQL identifiers.
// Table names are interpolated into DDL and cannot be bound parameters.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sinkRepository implements SinkRepository on PostgreSQL. Flattened
// records have no fixed column set, so each one lands as a JSONB payload
// row.
type sinkRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSinkRepository creates a new sink repository
func NewSinkRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) SinkRepository {
	return &sinkRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// EnsureTable creates the sink table if it does not exist
func (r *sinkRepository) EnsureTable(ctx context.Context, table string) error {
	if err := validateTableName(table); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			record JSONB NOT NULL,
			load_datetime TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, table)

	if _, err := r.db.ExecContext(ctx, "ensure_table", query); err != nil {
		return fmt.Errorf("failed to create sink table: %w", err)
	}

	indexQuery := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_load_datetime ON %s(load_datetime)",
		table, table,
	)
	if _, err := r.db.ExecContext(ctx, "ensure_table_index", indexQuery); err != nil {
		return fmt.Errorf("failed to create sink table index: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_ENSURE_TABLE] Sink table ready", logging.Fields{
		"table": table,
	})

	return nil
}

// DropTable removes the sink table
func (r *sinkRepository) DropTable(ctx context.Context, table string) error {
	if err := validateTableName(table); err != nil {
		return err
	}

	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
	if _, err := r.db.ExecContext(ctx, "drop_table", query); err != nil {
		return fmt.Errorf("failed to drop sink table: %w", err)
	}

	return nil
}

// Append inserts records into the sink table in a single transaction
func (r *sinkRepository) Append(ctx context.Context, table string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := validateTableName(table); err != nil {
		return err
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.SinkAppendDuration.Observe(duration.Seconds())
		r.logger.Debug(ctx, "[REPO_APPEND] Append completed", logging.Fields{
			"table":       table,
			"count":       len(records),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (record) VALUES ($1)", table,
	))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, payload); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.RecordsAppendedTotal.Add(float64(len(records)))

	return nil
}

// LatestRecord returns the most recently appended record
func (r *sinkRepository) LatestRecord(ctx context.Context, table string) (models.Record, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT record FROM %s ORDER BY id DESC LIMIT 1", table)

	var payload []byte
	err := r.db.GetContext(ctx, "latest_record", &payload, query)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "weather_record",
			ID:       table,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}

	var record models.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return record, nil
}

// CountRecords returns the number of rows in the sink table
func (r *sinkRepository) CountRecords(ctx context.Context, table string) (int, error) {
	if err := validateTableName(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)

	var count int
	if err := r.db.GetContext(ctx, "count_records", &count, query); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

// HealthCheck performs a repository health check
func (r *sinkRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// validateTableName rejects table names that are not plain identifiers
func validateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return &models.ValidationError{
			Field:   "table",
			Message: fmt.Sprintf("invalid sink table name %q", table),
		}
	}
	return nil
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
