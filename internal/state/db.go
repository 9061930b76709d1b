// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS operation_journal (
			entry_id BIGSERIAL PRIMARY KEY,
			operation_id VARCHAR(64) NOT NULL,
			operation VARCHAR(32) NOT NULL,
			status_from VARCHAR(32) NOT NULL,
			status_to VARCHAR(32) NOT NULL,
			request_key VARCHAR(64),
			account VARCHAR(128),
			detail TEXT,
			equity_before NUMERIC(40, 0),
			equity_after NUMERIC(40, 0),
			debt_ratio_before NUMERIC(40, 0),
			debt_ratio_after NUMERIC(40, 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_operation_journal_op ON operation_journal (operation, created_at);

		CREATE TABLE IF NOT EXISTS health_snapshots (
			snapshot_id BIGSERIAL PRIMARY KEY,
			equity NUMERIC(40, 0) NOT NULL,
			debt_ratio NUMERIC(40, 0) NOT NULL,
			delta NUMERIC(40, 0) NOT NULL,
			lp_amt NUMERIC(40, 0) NOT NULL,
			share_value NUMERIC(40, 0) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("Database schema ensured.")
	return nil
}
