package database

import (
	"database/sql"
	"fmt"
	"time"

	"image-sentiment-pipeline/config"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// Database wraps the MySQL connection shared by the ledger, the image
// cache and the blob store.
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	waitInterval := 1 * time.Second
	for i := 0; i < 6; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		log.Warnf("Database connection failed, retrying in %v: %v", waitInterval, err)
		time.Sleep(waitInterval)
		waitInterval *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// NewDatabaseWithDB wraps an existing connection, used by tests.
func NewDatabaseWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the underlying sql.DB instance.
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// CreateTables creates the tables this service owns if they don't exist.
func (d *Database) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS analysis_requests (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			status ENUM('pending', 'complete', 'error') NOT NULL DEFAULT 'pending',
			requestor_ip VARCHAR(64) DEFAULT '',
			created_at BIGINT NOT NULL,
			record JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_analysis_requests_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS image_cache (
			source_url VARCHAR(2048) NOT NULL,
			content_type VARCHAR(255) NOT NULL,
			storage_id VARCHAR(128) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (source_url(255))
		)`,
		`CREATE TABLE IF NOT EXISTS image_blobs (
			id VARCHAR(128) NOT NULL PRIMARY KEY,
			content_type VARCHAR(255) NOT NULL,
			data LONGBLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
