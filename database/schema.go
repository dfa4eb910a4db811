package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// Schema contains the database schema for the complaint service.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id CHAR(36) PRIMARY KEY,
    phone VARCHAR(32) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY unique_phone (phone)
);

CREATE TABLE IF NOT EXISTS auth_tokens (
    id INT AUTO_INCREMENT PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    token_hash VARCHAR(256) NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    INDEX idx_user_tokens (user_id)
);

CREATE TABLE IF NOT EXISTS complaints (
    seq BIGINT AUTO_INCREMENT,
    id CHAR(36) NOT NULL,
    user_id CHAR(36) NOT NULL,
    user_phone VARCHAR(32) NOT NULL,
    title VARCHAR(128) NOT NULL,
    description TEXT,
    address VARCHAR(512) NOT NULL,
    status ENUM('Pending', 'Approved', 'Declined') NOT NULL DEFAULT 'Pending',
    timestamp BIGINT NOT NULL,
    image LONGBLOB,
    updated_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    PRIMARY KEY (seq),
    UNIQUE KEY unique_id (id),
    INDEX idx_user_complaints (user_id, timestamp),
    INDEX idx_status (status)
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// Migrations list all database migrations.
var Migrations = []Migration{
	{
		// The live feed detects changes through MAX(updated_at). At the
		// default one-second resolution a review landing in the same second
		// as the previous write leaves the column value unchanged and the
		// update is never broadcast; microseconds make every write move it.
		Version: 1,
		Name:    "complaints updated_at microsecond precision",
		Up:      "ALTER TABLE complaints MODIFY updated_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)",
	},
}

// InitializeSchema creates the database schema and runs migrations.
func InitializeSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database schema initialized successfully")
	return nil
}

// RunMigrations applies pending migrations in order.
func RunMigrations(db *sql.DB) error {
	for _, m := range Migrations {
		var applied int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		log.Infof("Applying migration %d: %s", m.Version, m.Name)
		if _, err := db.Exec(m.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}
	return nil
}
