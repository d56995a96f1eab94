package database

import (
	"fmt"
	"log/slog"
)

// NewDatabase opens the audit store for the configured driver and ensures its schema.
func NewDatabase(databaseType, connectionString string) (database DatabaseService, err error) {
	switch databaseType {
	case "sqlite":
		database, err = NewSQLiteDatabase(connectionString)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}

	// Ensure database schema exists (idempotent), important for in-memory SQLite
	slog.Debug("initializing database schema (ensuring tables exist)", "type", databaseType)
	if _, err = database.CreateDatabase(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
