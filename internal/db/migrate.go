package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Migrate creates the database named in connStr when it does not exist and
// applies the schema file at schemaPath.
func Migrate(ctx context.Context, connStr, schemaPath string, logger zerolog.Logger) error {
	logger.Info().Msg("DB | running migrations")

	dbName, baseConnStr, err := maintenanceConnStr(connStr)
	if err != nil {
		return err
	}

	baseDB, err := sqlx.ConnectContext(ctx, "postgres", baseConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	if err := baseDB.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName); err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if !exists {
		logger.Info().Str("database", dbName).Msg("DB | creating database")
		if _, err := baseDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	schemaSQL, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	target, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer target.Close()
	if _, err := target.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	logger.Info().Msg("DB | migrations completed")
	return nil
}

// maintenanceConnStr returns the database name of a postgres:// URL and the
// same URL pointed at the postgres maintenance database.
func maintenanceConnStr(connStr string) (string, string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", "", fmt.Errorf("connection string must be a postgres:// URL")
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", "", fmt.Errorf("database name not found in connection string")
	}
	base := *u
	base.Path = "/postgres"
	return dbName, base.String(), nil
}
