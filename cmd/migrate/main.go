// Command migrate applies the profiles, plans, onboarding, renewal and
// feedback schema with goose.
//
// Usage:
//
//	go run ./cmd/migrate up             # Apply all pending migrations
//	go run ./cmd/migrate down           # Roll back the last migration
//	go run ./cmd/migrate status         # Show migration status
//	go run ./cmd/migrate up-to 2        # Migrate to a specific version
//
// DATABASE_URL is read from the environment or a local .env file.
// MIGRATIONS_DIR overrides the default ./migrations directory.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/qrfeedback/platform/internal/logging"
)

const defaultMigrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|status|version|redo|up-to V|down-to V>")
		os.Exit(2)
	}

	_ = godotenv.Load()
	logger := logging.New(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "text"))

	if err := run(logger, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, command string, args []string) error {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))

	dir := envOr("MIGRATIONS_DIR", defaultMigrationsDir)
	logger.Info("running migrations", "command", command, "dir", dir)
	return goose.RunContext(context.Background(), command, db, dir, args...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
