package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationPath = "migrations"

// RunMigrations applies the embedded goose migrations through a lib/pq
// connection that lives only for the duration of the call.
func RunMigrations(dsn string, logger *zap.Logger) error {
	const op = "storage.migrations"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(zap.NewStdLog(logger))
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.Up(db, migrationPath); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			logger.Info("no migrations to apply")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.Info("database migrations applied successfully")
	return nil
}
