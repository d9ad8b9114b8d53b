package postgres

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	dberr "github.com/webitel/cdr-exporter/internal/errors"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsTable = "cdr_exporter.goose_db_version"

func (s *Store) prepareMigrations(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName(migrationsTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return dberr.NewDBInternalError("migrate", err)
	}

	// The version table lives in the service schema, which must exist first.
	db, err := s.Database()
	if err != nil {
		return dberr.NewDBInternalError("migrate", err)
	}
	if _, err := db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS cdr_exporter`); err != nil {
		return dberr.NewDBInternalError("migrate", err)
	}
	return nil
}

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.prepareMigrations(ctx); err != nil {
		return err
	}

	sqlDB := stdlib.OpenDBFromPool(s.conn)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return dberr.NewDBInternalError("migrate", err)
	}
	return nil
}

// MigrationStatus logs the state of every migration.
func (s *Store) MigrationStatus(ctx context.Context) error {
	if err := s.prepareMigrations(ctx); err != nil {
		return err
	}

	sqlDB := stdlib.OpenDBFromPool(s.conn)
	defer sqlDB.Close()

	if err := goose.StatusContext(ctx, sqlDB, "migrations"); err != nil {
		return dberr.NewDBInternalError("migrate_status", err)
	}
	return nil
}
