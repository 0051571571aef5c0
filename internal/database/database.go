// Package database opens the local SQLite store, runs migrations, and
// wires up the repository set.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkorolevs/papersync/internal/migrations"
	"github.com/dkorolevs/papersync/internal/repositories/cache"
	"github.com/dkorolevs/papersync/internal/repositories/changes"
	"github.com/dkorolevs/papersync/internal/repositories/history"
	"github.com/dkorolevs/papersync/internal/repositories/uploads"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Repositories bundles the durable stores backed by one SQLite database.
type Repositories struct {
	Cache   cache.Repository
	Changes changes.Repository
	Uploads uploads.Repository
	History history.Repository
	DB      *sql.DB
}

// RunMigrations applies all embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Init opens the database at dsn, migrates it, and returns the repository
// set. Writers are serialized by short transactions; readers are never
// blocked, so WAL mode is enabled up front.
func Init(ctx context.Context, dsn string, backoff changes.Backoff) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	uploadRepo := uploads.NewSQLiteRepository(db)

	// An upload caught mid-transfer by a crash is still marked uploading.
	// Return those to pending so the next cycle retries them.
	if _, err := uploadRepo.RecoverInterrupted(ctx); err != nil {
		return nil, err
	}

	return &Repositories{
		Cache:   cache.NewSQLiteRepository(db),
		Changes: changes.NewSQLiteRepository(db, backoff),
		Uploads: uploadRepo,
		History: history.NewSQLiteRepository(db),
		DB:      db,
	}, nil
}
