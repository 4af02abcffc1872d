package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gallerybox/gallerybox/internal/domain"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle and exposes the repositories backed by it.
type DB struct {
	SqlDB *sql.DB
}

// connPragmas tune the handle for this workload: WAL keeps listing reads
// flowing during ingestion writes, and the busy timeout lets write bursts
// queue instead of erroring.
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// New opens the image store at dbPath and configures the connection.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite handles one writer at a time; a single pooled connection
	// serializes concurrent ingestion workers instead of surfacing
	// SQLITE_BUSY to them.
	db.SetMaxOpenConns(1)

	for _, pragma := range connPragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{SqlDB: db}, nil
}

// Connect opens the database, retrying with a constant backoff a bounded
// number of times. Intended for process startup only; once Connect returns
// an error the store is considered unavailable and startup should fail.
func Connect(dbPath string, retries int, delay time.Duration) (*DB, error) {
	var db *DB
	attempt := 0

	op := func() error {
		attempt++
		slog.Info("connecting to database", "path", dbPath, "attempt", attempt)
		var err error
		db, err = New(dbPath)
		if err != nil {
			slog.Error("database connection attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries))
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("connect database after %d attempts: %w", attempt, err)
	}
	return db, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.SqlDB.Close()
}

// Images returns the image metadata repository.
func (d *DB) Images() domain.ImageRepository {
	return &imageRepo{db: d.SqlDB}
}

// migrations are applied in order and tracked by name so that re-running
// Migrate is a no-op for already-applied entries.
var migrations = []struct {
	name string
	stmt string
}{
	{
		name: "001_create_images",
		stmt: `CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT 'unlabeled',
			created_at DATETIME NOT NULL
		)`,
	},
	{
		name: "002_index_images_label",
		stmt: `CREATE INDEX IF NOT EXISTS idx_images_label ON images(label)`,
	},
}

// Migrate applies all unapplied schema migrations. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.SqlDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := d.SqlDB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE name = ?", m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if applied > 0 {
			continue
		}

		if _, err := d.SqlDB.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := d.SqlDB.ExecContext(ctx,
			"INSERT INTO schema_migrations (name) VALUES (?)", m.name,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		slog.Info("migration applied", "name", m.name)
	}

	return nil
}
