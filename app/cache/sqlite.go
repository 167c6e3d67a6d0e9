package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var _ Backend = (*SQLiteBackend)(nil)

type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the cache database at path. A file that cannot be
// opened as a database is moved aside to path+".corrupt" and replaced with
// an empty one.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := openSQLite(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, err
		}

		corruptPath := path + ".corrupt"
		slog.Warn("Cache database is unreadable, starting empty",
			"path", path,
			"moved_to", corruptPath,
			"error", fmt.Errorf("%w: %w", ErrCacheCorrupt, err))

		if renameErr := os.Rename(path, corruptPath); renameErr != nil {
			return nil, fmt.Errorf("failed to move corrupt cache database: %w", renameErr)
		}
		for _, suffix := range []string{"-wal", "-shm", "-journal"} {
			_ = os.Remove(path + suffix)
		}

		if db, err = openSQLite(path); err != nil {
			return nil, err
		}
	}

	return &SQLiteBackend{db: db}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	version, dirty, err := runMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("Cache database ready", "path", path, "schema_version", version, "dirty", dirty)

	return db, nil
}

func runMigrations(db *sql.DB) (uint, bool, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, fingerprint string) (Record, bool, error) {
	var payload []byte
	var evidenceHash string
	var createdAt int64

	err := b.db.QueryRowContext(ctx, `
		SELECT payload, evidence_hash, created_at
		FROM verdicts
		WHERE fingerprint = ?
	`, fingerprint).Scan(&payload, &evidenceHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get verdict: %w", err)
	}

	return Record{
		Fingerprint:  fingerprint,
		Payload:      payload,
		EvidenceHash: evidenceHash,
		CreatedAt:    time.UnixMilli(createdAt).UTC(),
	}, true, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, record Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO verdicts (fingerprint, payload, evidence_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			payload = excluded.payload,
			evidence_hash = excluded.evidence_hash,
			created_at = excluded.created_at
	`, record.Fingerprint, record.Payload, record.EvidenceHash, record.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert verdict: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, fingerprint string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM verdicts WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("failed to delete verdict: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Purge(ctx context.Context, cutoff time.Time, keep int) (int, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM verdicts WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verdicts: %w", err)
	}
	expired, _ := result.RowsAffected()

	if keep <= 0 {
		return int(expired), nil
	}

	result, err = b.db.ExecContext(ctx, `
		DELETE FROM verdicts
		WHERE fingerprint NOT IN (
			SELECT fingerprint FROM verdicts
			ORDER BY created_at DESC, fingerprint ASC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return int(expired), fmt.Errorf("failed to trim verdicts: %w", err)
	}
	trimmed, _ := result.RowsAffected()

	return int(expired + trimmed), nil
}

func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verdicts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count verdicts: %w", err)
	}
	return count, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
