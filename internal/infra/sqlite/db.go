// Package sqlite provides SQLite-based persistent storage for mtran: the
// last fetched record catalog and the verified model files on disk.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/mtran/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			version           TEXT NOT NULL,
			file_type         TEXT NOT NULL,
			source_lang       TEXT NOT NULL,
			target_lang       TEXT NOT NULL,
			filename          TEXT NOT NULL,
			location          TEXT NOT NULL,
			hash              TEXT NOT NULL DEFAULT '',
			size              INTEGER NOT NULL DEFAULT 0,
			decompressed_hash TEXT NOT NULL DEFAULT '',
			decompressed_size INTEGER NOT NULL DEFAULT 0,
			last_modified     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_pair ON records(source_lang, target_lang)`,

		`CREATE TABLE IF NOT EXISTS model_files (
			path         TEXT PRIMARY KEY,
			source_lang  TEXT NOT NULL,
			target_lang  TEXT NOT NULL,
			file_type    TEXT NOT NULL,
			version      TEXT NOT NULL,
			sha256       TEXT NOT NULL,
			size_bytes   INTEGER NOT NULL,
			installed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_files_pair ON model_files(source_lang, target_lang)`,

		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Record Catalog ─────────────────────────────────────────────────────────

// ReplaceRecords swaps the stored catalog snapshot for records in one
// transaction.
func (d *DB) ReplaceRecords(records []domain.ModelRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO records (id, name, version, file_type, source_lang, target_lang,
			filename, location, hash, size, decompressed_hash, decompressed_size, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.ID, r.Name, r.Version, r.FileType, r.SourceLanguage, r.TargetLanguage,
			r.Attachment.Filename, r.Attachment.Location, r.Attachment.Hash, r.Attachment.Size,
			r.DecompressedHash, r.DecompressedSize, r.LastModified); err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ListRecords returns the stored catalog snapshot ordered by pair, type
// and version.
func (d *DB) ListRecords() ([]domain.ModelRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, name, version, file_type, source_lang, target_lang,
			filename, location, hash, size, decompressed_hash, decompressed_size, last_modified
		 FROM records ORDER BY source_lang, target_lang, file_type, version`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ModelRecord
	for rows.Next() {
		var r domain.ModelRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Version, &r.FileType, &r.SourceLanguage, &r.TargetLanguage,
			&r.Attachment.Filename, &r.Attachment.Location, &r.Attachment.Hash, &r.Attachment.Size,
			&r.DecompressedHash, &r.DecompressedSize, &r.LastModified); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountRecords returns the number of stored records.
func (d *DB) CountRecords() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// ─── Installed Files ────────────────────────────────────────────────────────

// UpsertModelFile records a verified artifact.
func (d *DB) UpsertModelFile(f domain.InstalledFile) error {
	_, err := d.db.Exec(
		`INSERT INTO model_files (path, source_lang, target_lang, file_type, version, sha256, size_bytes, installed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			source_lang=excluded.source_lang,
			target_lang=excluded.target_lang,
			file_type=excluded.file_type,
			version=excluded.version,
			sha256=excluded.sha256,
			size_bytes=excluded.size_bytes,
			installed_at=excluded.installed_at`,
		f.Path, f.From, f.To, f.FileType, f.Version, f.SHA256, f.SizeBytes, f.InstalledAt.Unix(),
	)
	return err
}

// GetModelFile retrieves one artifact by path. It returns nil when absent.
func (d *DB) GetModelFile(path string) (*domain.InstalledFile, error) {
	row := d.db.QueryRow(
		`SELECT path, source_lang, target_lang, file_type, version, sha256, size_bytes, installed_at
		 FROM model_files WHERE path = ?`, path,
	)
	return scanModelFile(row)
}

// ListModelFiles returns all installed artifacts ordered by pair and type.
func (d *DB) ListModelFiles() ([]domain.InstalledFile, error) {
	rows, err := d.db.Query(
		`SELECT path, source_lang, target_lang, file_type, version, sha256, size_bytes, installed_at
		 FROM model_files ORDER BY source_lang, target_lang, file_type`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.InstalledFile
	for rows.Next() {
		f, err := scanModelFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// DeleteModelFiles removes every artifact row for a pair and returns how
// many were removed.
func (d *DB) DeleteModelFiles(from, to string) (int, error) {
	result, err := d.db.Exec(`DELETE FROM model_files WHERE source_lang = ? AND target_lang = ?`, from, to)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return 0, domain.ErrModelNotFound
	}
	return int(n), nil
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanModelFile(s scanner) (*domain.InstalledFile, error) {
	var f domain.InstalledFile
	var installedAt int64

	err := s.Scan(&f.Path, &f.From, &f.To, &f.FileType, &f.Version, &f.SHA256, &f.SizeBytes, &installedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}
	f.InstalledAt = time.Unix(installedAt, 0)
	return &f, nil
}
