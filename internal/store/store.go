// Package store opens and migrates the pipeline's transactional store.
// SQLite is the default backend; PostgreSQL is available for shared
// deployments. Both enforce audit immutability at the database level
// with triggers, not by calling-code convention.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL handle with the dialect needed to rebind
// placeholders for the active backend.
type DB struct {
	*sql.DB
	dialect dialect
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// OpenSQLite opens (creating if needed) the store at
// <repoRoot>/.selfmod/audit.db and applies the schema.
func OpenSQLite(ctx context.Context, repoRoot string) (*DB, error) {
	dir := filepath.Join(repoRoot, ".selfmod")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN, so two handles on
	// the same database contend up front instead of deadlocking on a
	// read-to-write upgrade mid-transaction.
	dsn := filepath.Join(dir, "audit.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// Serialized access keeps concurrent appends from interleaving; the
	// per-file locks above this layer handle write ordering.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, dialect: dialectSQLite}
	if err := db.migrate(ctx, sqliteSchema()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Rebind converts ?-style placeholders to the backend's native form.
func (d *DB) Rebind(query string) string {
	if d.dialect == dialectSQLite {
		return query
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) migrate(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}
	return nil
}

// IsImmutabilityViolation reports whether err came from the append-only
// triggers rejecting an UPDATE or DELETE on the audit table.
func IsImmutabilityViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "audit_records is append-only")
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// modernc sqlite reports these as "UNIQUE constraint failed"; pgx
// surfaces SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "23505")
}

// IsLockBusy reports whether err is sqlite turning away a writer while
// another handle holds the write lock.
func IsLockBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

func sqliteSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('propose','approve','deny','apply','apply_failure','rollback')),
			file_path TEXT NOT NULL,
			patch_id TEXT NOT NULL,
			tier TEXT,
			score REAL,
			original_hash TEXT,
			modified_hash TEXT,
			principal TEXT,
			approval_phrase TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			error_detail TEXT,
			details TEXT,
			prev_hash TEXT NOT NULL DEFAULT '',
			record_hash TEXT NOT NULL
		)`,

		// Immutability is a storage guarantee, not a convention: any
		// UPDATE or DELETE against an existing row fails loudly.
		`CREATE TRIGGER IF NOT EXISTS audit_no_update
		BEFORE UPDATE ON audit_records
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'audit_records is append-only: updates rejected');
		END`,

		`CREATE TRIGGER IF NOT EXISTS audit_no_delete
		BEFORE DELETE ON audit_records
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'audit_records is append-only: deletes rejected');
		END`,

		// The chain is linear: no two records may claim the same
		// predecessor. A second writer racing the head loses here and
		// retries instead of forking the chain.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_prev_hash ON audit_records(prev_hash)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_file_path ON audit_records(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_patch_id ON audit_records(patch_id)`,

		`CREATE TABLE IF NOT EXISTS proposals (
			id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			original_content TEXT NOT NULL,
			modified_content TEXT NOT NULL,
			rationale TEXT,
			original_hash TEXT NOT NULL,
			modified_hash TEXT NOT NULL,
			tier TEXT NOT NULL,
			score REAL NOT NULL,
			reasons TEXT,
			deleted_symbols TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','applied','denied','failed')),
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`,

		// Single-writer-per-file: at most one unresolved proposal may
		// target a given file.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_pending_file
		ON proposals(file_path) WHERE status = 'pending'`,

		`CREATE TABLE IF NOT EXISTS approval_requests (
			patch_id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			tier TEXT NOT NULL,
			required_phrase TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','approved','denied')),
			principal TEXT,
			phrase_used TEXT,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_pending_file
		ON approval_requests(file_path) WHERE status = 'pending'`,
	}
}
