package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres connects to a PostgreSQL store and applies the schema.
// Intended for deployments where several agents share one audit trail;
// the immutability guarantee is identical to the SQLite backend.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}

	db := &DB{DB: sqlDB, dialect: dialectPostgres}
	if err := db.migrate(ctx, postgresSchema()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func postgresSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS audit_records (
			id BIGSERIAL PRIMARY KEY,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('propose','approve','deny','apply','apply_failure','rollback')),
			file_path TEXT NOT NULL,
			patch_id TEXT NOT NULL,
			tier TEXT,
			score DOUBLE PRECISION,
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

		`CREATE OR REPLACE FUNCTION audit_records_immutable() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'audit_records is append-only: % rejected', TG_OP;
		END
		$$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS audit_no_update ON audit_records`,
		`CREATE TRIGGER audit_no_update
		BEFORE UPDATE ON audit_records
		FOR EACH ROW EXECUTE FUNCTION audit_records_immutable()`,

		`DROP TRIGGER IF EXISTS audit_no_delete ON audit_records`,
		`CREATE TRIGGER audit_no_delete
		BEFORE DELETE ON audit_records
		FOR EACH ROW EXECUTE FUNCTION audit_records_immutable()`,

		// Two transactions racing the chain head would both read the same
		// predecessor under READ COMMITTED; the loser hits this index and
		// retries instead of committing a fork.
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
			score DOUBLE PRECISION NOT NULL,
			reasons TEXT,
			deleted_symbols TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','applied','denied','failed')),
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`,

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
