// Package audit implements the append-only, tamper-evident audit trail.
// Every record is hash-chained to its predecessor, and the storage layer
// rejects UPDATE/DELETE with triggers, so immutability holds even
// against code that bypasses this package's API.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/jsonutil"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// Trail appends and queries audit records.
type Trail struct {
	db *store.DB
	mu sync.Mutex
}

// NewTrail creates a trail over an opened store.
func NewTrail(db *store.DB) *Trail {
	return &Trail{db: db}
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	FilePath string
	PatchID  string
	Tier     model.Tier
	Action   model.AuditAction
	Since    time.Time
	Limit    int
}

// appendAttempts bounds the retry loop when two handles race the
// chain head.
const appendAttempts = 5

// Append writes one record and returns its row id. The record's
// Timestamp, PrevHash and RecordHash are filled in here. Concurrent
// appends are serialized by the store: within one handle by the mutex,
// across handles by the write lock and the uniqueness of prev_hash. A
// writer that loses the race re-reads the chain head and tries again.
func (t *Trail) Append(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var (
		id  int64
		err error
	)
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		id, err = t.tryAppend(ctx, rec)
		if err == nil {
			return id, nil
		}
		if !store.IsLockBusy(err) && !store.IsUniqueViolation(err) {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return 0, fmt.Errorf("append audit record: retries exhausted: %w", err)
}

func (t *Trail) tryAppend(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	err = tx.QueryRowContext(ctx,
		`SELECT record_hash FROM audit_records ORDER BY id DESC LIMIT 1`,
	).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("read last record hash: %w", err)
	}
	rec.PrevHash = model.HashValue(prevHash)

	recordHash, err := ComputeRecordHash(rec)
	if err != nil {
		return 0, fmt.Errorf("compute record hash: %w", err)
	}
	rec.RecordHash = recordHash

	detailsJSON := ""
	if len(rec.Details) > 0 {
		data, err := json.Marshal(rec.Details)
		if err != nil {
			return 0, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	success := 0
	if rec.Success {
		success = 1
	}

	res, err := tx.ExecContext(ctx, t.db.Rebind(
		`INSERT INTO audit_records
		 (timestamp, action, file_path, patch_id, tier, score, original_hash,
		  modified_hash, principal, approval_phrase, success, error_detail,
		  details, prev_hash, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.Timestamp.Format(time.RFC3339Nano), string(rec.Action), rec.FilePath,
		rec.PatchID, string(rec.Tier), rec.Score, string(rec.OriginalHash),
		string(rec.ModifiedHash), rec.Principal, rec.ApprovalPhrase, success,
		rec.ErrorDetail, detailsJSON, string(rec.PrevHash), string(rec.RecordHash),
	)
	if err != nil {
		return 0, fmt.Errorf("insert audit record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		// Postgres driver doesn't support LastInsertId; fetch it.
		if qerr := tx.QueryRowContext(ctx,
			`SELECT id FROM audit_records WHERE record_hash = $1`, string(rec.RecordHash),
		).Scan(&id); qerr != nil {
			return 0, fmt.Errorf("resolve record id: %w", qerr)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit audit record: %w", err)
	}

	rec.ID = id
	return id, nil
}

// Query returns records matching the filter, ordered by timestamp
// ascending.
func (t *Trail) Query(ctx context.Context, f Filter) ([]*model.AuditRecord, error) {
	query := `SELECT id, timestamp, action, file_path, patch_id, tier, score,
	          original_hash, modified_hash, principal, approval_phrase, success,
	          error_detail, details, prev_hash, record_hash
	          FROM audit_records WHERE 1=1`
	var args []any

	if f.FilePath != "" {
		query += ` AND file_path = ?`
		args = append(args, f.FilePath)
	}
	if f.PatchID != "" {
		query += ` AND patch_id = ?`
		args = append(args, f.PatchID)
	}
	if f.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(f.Tier))
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, string(f.Action))
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}

	query += ` ORDER BY timestamp ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := t.db.QueryContext(ctx, t.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*model.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Statistics aggregates over the stored records. Nothing here is a
// separately-maintained counter, so the numbers can never drift from
// the log itself.
func (t *Trail) Statistics(ctx context.Context) (*model.Statistics, error) {
	stats := &model.Statistics{
		CountsByTier:   make(map[model.Tier]int64),
		CountsByAction: make(map[model.AuditAction]int64),
	}

	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_records`,
	).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}

	var applies, applySuccesses int64
	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM audit_records
		 WHERE action IN ('apply', 'apply_failure')`,
	).Scan(&applies, &applySuccesses); err != nil {
		return nil, fmt.Errorf("count applies: %w", err)
	}
	if applies > 0 {
		stats.SuccessRate = float64(applySuccesses) / float64(applies)
	}

	rows, err := t.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM audit_records WHERE tier != '' GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		stats.CountsByTier[model.Tier(tier)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	actionRows, err := t.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM audit_records GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("count by action: %w", err)
	}
	defer actionRows.Close()
	for actionRows.Next() {
		var action string
		var n int64
		if err := actionRows.Scan(&action, &n); err != nil {
			return nil, err
		}
		stats.CountsByAction[model.AuditAction(action)] = n
	}
	if err := actionRows.Err(); err != nil {
		return nil, err
	}

	fileRows, err := t.db.QueryContext(ctx,
		`SELECT file_path, COUNT(*) AS n FROM audit_records
		 GROUP BY file_path ORDER BY n DESC, file_path ASC LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("count by file: %w", err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var fc model.FileCount
		if err := fileRows.Scan(&fc.FilePath, &fc.Count); err != nil {
			return nil, err
		}
		stats.MostModifiedFiles = append(stats.MostModifiedFiles, fc)
	}
	return stats, fileRows.Err()
}

// VerifyChain recomputes every record hash and checks each prev_hash
// link. Returns ErrAuditChainBroken on the first inconsistency.
func (t *Trail) VerifyChain(ctx context.Context) error {
	records, err := t.Query(ctx, Filter{})
	if err != nil {
		return err
	}

	prev := model.HashValue("")
	for _, rec := range records {
		if rec.PrevHash != prev {
			return errclass.ErrAuditChainBroken.WithMessagef(
				"record %d: prev_hash %s does not match predecessor %s",
				rec.ID, rec.PrevHash.ShortHash(), prev.ShortHash())
		}
		computed, err := ComputeRecordHash(rec)
		if err != nil {
			return fmt.Errorf("recompute record %d hash: %w", rec.ID, err)
		}
		if computed != rec.RecordHash {
			return errclass.ErrAuditChainBroken.WithMessagef(
				"record %d: stored hash %s does not match recomputed %s",
				rec.ID, rec.RecordHash.ShortHash(), computed.ShortHash())
		}
		prev = rec.RecordHash
	}
	return nil
}

// ComputeRecordHash hashes a record over canonical JSON, excluding the
// row id and the hash field itself.
func ComputeRecordHash(rec *model.AuditRecord) (model.HashValue, error) {
	hashRec := *rec
	hashRec.ID = 0
	hashRec.RecordHash = ""

	data, err := jsonutil.CanonicalMarshal(&hashRec)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}

	sum := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(sum[:])), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.AuditRecord, error) {
	var (
		rec         model.AuditRecord
		ts          string
		action      string
		tier        string
		origHash    string
		modHash     string
		success     int
		detailsJSON sql.NullString
	)

	if err := row.Scan(&rec.ID, &ts, &action, &rec.FilePath, &rec.PatchID,
		&tier, &rec.Score, &origHash, &modHash, &rec.Principal,
		&rec.ApprovalPhrase, &success, &rec.ErrorDetail, &detailsJSON,
		&rec.PrevHash, &rec.RecordHash); err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse record timestamp: %w", err)
	}
	rec.Timestamp = parsed
	rec.Action = model.AuditAction(action)
	rec.Tier = model.Tier(tier)
	rec.OriginalHash = model.HashValue(origHash)
	rec.ModifiedHash = model.HashValue(modHash)
	rec.Success = success != 0

	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &rec.Details); err != nil {
			return nil, fmt.Errorf("parse record details: %w", err)
		}
	}
	return &rec, nil
}
