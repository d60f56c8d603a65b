package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// Proposal is a persisted patch together with the classification it was
// filed under. The classification is frozen at propose time so that
// approval and apply always act on the judgment the user saw.
type Proposal struct {
	Patch          model.Patch
	Classification model.RiskClassification
}

// Proposals provides access to the proposals table.
type Proposals struct {
	db *DB
}

// NewProposals returns a proposal repository over db.
func NewProposals(db *DB) *Proposals {
	return &Proposals{db: db}
}

// Insert persists a new pending proposal. The partial unique index on
// pending file paths makes a second unresolved proposal for the same
// file fail; that failure maps to E_PROPOSAL_CONFLICT.
func (p *Proposals) Insert(ctx context.Context, prop *Proposal) error {
	reasons, err := json.Marshal(prop.Classification.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	deleted, err := json.Marshal(prop.Classification.DeletedSymbols)
	if err != nil {
		return fmt.Errorf("marshal deleted symbols: %w", err)
	}

	_, err = p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO proposals
			(id, file_path, original_content, modified_content, rationale,
			 original_hash, modified_hash, tier, score, reasons,
			 deleted_symbols, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		prop.Patch.ID,
		prop.Patch.FilePath,
		prop.Patch.OriginalContent,
		prop.Patch.ModifiedContent,
		prop.Patch.Rationale,
		string(prop.Patch.OriginalHash),
		string(prop.Patch.ModifiedHash),
		string(prop.Classification.Tier),
		prop.Classification.Score,
		string(reasons),
		string(deleted),
		string(prop.Patch.Status),
		prop.Patch.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return errclass.ErrProposalConflict.WithMessagef(
				"a pending proposal already exists for %s", prop.Patch.FilePath)
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// Get loads a proposal by patch ID.
func (p *Proposals) Get(ctx context.Context, patchID string) (*Proposal, error) {
	row := p.db.QueryRowContext(ctx, p.db.Rebind(`
		SELECT id, file_path, original_content, modified_content, rationale,
		       original_hash, modified_hash, tier, score, reasons,
		       deleted_symbols, status, created_at, resolved_at
		FROM proposals WHERE id = ?`), patchID)

	prop, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errclass.ErrProposalNotFound.WithMessagef("proposal %s not found", patchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}
	return prop, nil
}

// PendingForFile returns the unresolved proposal targeting filePath, or
// nil when the file has none.
func (p *Proposals) PendingForFile(ctx context.Context, filePath string) (*Proposal, error) {
	row := p.db.QueryRowContext(ctx, p.db.Rebind(`
		SELECT id, file_path, original_content, modified_content, rationale,
		       original_hash, modified_hash, tier, score, reasons,
		       deleted_symbols, status, created_at, resolved_at
		FROM proposals WHERE file_path = ? AND status = 'pending'`), filePath)

	prop, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending proposal: %w", err)
	}
	return prop, nil
}

// Pending lists all unresolved proposals, oldest first.
func (p *Proposals) Pending(ctx context.Context) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, file_path, original_content, modified_content, rationale,
		       original_hash, modified_hash, tier, score, reasons,
		       deleted_symbols, status, created_at, resolved_at
		FROM proposals WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		prop, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, prop)
	}
	return out, rows.Err()
}

// Resolve transitions a pending proposal to a terminal status. Resolving
// an already-resolved proposal is an error; terminal states are final.
func (p *Proposals) Resolve(ctx context.Context, patchID string, status model.PatchStatus) error {
	if !status.Resolved() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	res, err := p.db.ExecContext(ctx, p.db.Rebind(`
		UPDATE proposals SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'`),
		string(status), time.Now().UTC().Format(time.RFC3339Nano), patchID)
	if err != nil {
		return fmt.Errorf("resolve proposal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve proposal: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from already-resolved for the caller.
		if _, err := p.Get(ctx, patchID); err != nil {
			return err
		}
		return errclass.ErrProposalResolved.WithMessagef("proposal %s is already resolved", patchID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var (
		prop                   Proposal
		origHash, modHash      string
		tier                   string
		reasonsRaw, deletedRaw sql.NullString
		rationale              sql.NullString
		createdAt              string
		resolvedAt             sql.NullString
		status                 string
	)

	err := row.Scan(
		&prop.Patch.ID, &prop.Patch.FilePath,
		&prop.Patch.OriginalContent, &prop.Patch.ModifiedContent,
		&rationale, &origHash, &modHash,
		&tier, &prop.Classification.Score,
		&reasonsRaw, &deletedRaw, &status, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	prop.Patch.Rationale = rationale.String
	prop.Patch.OriginalHash = model.HashValue(origHash)
	prop.Patch.ModifiedHash = model.HashValue(modHash)
	prop.Patch.Status = model.PatchStatus(status)
	prop.Classification.Tier = model.Tier(tier)
	prop.Classification.RequiresApproval = prop.Classification.Tier.RequiresApproval()

	if reasonsRaw.Valid && reasonsRaw.String != "" {
		if err := json.Unmarshal([]byte(reasonsRaw.String), &prop.Classification.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
	}
	if deletedRaw.Valid && deletedRaw.String != "" {
		if err := json.Unmarshal([]byte(deletedRaw.String), &prop.Classification.DeletedSymbols); err != nil {
			return nil, fmt.Errorf("decode deleted symbols: %w", err)
		}
	}

	if prop.Patch.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if resolvedAt.Valid && resolvedAt.String != "" {
		t, err := parseStoredTime(resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode resolved_at: %w", err)
		}
		prop.Patch.ResolvedAt = &t
	}
	return &prop, nil
}

func parseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
