// Package approval implements the risk-tiered owner-approval gate.
// Approval is a literal acknowledgment ritual, not a semantic judgment:
// each tier binds to one exact phrase, and a lower tier's phrase can
// never satisfy a higher tier's request.
package approval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/pkg/config"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// Default tier-to-phrase table. The wording is tier-specific by design.
var defaultPhrases = map[model.Tier]string{
	model.TierCaution:   "I approve this change",
	model.TierSensitive: "I approve this sensitive change and accept the risk",
	model.TierCritical:  "I approve this critical change with full awareness of system impact",
}

// Gate manages approval requests, keyed by patch id.
type Gate struct {
	db      *store.DB
	phrases map[model.Tier]string
}

// NewGate creates a gate over an opened store. Config phrase overrides,
// if any, replace the defaults for their tier.
func NewGate(db *store.DB, cfg *config.ApprovalConfig) *Gate {
	phrases := make(map[model.Tier]string, len(defaultPhrases))
	for tier, phrase := range defaultPhrases {
		phrases[tier] = phrase
	}
	if cfg != nil {
		for tier, phrase := range cfg.Phrases {
			if phrase != "" {
				phrases[model.Tier(tier)] = phrase
			}
		}
	}
	return &Gate{db: db, phrases: phrases}
}

// RequiredPhrase returns the acknowledgment phrase for a tier, or ""
// for tiers that auto-approve.
func (g *Gate) RequiredPhrase(tier model.Tier) string {
	return g.phrases[tier]
}

// Request creates the approval request for a classified patch. SAFE
// patches transition directly to APPROVED with principal "auto" — the
// auto-approval is recorded explicitly so audits can distinguish it
// from owner approval.
func (g *Gate) Request(ctx context.Context, patchID, filePath string, tier model.Tier) (*model.ApprovalRequest, error) {
	now := time.Now().UTC()
	req := &model.ApprovalRequest{
		PatchID:   patchID,
		FilePath:  filePath,
		Tier:      tier,
		CreatedAt: now,
	}

	if !tier.RequiresApproval() {
		req.Status = model.ApprovalApproved
		req.Principal = model.PrincipalAuto
		req.ResolvedAt = &now
	} else {
		req.Status = model.ApprovalPending
		req.RequiredPhrase = g.phrases[tier]
	}

	var resolvedAt any
	if req.ResolvedAt != nil {
		resolvedAt = req.ResolvedAt.Format(time.RFC3339Nano)
	}

	_, err := g.db.ExecContext(ctx, g.db.Rebind(
		`INSERT INTO approval_requests
		 (patch_id, file_path, tier, required_phrase, status, principal, phrase_used, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		req.PatchID, req.FilePath, string(req.Tier), req.RequiredPhrase,
		string(req.Status), req.Principal, req.PhraseUsed,
		req.CreatedAt.Format(time.RFC3339Nano), resolvedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert approval request: %w", err)
	}
	return req, nil
}

// VerifyResult is the outcome of a phrase check.
type VerifyResult struct {
	Approved       bool   `json:"approved"`
	Reason         string `json:"reason"`
	RequiredPhrase string `json:"required_phrase,omitempty"`
}

// Verify checks a supplied phrase against the pending request for the
// patch. Matching is case-insensitive substring containment of the
// required phrase. A mismatch leaves the request PENDING so the owner
// can retry; only an explicit Deny is terminal. Verifying a request
// that is already approved or denied returns ErrApprovalResolved.
func (g *Gate) Verify(ctx context.Context, patchID, supplied string) (*VerifyResult, error) {
	req, err := g.Get(ctx, patchID)
	if err != nil {
		return nil, err
	}

	if req.Status != model.ApprovalPending {
		return nil, errclass.ErrApprovalResolved.WithMessagef(
			"request for patch %s is already %s", patchID, req.Status)
	}

	if !phraseMatches(req.RequiredPhrase, supplied) {
		return &VerifyResult{
			Approved:       false,
			Reason:         fmt.Sprintf("insufficient phrase for %s tier", req.Tier),
			RequiredPhrase: req.RequiredPhrase,
		}, nil
	}

	if err := g.resolve(ctx, patchID, model.ApprovalApproved, model.PrincipalOwner, supplied); err != nil {
		return nil, err
	}
	return &VerifyResult{Approved: true, Reason: "phrase accepted"}, nil
}

// Deny terminally closes a pending request. Denying an already-resolved
// request returns ErrApprovalResolved.
func (g *Gate) Deny(ctx context.Context, patchID string) error {
	req, err := g.Get(ctx, patchID)
	if err != nil {
		return err
	}
	if req.Status.Resolved() {
		return errclass.ErrApprovalResolved.WithMessagef("request for patch %s is %s", patchID, req.Status)
	}
	return g.resolve(ctx, patchID, model.ApprovalDenied, model.PrincipalOwner, "")
}

// Get returns the approval request for a patch id.
func (g *Gate) Get(ctx context.Context, patchID string) (*model.ApprovalRequest, error) {
	row := g.db.QueryRowContext(ctx, g.db.Rebind(
		`SELECT patch_id, file_path, tier, required_phrase, status, principal, phrase_used, created_at, resolved_at
		 FROM approval_requests WHERE patch_id = ?`), patchID)

	var (
		req        model.ApprovalRequest
		tier       string
		status     string
		createdAt  string
		resolvedAt sql.NullString
	)
	err := row.Scan(&req.PatchID, &req.FilePath, &tier, &req.RequiredPhrase,
		&status, &req.Principal, &req.PhraseUsed, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, errclass.ErrApprovalNotFound.WithMessagef("no approval request for patch %s", patchID)
	}
	if err != nil {
		return nil, fmt.Errorf("query approval request: %w", err)
	}

	req.Tier = model.Tier(tier)
	req.Status = model.ApprovalStatus(status)
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse approval created_at: %w", err)
	}
	req.CreatedAt = created
	if resolvedAt.Valid {
		resolved, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse approval resolved_at: %w", err)
		}
		req.ResolvedAt = &resolved
	}
	return &req, nil
}

// Pending lists all unresolved requests, oldest first.
func (g *Gate) Pending(ctx context.Context) ([]*model.ApprovalRequest, error) {
	rows, err := g.db.QueryContext(ctx, g.db.Rebind(
		`SELECT patch_id FROM approval_requests WHERE status = ? ORDER BY created_at ASC`),
		string(model.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("query pending approvals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var reqs []*model.ApprovalRequest
	for _, id := range ids {
		req, err := g.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// resolve transitions a pending request to a terminal state. The status
// guard in the WHERE clause makes resolution atomic: two concurrent
// resolvers cannot both win.
func (g *Gate) resolve(ctx context.Context, patchID string, status model.ApprovalStatus, principal, phraseUsed string) error {
	res, err := g.db.ExecContext(ctx, g.db.Rebind(
		`UPDATE approval_requests
		 SET status = ?, principal = ?, phrase_used = ?, resolved_at = ?
		 WHERE patch_id = ? AND status = ?`),
		string(status), principal, phraseUsed,
		time.Now().UTC().Format(time.RFC3339Nano),
		patchID, string(model.ApprovalPending),
	)
	if err != nil {
		return fmt.Errorf("resolve approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval request: %w", err)
	}
	if n == 0 {
		return errclass.ErrApprovalResolved.WithMessagef("request for patch %s already resolved", patchID)
	}
	return nil
}

func phraseMatches(required, supplied string) bool {
	if required == "" || supplied == "" {
		return false
	}
	return strings.Contains(strings.ToLower(supplied), strings.ToLower(required))
}
