// Package controller orchestrates the self-modification pipeline:
// propose, classify, gate, apply, audit. Every mutation the pipeline
// makes flows through here, and every one of them leaves an audit
// record before it counts as done.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/saraphina-project/selfmod/internal/applier"
	"github.com/saraphina-project/selfmod/internal/approval"
	"github.com/saraphina-project/selfmod/internal/audit"
	"github.com/saraphina-project/selfmod/internal/classifier"
	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/internal/verify"
	"github.com/saraphina-project/selfmod/pkg/config"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/logging"
	"github.com/saraphina-project/selfmod/pkg/model"
	"github.com/saraphina-project/selfmod/pkg/pathutil"
	"github.com/saraphina-project/selfmod/pkg/webhook"
)

// Controller runs the full propose/approve/apply lifecycle over one
// repository root.
type Controller struct {
	repoRoot   string
	cfg        *config.Config
	db         *store.DB
	proposals  *store.Proposals
	classifier *classifier.Classifier
	gate       *approval.Gate
	trail      *audit.Trail
	applier    *applier.Applier
	alerts     *webhook.Notifier
	log        *logging.Logger
}

// New opens the store configured for repoRoot and wires the pipeline
// components together. Callers own Close.
func New(ctx context.Context, repoRoot string) (*Controller, error) {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, repoRoot, cfg)
}

// NewWithConfig builds a controller over an explicit configuration.
func NewWithConfig(ctx context.Context, repoRoot string, cfg *config.Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Configure(cfg.Logging.Level, cfg.Logging.Format)

	var db *store.DB
	var err error
	switch cfg.Store.Backend {
	case "postgres":
		db, err = store.OpenPostgres(ctx, cfg.Store.DSN)
	default:
		db, err = store.OpenSQLite(ctx, repoRoot)
	}
	if err != nil {
		return nil, err
	}

	var alerts *webhook.Notifier
	if cfg.Alerts.Enabled {
		alerts = webhook.NewNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Secret)
	}

	return &Controller{
		repoRoot:   repoRoot,
		cfg:        cfg,
		db:         db,
		proposals:  store.NewProposals(db),
		classifier: classifier.New(classifier.RulesetFromConfig(&cfg.Classifier)),
		gate:       approval.NewGate(db, &cfg.Approval),
		trail:      audit.NewTrail(db),
		applier:    applier.New(repoRoot, cfg.BackupDir(repoRoot)),
		alerts:     alerts,
		log:        logging.WithFields(map[string]any{"component": "controller"}),
	}, nil
}

// Close releases the underlying store.
func (c *Controller) Close() error {
	return c.db.Close()
}

// ProposeResult is the outcome of filing a proposal: the stored patch,
// its classification, and the approval request that now gates it.
type ProposeResult struct {
	Patch          *model.Patch              `json:"patch"`
	Classification *model.RiskClassification `json:"classification"`
	Approval       *model.ApprovalRequest    `json:"approval"`
}

// Propose classifies a proposed change to filePath, persists it, and
// opens its approval request. The file must exist inside the repository
// root and must not already have an unresolved proposal.
func (c *Controller) Propose(ctx context.Context, filePath, modifiedContent, rationale string) (*ProposeResult, error) {
	if err := pathutil.ValidateTargetPath(c.repoRoot, filePath); err != nil {
		return nil, err
	}

	originalBytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}
	original := string(originalBytes)

	if pending, err := c.proposals.PendingForFile(ctx, filePath); err != nil {
		return nil, err
	} else if pending != nil {
		return nil, errclass.ErrProposalConflict.WithMessagef(
			"proposal %s for %s is still pending; resolve it first",
			pending.Patch.ID, filePath)
	}

	classification := c.classifier.Classify(original, modifiedContent, filePath)

	patch := &model.Patch{
		ID:              uuid.NewString(),
		FilePath:        filePath,
		OriginalContent: original,
		ModifiedContent: modifiedContent,
		Rationale:       rationale,
		OriginalHash:    model.HashContent(original),
		ModifiedHash:    model.HashContent(modifiedContent),
		Status:          model.PatchStatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	if err := c.proposals.Insert(ctx, &store.Proposal{Patch: *patch, Classification: *classification}); err != nil {
		return nil, err
	}

	req, err := c.gate.Request(ctx, patch.ID, patch.FilePath, classification.Tier)
	if err != nil {
		return nil, err
	}

	if _, err := c.trail.Append(ctx, &model.AuditRecord{
		Action:       model.ActionPropose,
		FilePath:     patch.FilePath,
		PatchID:      patch.ID,
		Tier:         classification.Tier,
		Score:        classification.Score,
		OriginalHash: patch.OriginalHash,
		ModifiedHash: patch.ModifiedHash,
		Success:      true,
		Details:      map[string]any{"reasons": classification.Reasons, "rationale": rationale},
	}); err != nil {
		return nil, err
	}

	c.log.Info("proposal filed", map[string]any{
		"patch_id": patch.ID, "file": patch.FilePath,
		"tier": string(classification.Tier), "score": classification.Score,
	})
	return &ProposeResult{Patch: patch, Classification: classification, Approval: req}, nil
}

// ApplyOutcome reports what Apply did. When ApprovalRequired is set the
// target file was not touched; the caller must resupply the exact
// acknowledgment phrase for the tier.
type ApplyOutcome struct {
	Applied          bool            `json:"applied"`
	ApprovalRequired bool            `json:"approval_required,omitempty"`
	RequiredPhrase   string          `json:"required_phrase,omitempty"`
	Reasons          []string        `json:"reasons,omitempty"`
	Tier             model.Tier      `json:"tier"`
	NewHash          model.HashValue `json:"new_hash,omitempty"`
	Backup           string          `json:"backup,omitempty"`
	RolledBack       bool            `json:"rolled_back,omitempty"`
}

// Apply applies a pending proposal. For tiers above SAFE the supplied
// phrase must satisfy the gate; an insufficient phrase is not an error,
// it returns an outcome naming the required phrase and the reasons the
// change was flagged, leaving the proposal pending.
//
// The apply itself is audited before the proposal is marked applied: a
// mutation that cannot be recorded is undone.
func (c *Controller) Apply(ctx context.Context, patchID, phrase string) (*ApplyOutcome, error) {
	prop, err := c.proposals.Get(ctx, patchID)
	if err != nil {
		return nil, err
	}
	if prop.Patch.Status.Resolved() {
		return nil, errclass.ErrProposalResolved.WithMessagef(
			"proposal %s is already %s", patchID, prop.Patch.Status)
	}

	outcome, err := c.checkApproval(ctx, prop, phrase)
	if err != nil || outcome != nil {
		return outcome, err
	}

	result, applyErr := c.applier.Apply(&prop.Patch, &prop.Classification)
	if applyErr != nil {
		// A lease held elsewhere is contention, not a verdict on the
		// patch: the proposal stays pending and the caller retries.
		if errors.Is(applyErr, errclass.ErrLockConflict) {
			return nil, applyErr
		}
		return c.recordApplyFailure(ctx, prop, result, applyErr)
	}

	// Audit before marking the proposal applied. If the trail cannot
	// record the mutation, the mutation is reversed rather than left
	// unaccounted for.
	if _, err := c.trail.Append(ctx, &model.AuditRecord{
		Action:       model.ActionApply,
		FilePath:     prop.Patch.FilePath,
		PatchID:      prop.Patch.ID,
		Tier:         prop.Classification.Tier,
		Score:        prop.Classification.Score,
		OriginalHash: prop.Patch.OriginalHash,
		ModifiedHash: result.NewHash,
		Principal:    c.applyPrincipal(prop.Classification.Tier),
		Success:      true,
		Details:      map[string]any{"backup": result.Backup.BackupPath},
	}); err != nil {
		if rbErr := c.applier.Rollback(result.Backup); rbErr != nil {
			c.alert(webhook.EventRollbackFailed, prop, rbErr.Error())
			return nil, fmt.Errorf("audit append failed and rollback failed: %w", rbErr)
		}
		return nil, fmt.Errorf("apply reversed, audit append failed: %w", err)
	}

	if err := c.proposals.Resolve(ctx, patchID, model.PatchStatusApplied); err != nil {
		return nil, err
	}

	if prop.Classification.Tier == model.TierCritical {
		c.alert(webhook.EventCriticalApplied, prop, "")
	}

	c.log.Info("patch applied", map[string]any{
		"patch_id": patchID, "file": prop.Patch.FilePath,
		"tier": string(prop.Classification.Tier), "backup": result.Backup.BackupPath,
	})
	return &ApplyOutcome{
		Applied: true,
		Tier:    prop.Classification.Tier,
		NewHash: result.NewHash,
		Backup:  result.Backup.BackupPath,
	}, nil
}

// checkApproval enforces the gate. It returns a non-nil outcome when the
// apply must stop here (approval pending), nil when the apply may go on.
func (c *Controller) checkApproval(ctx context.Context, prop *store.Proposal, phrase string) (*ApplyOutcome, error) {
	if !prop.Classification.Tier.RequiresApproval() {
		return nil, nil
	}

	req, err := c.gate.Get(ctx, prop.Patch.ID)
	if err != nil {
		return nil, err
	}
	if req.Status == model.ApprovalApproved {
		return nil, nil
	}

	verdict, err := c.gate.Verify(ctx, prop.Patch.ID, phrase)
	if err != nil {
		return nil, err
	}
	if !verdict.Approved {
		return &ApplyOutcome{
			ApprovalRequired: true,
			RequiredPhrase:   verdict.RequiredPhrase,
			Reasons:          prop.Classification.Reasons,
			Tier:             prop.Classification.Tier,
		}, nil
	}

	if _, err := c.trail.Append(ctx, &model.AuditRecord{
		Action:         model.ActionApprove,
		FilePath:       prop.Patch.FilePath,
		PatchID:        prop.Patch.ID,
		Tier:           prop.Classification.Tier,
		Principal:      model.PrincipalOwner,
		ApprovalPhrase: phrase,
		Success:        true,
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Controller) recordApplyFailure(ctx context.Context, prop *store.Proposal, result *applier.Result, applyErr error) (*ApplyOutcome, error) {
	rec := &model.AuditRecord{
		Action:       model.ActionApplyFailure,
		FilePath:     prop.Patch.FilePath,
		PatchID:      prop.Patch.ID,
		Tier:         prop.Classification.Tier,
		Score:        prop.Classification.Score,
		OriginalHash: prop.Patch.OriginalHash,
		ErrorDetail:  applyErr.Error(),
	}
	rolledBack := false
	if result != nil {
		rolledBack = result.RolledBack
		if result.Backup != nil {
			rec.Details = map[string]any{"backup": result.Backup.BackupPath}
		}
	}
	if _, err := c.trail.Append(ctx, rec); err != nil {
		c.log.Error("audit apply failure", map[string]any{"patch_id": prop.Patch.ID, "error": err.Error()})
	}

	if rolledBack {
		if _, err := c.trail.Append(ctx, &model.AuditRecord{
			Action:   model.ActionRollback,
			FilePath: prop.Patch.FilePath,
			PatchID:  prop.Patch.ID,
			Tier:     prop.Classification.Tier,
			Success:  true,
		}); err != nil {
			c.log.Error("audit rollback", map[string]any{"patch_id": prop.Patch.ID, "error": err.Error()})
		}
	}

	if errors.Is(applyErr, errclass.ErrRollbackFailed) {
		c.alert(webhook.EventRollbackFailed, prop, applyErr.Error())
	}

	// Stale proposals stay failed: the file moved on, a fresh proposal
	// against current content is the only way forward.
	if err := c.proposals.Resolve(ctx, prop.Patch.ID, model.PatchStatusFailed); err != nil {
		c.log.Error("resolve failed proposal", map[string]any{"patch_id": prop.Patch.ID, "error": err.Error()})
	}

	return &ApplyOutcome{
		Tier:       prop.Classification.Tier,
		RolledBack: rolledBack,
	}, applyErr
}

// Deny terminally rejects a pending proposal. The target file is never
// touched; denial is recorded in the trail like every other resolution.
func (c *Controller) Deny(ctx context.Context, patchID string) error {
	prop, err := c.proposals.Get(ctx, patchID)
	if err != nil {
		return err
	}
	if prop.Patch.Status.Resolved() {
		return errclass.ErrProposalResolved.WithMessagef(
			"proposal %s is already %s", patchID, prop.Patch.Status)
	}

	// SAFE proposals auto-approve at request time, so their gate entry
	// is already resolved; the proposal itself is still deniable.
	if err := c.gate.Deny(ctx, patchID); err != nil && !errors.Is(err, errclass.ErrApprovalResolved) {
		return err
	}

	if err := c.proposals.Resolve(ctx, patchID, model.PatchStatusDenied); err != nil {
		return err
	}

	if _, err := c.trail.Append(ctx, &model.AuditRecord{
		Action:    model.ActionDeny,
		FilePath:  prop.Patch.FilePath,
		PatchID:   patchID,
		Tier:      prop.Classification.Tier,
		Principal: model.PrincipalOwner,
		Success:   true,
	}); err != nil {
		return err
	}

	c.log.Info("proposal denied", map[string]any{"patch_id": patchID, "file": prop.Patch.FilePath})
	return nil
}

// Get returns a stored proposal by patch id.
func (c *Controller) Get(ctx context.Context, patchID string) (*store.Proposal, error) {
	return c.proposals.Get(ctx, patchID)
}

// Pending lists unresolved proposals, oldest first.
func (c *Controller) Pending(ctx context.Context) ([]*store.Proposal, error) {
	return c.proposals.Pending(ctx)
}

// History queries the audit trail.
func (c *Controller) History(ctx context.Context, f audit.Filter) ([]*model.AuditRecord, error) {
	return c.trail.Query(ctx, f)
}

// Stats aggregates audit statistics.
func (c *Controller) Stats(ctx context.Context) (*model.Statistics, error) {
	return c.trail.Statistics(ctx)
}

// VerifyChain checks the audit trail's hash chain end to end.
func (c *Controller) VerifyChain(ctx context.Context) error {
	return c.trail.VerifyChain(ctx)
}

// Verifier returns an integrity verifier over this controller's store.
func (c *Controller) Verifier() *verify.Verifier {
	return verify.NewVerifier(c.db)
}

func (c *Controller) applyPrincipal(tier model.Tier) string {
	if tier.RequiresApproval() {
		return model.PrincipalOwner
	}
	return model.PrincipalAuto
}

func (c *Controller) alert(event webhook.EventType, prop *store.Proposal, detail string) {
	if !c.alerts.Enabled() {
		return
	}
	if err := c.alerts.Send(webhook.Event{
		Event:    event,
		FilePath: prop.Patch.FilePath,
		PatchID:  prop.Patch.ID,
		Tier:     string(prop.Classification.Tier),
		Error:    detail,
	}); err != nil {
		c.log.Warn("alert delivery failed", map[string]any{"event": string(event), "error": err.Error()})
	}
}
