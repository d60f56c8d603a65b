// Package applier performs the mutation step of the pipeline: snapshot
// the target, write the approved content, validate the result, and roll
// back on any failure. Every apply is reversible until it has fully
// succeeded.
package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saraphina-project/selfmod/internal/lock"
	"github.com/saraphina-project/selfmod/internal/structural"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/fsutil"
	"github.com/saraphina-project/selfmod/pkg/logging"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// Result reports the outcome of an apply attempt. A failed apply that
// was rolled back still carries the backup reference so the audit trail
// can point at it.
type Result struct {
	Success    bool             `json:"success"`
	Backup     *model.BackupRef `json:"backup,omitempty"`
	NewHash    model.HashValue  `json:"new_hash,omitempty"`
	RolledBack bool             `json:"rolled_back,omitempty"`
}

// Applier applies approved patches to disk.
type Applier struct {
	repoRoot  string
	backupDir string
	locks     *lock.Manager
	log       *logging.Logger
}

// New creates an applier. backupDir may be absolute or repo-relative.
func New(repoRoot, backupDir string) *Applier {
	if !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(repoRoot, backupDir)
	}
	return &Applier{
		repoRoot:  repoRoot,
		backupDir: backupDir,
		locks:     lock.NewManager(repoRoot),
		log:       logging.WithFields(map[string]any{"component": "applier"}),
	}
}

// Apply writes the patch's modified content to the target file.
// Preconditions (the controller enforces them): the classification does
// not require approval, or its approval request is APPROVED.
//
// Steps, each a hard contract: staleness check against the
// proposal-time hash, timestamped backup, atomic write, structural
// validation of the new content, and a check that nothing beyond the
// deletions seen at classification time has vanished. Validation
// failures restore the backup before returning.
func (a *Applier) Apply(patch *model.Patch, classification *model.RiskClassification) (*Result, error) {
	lockRec, err := a.locks.Acquire(patch.FilePath, "apply "+patch.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := a.locks.Release(lockRec); rerr != nil {
			a.log.Warn("release apply lock", map[string]any{"file": patch.FilePath, "error": rerr.Error()})
		}
	}()

	currentBytes, err := os.ReadFile(patch.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}
	current := string(currentBytes)

	// The file must be exactly what the proposal was made against. A
	// mismatch means something else modified it: hard failure, never a
	// silent overwrite.
	if model.HashContent(current) != patch.OriginalHash {
		return nil, errclass.ErrStaleProposal.WithMessagef(
			"%s changed since proposal %s was created", patch.FilePath, patch.ID)
	}

	backup, err := a.writeBackup(patch.FilePath, current)
	if err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}

	if err := fsutil.AtomicWrite(patch.FilePath, []byte(patch.ModifiedContent), 0644); err != nil {
		return &Result{Backup: backup}, fmt.Errorf("write modified content: %w", err)
	}

	if err := structural.Validate(patch.FilePath, patch.ModifiedContent); err != nil {
		a.log.Warn("structural validation failed, restoring backup", map[string]any{
			"file": patch.FilePath, "error": err.Error(),
		})
		if rbErr := a.Rollback(backup); rbErr != nil {
			return &Result{Backup: backup}, rbErr
		}
		return &Result{Backup: backup, RolledBack: true}, err
	}

	// An additional deletion the classifier never saw means the patch
	// does not match what was classified.
	if extra := a.unexpectedDeletions(patch, classification); len(extra) > 0 {
		if rbErr := a.Rollback(backup); rbErr != nil {
			return &Result{Backup: backup}, rbErr
		}
		return &Result{Backup: backup, RolledBack: true},
			errclass.ErrStructuralInvalid.WithMessagef(
				"unexpected symbol deletions not seen at classification time: %s",
				strings.Join(extra, ", "))
	}

	return &Result{
		Success: true,
		Backup:  backup,
		NewHash: model.HashContent(patch.ModifiedContent),
	}, nil
}

// Rollback restores the exact prior bytes from a backup and re-validates
// them. A missing or corrupted backup is the one truly fatal error in
// the pipeline: it is surfaced as ErrRollbackFailed and never swallowed.
func (a *Applier) Rollback(ref *model.BackupRef) error {
	data, err := os.ReadFile(ref.BackupPath)
	if err != nil {
		return errclass.ErrRollbackFailed.WithMessagef("backup unreadable: %v", err)
	}

	if model.HashContent(string(data)) != ref.ContentHash {
		return errclass.ErrRollbackFailed.WithMessagef(
			"backup %s is corrupt: content hash mismatch", ref.BackupPath)
	}

	if err := structural.Validate(ref.FilePath, string(data)); err != nil {
		return errclass.ErrRollbackFailed.WithMessagef(
			"backup %s does not validate: %v", ref.BackupPath, err)
	}

	if err := fsutil.AtomicWrite(ref.FilePath, data, 0644); err != nil {
		return errclass.ErrRollbackFailed.WithMessagef("restore write failed: %v", err)
	}

	a.log.Info("restored backup", map[string]any{
		"file": ref.FilePath, "backup": ref.BackupPath,
	})
	return nil
}

// writeBackup snapshots the current content under the backup directory.
// Names are timestamp plus a random suffix, collision-free per file.
// Backups are never deleted here; retention belongs to the caller.
func (a *Applier) writeBackup(filePath, content string) (*model.BackupRef, error) {
	if err := os.MkdirAll(a.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s.%s.%s.bak",
		filepath.Base(filePath),
		now.Format("20060102T150405.000000000Z"),
		uuid.NewString()[:8])
	backupPath := filepath.Join(a.backupDir, name)

	if err := fsutil.AtomicWrite(backupPath, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write backup file: %w", err)
	}

	return &model.BackupRef{
		FilePath:    filePath,
		BackupPath:  backupPath,
		ContentHash: model.HashContent(content),
		CreatedAt:   now,
	}, nil
}

func (a *Applier) unexpectedDeletions(patch *model.Patch, classification *model.RiskClassification) []string {
	accounted := make(map[string]bool)
	if classification != nil {
		for _, sym := range classification.DeletedSymbols {
			accounted[sym] = true
		}
	}

	var extra []string
	for _, sym := range structural.DeletedSymbols(patch.FilePath, patch.OriginalContent, patch.ModifiedContent) {
		if !accounted[sym] {
			extra = append(extra, sym)
		}
	}
	return extra
}
