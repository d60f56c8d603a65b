// Package verify performs integrity verification over the pipeline's
// durable state: the audit trail's hash chain and the backup files the
// trail's apply records point at.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/saraphina-project/selfmod/internal/audit"
	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// ChainResult reports the outcome of an audit chain verification.
type ChainResult struct {
	RecordCount    int64  `json:"record_count"`
	ChainValid     bool   `json:"chain_valid"`
	TamperDetected bool   `json:"tamper_detected"`
	Error          string `json:"error,omitempty"`
}

// BackupResult reports the state of one backup referenced by the trail.
type BackupResult struct {
	PatchID        string `json:"patch_id"`
	FilePath       string `json:"file_path"`
	BackupPath     string `json:"backup_path"`
	Present        bool   `json:"present"`
	TamperDetected bool   `json:"tamper_detected"`
	Error          string `json:"error,omitempty"`
}

// Verifier checks trail and backup integrity.
type Verifier struct {
	trail *audit.Trail
}

// NewVerifier creates a verifier over an opened store.
func NewVerifier(db *store.DB) *Verifier {
	return &Verifier{trail: audit.NewTrail(db)}
}

// VerifyChain recomputes the full audit hash chain.
func (v *Verifier) VerifyChain(ctx context.Context) (*ChainResult, error) {
	stats, err := v.trail.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	result := &ChainResult{RecordCount: stats.Total}

	if err := v.trail.VerifyChain(ctx); err != nil {
		if errors.Is(err, errclass.ErrAuditChainBroken) {
			result.TamperDetected = true
			result.Error = err.Error()
			return result, nil
		}
		return nil, err
	}

	result.ChainValid = true
	return result, nil
}

// VerifyBackups checks every backup path recorded by successful applies.
// A missing backup file is tampering from the trail's point of view: the
// trail says it was written, and backups are never garbage-collected by
// the pipeline itself.
func (v *Verifier) VerifyBackups(ctx context.Context) ([]*BackupResult, error) {
	records, err := v.trail.Query(ctx, audit.Filter{Action: model.ActionApply})
	if err != nil {
		return nil, err
	}

	var results []*BackupResult
	for _, rec := range records {
		backupPath, ok := rec.Details["backup"].(string)
		if !ok || backupPath == "" {
			continue
		}

		res := &BackupResult{
			PatchID:    rec.PatchID,
			FilePath:   rec.FilePath,
			BackupPath: backupPath,
		}

		info, err := os.Stat(backupPath)
		switch {
		case os.IsNotExist(err):
			res.TamperDetected = true
			res.Error = "backup file missing"
		case err != nil:
			res.Error = fmt.Sprintf("stat backup: %v", err)
		case info.IsDir():
			res.TamperDetected = true
			res.Error = "backup path is a directory"
		default:
			res.Present = true
		}
		results = append(results, res)
	}
	return results, nil
}
