package model

import "time"

// AuditAction identifies the lifecycle event an audit record describes.
type AuditAction string

const (
	ActionPropose      AuditAction = "propose"
	ActionApprove      AuditAction = "approve"
	ActionDeny         AuditAction = "deny"
	ActionApply        AuditAction = "apply"
	ActionApplyFailure AuditAction = "apply_failure"
	ActionRollback     AuditAction = "rollback"
)

// AuditRecord is one immutable row in the audit trail. Rows are
// hash-chained: RecordHash covers all fields except itself, and
// PrevHash is the RecordHash of the preceding row.
type AuditRecord struct {
	ID             int64          `json:"id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Action         AuditAction    `json:"action"`
	FilePath       string         `json:"file_path"`
	PatchID        string         `json:"patch_id"`
	Tier           Tier           `json:"tier,omitempty"`
	Score          float64        `json:"score,omitempty"`
	OriginalHash   HashValue      `json:"original_hash,omitempty"`
	ModifiedHash   HashValue      `json:"modified_hash,omitempty"`
	Principal      string         `json:"principal,omitempty"`
	ApprovalPhrase string         `json:"approval_phrase,omitempty"`
	Success        bool           `json:"success"`
	ErrorDetail    string         `json:"error_detail,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	PrevHash       HashValue      `json:"prev_hash"`
	RecordHash     HashValue      `json:"record_hash"`
}

// Statistics summarizes the audit trail. Values are aggregated from the
// stored records on each call, never maintained as separate counters.
type Statistics struct {
	Total             int64                 `json:"total"`
	SuccessRate       float64               `json:"success_rate"`
	CountsByTier      map[Tier]int64        `json:"counts_by_tier"`
	CountsByAction    map[AuditAction]int64 `json:"counts_by_action"`
	MostModifiedFiles []FileCount           `json:"most_modified_files"`
}

// FileCount pairs a file path with its audit record count.
type FileCount struct {
	FilePath string `json:"file_path"`
	Count    int64  `json:"count"`
}
