package model

import "time"

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Resolved reports whether the request has reached a terminal state.
func (s ApprovalStatus) Resolved() bool {
	return s == ApprovalApproved || s == ApprovalDenied
}

// Principal identifiers recorded on resolved approvals.
const (
	PrincipalAuto  = "auto"
	PrincipalOwner = "owner"
)

// ApprovalRequest links a patch to the acknowledgment phrase its risk
// tier demands. At most one pending request exists per target file.
type ApprovalRequest struct {
	PatchID        string         `json:"patch_id"`
	FilePath       string         `json:"file_path"`
	Tier           Tier           `json:"tier"`
	RequiredPhrase string         `json:"required_phrase,omitempty"`
	Status         ApprovalStatus `json:"status"`
	Principal      string         `json:"principal,omitempty"`
	PhraseUsed     string         `json:"phrase_used,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}
