package model

import "time"

// PatchStatus tracks a proposal through its lifecycle.
type PatchStatus string

const (
	PatchStatusPending PatchStatus = "pending"
	PatchStatusApplied PatchStatus = "applied"
	PatchStatusDenied  PatchStatus = "denied"
	PatchStatusFailed  PatchStatus = "failed"
)

// Resolved reports whether the proposal has reached a terminal state.
func (s PatchStatus) Resolved() bool {
	return s != PatchStatusPending
}

// Patch is a proposed change to a single source file. It is immutable
// once classified; a new proposal supersedes it rather than mutating it.
type Patch struct {
	ID              string      `json:"id"`
	FilePath        string      `json:"file_path"`
	OriginalContent string      `json:"original_content"`
	ModifiedContent string      `json:"modified_content"`
	Rationale       string      `json:"rationale,omitempty"`
	OriginalHash    HashValue   `json:"original_hash"`
	ModifiedHash    HashValue   `json:"modified_hash"`
	Status          PatchStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
}
