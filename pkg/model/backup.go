package model

import "time"

// BackupRef identifies a pre-mutation snapshot of a file. Backups are
// never auto-deleted by the pipeline; cleanup belongs to the caller.
type BackupRef struct {
	FilePath    string    `json:"file_path"`
	BackupPath  string    `json:"backup_path"`
	ContentHash HashValue `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}
