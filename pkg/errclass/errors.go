// Package errclass defines the stable, machine-readable error classes
// surfaced by the self-modification pipeline.
package errclass

import "fmt"

// Error is a stable, machine-readable error class.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// All stable error classes.
var (
	ErrNameInvalid       = &Error{Code: "E_NAME_INVALID"}
	ErrPathEscape        = &Error{Code: "E_PATH_ESCAPE"}
	ErrProposalConflict  = &Error{Code: "E_PROPOSAL_CONFLICT"}
	ErrProposalNotFound  = &Error{Code: "E_PROPOSAL_NOT_FOUND"}
	ErrProposalResolved  = &Error{Code: "E_PROPOSAL_RESOLVED"}
	ErrApprovalNotFound  = &Error{Code: "E_APPROVAL_NOT_FOUND"}
	ErrApprovalResolved  = &Error{Code: "E_APPROVAL_RESOLVED"}
	ErrStaleProposal     = &Error{Code: "E_STALE_PROPOSAL"}
	ErrStructuralInvalid = &Error{Code: "E_STRUCTURAL_INVALID"}
	ErrRollbackFailed    = &Error{Code: "E_ROLLBACK_FAILED"}
	ErrLockConflict      = &Error{Code: "E_LOCK_CONFLICT"}
	ErrLockNotHeld       = &Error{Code: "E_LOCK_NOT_HELD"}
	ErrRecordImmutable   = &Error{Code: "E_RECORD_IMMUTABLE"}
	ErrAuditChainBroken  = &Error{Code: "E_AUDIT_CHAIN_BROKEN"}
	ErrFormatUnsupported = &Error{Code: "E_FORMAT_UNSUPPORTED"}
)
