package model

// SignalHit records one detector that fired during classification.
type SignalHit struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Floor  Tier    `json:"floor"`
	Detail string  `json:"detail,omitempty"`
}

// RiskClassification is the judgment attached to a Patch. It is a pure
// function of (original, modified, file path): identical inputs always
// produce an identical classification.
type RiskClassification struct {
	Score            float64     `json:"score"`
	Tier             Tier        `json:"tier"`
	Reasons          []string    `json:"reasons"`
	Signals          []SignalHit `json:"signals,omitempty"`
	RequiresApproval bool        `json:"requires_approval"`

	// DeletedSymbols lists public symbols defined in the original but
	// absent from the modified content. The applier uses this to avoid
	// double-flagging deletions already accounted for here.
	DeletedSymbols []string `json:"deleted_symbols,omitempty"`
}
