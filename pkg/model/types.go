// Package model defines the core data types for the self-modification pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent returns the hex SHA-256 of file content. Both the
// proposal-time snapshot and the applier's staleness check use this.
func HashContent(content string) HashValue {
	sum := sha256.Sum256([]byte(content))
	return HashValue(hex.EncodeToString(sum[:]))
}

// HashValue is a hex-encoded SHA-256 hash.
type HashValue string

// ShortHash returns the first 8 characters for display.
func (h HashValue) ShortHash() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// Tier is the ordinal risk classification of a patch.
type Tier string

const (
	TierSafe      Tier = "safe"
	TierCaution   Tier = "caution"
	TierSensitive Tier = "sensitive"
	TierCritical  Tier = "critical"
)

var tierRanks = map[Tier]int{
	TierSafe:      0,
	TierCaution:   1,
	TierSensitive: 2,
	TierCritical:  3,
}

// Rank returns the ordinal position of the tier (safe=0 .. critical=3).
// Unknown tiers rank above critical so a corrupted value is never
// treated as safe.
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return len(tierRanks)
}

// AtLeast reports whether t is ranked at or above other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// RequiresApproval reports whether patches at this tier need an
// explicit owner acknowledgment before application.
func (t Tier) RequiresApproval() bool {
	return t != TierSafe
}

// MaxTier returns the higher-ranked of two tiers.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
