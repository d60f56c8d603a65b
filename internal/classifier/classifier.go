// Package classifier statically scores a proposed source change and
// assigns a risk tier. Classification is a pure function of
// (original, modified, file path): no I/O, no randomness, and it never
// fails — a broken detector degrades to "signal absent".
package classifier

import (
	"fmt"
	"strings"

	"github.com/saraphina-project/selfmod/internal/diff"
	"github.com/saraphina-project/selfmod/internal/structural"
	"github.com/saraphina-project/selfmod/pkg/config"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// Ruleset holds the scoring parameters: tier thresholds, per-signal
// weight overrides, and the critical-module list. The tier ordering
// semantics are fixed; only the numbers are configuration.
type Ruleset struct {
	CautionAt   float64
	SensitiveAt float64
	CriticalAt  float64

	Weights map[string]float64

	CriticalModules []string
}

// DefaultRuleset returns the built-in scoring parameters.
func DefaultRuleset() Ruleset {
	return Ruleset{
		CautionAt:   10,
		SensitiveAt: 30,
		CriticalAt:  60,
		CriticalModules: []string{
			"security", "auth", "crypto", "safety", "selfmod", "approval",
		},
	}
}

// RulesetFromConfig merges config overrides onto the defaults.
func RulesetFromConfig(cfg *config.ClassifierConfig) Ruleset {
	rules := DefaultRuleset()
	if cfg == nil {
		return rules
	}
	if cfg.CautionAt > 0 {
		rules.CautionAt = cfg.CautionAt
	}
	if cfg.SensitiveAt > 0 {
		rules.SensitiveAt = cfg.SensitiveAt
	}
	if cfg.CriticalAt > 0 {
		rules.CriticalAt = cfg.CriticalAt
	}
	if len(cfg.Weights) > 0 {
		rules.Weights = cfg.Weights
	}
	if len(cfg.CriticalModules) > 0 {
		rules.CriticalModules = cfg.CriticalModules
	}
	return rules
}

// Classifier assigns risk classifications to proposed patches.
type Classifier struct {
	rules     Ruleset
	detectors []detector
}

// New creates a classifier with the given ruleset.
func New(rules Ruleset) *Classifier {
	return &Classifier{
		rules:     rules,
		detectors: defaultDetectors(),
	}
}

// Classify scores the (original, modified) pair for the target path.
// The returned classification is deterministic for identical inputs.
func (c *Classifier) Classify(original, modified, filePath string) *model.RiskClassification {
	in := c.buildInput(original, modified, filePath)

	var (
		score   float64
		floor   = model.TierSafe
		reasons []string
		signals []model.SignalHit
	)

	detectors := c.detectors
	if mod := c.criticalModuleMatch(filePath); mod != "" {
		detectors = append(detectors[:len(detectors):len(detectors)], detector{
			name: SignalCriticalModule, weight: 20, floor: model.TierSensitive, maxHits: 1,
			detect: func(in *detectInput) []hit {
				if in.original == in.modified {
					return nil
				}
				return []hit{{detail: fmt.Sprintf("target is a critical module (%s)", mod)}}
			},
		})
	}

	for _, det := range detectors {
		hits := runDetector(det, in)
		if len(hits) == 0 {
			continue
		}

		weight := det.weight
		if override, ok := c.rules.Weights[det.name]; ok {
			weight = override
		}

		counted := len(hits)
		if det.maxHits > 0 && counted > det.maxHits {
			counted = det.maxHits
		}
		score += weight * float64(counted)

		floor = model.MaxTier(floor, det.floor)
		for _, h := range hits {
			reasons = append(reasons, h.detail)
		}
		signals = append(signals, model.SignalHit{
			Name:   det.name,
			Weight: weight * float64(counted),
			Floor:  det.floor,
			Detail: hits[0].detail,
		})
	}

	if score > 100 {
		score = 100
	}

	// One severe signal must never be diluted by many mild ones: the
	// final tier is the max of the score-derived tier and the highest
	// floor among fired signals.
	tier := model.MaxTier(c.tierFromScore(score), floor)

	return &model.RiskClassification{
		Score:            score,
		Tier:             tier,
		Reasons:          reasons,
		Signals:          signals,
		RequiresApproval: tier.RequiresApproval(),
		DeletedSymbols:   in.deletedSymbols,
	}
}

func (c *Classifier) tierFromScore(score float64) model.Tier {
	switch {
	case score < c.rules.CautionAt:
		return model.TierSafe
	case score < c.rules.SensitiveAt:
		return model.TierCaution
	case score < c.rules.CriticalAt:
		return model.TierSensitive
	default:
		return model.TierCritical
	}
}

func (c *Classifier) criticalModuleMatch(filePath string) string {
	lower := strings.ToLower(filePath)
	for _, mod := range c.rules.CriticalModules {
		if strings.Contains(lower, strings.ToLower(mod)) {
			return mod
		}
	}
	return ""
}

// buildInput derives everything detectors inspect. Extraction helpers
// are regex-based and cannot fail; the diff is deterministic.
func (c *Classifier) buildInput(original, modified, filePath string) *detectInput {
	lineDiff := diff.Lines(original, modified)

	changedCode := stripCommentLines(append(append([]string{}, lineDiff.Added...), lineDiff.Removed...))

	return &detectInput{
		filePath:       filePath,
		original:       original,
		modified:       modified,
		codeDiffText:   strings.Join(changedCode, "\n"),
		codeChanged:    len(changedCode) > 0,
		deletedSymbols: structural.DeletedSymbols(filePath, original, modified),
		removedImports: structural.RemovedImports(original, modified),
	}
}

// runDetector shields classification from a misbehaving detector: a
// panic reads as "not detected".
func runDetector(det detector, in *detectInput) (hits []hit) {
	defer func() {
		if r := recover(); r != nil {
			hits = nil
		}
	}()
	return det.detect(in)
}
