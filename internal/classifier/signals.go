package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/saraphina-project/selfmod/pkg/model"
)

// Signal names. Weights are looked up by name so configuration can
// override any of them without touching detector logic.
const (
	SignalSensitiveKeywords     = "sensitive_keywords"
	SignalDestructiveOps        = "destructive_ops"
	SignalPrivilegeEscalation   = "privilege_escalation"
	SignalNetworkOps            = "network_ops"
	SignalSymbolDeletion        = "symbol_deletion"
	SignalImportRemoval         = "import_removal"
	SignalSecurityImportRemoval = "security_import_removal"
	SignalSizeDisparity         = "size_disparity"
	SignalCriticalModule        = "critical_module"
	SignalCodeChange            = "code_change"
)

// detectInput is everything a detector may inspect. All fields are
// derived once per classification so detectors stay independent.
type detectInput struct {
	filePath       string
	original       string
	modified       string
	codeDiffText   string // changed lines with comment-only lines stripped
	codeChanged    bool
	deletedSymbols []string
	removedImports []string
}

// hit is one detector finding, with a human-readable reason.
type hit struct {
	detail string
}

// detector evaluates one named signal. Detectors must be pure and are
// run behind a recover guard: a panicking detector reads as "signal
// absent", never as a classification failure.
//
// maxHits bounds how many findings contribute to the score (the reasons
// list still carries all of them), so a signal is graded without letting
// repetition dominate.
type detector struct {
	name    string
	weight  float64
	floor   model.Tier
	maxHits int
	detect  func(in *detectInput) []hit
}

var sensitiveKeywordRe = regexp.MustCompile(`(?i)\b(password|passwd|secret|credential|token|api_key|apikey|private_key|encrypt|decrypt|cipher|cryptograph\w*|hashlib|hmac|auth\w*|certificate)\b`)

var destructiveRe = regexp.MustCompile(`(?i)\b(delete|drop|truncate|rmtree|unlink|removeall)\b`)

var privilegeRe = regexp.MustCompile(`(?i)(\bsubprocess\b|\bos\.system\b|\bexec\s*\(|\beval\s*\(|\bshell\b|\bchmod\b|\bchown\b|\bsetuid\b|\bsudo\b|os/exec|\bsyscall\b)`)

var networkRe = regexp.MustCompile(`(?i)(\bsocket\b|\bhttp\b|\burllib\b|\brequests\b|net\.Dial|\blisten\s*\(|\bconnect\s*\(|\bwebsocket\b)`)

var securityImports = []string{
	"crypto", "tls", "ssl", "hashlib", "secrets", "hmac",
	"jwt", "bcrypt", "passlib", "auth", "security",
}

// defaultDetectors is the declarative signal table. Order is fixed so
// reasons come out in a deterministic order.
func defaultDetectors() []detector {
	return []detector{
		{
			name: SignalSensitiveKeywords, weight: 20, floor: model.TierSensitive, maxHits: 1,
			detect: func(in *detectInput) []hit {
				return matchHits(sensitiveKeywordRe, in.codeDiffText, "sensitive-operation keyword")
			},
		},
		{
			name: SignalDestructiveOps, weight: 20, floor: model.TierSensitive, maxHits: 1,
			detect: func(in *detectInput) []hit {
				return matchHits(destructiveRe, in.codeDiffText, "destructive-data operation")
			},
		},
		{
			name: SignalPrivilegeEscalation, weight: 20, floor: model.TierSensitive, maxHits: 1,
			detect: func(in *detectInput) []hit {
				return matchHits(privilegeRe, in.codeDiffText, "privilege-escalation primitive")
			},
		},
		{
			name: SignalNetworkOps, weight: 10, floor: model.TierCaution, maxHits: 2,
			detect: func(in *detectInput) []hit {
				return matchHits(networkRe, in.codeDiffText, "network operation")
			},
		},
		{
			name: SignalSymbolDeletion, weight: 15, floor: model.TierSensitive, maxHits: 2,
			detect: func(in *detectInput) []hit {
				var hits []hit
				for _, sym := range in.deletedSymbols {
					hits = append(hits, hit{detail: fmt.Sprintf("public symbol %q deleted", sym)})
				}
				return hits
			},
		},
		{
			name: SignalSecurityImportRemoval, weight: 15, floor: model.TierCaution, maxHits: 2,
			detect: func(in *detectInput) []hit {
				var hits []hit
				for _, imp := range in.removedImports {
					if isSecurityImport(imp) {
						hits = append(hits, hit{detail: fmt.Sprintf("security-relevant import %q removed", imp)})
					}
				}
				return hits
			},
		},
		{
			name: SignalImportRemoval, weight: 8, floor: model.TierCaution, maxHits: 2,
			detect: func(in *detectInput) []hit {
				var hits []hit
				for _, imp := range in.removedImports {
					if !isSecurityImport(imp) {
						hits = append(hits, hit{detail: fmt.Sprintf("import %q removed", imp)})
					}
				}
				return hits
			},
		},
		{
			name: SignalSizeDisparity, weight: 5, floor: model.TierCaution, maxHits: 1,
			detect: func(in *detectInput) []hit {
				origLen := len(in.original)
				modLen := len(in.modified)
				if origLen == 0 {
					return nil // new file, nothing to compare against
				}
				ratio := float64(modLen) / float64(origLen)
				if ratio > 1.5 || ratio < 1.0/1.5 {
					return []hit{{detail: fmt.Sprintf("size changed %d -> %d bytes (%.0f%%)", origLen, modLen, ratio*100)}}
				}
				return nil
			},
		},
		{
			name: SignalCodeChange, weight: 5, floor: model.TierCaution, maxHits: 1,
			detect: func(in *detectInput) []hit {
				if in.codeChanged {
					return []hit{{detail: "non-comment code modified"}}
				}
				return nil
			},
		},
	}
}

func matchHits(re *regexp.Regexp, text, label string) []hit {
	matches := re.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var hits []hit
	for _, m := range matches {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, hit{detail: fmt.Sprintf("%s %q in diff", label, key)})
	}
	return hits
}

func isSecurityImport(imp string) bool {
	lower := strings.ToLower(imp)
	for _, s := range securityImports {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// stripCommentLines drops comment-only and blank lines, tracking Python
// triple-quote docstring blocks. A diff that only touches these lines is
// not a code change.
func stripCommentLines(lines []string) []string {
	var out []string
	inDocstring := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inDocstring {
			if strings.Contains(trimmed, `"""`) || strings.Contains(trimmed, "'''") {
				inDocstring = false
			}
			continue
		}

		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"),
			strings.HasPrefix(trimmed, "//"),
			strings.HasPrefix(trimmed, "/*"),
			strings.HasPrefix(trimmed, "*"):
		case strings.HasPrefix(trimmed, `"""`), strings.HasPrefix(trimmed, "'''"):
			// Docstring opener; single-line docstrings close themselves.
			quote := trimmed[:3]
			if strings.Count(trimmed, quote) < 2 {
				inDocstring = true
			}
		default:
			out = append(out, line)
		}
	}
	return out
}
