// Package structural validates that file content is syntactically
// well-formed and extracts defined symbols and imports. The classifier
// uses extraction to detect deleted symbols; the applier uses validation
// to reject patches that would leave a broken file on disk.
package structural

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/saraphina-project/selfmod/pkg/errclass"
)

// Validate checks that content is structurally well-formed for the file
// type implied by the path extension. Go files must parse; Python and
// other brace-structured sources must have balanced brackets outside of
// string literals. Unknown text formats only need to be non-empty.
func Validate(filePath, content string) error {
	if strings.TrimSpace(content) == "" {
		return errclass.ErrStructuralInvalid.WithMessage("content is empty")
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".go":
		fset := token.NewFileSet()
		if _, err := parser.ParseFile(fset, filepath.Base(filePath), content, 0); err != nil {
			return errclass.ErrStructuralInvalid.WithMessagef("go parse: %v", err)
		}
	default:
		if err := checkBalance(content); err != nil {
			return err
		}
	}
	return nil
}

// checkBalance scans for unbalanced brackets, skipping string literals
// and line comments. It is intentionally permissive: it catches the
// truncated or garbled output a code generator produces, not every
// possible syntax error.
func checkBalance(content string) error {
	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}

	inString := byte(0) // current quote character, 0 if none
	escaped := false
	for i := 0; i < len(content); i++ {
		c := content[i]

		if inString != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case inString:
				inString = 0
			case '\n':
				// Unterminated single-line string; tolerate and reset,
				// multi-line literals differ too much between languages.
				inString = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			inString = c
		case '#':
			// Line comment (Python, shell, YAML)
			for i < len(content) && content[i] != '\n' {
				i++
			}
		case '/':
			if i+1 < len(content) && content[i+1] == '/' {
				for i < len(content) && content[i] != '\n' {
					i++
				}
			}
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return errclass.ErrStructuralInvalid.WithMessagef("unbalanced %q at offset %d", string(c), i)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		return errclass.ErrStructuralInvalid.WithMessagef("unclosed %q", string(stack[len(stack)-1]))
	}
	return nil
}

// In Go, public means exported: only capitalized names count.
var goSymbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^func\s+([A-Z]\w*)\s*\(`),             // function
	regexp.MustCompile(`(?m)^func\s+\([^)]*\)\s+([A-Z]\w*)\s*\(`), // method
	regexp.MustCompile(`(?m)^type\s+([A-Z]\w*)\s`),                // type
}

var scriptSymbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_]\w*)\s*\(`),                     // Python function
	regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_]\w*)\s*[(:]`),                 // Python class
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?function\s+([A-Za-z_$]\w*)\s*\(`), // JS function
}

// Symbols extracts the public symbols defined in content, in order of
// first appearance. Extraction is regex-based so it never fails; the
// classifier degrades gracefully on exotic syntax rather than aborting.
func Symbols(filePath, content string) []string {
	patterns := scriptSymbolPatterns
	if strings.ToLower(filepath.Ext(filePath)) == ".go" {
		patterns = goSymbolPatterns
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, pat := range patterns {
		for _, m := range pat.FindAllStringSubmatch(content, -1) {
			name := m[1]
			if strings.HasPrefix(name, "_") {
				continue // private by convention
			}
			if !seen[name] {
				seen[name] = true
				symbols = append(symbols, name)
			}
		}
	}
	return symbols
}

// DeletedSymbols returns the public symbols defined in original that are
// no longer defined in modified.
func DeletedSymbols(filePath, original, modified string) []string {
	after := make(map[string]bool)
	for _, s := range Symbols(filePath, modified) {
		after[s] = true
	}

	var deleted []string
	for _, s := range Symbols(filePath, original) {
		if !after[s] {
			deleted = append(deleted, s)
		}
	}
	return deleted
}

// The optional leading token on the Go patterns covers named, blank and
// dot imports: an alias does not change which package the file pulls in.
var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*import\s+(?:[A-Za-z_.]\w*\s+)?"([^"]+)"`),              // Go single import
	regexp.MustCompile(`(?m)^\s+(?:[A-Za-z_.]\w*\s+)?"([^"]+)"\s*$`),                   // Go import block entry
	regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][\w.]*)(?:\s*$|\s*,|\s+as\s|\s+#)`), // Python import
	regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import`),                    // Python from-import
}

// Imports extracts imported module paths or package names.
func Imports(content string) []string {
	seen := make(map[string]bool)
	var imports []string
	for _, pat := range importPatterns {
		for _, m := range pat.FindAllStringSubmatch(content, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				imports = append(imports, m[1])
			}
		}
	}
	return imports
}

// RemovedImports returns imports present in original but absent from
// modified.
func RemovedImports(original, modified string) []string {
	after := make(map[string]bool)
	for _, imp := range Imports(modified) {
		after[imp] = true
	}

	var removed []string
	for _, imp := range Imports(original) {
		if !after[imp] {
			removed = append(removed, imp)
		}
	}
	return removed
}
