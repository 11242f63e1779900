// Package resolve implements go-to-definition and find-references for YARA
// rule files without a grammar. It reconstructs just enough structure from
// the raw lines (rule boundaries, sigils, identifier boundaries) to tell rule
// names from pattern variables and to scope variable definitions to the rule
// that encloses the cursor.
//
// Two asymmetries are kept on purpose:
//   - variable definitions are searched only inside the enclosing rule,
//     references are searched across the whole document;
//   - the last matching variable definition wins, the first matching rule
//     declaration wins.
package resolve

import (
	"strings"

	"yarals/internal/document"
)

// DefaultSigils are the characters that mark a pattern reference:
// $name (match), #name (count), @name (offset), !name (length).
const DefaultSigils = "$#@!"

// WildcardMarker follows a pattern prefix to reference a pattern set.
const WildcardMarker = '*'

// Buffer is the read contract the resolver needs from a host document.
type Buffer interface {
	URI() string
	Lines() []string
	LineAt(n int) string
	LineCount() int
	WordRangeAtPosition(p document.Position) (document.Range, bool)
}

// Resolver resolves symbols against a fixed sigil set. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	sigils string
}

// New creates a resolver for the given sigil set. An empty set selects
// DefaultSigils.
func New(sigils string) *Resolver {
	if sigils == "" {
		sigils = DefaultSigils
	}
	return &Resolver{sigils: sigils}
}

// Sigils returns the sigil set.
func (r *Resolver) Sigils() string {
	return r.sigils
}

// IsSigil reports whether c marks a pattern reference.
func (r *Resolver) IsSigil(c rune) bool {
	return strings.ContainsRune(r.sigils, c)
}
