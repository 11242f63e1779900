package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"yarals/internal/document"
	"yarals/internal/errors"
)

// ResolveReferences returns every line of the document that references the
// symbol at pos, in line order and at most once per line.
//
// Variables match "sigil + name + non-identifier character (or end of line)",
// so $hex_ never matches inside $hex_string2. A wildcard query ($hex_*)
// relaxes the boundary to a prefix match. The returned column points past
// the sigil. Rule names match as raw substrings.
func (r *Resolver) ResolveReferences(buf Buffer, pos document.Position) ([]document.Location, error) {
	sym, err := r.SymbolAt(buf, pos)
	if err != nil {
		return nil, err
	}

	var refs []document.Location
	if sym.Kind == KindVariable {
		re := r.VariablePattern(sym.Text, sym.Wildcard)
		for n, line := range buf.Lines() {
			if loc := re.FindStringIndex(line); loc != nil {
				refs = append(refs, document.Location{
					URI:      buf.URI(),
					Position: document.Position{Line: n, Character: document.CharOffset(line, loc[0]) + 1},
				})
			}
		}
	} else {
		for n, line := range buf.Lines() {
			if idx := strings.Index(line, sym.Text); idx >= 0 {
				refs = append(refs, document.Location{
					URI:      buf.URI(),
					Position: document.Position{Line: n, Character: document.CharOffset(line, idx)},
				})
			}
		}
	}

	if len(refs) == 0 {
		return nil, errors.NewError(
			errors.NoReferencesFound,
			fmt.Sprintf("no references to %s %s", sym.Kind, sym.Text),
			nil,
		)
	}
	return refs, nil
}

// VariablePattern compiles the reference pattern for a variable name. The
// match starts at the sigil.
func (r *Resolver) VariablePattern(name string, wildcard bool) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("[")
	for _, c := range r.sigils {
		if strings.ContainsRune(`\]^-[`, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	b.WriteString("]")
	b.WriteString(regexp.QuoteMeta(name))
	if wildcard {
		b.WriteString(`[A-Za-z0-9_]*`)
	} else {
		b.WriteString(`(?:[^A-Za-z0-9_]|$)`)
	}
	return regexp.MustCompile(b.String())
}
