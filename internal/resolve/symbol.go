package resolve

import (
	"fmt"

	"yarals/internal/document"
	"yarals/internal/errors"
)

// Kind classifies a symbol.
type Kind int

const (
	// KindRuleName is a bare identifier naming a rule.
	KindRuleName Kind = iota
	// KindVariable is a sigil-prefixed pattern reference.
	KindVariable
)

func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	default:
		return "rule"
	}
}

// MarshalText lets Kind render as a word in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Symbol is the identifier under a cursor.
type Symbol struct {
	Text     string         `json:"text"`
	Kind     Kind           `json:"kind"`
	Sigil    string         `json:"sigil,omitempty"`
	Wildcard bool           `json:"wildcard,omitempty"`
	Range    document.Range `json:"range"`
}

// SymbolAt extracts and classifies the symbol at pos. The character right
// before the word decides the kind; a variable directly followed by the
// wildcard marker becomes a prefix query.
func (r *Resolver) SymbolAt(buf Buffer, pos document.Position) (Symbol, error) {
	rng, ok := buf.WordRangeAtPosition(pos)
	if !ok {
		return Symbol{}, errors.NewError(
			errors.NotFound,
			fmt.Sprintf("no symbol at %s", pos),
			nil,
		)
	}

	runes := []rune(buf.LineAt(rng.Start.Line))
	sym := Symbol{
		Text:  string(runes[rng.Start.Character:rng.End.Character]),
		Kind:  KindRuleName,
		Range: rng,
	}

	if rng.Start.Character > 0 {
		if prev := runes[rng.Start.Character-1]; r.IsSigil(prev) {
			sym.Kind = KindVariable
			sym.Sigil = string(prev)
			if rng.End.Character < len(runes) && runes[rng.End.Character] == WildcardMarker {
				sym.Wildcard = true
			}
		}
	}

	return sym, nil
}
