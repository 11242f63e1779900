package resolve

import (
	"fmt"
	"strings"

	"yarals/internal/document"
	"yarals/internal/errors"
)

// ResolveDefinition returns the single definition site of the symbol at pos.
//
// Variables are looked up as "$name =" inside the enclosing rule only and the
// last matching line wins, so a later assignment shadows an earlier one. Rule
// names are looked up across the whole document on lines starting with
// "rule"; the cursor's own line is skipped and the first match wins.
func (r *Resolver) ResolveDefinition(buf Buffer, pos document.Position) (document.Location, error) {
	sym, err := r.SymbolAt(buf, pos)
	if err != nil {
		return document.Location{}, err
	}

	if sym.Kind == KindVariable {
		return r.variableDefinition(buf, pos, sym)
	}
	return r.ruleDefinition(buf, pos, sym)
}

func (r *Resolver) variableDefinition(buf Buffer, pos document.Position, sym Symbol) (document.Location, error) {
	lines := buf.Lines()
	rr, err := FindEnclosingRule(lines, pos)
	if err != nil {
		return document.Location{}, err
	}

	needle := "$" + sym.Text + " ="
	found := false
	var def document.Position
	for n := rr.Start; n < rr.End && n < len(lines); n++ {
		if idx := strings.Index(lines[n], needle); idx >= 0 {
			def = document.Position{Line: n, Character: document.CharOffset(lines[n], idx)}
			found = true
		}
	}

	if !found {
		return document.Location{}, errors.NewError(
			errors.NotFound,
			fmt.Sprintf("no definition of $%s in rule at line %d", sym.Text, rr.Start+1),
			nil,
		)
	}
	return document.Location{URI: buf.URI(), Position: def}, nil
}

func (r *Resolver) ruleDefinition(buf Buffer, pos document.Position, sym Symbol) (document.Location, error) {
	for n, line := range buf.Lines() {
		if n == pos.Line || !strings.HasPrefix(line, "rule") {
			continue
		}
		if idx := strings.Index(line, sym.Text); idx >= 0 {
			return document.Location{
				URI:      buf.URI(),
				Position: document.Position{Line: n, Character: document.CharOffset(line, idx)},
			}, nil
		}
	}

	return document.Location{}, errors.NewError(
		errors.NotFound,
		fmt.Sprintf("no rule declaration for %s", sym.Text),
		nil,
	)
}
