// Package scipexport writes rule files as a SCIP index so code-intelligence
// tooling can browse rules and their pattern strings without yarals.
package scipexport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"yarals/internal/document"
	"yarals/internal/errors"
	"yarals/internal/paths"
	"yarals/internal/resolve"
	"yarals/internal/version"
)

// Scheme prefixes every symbol emitted by Build.
const Scheme = "scip-yara"

// Language is the document language recorded in the index.
const Language = "yara"

// RuleSymbol returns the symbol for a rule, e.g. "scip-yara . . . Foo.".
func RuleSymbol(rule string) string {
	return Scheme + " . . . " + rule + "."
}

// StringSymbol returns the symbol for a named string scoped to its rule.
func StringSymbol(rule, name string) string {
	return Scheme + " . . . " + rule + "/" + name + "."
}

// Build indexes docs. Relative paths are computed against projectRoot; a
// document outside it keeps its slash-separated path. A nil resolver uses
// the default sigils.
func Build(r *resolve.Resolver, docs []*document.Document, projectRoot string) *scippb.Index {
	if r == nil {
		r = resolve.New("")
	}

	index := &scippb.Index{
		Metadata: &scippb.Metadata{
			Version: scippb.ProtocolVersion_UnspecifiedProtocolVersion,
			ToolInfo: &scippb.ToolInfo{
				Name:    version.Name,
				Version: version.Current().Label(),
			},
			ProjectRoot:          document.URIFromPath(projectRoot),
			TextDocumentEncoding: scippb.TextEncoding_UTF8,
		},
	}

	for _, doc := range docs {
		index.Documents = append(index.Documents, buildDocument(r, doc, projectRoot))
	}
	return index
}

func buildDocument(r *resolve.Resolver, doc *document.Document, projectRoot string) *scippb.Document {
	path := document.PathFromURI(doc.URI())
	rel, err := paths.CanonicalizePath(path, projectRoot)
	if err != nil || strings.HasPrefix(rel, "../") {
		rel = filepath.ToSlash(path)
	}

	out := &scippb.Document{
		Language:         Language,
		RelativePath:     rel,
		PositionEncoding: scippb.PositionEncoding_UTF32CodeUnitOffsetFromLineStart,
	}

	lines := doc.Lines()
	for _, rule := range resolve.Outline(lines) {
		ruleSym := RuleSymbol(rule.Name)
		out.Symbols = append(out.Symbols, &scippb.SymbolInformation{
			Symbol:        ruleSym,
			Kind:          scippb.SymbolInformation_Class,
			DisplayName:   rule.Name,
			Documentation: []string{strings.TrimSpace(lines[rule.Position.Line])},
		})
		out.Occurrences = append(out.Occurrences, occurrences(r, doc, rule.Position, rule.Name, ruleSym, nil)...)

		for _, str := range rule.Strings {
			sym := StringSymbol(rule.Name, str.Name)
			out.Symbols = append(out.Symbols, &scippb.SymbolInformation{
				Symbol:          sym,
				Kind:            scippb.SymbolInformation_Variable,
				DisplayName:     "$" + str.Name,
				EnclosingSymbol: ruleSym,
			})
			// Position sits on the sigil; references point past it.
			def := document.Position{Line: str.Position.Line, Character: str.Position.Character + 1}
			span := rule.Span
			out.Occurrences = append(out.Occurrences, occurrences(r, doc, def, str.Name, sym, &span)...)
		}
	}
	return out
}

// occurrences resolves references to the symbol defined at def. Strings are
// scoped to their rule body; rule names are document-wide.
func occurrences(r *resolve.Resolver, doc *document.Document, def document.Position, name, symbol string, scope *resolve.RuleRange) []*scippb.Occurrence {
	width := int32(utf8.RuneCountInString(name))
	occs := []*scippb.Occurrence{{
		Range:       []int32{int32(def.Line), int32(def.Character), int32(def.Character) + width},
		Symbol:      symbol,
		SymbolRoles: int32(scippb.SymbolRole_Definition),
	}}

	refs, err := r.ResolveReferences(doc, def)
	if err != nil {
		return occs
	}
	for _, ref := range refs {
		if ref.Position == def {
			continue
		}
		if scope != nil && !scope.Contains(ref.Position.Line) {
			continue
		}
		occs = append(occs, &scippb.Occurrence{
			Range:  []int32{int32(ref.Position.Line), int32(ref.Position.Character), int32(ref.Position.Character) + width},
			Symbol: symbol,
		})
	}
	return occs
}

// Write persists the index in protobuf form, creating parent directories.
func Write(path string, index *scippb.Index) error {
	data, err := proto.Marshal(index)
	if err != nil {
		return errors.NewError(errors.InternalError, "failed to encode SCIP index", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewError(errors.InternalError, fmt.Sprintf("failed to create %s", filepath.Dir(path)), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.NewError(errors.InternalError, fmt.Sprintf("failed to write SCIP index to %s", path), err)
	}
	return nil
}
