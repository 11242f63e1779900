// Package document provides the read-only text buffer the resolver works on:
// an immutable snapshot of one rule file split into lines, plus the
// position/range/location types shared by every consumer.
package document

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Position in a text document (0-based line and character).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// String formats the position as 1-based line:column for humans.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Character+1)
}

// Range in a text document. Start is inclusive, End exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location links a URI to a position.
type Location struct {
	URI      string   `json:"uri"`
	Position Position `json:"position"`
}

// Document is an immutable snapshot of a rule file.
type Document struct {
	uri   string
	text  string
	lines []string
}

// New creates a document from text. Lines are split on "\n" only, so a
// trailing "\r" stays part of its line.
func New(uri, text string) *Document {
	return &Document{
		uri:   uri,
		text:  text,
		lines: strings.Split(text, "\n"),
	}
}

// Load reads a document from disk. The URI is the file:// form of the
// absolute path.
func Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return New(URIFromPath(abs), string(data)), nil
}

// URI returns the document URI.
func (d *Document) URI() string { return d.uri }

// Text returns the full document text.
func (d *Document) Text() string { return d.text }

// Lines returns the document lines. Callers must not modify the slice.
func (d *Document) Lines() []string { return d.lines }

// LineCount returns the number of lines.
func (d *Document) LineCount() int { return len(d.lines) }

// LineAt returns line n, or "" when n is out of range.
func (d *Document) LineAt(n int) string {
	if n < 0 || n >= len(d.lines) {
		return ""
	}
	return d.lines[n]
}

// TextInRange returns the text covered by r, clamped to the document.
func (d *Document) TextInRange(r Range) string {
	start := d.clamp(r.Start)
	end := d.clamp(r.End)
	if end.Line < start.Line || (end.Line == start.Line && end.Character <= start.Character) {
		return ""
	}

	if start.Line == end.Line {
		runes := []rune(d.lines[start.Line])
		return string(runes[start.Character:end.Character])
	}

	var b strings.Builder
	b.WriteString(string([]rune(d.lines[start.Line])[start.Character:]))
	for n := start.Line + 1; n < end.Line; n++ {
		b.WriteByte('\n')
		b.WriteString(d.lines[n])
	}
	b.WriteByte('\n')
	b.WriteString(string([]rune(d.lines[end.Line])[:end.Character]))
	return b.String()
}

// WordRangeAtPosition returns the range of the identifier touching p. The
// position may sit on the word or directly after its last character.
func (d *Document) WordRangeAtPosition(p Position) (Range, bool) {
	if p.Line < 0 || p.Line >= len(d.lines) || p.Character < 0 {
		return Range{}, false
	}
	runes := []rune(d.lines[p.Line])

	col := p.Character
	if col > len(runes) {
		return Range{}, false
	}
	switch {
	case col < len(runes) && IsWordChar(runes[col]):
	case col > 0 && IsWordChar(runes[col-1]):
		col--
	default:
		return Range{}, false
	}

	start, end := col, col
	for start > 0 && IsWordChar(runes[start-1]) {
		start--
	}
	for end < len(runes) && IsWordChar(runes[end]) {
		end++
	}

	return Range{
		Start: Position{Line: p.Line, Character: start},
		End:   Position{Line: p.Line, Character: end},
	}, true
}

func (d *Document) clamp(p Position) Position {
	if p.Line < 0 {
		return Position{}
	}
	if p.Line >= len(d.lines) {
		last := len(d.lines) - 1
		return Position{Line: last, Character: utf8.RuneCountInString(d.lines[last])}
	}
	n := utf8.RuneCountInString(d.lines[p.Line])
	if p.Character < 0 {
		p.Character = 0
	}
	if p.Character > n {
		p.Character = n
	}
	return p
}

// IsWordChar reports whether r belongs to an identifier.
func IsWordChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// CharOffset converts a byte offset within line into a character offset.
func CharOffset(line string, byteOffset int) int {
	if byteOffset > len(line) {
		byteOffset = len(line)
	}
	return utf8.RuneCountInString(line[:byteOffset])
}

// PathFromURI extracts a filesystem path from a file URI. Windows drive
// paths lose the leading slash ("file:///c:/x" becomes "c:/x"). Anything that
// is not a URI is returned unchanged.
func PathFromURI(uri string) string {
	if !strings.Contains(uri, "://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	p := u.Path
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p
}

// URIFromPath builds a file URI for an absolute path.
func URIFromPath(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
