package testutil

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"

	"yarals/internal/document"
)

// Normalizer rewrites machine-specific text in golden output: absolute
// directories (in path and file URI form) become placeholders.
type Normalizer struct {
	replacements [][2]string
}

// NewNormalizer creates an empty normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Dir replaces dir, its slash form and its file URI with placeholder.
// Callers usually pass something like "<rules>".
func (n *Normalizer) Dir(dir, placeholder string) *Normalizer {
	uri := strings.TrimSuffix(document.URIFromPath(dir), "/")
	n.replacements = append(n.replacements,
		[2]string{uri, placeholder},
		[2]string{jsonEscaped(dir), placeholder},
		[2]string{filepath.ToSlash(dir), placeholder},
	)
	return n
}

// Apply performs the replacements, longest first so a URI is replaced
// before the bare path it contains. Backslashes left in replaced paths are
// turned into slashes.
func (n *Normalizer) Apply(data []byte) []byte {
	reps := append([][2]string(nil), n.replacements...)
	sort.SliceStable(reps, func(i, j int) bool {
		return len(reps[i][0]) > len(reps[j][0])
	})

	out := data
	for _, r := range reps {
		if r[0] == "" {
			continue
		}
		out = bytes.ReplaceAll(out, []byte(r[0]), []byte(r[1]))
	}
	return fixSeparators(out, reps)
}

// fixSeparators turns escaped Windows separators that follow a placeholder
// into forward slashes, up to the end of the JSON string.
func fixSeparators(data []byte, reps [][2]string) []byte {
	for _, r := range reps {
		ph := []byte(r[1])
		var b bytes.Buffer
		rest := data
		for {
			i := bytes.Index(rest, ph)
			if i < 0 {
				b.Write(rest)
				break
			}
			b.Write(rest[:i+len(ph)])
			rest = rest[i+len(ph):]
			end := bytes.IndexByte(rest, '"')
			if end < 0 {
				end = len(rest)
			}
			b.Write(bytes.ReplaceAll(rest[:end], []byte(`\\`), []byte("/")))
			rest = rest[end:]
		}
		data = b.Bytes()
	}
	return data
}

// jsonEscaped returns s as it appears inside a JSON string.
func jsonEscaped(s string) string {
	return strings.ReplaceAll(s, `\`, `\\`)
}
