package testutil

import (
	"path/filepath"
	"strings"
	"testing"

	"yarals/internal/document"
)

func TestNormalizer_Apply(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules")
	n := NewNormalizer().Dir(dir, "<rules>")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"path", `{"path": "` + jsonEscaped(filepath.Join(dir, "a.yar")) + `"}`, `{"path": "<rules>/a.yar"}`},
		{"uri", `{"uri": "` + document.URIFromPath(filepath.Join(dir, "a.yar")) + `"}`, `{"uri": "<rules>/a.yar"}`},
		{"untouched", `{"path": "/elsewhere/a.yar"}`, `{"path": "/elsewhere/a.yar"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(n.Apply([]byte(tt.in))); got != tt.want {
				t.Errorf("Apply() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnifiedDiff(t *testing.T) {
	diff := unifiedDiff("a\nb\nc\n", "a\nx\nc\n", "golden.json")
	for _, want := range []string{"--- golden.json (expected)", "-b", "+x", " a"} {
		if !containsLine(strings.Split(diff, "\n"), want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
