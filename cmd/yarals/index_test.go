package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsRuleFile(t *testing.T) {
	tests := map[string]bool{
		"apt.yar":    true,
		"apt.yara":   true,
		"APT.YAR":    true,
		"notes.txt":  false,
		"yara":       false,
		"rules.yarc": false,
	}
	for name, want := range tests {
		if got := isRuleFile(name); got != want {
			t.Errorf("isRuleFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCollectRuleFiles(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"rules/a.yar",
		"rules/nested/b.yara",
		"rules/readme.md",
		".git/hooks/c.yar",
		"server/env/lib/d.yar",
		"explicit.rules",
	}
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("rule X { condition: true }"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := collectRuleFiles(
		[]string{root, filepath.Join(root, "explicit.rules"), filepath.Join(root, "rules", "a.yar")},
		[]string{filepath.Join(root, "server", "env")},
	)
	if err != nil {
		t.Fatalf("collectRuleFiles() error = %v", err)
	}

	want := []string{
		filepath.Join(root, "explicit.rules"),
		filepath.Join(root, "rules", "a.yar"),
		filepath.Join(root, "rules", "nested", "b.yara"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCollectRuleFiles_MissingInput(t *testing.T) {
	if _, err := collectRuleFiles([]string{filepath.Join(t.TempDir(), "nope")}, nil); err == nil {
		t.Error("expected error for missing input")
	}
}
