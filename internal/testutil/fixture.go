// Package testutil provides testing utilities for rule-file fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"unicode/utf8"

	"yarals/internal/document"
)

// LoadRules loads testdata/rules/<name>, failing the test on error.
func LoadRules(t *testing.T, name string) *document.Document {
	t.Helper()

	path := filepath.Join(rulesRoot(t), name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Fixture not found: %s", path)
	}

	doc, err := document.Load(path)
	if err != nil {
		t.Fatalf("Failed to load fixture %s: %v", name, err)
	}
	return doc
}

// Find returns the position of the first occurrence of needle on line,
// shifted right by offset characters. It fails the test when needle is
// missing so fixtures and expectations cannot drift apart silently.
func Find(t *testing.T, doc *document.Document, line int, needle string, offset int) document.Position {
	t.Helper()

	text := doc.LineAt(line)
	idx := strings.Index(text, needle)
	if idx < 0 {
		t.Fatalf("%q not found on line %d: %q", needle, line, text)
	}
	return document.Position{Line: line, Character: utf8.RuneCountInString(text[:idx]) + offset}
}

// RulesDir returns the absolute path to testdata/rules/.
func RulesDir(t *testing.T) string {
	t.Helper()
	return rulesRoot(t)
}

func rulesRoot(t *testing.T) string {
	t.Helper()

	root := filepath.Join(testdataRoot(t), "rules")
	if _, err := os.Stat(root); os.IsNotExist(err) {
		t.Fatalf("Fixtures root not found: %s", root)
	}
	return root
}

// testdataRoot returns the absolute path to the project's testdata/.
func testdataRoot(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}

	// Navigate from internal/testutil to project root
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	return filepath.Join(projectRoot, "testdata")
}
