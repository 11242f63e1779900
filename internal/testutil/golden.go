package testutil

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden controls whether golden files should be updated.
// Use: go test ./... -run Golden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// GoldenPath returns testdata/golden/<name>.json.
func GoldenPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testdataRoot(t), "golden", name+".json")
}

// CompareGolden marshals got as indented JSON, applies the normalizer and
// compares the result with the golden file, failing with a diff on mismatch.
// With -update the golden file is rewritten instead.
func CompareGolden(t *testing.T, name string, got any, n *Normalizer) {
	t.Helper()

	data, err := json.MarshalIndent(got, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal %s: %v", name, err)
	}
	data = append(data, '\n')
	if n != nil {
		data = n.Apply(data)
	}

	goldenPath := GoldenPath(t, name)
	if *updateGolden {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			t.Fatalf("Failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
			t.Fatalf("Failed to write golden file: %v", err)
		}
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, string(data), t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}
	expected = bytes.ReplaceAll(expected, []byte("\r\n"), []byte("\n"))

	if !bytes.Equal(data, expected) {
		t.Fatalf("Golden mismatch for %s:\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			name, unifiedDiff(string(expected), string(data), goldenPath), t.Name())
	}
}

// unifiedDiff produces a line-by-line diff with a little leading context.
func unifiedDiff(expected, got, path string) string {
	var buf bytes.Buffer

	expectedLines := strings.Split(expected, "\n")
	gotLines := strings.Split(got, "\n")

	fmt.Fprintf(&buf, "--- %s (expected)\n", path)
	fmt.Fprintf(&buf, "+++ %s (got)\n", path)

	n := max(len(expectedLines), len(gotLines))
	lastShown := -1
	for i := 0; i < n; i++ {
		var exp, act string
		if i < len(expectedLines) {
			exp = expectedLines[i]
		}
		if i < len(gotLines) {
			act = gotLines[i]
		}
		if exp == act {
			continue
		}

		if i-1 > lastShown {
			fmt.Fprintf(&buf, "@@ line %d @@\n", i+1)
			for j := max(lastShown+1, i-3); j < i; j++ {
				buf.WriteString(" " + expectedLines[j] + "\n")
			}
		}
		if i < len(expectedLines) {
			buf.WriteString("-" + exp + "\n")
		}
		if i < len(gotLines) {
			buf.WriteString("+" + act + "\n")
		}
		lastShown = i
	}
	return buf.String()
}
