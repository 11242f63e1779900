package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"yarals/internal/document"
	"yarals/internal/paths"
	"yarals/internal/resolve"
	"yarals/internal/scipexport"
)

var indexOutput string

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Export rule files as a SCIP index",
	Long: `Index YARA rule files (.yar, .yara) into a SCIP index. Without arguments the
whole project root is scanned; the companion environment and .yarals/ are
skipped.

Examples:
  yarals index
  yarals index rules/ extra/apt.yar --output out/rules.scip`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "", "Output path (default: .yarals/index.scip)")
	rootCmd.AddCommand(indexCmd)
}

// IndexResponseCLI summarizes a written index.
type IndexResponseCLI struct {
	Output     string             `json:"output" yaml:"output"`
	Summary    scipexport.Summary `json:"summary" yaml:"summary"`
	DurationMs int64              `json:"durationMs" yaml:"durationMs"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	inputs := args
	if len(inputs) == 0 {
		inputs = []string{env.root}
	}
	files, err := collectRuleFiles(inputs, []string{
		paths.Under(env.root, env.cfg.Install.Dir),
		paths.ConfigDir(env.root),
	})
	if err != nil {
		return err
	}

	var docs []*document.Document
	for _, f := range files {
		doc, err := document.Load(f)
		if err != nil {
			env.logger.Warn("Skipping unreadable file", "path", f, "error", err.Error())
			continue
		}
		docs = append(docs, doc)
	}

	index := scipexport.Build(resolve.New(env.cfg.Resolve.Sigils), docs, env.root)

	output := indexOutput
	if output == "" {
		output = filepath.Join(paths.ConfigDir(env.root), "index.scip")
	}
	if err := scipexport.Write(output, index); err != nil {
		return err
	}

	env.logger.Info("Index written", "output", output, "documents", len(docs))
	return printResponse(cmd, &IndexResponseCLI{
		Output:     output,
		Summary:    scipexport.Summarize(index),
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// isRuleFile reports whether name has a YARA rule extension.
func isRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yar", ".yara":
		return true
	}
	return false
}

// collectRuleFiles expands inputs into sorted absolute rule file paths.
// Explicit files are kept whatever their extension; directories are walked
// for rule files, skipping hidden directories and anything under skip.
func collectRuleFiles(inputs []string, skip []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != abs && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				for _, s := range skip {
					if paths.IsWithin(p, s) {
						return filepath.SkipDir
					}
				}
				return nil
			}
			if isRuleFile(d.Name()) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}
