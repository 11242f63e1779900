package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"yarals/internal/version"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
	FormatYAML  OutputFormat = "yaml"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatYAML(resp interface{}) (string, error) {
	data, err := yaml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *LocationsResponseCLI:
		return formatLocationsHuman(v), nil
	case *StatusResponseCLI:
		return formatStatusHuman(v), nil
	case *InstallResponseCLI:
		return formatInstallHuman(v), nil
	case *StartResponseCLI:
		return fmt.Sprintf("Companion %s listening on %s (pid %d)", v.State, v.Addr, v.PID), nil
	case *IndexResponseCLI:
		return formatIndexHuman(v), nil
	case *InitResponseCLI:
		if v.Created {
			return fmt.Sprintf("%s wrote %s", statusMark(true), v.Path), nil
		}
		return fmt.Sprintf("%s already initialized at %s (use --force to overwrite)", statusMark(true), v.Path), nil
	case *version.Build:
		return v.String(), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatLocationsHuman(resp *LocationsResponseCLI) string {
	var b strings.Builder

	noun := "reference"
	if resp.Query == "definition" {
		noun = "definition"
	}
	if len(resp.Locations) != 1 {
		noun += "s"
	}
	b.WriteString(fmt.Sprintf("%d %s of %s %s\n", len(resp.Locations), noun, resp.Kind, resp.Symbol))

	for _, loc := range resp.Locations {
		b.WriteString(fmt.Sprintf("  %s  %s\n", loc.Display, strings.TrimSpace(loc.Text)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStatusHuman(resp *StatusResponseCLI) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("yarals Status - v%s\n", resp.Version))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	b.WriteString(fmt.Sprintf("Root:        %s\n", resp.Root))
	b.WriteString(fmt.Sprintf("Environment: %s\n", resp.InstallDir))
	if resp.Installed {
		b.WriteString(fmt.Sprintf("  %s installed (%s)\n", statusMark(true), resp.Interpreter))
	} else {
		b.WriteString(fmt.Sprintf("  %s not installed, run: yarals install\n", statusMark(false)))
	}
	if m := resp.Manifest; m != nil {
		b.WriteString(fmt.Sprintf("  method %s from %s at %s\n", m.Method, m.Source, m.InstalledAt.Format("2006-01-02 15:04:05")))
	}

	b.WriteString(fmt.Sprintf("\nCompanion:   %s\n", resp.Addr))
	if resp.Listening {
		b.WriteString(fmt.Sprintf("  %s accepting connections\n", statusMark(true)))
	} else {
		b.WriteString(fmt.Sprintf("  %s not listening, run: yarals start\n", statusMark(false)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatInstallHuman(resp *InstallResponseCLI) string {
	if !resp.Installed {
		return fmt.Sprintf("%s environment at %s is incomplete", statusMark(false), resp.Target)
	}
	out := fmt.Sprintf("%s environment ready at %s (%dms)", statusMark(true), resp.Target, resp.DurationMs)
	if m := resp.Manifest; m != nil {
		out += fmt.Sprintf("\n  method: %s\n  source: %s", m.Method, m.Source)
	}
	return out
}

func formatIndexHuman(resp *IndexResponseCLI) string {
	var b strings.Builder
	s := resp.Summary
	b.WriteString(fmt.Sprintf("Wrote %s (%s)\n", resp.Output, formatBytesOf(resp.Output)))
	b.WriteString(fmt.Sprintf("  %d documents, %d symbols, %d definitions, %d references\n",
		s.Documents, s.Symbols, s.Definitions, s.References))
	for _, p := range s.Paths {
		b.WriteString("  - " + p + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusMark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

// formatBytesOf returns the size of the file at path, or "unknown size".
func formatBytesOf(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return formatBytes(info.Size())
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
