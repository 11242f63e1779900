// Package version identifies the running yarals build in CLI output, the
// language server's initialize reply, install manifests and SCIP metadata.
package version

import (
	"runtime"
	"strings"
)

// Name is the tool name.
const Name = "yarals"

// Set with -ldflags "-X yarals/internal/version.Version=... -X yarals/internal/version.Commit=...".
var (
	Version   = "0.4.0"
	Commit    = ""
	BuildDate = ""
)

// shortCommitLen matches git's abbreviated hashes.
const shortCommitLen = 7

// Build describes one yarals binary.
type Build struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	BuildDate string `json:"buildDate,omitempty" yaml:"buildDate,omitempty"`
	Platform  string `json:"platform" yaml:"platform"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
}

// Current returns the build stamped into this binary.
func Current() Build {
	return Build{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
}

// Label is the version, suffixed with the abbreviated commit when known:
// "0.4.0" or "0.4.0 (1a2b3c4)".
func (b Build) Label() string {
	if b.Commit == "" {
		return b.Version
	}
	commit := b.Commit
	if len(commit) > shortCommitLen {
		commit = commit[:shortCommitLen]
	}
	return b.Version + " (" + commit + ")"
}

// Tool is the name and label recorded in install manifests.
func (b Build) Tool() string {
	return b.Name + " " + b.Label()
}

// String renders the build for humans, omitting unknown fields.
func (b Build) String() string {
	var sb strings.Builder
	sb.WriteString(b.Name + " version " + b.Version + "\n")
	if b.Commit != "" {
		sb.WriteString("Commit: " + b.Commit + "\n")
	}
	if b.BuildDate != "" {
		sb.WriteString("Built: " + b.BuildDate + "\n")
	}
	sb.WriteString("Platform: " + b.Platform + " (" + b.GoVersion + ")")
	return sb.String()
}
