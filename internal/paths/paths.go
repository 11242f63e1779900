// Package paths locates the companion environment, its interpreter and the
// per-project yarals directories.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// ServerSubdir holds the companion entrypoint and its environment.
	ServerSubdir = "server"
	// ConfigSubdir is the per-project yarals directory.
	ConfigSubdir = ".yarals"
	// LogsSubdir lives under ConfigSubdir.
	LogsSubdir = "logs"
	// VenvMarker is written by the venv module into every environment root.
	VenvMarker = "pyvenv.cfg"
)

// ServerDir returns <root>/server, the companion's working directory.
func ServerDir(root string) string {
	return filepath.Join(root, ServerSubdir)
}

// ScriptPath returns the companion entrypoint under the server directory.
func ScriptPath(root, entrypoint string) string {
	return filepath.Join(ServerDir(root), entrypoint)
}

// Under resolves p against root unless it is already absolute.
func Under(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// InterpreterPath returns the environment interpreter for goos. Windows
// environments keep executables under Scripts/.
func InterpreterPath(envDir, goos string) string {
	if goos == "windows" {
		return filepath.Join(envDir, "Scripts", "python.exe")
	}
	return filepath.Join(envDir, "bin", "python")
}

// HostInterpreterPath is InterpreterPath for the running platform.
func HostInterpreterPath(envDir string) string {
	return InterpreterPath(envDir, runtime.GOOS)
}

// ConfigDir returns <root>/.yarals
func ConfigDir(root string) string {
	return filepath.Join(root, ConfigSubdir)
}

// LogsDir returns <root>/.yarals/logs
func LogsDir(root string) string {
	return filepath.Join(ConfigDir(root), LogsSubdir)
}

// EnsureLogsDir creates the logs directory if it doesn't exist.
func EnsureLogsDir(root string) (string, error) {
	dir := LogsDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// CanonicalizePath converts an absolute path to a root-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to root
// - Converts backslashes to forward slashes
func CanonicalizePath(absolutePath string, root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		// If the file doesn't exist yet, use the path as-is
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			rootResolved = root
		} else {
			return "", err
		}
	}

	relativePath, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(relativePath), nil
}

// IsWithin reports whether path lies inside root (or is root itself). The
// check is lexical; symlinks are not followed.
func IsWithin(path string, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
