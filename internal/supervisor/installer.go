// Package supervisor installs the companion runtime environment and runs the
// companion process, blocking callers until it accepts TCP connections.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/singleflight"

	"yarals/internal/config"
	"yarals/internal/errors"
	"yarals/internal/paths"
)

// IsInstalled reports whether targetDir holds a usable environment: the venv
// marker and the platform interpreter must both exist. It never caches.
func IsInstalled(targetDir string) bool {
	return isInstalledFor(targetDir, runtime.GOOS)
}

func isInstalledFor(targetDir, goos string) bool {
	if !isFile(filepath.Join(targetDir, paths.VenvMarker)) {
		return false
	}
	return isFile(paths.InterpreterPath(targetDir, goos))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Installer provisions companion environments. Concurrent installs into one
// target directory share a single run.
type Installer struct {
	cfg    config.InstallConfig
	runner Runner
	logger *slog.Logger
	goos   string
	group  singleflight.Group
}

// NewInstaller creates an installer. A nil runner selects ExecRunner.
func NewInstaller(cfg config.InstallConfig, runner Runner, logger *slog.Logger) *Installer {
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Installer{
		cfg:    cfg,
		runner: runner,
		logger: logger.With("component", "installer"),
		goos:   runtime.GOOS,
	}
}

// EnsureInstalled makes sure targetDir holds an environment and reports
// whether one is present afterwards. It is a no-op for an installed
// directory. Failures are logged, never returned.
func (i *Installer) EnsureInstalled(ctx context.Context, rootDir, targetDir string) bool {
	if err := i.Install(ctx, rootDir, targetDir); err != nil {
		i.logger.Error("Installation failed",
			"target", targetDir,
			"error", err.Error(),
		)
		return false
	}
	return true
}

// Install is EnsureInstalled with the failure as an InstallationFailed error.
func (i *Installer) Install(ctx context.Context, rootDir, targetDir string) error {
	key := filepath.Clean(targetDir)
	_, err, shared := i.group.Do(key, func() (interface{}, error) {
		return nil, i.install(ctx, rootDir, key)
	})
	if shared {
		i.logger.Debug("Joined in-flight installation", "target", key)
	}
	return err
}

func (i *Installer) install(ctx context.Context, rootDir, targetDir string) error {
	if isInstalledFor(targetDir, i.goos) {
		i.logger.Debug("Environment already installed", "target", targetDir)
		return nil
	}

	if _, err := os.Stat(targetDir); err == nil {
		i.logger.Warn("Removing incomplete environment", "target", targetDir)
		if err := os.RemoveAll(targetDir); err != nil {
			return errors.NewError(errors.InstallationFailed, "cannot remove incomplete environment", err)
		}
	}

	var manifest Manifest
	if bundle := i.bundlePath(rootDir); bundle != "" {
		i.logger.Info("Extracting environment bundle", "bundle", bundle, "target", targetDir)
		if err := ExtractBundle(bundle, targetDir); err != nil {
			return errors.NewError(errors.InstallationFailed, "bundle extraction failed", err)
		}
		manifest = newManifest(MethodBundle, bundle, "")
	} else {
		base, err := i.createVenv(ctx, rootDir, targetDir)
		if err != nil {
			return err
		}
		manifest = newManifest(MethodVenv, base, base)
	}

	if !isInstalledFor(targetDir, i.goos) {
		return errors.NewError(
			errors.InstallationFailed,
			fmt.Sprintf("%s did not produce %s and %s", manifest.Method, paths.VenvMarker, paths.InterpreterPath(targetDir, i.goos)),
			nil,
		)
	}

	if err := WriteManifest(targetDir, manifest); err != nil {
		i.logger.Warn("Could not write install manifest", "target", targetDir, "error", err.Error())
	}

	i.logger.Info("Environment installed",
		"target", targetDir,
		"method", manifest.Method,
		"id", manifest.ID,
	)
	return nil
}

// bundlePath returns the configured bundle when it exists on disk.
func (i *Installer) bundlePath(rootDir string) string {
	if i.cfg.Bundle == "" {
		return ""
	}
	path := paths.Under(rootDir, i.cfg.Bundle)
	if !isFile(path) {
		i.logger.Debug("Configured bundle not found, falling back to venv", "bundle", path)
		return ""
	}
	return path
}

// createVenv builds a virtual environment with the base runtime and installs
// the companion requirements into it. It returns the resolved base runtime.
func (i *Installer) createVenv(ctx context.Context, rootDir, targetDir string) (string, error) {
	base, err := i.runner.LookPath(i.cfg.BaseRuntime)
	if err != nil {
		return "", errors.NewError(
			errors.InstallationFailed,
			fmt.Sprintf("base runtime %q not found", i.cfg.BaseRuntime),
			err,
		)
	}

	i.logger.Info("Creating virtual environment", "runtime", base, "target", targetDir)
	if _, err := i.runner.Run(ctx, rootDir, base, "-m", "venv", targetDir); err != nil {
		return "", errors.NewError(errors.InstallationFailed, "virtual environment creation failed", err)
	}

	if i.cfg.Requirements == "" {
		return base, nil
	}
	reqs := paths.Under(rootDir, i.cfg.Requirements)
	if !isFile(reqs) {
		i.logger.Debug("No requirements file, skipping dependency install", "requirements", reqs)
		return base, nil
	}

	python := paths.InterpreterPath(targetDir, i.goos)
	if _, err := i.runner.Run(ctx, rootDir, python, "-m", "pip", "install", "-r", reqs); err != nil {
		return "", errors.NewError(errors.InstallationFailed, "dependency installation failed", err)
	}
	return base, nil
}
