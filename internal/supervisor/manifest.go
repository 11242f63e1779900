package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"yarals/internal/version"
)

// ManifestFile is written into the environment root after a successful install.
const ManifestFile = "yarals-install.toml"

// Install methods recorded in the manifest.
const (
	MethodBundle = "bundle"
	MethodVenv   = "venv"
)

// Manifest records how an environment was produced. It is informational:
// IsInstalled never reads it.
type Manifest struct {
	ID          string    `toml:"id" json:"id" yaml:"id"`
	Method      string    `toml:"method" json:"method" yaml:"method"`
	Source      string    `toml:"source" json:"source" yaml:"source"`
	BaseRuntime string    `toml:"base_runtime,omitempty" json:"baseRuntime,omitempty" yaml:"baseRuntime,omitempty"`
	Tool        string    `toml:"tool" json:"tool" yaml:"tool"`
	InstalledAt time.Time `toml:"installed_at" json:"installedAt" yaml:"installedAt"`
}

func newManifest(method, source, baseRuntime string) Manifest {
	return Manifest{
		ID:          uuid.New().String(),
		Method:      method,
		Source:      source,
		BaseRuntime: baseRuntime,
		Tool:        version.Current().Tool(),
		InstalledAt: time.Now().UTC().Truncate(time.Second),
	}
}

// WriteManifest writes m to <targetDir>/yarals-install.toml.
func WriteManifest(targetDir string, m Manifest) error {
	f, err := os.Create(filepath.Join(targetDir, ManifestFile))
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest of an installed environment.
func ReadManifest(targetDir string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(targetDir, ManifestFile), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
