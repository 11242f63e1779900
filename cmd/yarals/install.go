package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"yarals/internal/paths"
	"yarals/internal/supervisor"
)

var installForce bool

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the companion's runtime environment",
	Long: `Create the companion's runtime environment under the project root.

A prebuilt bundle (install.bundle, .tar.zst or .tar.gz) is unpacked when it
exists; otherwise a virtual environment is created with install.baseRuntime
and install.requirements is installed into it. An existing environment is
left untouched unless --force is given.

Examples:
  yarals install
  yarals install --force --root /opt/yara-ls`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "Remove and rebuild an existing environment")
	rootCmd.AddCommand(installCmd)
}

// InstallResponseCLI reports the environment after installation.
type InstallResponseCLI struct {
	Target     string               `json:"target" yaml:"target"`
	Installed  bool                 `json:"installed" yaml:"installed"`
	Manifest   *supervisor.Manifest `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	DurationMs int64                `json:"durationMs" yaml:"durationMs"`
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	target := paths.Under(env.root, env.cfg.Install.Dir)
	if installForce {
		env.logger.Info("Removing existing environment", "target", target)
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}

	installer := supervisor.NewInstaller(env.cfg.Install, nil, env.logger)
	if err := installer.Install(ctx, env.root, target); err != nil {
		return err
	}

	resp := &InstallResponseCLI{
		Target:     target,
		Installed:  supervisor.IsInstalled(target),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if m, err := supervisor.ReadManifest(target); err == nil {
		resp.Manifest = m
	}
	return printResponse(cmd, resp)
}
