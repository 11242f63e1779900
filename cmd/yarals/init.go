package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"yarals/internal/config"
	"yarals/internal/errors"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default yarals configuration",
	Long: `Create .yarals/config.json under the project root with the default
settings. An existing configuration is kept unless --force is given, so the
command is safe to rerun.

Examples:
  yarals init
  yarals init --force --root /opt/yara-ls`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

// InitResponseCLI reports where the configuration lives.
type InitResponseCLI struct {
	Path    string `json:"path" yaml:"path"`
	Created bool   `json:"created" yaml:"created"`
}

func runInit(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := initConfig(env.root, initForce)
	if err != nil {
		return err
	}
	if resp.Created {
		env.logger.Info("Wrote default configuration", "path", resp.Path)
	}
	return printResponse(cmd, resp)
}

// initConfig writes the default config under root unless one exists and
// force is off.
func initConfig(root string, force bool) (*InitResponseCLI, error) {
	path := filepath.Join(root, ".yarals", "config.json")
	if _, err := os.Stat(path); err == nil && !force {
		return &InitResponseCLI{Path: path}, nil
	}

	if err := config.DefaultConfig().Save(root); err != nil {
		return nil, errors.NewError(errors.InternalError, fmt.Sprintf("failed to write %s", path), err)
	}
	return &InitResponseCLI{Path: path, Created: true}, nil
}
