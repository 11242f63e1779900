package main

import (
	"github.com/spf13/cobra"

	"yarals/internal/paths"
	"yarals/internal/supervisor"
	"yarals/internal/version"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show environment and companion status",
	Long: `Report whether the companion's environment is installed and whether
anything accepts connections on the configured address.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// StatusResponseCLI describes the project's companion setup.
type StatusResponseCLI struct {
	Version     string               `json:"version" yaml:"version"`
	Root        string               `json:"root" yaml:"root"`
	InstallDir  string               `json:"installDir" yaml:"installDir"`
	Installed   bool                 `json:"installed" yaml:"installed"`
	Interpreter string               `json:"interpreter" yaml:"interpreter"`
	Manifest    *supervisor.Manifest `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Addr        string               `json:"addr" yaml:"addr"`
	Listening   bool                 `json:"listening" yaml:"listening"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	return printResponse(cmd, collectStatus(env))
}

func collectStatus(env *cliEnv) *StatusResponseCLI {
	target := paths.Under(env.root, env.cfg.Install.Dir)
	resp := &StatusResponseCLI{
		Version:     version.Current().Label(),
		Root:        env.root,
		InstallDir:  target,
		Installed:   supervisor.IsInstalled(target),
		Interpreter: paths.HostInterpreterPath(target),
		Addr:        env.cfg.Server.Addr(),
	}
	if m, err := supervisor.ReadManifest(target); err == nil {
		resp.Manifest = m
	}
	resp.Listening = supervisor.IsPortOpen(resp.Addr, supervisor.DefaultPollInterval)
	return resp
}
