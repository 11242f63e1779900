package main

import (
	"github.com/spf13/cobra"

	"yarals/internal/errors"
	"yarals/internal/paths"
	"yarals/internal/supervisor"
)

var (
	startHost        string
	startPort        int
	startSkipInstall bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Install if needed, start the companion and wait for its port",
	Long: `Start the companion language server and supervise it until interrupted.

The environment is installed first unless it already exists. The command
returns an error when the port does not accept connections within
server.startTimeoutMs; the companion is stopped when yarals exits.

Examples:
  yarals start
  yarals start --port 9000 -v`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHost, "host", "", "Bind host (default: server.host)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "Bind port (default: server.port)")
	startCmd.Flags().BoolVar(&startSkipInstall, "skip-install", false, "Do not install a missing environment")
	rootCmd.AddCommand(startCmd)
}

// StartResponseCLI reports a bound companion.
type StartResponseCLI struct {
	ID    string           `json:"id" yaml:"id"`
	PID   int              `json:"pid" yaml:"pid"`
	Addr  string           `json:"addr" yaml:"addr"`
	State supervisor.State `json:"state" yaml:"state"`
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	host, port := env.cfg.Server.Host, env.cfg.Server.Port
	if startHost != "" {
		host = startHost
	}
	if startPort != 0 {
		port = startPort
	}

	if !startSkipInstall && env.cfg.Server.Command == "" {
		installer := supervisor.NewInstaller(env.cfg.Install, nil, env.logger)
		if !installer.EnsureInstalled(ctx, env.root, paths.Under(env.root, env.cfg.Install.Dir)) {
			return errors.NewError(errors.InstallationFailed, "companion environment is not installed", nil)
		}
	}

	sup := supervisor.New(env.cfg, env.logger)
	if name := env.cfg.Server.OutputLog; name != "" {
		out, err := env.factory.OpenLog(name)
		if err != nil {
			env.logger.Warn("Companion output log disabled", "file", name, "error", err.Error())
		} else {
			sup.WithOutput(out)
		}
	}
	defer func() {
		if err := sup.Shutdown(); err != nil {
			env.logger.Warn("Shutdown failed", "error", err.Error())
		}
	}()

	proc, err := sup.StartProcess(ctx, env.root, host, port)
	if err != nil {
		return err
	}

	if err := printResponse(cmd, &StartResponseCLI{
		ID:    proc.ID,
		PID:   proc.PID(),
		Addr:  proc.Addr(),
		State: proc.State(),
	}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		env.logger.Info("Stopping companion", "addr", proc.Addr())
		return nil
	case <-proc.Done():
		return errors.NewError(errors.ServerUnreachable, "companion exited", proc.ExitErr()).
			WithDetails(map[string]interface{}{"pid": proc.PID(), "addr": proc.Addr()})
	}
}
