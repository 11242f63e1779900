package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner runs the external commands an installation needs.
type Runner interface {
	// LookPath resolves an executable name the way a shell would.
	LookPath(name string) (string, error)
	// Run executes name in dir and returns its combined output.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec and logs their output at debug level.
type ExecRunner struct {
	Logger *slog.Logger
}

// LookPath implements Runner.
func (r ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run implements Runner. Installs are long-running; ctx bounds them.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if r.Logger != nil {
		r.Logger.Debug("Command finished",
			"command", name+" "+strings.Join(args, " "),
			"dir", dir,
			"output", strings.TrimSpace(out.String()),
		)
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out.Bytes(), nil
}
