package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"yarals/internal/config"
	"yarals/internal/slogutil"
)

// cliEnv bundles what every command needs: the project root, its config and
// a logger built from both.
type cliEnv struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	factory *slogutil.LoggerFactory
}

// newEnv resolves the root, loads the config and builds the logger. A config
// that fails to load or validate is reported and replaced by the defaults.
func newEnv(cmd *cobra.Command) (*cliEnv, error) {
	root, err := getRoot()
	if err != nil {
		return nil, err
	}

	cfg, loadErr := config.LoadConfig(root)
	if loadErr == nil {
		loadErr = cfg.Validate()
	}
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}

	factory := slogutil.NewLoggerFactory(root, cfg.Logging, cmd.ErrOrStderr())
	if cmd.Flags().Changed("verbose") || cmd.Flags().Changed("quiet") {
		factory.WithCLILevel(slogutil.LevelFromVerbosity(verboseFlag, quietFlag))
	}
	logger := factory.Logger()

	if loadErr != nil {
		logger.Warn("Failed to load config, using defaults", "error", loadErr.Error())
	}

	return &cliEnv{root: root, cfg: cfg, logger: logger, factory: factory}, nil
}

// Close releases log files.
func (e *cliEnv) Close() {
	if err := e.factory.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
	}
}

// getRoot returns the absolute project root.
func getRoot() (string, error) {
	if rootFlag != "" {
		return filepath.Abs(rootFlag)
	}
	return os.Getwd()
}

// newContext returns a context cancelled on SIGINT or SIGTERM.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printResponse formats resp with the global --format flag.
func printResponse(cmd *cobra.Command, resp interface{}) error {
	output, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}
