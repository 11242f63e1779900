package slogutil

import (
	"io"
	"log/slog"

	"yarals/internal/config"
	"yarals/internal/paths"
)

// LoggerFactory builds the process logger from the logging config.
// Precedence for the console level: CLI flags > config level > info.
// The optional log file always follows the config level.
type LoggerFactory struct {
	root     string
	config   config.LoggingConfig
	console  io.Writer
	cliLevel *slog.Level
	closers  []io.Closer
}

// NewLoggerFactory creates a factory writing console output to console
// (usually stderr). Relative log files are placed under <root>/.yarals/logs.
func NewLoggerFactory(root string, cfg config.LoggingConfig, console io.Writer) *LoggerFactory {
	return &LoggerFactory{
		root:    root,
		config:  cfg,
		console: console,
	}
}

// WithCLILevel pins the console level, typically from -v or --quiet.
func (f *LoggerFactory) WithCLILevel(level slog.Level) *LoggerFactory {
	f.cliLevel = &level
	return f
}

// Logger returns the console logger, teed into the configured log file.
// A log file that cannot be opened is reported on the console logger and
// skipped.
func (f *LoggerFactory) Logger() *slog.Logger {
	console := f.handler(f.console, f.consoleLevel())
	if f.config.File == "" {
		return slog.New(console)
	}

	path := paths.Under(paths.LogsDir(f.root), f.config.File)
	w, err := f.openFile(path)
	if err != nil {
		logger := slog.New(console)
		logger.Warn("Log file disabled", "path", path, "error", err)
		return logger
	}
	f.closers = append(f.closers, w)

	file := f.handler(w, LevelFromString(f.config.Level))
	return slog.New(NewTeeHandler(console, file))
}

func (f *LoggerFactory) handler(w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if f.config.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return NewHandler(w, opts)
}

func (f *LoggerFactory) consoleLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.config.Level != "" {
		return LevelFromString(f.config.Level)
	}
	return slog.LevelInfo
}

// openFile opens the log file with size rotation when maxSize is set.
func (f *LoggerFactory) openFile(path string) (io.WriteCloser, error) {
	maxSize, err := f.config.MaxSizeBytes()
	if err != nil {
		return nil, err
	}
	return OpenRotatingFile(path, maxSize, f.config.MaxBackups)
}

// OpenLog opens another rotating file under .yarals/logs with the same size
// and backup settings, such as the companion output log. Close releases it.
func (f *LoggerFactory) OpenLog(name string) (io.Writer, error) {
	w, err := f.openFile(paths.Under(paths.LogsDir(f.root), name))
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, w)
	return w, nil
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
