package slogutil

import (
	"log/slog"
	"strings"
)

// LevelSilent is above every level yarals logs at; "off" and --quiet map to it.
const LevelSilent = slog.Level(100)

// levelNames are the spellings accepted in logging.level.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
	"off":     LevelSilent,
	"silent":  LevelSilent,
}

// ParseLevel looks up a configured level name, ignoring case and spaces.
func ParseLevel(s string) (slog.Level, bool) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	return level, ok
}

// LevelFromString is ParseLevel with info for unknown or empty names.
func LevelFromString(s string) slog.Level {
	if level, ok := ParseLevel(s); ok {
		return level
	}
	return slog.LevelInfo
}

// LevelName is the lowercase label the line handler prints.
func LevelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// LevelFromVerbosity maps the CLI flags: --quiet silences everything, no -v
// shows warnings, -v adds progress (info) and -vv companion output (debug).
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	switch {
	case quiet:
		return LevelSilent
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
