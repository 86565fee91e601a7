// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DefaultLevel is the level used when no --loglevel flag is given.
const DefaultLevel = "WARNING"

var level = func() *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(slog.LevelWarn)
	return v
}()

// Setup parses name, sets the process log level and installs a text handler
// on stderr as the default logger. Diagnostics go to stderr so they never
// interleave with command output on stdout.
func Setup(name string) error {
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.Set(parsed)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// ParseLevel maps a level name to a slog level. Names are matched
// case-insensitively. CRITICAL has no slog equivalent and maps to error.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// For returns a logger scoped to one component, identified by a family
// ("repo", "engine", "index") and an instance name within it. It derives
// from the default logger, so call it after Setup.
func For(family, name string) *slog.Logger {
	return slog.Default().With("family", family, "name", name)
}
