// Package log is the kernel's logging facade: package-level leveled
// functions backed by a root github.com/luxfi/log logger, plus
// ConsoleWriter, which wraps a file for colorized output when it is a
// terminal and returns it unchanged otherwise (spec.md's ambient logging
// stack).
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	luxlog "github.com/luxfi/log"
)

// Logger is the structured, leveled logger type every kernel component
// accepts — a plain re-export of luxfi/log's Logger so callers never
// import luxlog directly.
type Logger = luxlog.Logger

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

// New and Root re-export luxfi/log's constructors: New(ctx ...any)
// returns a Logger bound to the given key/value context, Root returns
// the process-wide default.
var (
	New  = luxlog.New
	Root = luxlog.Root
)

// Package-level convenience functions log through Root(), the pattern
// every kernel component uses for one-off messages that don't need
// their own bound context (terminal_id, session_id, ...).
func Trace(msg string, ctx ...interface{}) { luxlog.Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { luxlog.Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { luxlog.Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { luxlog.Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { luxlog.Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { luxlog.Root().Crit(msg, ctx...) }

func Enabled(ctx context.Context, level slog.Level) bool {
	return luxlog.Root().Enabled(ctx, level)
}

// SetDefault sets the process-wide default logger.
func SetDefault(l Logger) {
	luxlog.SetDefault(l)
}

// LvlFromString parses a level name ("debug", "info", "warn", ...) — the
// form accepted by the --log-level flag (spec.md AMBIENT-STACK-CLI).
func LvlFromString(lvlString string) (slog.Level, error) {
	level, err := luxlog.ToLevel(lvlString)
	return slog.Level(level), err
}

// ConsoleWriter returns f wrapped for ANSI color output when f is a
// terminal (github.com/mattn/go-isatty), and f unchanged otherwise — so
// piping `poskernel serve` output to a file or log collector never
// embeds escape codes. No package in this module calls it.
func ConsoleWriter(f *os.File) io.Writer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return colorable.NewColorable(f)
	}
	return f
}
