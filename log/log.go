// Package log is the core's logging façade. It wraps log/slog with a
// terminal handler that colorizes level names when stdout is a real
// terminal, matching the call-site shape used throughout the teacher
// codebase (log.Debug, log.Warn, log.Crit).
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var root = New(os.Stderr)

// Logger is a thin wrapper over slog.Logger adding a Crit level that
// terminates the process, the way the teacher's own log.Crit does at
// call sites such as triedb/pathdb/disklayer.go's revert().
type Logger struct {
	l      *slog.Logger
	color  bool
	writer *os.File
}

// New builds a Logger writing to w. Colorization is enabled only when w
// is a real terminal (isatty) and not explicitly disabled via
// TUX3_LOG_NOCOLOR.
func New(w *os.File) *Logger {
	useColor := isatty.IsTerminal(w.Fd()) && os.Getenv("TUX3_LOG_NOCOLOR") == ""
	out := colorable.NewColorable(w)
	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{l: slog.New(h), color: useColor, writer: w}
}

var tagColor = map[string]*color.Color{
	"TRACE": color.New(color.FgHiBlack),
	"DEBUG": color.New(color.FgBlue),
	"INFO":  color.New(color.FgGreen),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed),
	"CRIT":  color.New(color.FgRed, color.Bold),
}

func (lg *Logger) logf(level slog.Level, tag string, msg string, ctx ...any) {
	rendered := tag
	if lg.color {
		rendered = tagColor[tag].Sprint(tag)
	}
	lg.l.Log(context.Background(), level, fmt.Sprintf("[%s] %s", rendered, msg), ctx...)
}

func (lg *Logger) Trace(msg string, ctx ...any) { lg.logf(slog.LevelDebug-4, "TRACE", msg, ctx...) }
func (lg *Logger) Debug(msg string, ctx ...any) { lg.logf(slog.LevelDebug, "DEBUG", msg, ctx...) }
func (lg *Logger) Info(msg string, ctx ...any)  { lg.logf(slog.LevelInfo, "INFO", msg, ctx...) }
func (lg *Logger) Warn(msg string, ctx ...any)  { lg.logf(slog.LevelWarn, "WARN", msg, ctx...) }
func (lg *Logger) Error(msg string, ctx ...any) { lg.logf(slog.LevelError, "ERROR", msg, ctx...) }

// Crit logs at error level then exits the process, mirroring the
// teacher's log.Crit used for unrecoverable replay/flush failures.
func (lg *Logger) Crit(msg string, ctx ...any) {
	lg.logf(slog.LevelError, "CRIT", msg, ctx...)
	os.Exit(1)
}

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { root.Crit(msg, ctx...) }
