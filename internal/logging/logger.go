// Package logging provides structured logging for specinvoke: the slog
// logger for run diagnostics and the launch log that records child lines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat maps a -log-format value to a Format. Anything but "text"
// selects JSON, which is what log collectors expect.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// NewLogger creates a structured logger on stderr. level accepts the slog
// names with an optional offset ("debug", "warn", "info+2"); verbose forces
// debug.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return NewLoggerWithWriter(os.Stderr, format, level, verbose)
}

// NewLoggerWithWriter creates a logger that writes to w.
func NewLoggerWithWriter(w io.Writer, format, level string, verbose bool) *slog.Logger {
	lvl := parseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}

	opts := handlerOptions(lvl)
	if ParseFormat(format) == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// handlerOptions adds call sites at debug level, where they point at the
// launch or reap step that logged.
func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	opts := &slog.HandlerOptions{Level: lvl}
	if lvl <= slog.LevelDebug {
		opts.AddSource = true
		opts.ReplaceAttr = shortSource
	}
	return opts
}

// shortSource renders the source attribute as file:line.
func shortSource(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok || src == nil {
		return a
	}
	return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// parseLevel falls back to info for anything slog does not recognise.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SetDefault installs logger for code that logs through the slog package
// functions.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
