package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// The operational logger carries pool, adapter and pipeline events. It is
// process-wide; per-statement records go through Logger instead.
var (
	opLogger atomic.Pointer[slog.Logger]
	opLevel  = new(slog.LevelVar)
)

func init() {
	opLogger.Store(newOpLogger(os.Stderr, "text"))
}

func newOpLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: opLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Op returns the operational logger.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetOp replaces the operational logger.
func SetOp(l *slog.Logger) {
	if l != nil {
		opLogger.Store(l)
	}
}

// Level returns the current operational log level.
func Level() slog.Level {
	return opLevel.Level()
}

// ParseLevel accepts slog level names in any case ("debug", "INFO",
// "warn+2") and the alias "warning".
func ParseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// Setup points the operational logger at w in the given format, "text" or
// "json". An empty format means text and an empty level keeps the current
// one.
func Setup(w io.Writer, format, level string) error {
	switch format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	if level != "" {
		lvl, err := ParseLevel(level)
		if err != nil {
			return err
		}
		opLevel.Set(lvl)
	}
	opLogger.Store(newOpLogger(w, format))
	return nil
}

// OpWithTrace returns Op with trace_id and span_id attached, or Op itself
// when there is no trace.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := Op()
	if traceID == "" {
		return l
	}
	if spanID == "" {
		return l.With("trace_id", traceID)
	}
	return l.With("trace_id", traceID, "span_id", spanID)
}
