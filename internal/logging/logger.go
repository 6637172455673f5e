package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// StatementLog represents a single executed statement
type StatementLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Op         string    `json:"op"`
	SQL        string    `json:"sql"`
	ConnID     string    `json:"conn_id,omitempty"`
	Params     int       `json:"params"`
	DurationMs int64     `json:"duration_ms"`
	WaitMs     int64     `json:"wait_ms,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Rows       int       `json:"rows,omitempty"`
	Updated    int64     `json:"updated,omitempty"`
	Keys       int       `json:"keys,omitempty"`
}

// Logger records executed statements to a JSON-lines file and, optionally,
// a human-readable console stream. Each client owns its own Logger.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
	out     io.Writer
}

// NewLogger returns a disabled statement logger whose console output, once
// enabled, goes to console.
func NewLogger(console io.Writer) *Logger {
	return &Logger{out: console}
}

// Enable turns statement logging on or off
func (l *Logger) Enable(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Enabled reports whether statements are being logged
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// SetConsoleWriter redirects console output
func (l *Logger) SetConsoleWriter(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// Log writes a statement log entry
func (l *Logger) Log(entry *StatementLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console && l.out != nil {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		wait := ""
		if entry.WaitMs > 0 {
			wait = fmt.Sprintf(" [wait:%dms]", entry.WaitMs)
		}
		fmt.Fprintf(l.out, "[sql] %s %s %s %dms%s %s\n",
			status, entry.RequestID, entry.Op, entry.DurationMs, wait, entry.SQL)
		if entry.Error != "" {
			fmt.Fprintf(l.out, "[sql]   %s error: %s\n", entry.ErrorKind, entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
