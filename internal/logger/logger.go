// Package logger provides the leveled, rotation-backed logger used by every
// other package in this module. It mirrors the logging conventions of the
// teacher repository: package-level Infof/Warnf/Errorf/Debugf/Tracef
// helpers backed by a single configurable slog.Logger, with TRACE and
// WARNING severities slog does not define natively.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels. slog only defines DEBUG/INFO/WARN/ERROR; TRACE and the
// WARNING spelling (instead of WARN) match the severity vocabulary the rest
// of this module's components log at.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

// Format selects the on-wire log encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config configures the process-wide logger. Init with the zero value logs
// INFO+ text to stderr; before Init is called, every package gets TRACE+
// text on stderr.
type Config struct {
	Severity        string // "trace", "debug", "info", "warning", "error"
	Format          Format
	FilePath        string // empty means stderr
	MaxFileSizeMB   int
	BackupFileCount int
	MaxAgeDays      int
	Compress        bool
}

func severityFromString(s string) slog.Level {
	switch s {
	case "trace", "TRACE":
		return LevelTrace
	case "debug", "DEBUG":
		return LevelDebug
	case "warning", "WARNING", "warn", "WARN":
		return LevelWarning
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu     sync.Mutex
	global *slog.Logger
	level  = &slog.LevelVar{}
)

func init() {
	level.Set(LevelTrace)
	global = slog.New(newHandler(os.Stderr, FormatText, level))
}

// Init installs the process-wide logger according to cfg. Safe to call
// concurrently with logging calls (they will simply observe the old or new
// logger, never a partially-constructed one).
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level.Set(severityFromString(cfg.Severity))

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    nonZero(cfg.MaxFileSizeMB, 512),
			MaxBackups: cfg.BackupFileCount,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	format := cfg.Format
	if format == "" {
		format = FormatText
	}

	global = slog.New(newHandler(w, format, level))
	return nil
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// handler renders records in the teacher's `time="..." severity=X
// message="..."` text layout, or a `{"timestamp":{...},"severity":...}`
// JSON layout.
type handler struct {
	w      io.Writer
	format Format
	level  slog.Leveler
	mu     *sync.Mutex
}

func newHandler(w io.Writer, format Format, level slog.Leveler) *handler {
	return &handler{w: w, format: format, level: level, mu: &sync.Mutex{}}
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarning:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.format {
	case FormatJSON:
		_, err := fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
			r.Time.Unix(), r.Time.Nanosecond(), severityName(r.Level), r.Message)
		return err
	default:
		_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
			r.Time.Format("2006/01/02 15:04:05.000000"), severityName(r.Level), r.Message)
		return err
	}
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *handler) WithGroup(name string) slog.Handler       { return h }

func logf(l slog.Level, format string, args ...any) {
	mu.Lock()
	g := global
	mu.Unlock()
	g.Log(context.Background(), l, fmt.Sprintf(format, args...))
}

func log(l slog.Level, args ...any) {
	mu.Lock()
	g := global
	mu.Unlock()
	g.Log(context.Background(), l, fmt.Sprint(args...))
}

func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarning, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

func Trace(args ...any) { log(LevelTrace, args...) }
func Debug(args ...any) { log(LevelDebug, args...) }
func Info(args ...any)  { log(LevelInfo, args...) }
func Warn(args ...any)  { log(LevelWarning, args...) }
func Error(args ...any) { log(LevelError, args...) }

// SinceStartup is used by callers who want to log relative timings without
// importing time directly (matches the teacher's clock-abstraction habit in
// internal/clock, kept minimal here since a full simulated clock is not
// exercised anywhere in this module).
func SinceStartup(start time.Time) time.Duration { return time.Since(start) }
