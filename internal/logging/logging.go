// Package logging configures the process-wide slog logger. Records at
// error level and above are reported to Sentry when a DSN is configured;
// warnings are kept as Sentry breadcrumbs so a later error carries them.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds logging configuration.
type Config struct {
	Level     slog.Level
	SentryDSN string
	Env       string // "development", "production"
	Version   string
	LogFile   string    // empty = Output (or stderr)
	Output    io.Writer // used when LogFile is empty
}

// Logger is the process logger plus the resources Flush releases.
type Logger struct {
	*slog.Logger
	reporting bool
	logFile   *os.File
}

var (
	defaultLogger *Logger
	level         = new(slog.LevelVar)
)

// Init replaces the process logger. It also becomes slog's default.
func Init(cfg Config) error {
	reporting, err := initSentry(cfg)
	if err != nil {
		return err
	}

	out, logFile, err := openOutput(cfg)
	if err != nil {
		return err
	}

	level.Set(cfg.Level)
	text := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: localTime,
	})
	var handler slog.Handler = text
	if reporting {
		handler = &reportingHandler{next: text}
	}

	defaultLogger = &Logger{
		Logger:    slog.New(handler),
		reporting: reporting,
		logFile:   logFile,
	}
	slog.SetDefault(defaultLogger.Logger)
	return nil
}

func initSentry(cfg Config) (bool, error) {
	if cfg.SentryDSN == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		Release:          "vigil@" + cfg.Version,
		AttachStacktrace: true,
		MaxBreadcrumbs:   50,
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})
	return true, nil
}

func openOutput(cfg Config) (io.Writer, *os.File, error) {
	if cfg.LogFile == "" {
		if cfg.Output != nil {
			return cfg.Output, nil, nil
		}
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

func localTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.Local().Format("2006-01-02T15:04:05.000-07:00"))
	}
	return a
}

// ParseLevel maps a config string onto a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level of the process logger in place.
func SetLevel(l slog.Level) { level.Set(l) }

// Level returns the current minimum level.
func Level() slog.Level { return level.Level() }

// Flush waits for pending Sentry events and closes the log file.
func Flush(timeout time.Duration) {
	if defaultLogger == nil {
		return
	}
	if defaultLogger.reporting {
		sentry.Flush(timeout)
	}
	if f := defaultLogger.logFile; f != nil {
		f.Sync()
		f.Close()
		defaultLogger.logFile = nil
	}
}

// Default returns the process logger, or slog's default before Init.
func Default() *Logger {
	if defaultLogger == nil {
		return &Logger{Logger: slog.Default()}
	}
	return defaultLogger
}

// reportingHandler forwards to next and mirrors warnings and errors to
// Sentry. Attributes bound with WithAttrs are carried along so a component
// logger's "component" shows up as a Sentry tag.
type reportingHandler struct {
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

func (h *reportingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *reportingHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	switch {
	case r.Level >= slog.LevelError:
		h.capture(r)
	case r.Level >= slog.LevelWarn:
		sentry.AddBreadcrumb(&sentry.Breadcrumb{
			Level:     sentry.LevelWarning,
			Category:  h.component(),
			Message:   r.Message,
			Data:      h.fields(r),
			Timestamp: r.Time,
		})
	}
	return nil
}

func (h *reportingHandler) capture(r slog.Record) {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = r.Message
	event.Timestamp = r.Time
	event.Extra = h.fields(r)
	if c := h.component(); c != "" {
		event.Tags["component"] = c
	}

	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		event.Exception = []sentry.Exception{{
			Type:  "LogError",
			Value: r.Message,
			Stacktrace: &sentry.Stacktrace{
				Frames: []sentry.Frame{{
					Filename: frame.File,
					Function: frame.Function,
					Lineno:   frame.Line,
				}},
			},
		}}
	}
	sentry.CaptureEvent(event)
}

// fields flattens bound and record attributes into one map.
func (h *reportingHandler) fields(r slog.Record) map[string]any {
	out := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[h.prefix+a.Key] = a.Value.Any()
		return true
	})
	return out
}

func (h *reportingHandler) component() string {
	for _, a := range h.attrs {
		if a.Key == "component" {
			return a.Value.String()
		}
	}
	return ""
}

func (h *reportingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	bound = append(bound, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		bound = append(bound, a)
	}
	return &reportingHandler{next: h.next.WithAttrs(attrs), attrs: bound, prefix: h.prefix}
}

func (h *reportingHandler) WithGroup(name string) slog.Handler {
	return &reportingHandler{next: h.next.WithGroup(name), attrs: h.attrs, prefix: h.prefix + name + "."}
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at error level and reports to Sentry when enabled.
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Default().With(args...)
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return Default().With("component", name)
}

// CapturePanic logs a recovered panic value and reports it to Sentry.
// Call it from a recover() handler. The panic value is returned unchanged.
func CapturePanic(panicValue any, ctx ...any) any {
	if panicValue == nil {
		return nil
	}

	msg := fmt.Sprintf("panic: %v", panicValue)
	Default().Error(msg, append([]any{"panic", panicValue}, ctx...)...)

	if defaultLogger == nil || !defaultLogger.reporting {
		return panicValue
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("type", "panic")
		for i := 0; i+1 < len(ctx); i += 2 {
			if key, ok := ctx[i].(string); ok {
				scope.SetTag(key, fmt.Sprint(ctx[i+1]))
			}
		}
		if err, ok := panicValue.(error); ok {
			sentry.CaptureException(err)
		} else {
			sentry.CaptureMessage(msg)
		}
	})
	sentry.Flush(2 * time.Second)
	return panicValue
}
