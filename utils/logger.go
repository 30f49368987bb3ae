package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdobak/go-xerrors"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// LoggerOptions controls the process-wide logger built by ConfigureLogger.
type LoggerOptions struct {
	Level  string
	Format string
	Output io.Writer
}

// GetLogger returns the process-wide logger. A text logger at info level is
// created on first use if ConfigureLogger has not been called.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = NewLogger(LoggerOptions{})
	}
	return logger
}

// ConfigureLogger replaces the process-wide logger and installs it as the
// slog default.
func ConfigureLogger(opts LoggerOptions) *slog.Logger {
	l := NewLogger(opts)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
	return l
}

// NewLogger builds a logger that renders xerrors values with their stack trace.
func NewLogger(opts LoggerOptions) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: replaceErrorAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
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

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

func replaceErrorAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}

	frames := marshalStack(err)
	if len(frames) == 0 {
		return slog.String(a.Key, err.Error())
	}
	return slog.Group(a.Key,
		slog.String("msg", err.Error()),
		slog.Any("trace", frames),
	)
}

func marshalStack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	out := make([]stackFrame, 0, len(trace))
	for _, frame := range trace.Frames() {
		out = append(out, stackFrame{
			Func:   shortFuncName(frame.Function),
			Source: fmt.Sprintf("%s:%d", frame.File, frame.Line),
			Line:   frame.Line,
		})
	}
	return out
}

func shortFuncName(fn string) string {
	if idx := strings.LastIndex(fn, "/"); idx >= 0 {
		return fn[idx+1:]
	}
	return fn
}
