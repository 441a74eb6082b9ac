package logpipe

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"github.com/marmos91/remotedev/pkg/protocol"
)

// Python logging level numbers, kept on the wire so mixed deployments read
// the shipped records the same way.
const (
	levelDebug = 10
	levelInfo  = 20
	levelWarn  = 30
	levelError = 40
)

// Packages whose records never ship. The endpoint logs around every socket
// write, so shipping its records would generate a new LOG request per sent
// request and feed back forever. The pipeline's own chatter is skipped for
// the same reason.
var unshippedPackages = []string{
	"/pkg/endpoint",
	"/pkg/logpipe",
}

// Packages walked over when attributing a record to its caller.
var loggingPackages = []string{
	"log/slog",
	"/internal/logger",
}

// Handler converts records emitted through the process logger into LOG
// requests. Install it with logger.SetTee; the primary handler keeps writing
// to the console, the tee ships a copy.
type Handler struct {
	sink   Sink
	attrs  []slog.Attr
	groups []string
}

// NewHandler returns a Handler shipping to sink.
func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

// Enabled reports true for every level; the process logger already gates
// records by its configured level before they reach the tee.
func (h *Handler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle converts the record into a log_record request and ships it.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	frame, ok := callerFrame()
	if !ok || h.suppressed(frame.Function) {
		return nil
	}

	msg := h.renderMessage(rec)
	if msg == "" {
		return nil
	}

	name, function := splitFunction(frame.Function)
	h.sink(protocol.NewLogRecordRequest(&protocol.LogRecord{
		Name:     name,
		Level:    levelNumber(rec.Level),
		File:     shortFile(frame.File),
		Line:     int32(frame.Line),
		Message:  msg,
		Function: function,
	}))
	return nil
}

// WithAttrs returns a Handler that prepends attrs to every shipped message.
// Keys are qualified with the group prefix in effect when they were added.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	clone.attrs = qualified
	return &clone
}

// WithGroup returns a Handler qualifying subsequent attribute keys.
func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *Handler) suppressed(function string) bool {
	for _, pkg := range unshippedPackages {
		if strings.Contains(function, pkg+".") {
			return true
		}
	}
	return false
}

// renderMessage appends the record's attributes to its message so the
// mirrored line keeps the structured context.
func (h *Handler) renderMessage(rec slog.Record) string {
	parts := make([]string, 0, rec.NumAttrs()+len(h.attrs)+1)
	if rec.Message != "" {
		parts = append(parts, rec.Message)
	}
	for _, a := range h.attrs {
		parts = append(parts, a.Key+"="+a.Value.String())
	}
	rec.Attrs(func(a slog.Attr) bool {
		parts = append(parts, h.qualify(a.Key)+"="+a.Value.String())
		return true
	})
	return strings.Join(parts, " ")
}

func (h *Handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// callerFrame walks the live stack past the logging machinery and returns
// the frame that emitted the record. Handlers run synchronously on the
// logging goroutine, so the emitting call is still on the stack here.
func callerFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return runtime.Frame{}, false
	}

	frames := runtime.CallersFrames(pcs[:n])
	seenLogging := false
	for {
		frame, more := frames.Next()
		if isLoggingFrame(frame.Function) {
			seenLogging = true
		} else if seenLogging {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isLoggingFrame(function string) bool {
	for _, pkg := range loggingPackages {
		if strings.Contains(function, pkg+".") {
			return true
		}
	}
	return false
}

// splitFunction turns a fully qualified function name into a short logger
// name (the package) and the function part, e.g.
// "github.com/x/y/pkg/executor.(*Executor).apply" -> ("executor",
// "(*Executor).apply").
func splitFunction(function string) (name, fn string) {
	short := function
	if i := strings.LastIndex(short, "/"); i >= 0 {
		short = short[i+1:]
	}
	if i := strings.Index(short, "."); i >= 0 {
		return short[:i], short[i+1:]
	}
	return short, short
}

func shortFile(file string) string {
	if i := strings.LastIndex(file, "/"); i >= 0 {
		return file[i+1:]
	}
	return file
}

func levelNumber(level slog.Level) int32 {
	switch {
	case level < slog.LevelInfo:
		return levelDebug
	case level < slog.LevelWarn:
		return levelInfo
	case level < slog.LevelError:
		return levelWarn
	default:
		return levelError
	}
}
