// File path: internal/common/log.go
//
// Package common holds the process-wide logger and its capture ring. Every
// subsystem logs through Logger() with a "subsystem: message" prefix; the
// ring backs GET /api/logs.
package common

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const logRingSize = 1000

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	ring       = &logRing{size: logRingSize}
)

// LogEntry is one captured log record. Timestamp is unix milliseconds,
// matching event timestamps elsewhere in the service.
type LogEntry struct {
	Timestamp int64                  `json:"timestamp"`
	Level     string                 `json:"level"`
	Subsystem string                 `json:"subsystem,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger returns the singleton slog logger. LOG_LEVEL selects the floor.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		level := slog.LevelInfo
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		text := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		logger = slog.New(&ringHandler{next: text, ring: ring})
	})
	return logger
}

// LogEntries returns the captured entries, oldest first.
func LogEntries() []LogEntry {
	return ring.snapshot()
}

// ringHandler captures each emitted record into the ring and forwards it
// to the text handler.
type ringHandler struct {
	next slog.Handler
	ring *logRing
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, record slog.Record) error {
	h.ring.add(recordEntry(record))
	return h.next.Handle(ctx, record)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ringHandler{next: h.next.WithAttrs(attrs), ring: h.ring}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{next: h.next.WithGroup(name), ring: h.ring}
}

// logRing is a fixed-size circular buffer of entries.
type logRing struct {
	mu    sync.Mutex
	size  int
	buf   []LogEntry
	next  int
	wrapd bool
}

func (r *logRing) add(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		r.buf = make([]LogEntry, r.size)
	}
	r.buf[r.next] = e
	r.next++
	if r.next == r.size {
		r.next = 0
		r.wrapd = true
	}
}

func (r *logRing) snapshot() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return nil
	}
	if !r.wrapd {
		out := make([]LogEntry, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]LogEntry, 0, r.size)
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func recordEntry(record slog.Record) LogEntry {
	rec := record.Clone()
	when := rec.Time
	if when.IsZero() {
		when = time.Now()
	}
	subsystem, msg := splitSubsystem(rec.Message)
	entry := LogEntry{
		Timestamp: when.UnixMilli(),
		Level:     strings.ToLower(rec.Level.String()),
		Subsystem: subsystem,
		Message:   msg,
	}
	rec.Attrs(func(a slog.Attr) bool {
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{})
		}
		entry.Fields[a.Key] = flatten(a.Value)
		return true
	})
	return entry
}

// splitSubsystem peels the "subsystem: " prefix this codebase logs with. A
// prefix containing whitespace is an ordinary message, not a subsystem tag.
func splitSubsystem(msg string) (string, string) {
	idx := strings.Index(msg, ": ")
	if idx <= 0 {
		return "", msg
	}
	prefix := msg[:idx]
	if strings.ContainsAny(prefix, " \t") {
		return "", msg
	}
	return prefix, msg[idx+2:]
}

func flatten(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().In(time.UTC)
	case slog.KindAny:
		return v.Any()
	default:
		return v.String()
	}
}
