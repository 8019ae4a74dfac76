// File path: internal/common/log_test.go
package common

import (
	"fmt"
	"testing"
	"time"

	"log/slog"
)

func makeRecord(level slog.Level, msg string, attrs ...slog.Attr) slog.Record {
	rec := slog.NewRecord(time.Now(), level, msg, 0)
	rec.AddAttrs(attrs...)
	return rec
}

func TestRecordEntrySubsystemPrefix(t *testing.T) {
	entry := recordEntry(makeRecord(slog.LevelWarn, "auth: rejected request",
		slog.String("path", "/api/ingest"), slog.Int("attempts", 3)))
	if entry.Subsystem != "auth" || entry.Message != "rejected request" {
		t.Fatalf("prefix not split: %+v", entry)
	}
	if entry.Level != "warn" {
		t.Fatalf("unexpected level: %s", entry.Level)
	}
	if entry.Timestamp == 0 {
		t.Fatalf("timestamp missing")
	}
	if entry.Fields["path"] != "/api/ingest" || entry.Fields["attempts"] != int64(3) {
		t.Fatalf("fields not captured: %+v", entry.Fields)
	}
}

func TestRecordEntryPlainMessage(t *testing.T) {
	entry := recordEntry(makeRecord(slog.LevelInfo, "listening on port 3333"))
	if entry.Subsystem != "" || entry.Message != "listening on port 3333" {
		t.Fatalf("message with spaced prefix mangled: %+v", entry)
	}
	if entry.Fields != nil {
		t.Fatalf("expected no fields, got %+v", entry.Fields)
	}
}

func TestLogRingWrap(t *testing.T) {
	r := &logRing{size: 4}
	for i := 0; i < 6; i++ {
		r.add(LogEntry{Message: fmt.Sprintf("m%d", i)})
	}
	got := r.snapshot()
	if len(got) != 4 {
		t.Fatalf("expected 4 retained entries, got %d", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("m%d", i+2)
		if e.Message != want {
			t.Fatalf("entry %d: got %q, want %q", i, e.Message, want)
		}
	}
}

func TestLoggerCapturesToRing(t *testing.T) {
	before := len(LogEntries())
	Logger().Info("ringtest: captured", "n", 1)
	entries := LogEntries()
	if len(entries) <= before {
		t.Fatalf("entry not captured")
	}
	last := entries[len(entries)-1]
	if last.Subsystem != "ringtest" || last.Message != "captured" {
		t.Fatalf("unexpected entry: %+v", last)
	}
}
