// File path: internal/normalize/normalize.go
//
// Package normalize translates raw, producer-specific payloads into the
// canonical event model. Dispatch is data: each source owns a table keyed by
// the producer's own type discriminator, so adding a producer or a new raw
// type is an additive table entry, never a new conditional.
package normalize

import (
	"strings"
	"time"

	"github.com/coreflowai/agent-dog/internal/event"
)

// RawEvent is one undecoded producer payload.
type RawEvent map[string]interface{}

// mapper fills the category-specific fields of an already-stamped event.
type mapper func(raw RawEvent, ev *event.Event)

// dialects maps each producer to its dispatcher. Unknown sources fall through
// to the catch-all, so normalization is total: no payload is ever rejected.
var dialects = map[event.Source]func(raw RawEvent, ev *event.Event){
	event.SourceClaudeCode: normalizeClaudeCode,
	event.SourceCodex:      normalizeCodex,
	event.SourceOpenCode:   normalizeOpenCode,
}

// Normalize converts a raw payload from the given source into a canonical
// Event. It is pure apart from reading the clock when the payload carries no
// usable timestamp.
func Normalize(source event.Source, sessionID string, raw RawEvent) event.Event {
	ev := event.Event{
		ID:        event.NewID(),
		SessionID: sessionID,
		Timestamp: rawTimestamp(raw),
		Source:    source,
	}
	if dispatch, ok := dialects[source]; ok {
		dispatch(raw, &ev)
	} else {
		fallback(raw, &ev, rawType(raw))
	}
	return ev
}

func rawTimestamp(raw RawEvent) int64 {
	switch v := raw["timestamp"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return time.Now().UnixMilli()
}

func rawType(raw RawEvent) string {
	if t := str(raw, "type"); t != "" {
		return t
	}
	if t := str(raw, "hook_event_name"); t != "" {
		return strings.ToLower(t)
	}
	return "unknown"
}

// fallback is the total catch-all: the payload survives under meta.rawEvent.
func fallback(raw RawEvent, ev *event.Event, typ string) {
	ev.Category = event.CategorySystem
	ev.Type = typ
	ev.Meta = map[string]interface{}{"rawEvent": map[string]interface{}(raw)}
}

// str returns the first non-empty string among the given keys.
func str(raw RawEvent, keys ...string) string {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func obj(raw RawEvent, key string) map[string]interface{} {
	m, _ := raw[key].(map[string]interface{})
	return m
}
