// File path: internal/store/mapper.go
package store

import (
	"database/sql"
	"encoding/json"

	"github.com/coreflowai/agent-dog/internal/event"
)

type sessionRow struct {
	ID            string         `db:"id"`
	Source        string         `db:"source"`
	StartTime     int64          `db:"start_time"`
	LastEventTime int64          `db:"last_event_time"`
	Status        string         `db:"status"`
	Metadata      string         `db:"metadata"`
	UserID        sql.NullString `db:"user_id"`
}

func (r sessionRow) toSession() event.Session {
	s := event.Session{
		ID:            r.ID,
		Source:        event.Source(r.Source),
		StartTime:     r.StartTime,
		LastEventTime: r.LastEventTime,
		Status:        r.Status,
		UserID:        r.UserID.String,
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err == nil {
			s.Metadata = meta
		}
	}
	return s
}

type eventRow struct {
	Seq        int64          `db:"seq"`
	ID         string         `db:"id"`
	SessionID  string         `db:"session_id"`
	Timestamp  int64          `db:"timestamp"`
	Source     string         `db:"source"`
	Category   string         `db:"category"`
	Type       string         `db:"type"`
	Role       sql.NullString `db:"role"`
	Text       sql.NullString `db:"text"`
	ToolName   sql.NullString `db:"tool_name"`
	ToolInput  sql.NullString `db:"tool_input"`
	ToolOutput sql.NullString `db:"tool_output"`
	Error      sql.NullString `db:"error"`
	Meta       sql.NullString `db:"meta"`
}

func (r eventRow) toEvent() event.Event {
	ev := event.Event{
		ID:        r.ID,
		SessionID: r.SessionID,
		Timestamp: r.Timestamp,
		Source:    event.Source(r.Source),
		Category:  event.Category(r.Category),
		Type:      r.Type,
		Role:      r.Role.String,
		Text:      r.Text.String,
		ToolName:  r.ToolName.String,
		Error:     r.Error.String,
	}
	ev.ToolInput = decodeJSONColumn(r.ToolInput)
	ev.ToolOutput = decodeJSONColumn(r.ToolOutput)
	if r.Meta.Valid && r.Meta.String != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(r.Meta.String), &meta); err == nil {
			ev.Meta = meta
		}
	}
	return ev
}

// decodeJSONColumn restores an arbitrary structured value stored as JSON
// text. A NULL column round-trips to nil.
func decodeJSONColumn(col sql.NullString) interface{} {
	if !col.Valid || col.String == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return col.String
	}
	return v
}

// encodeJSONColumn serialises an arbitrary structured value for storage.
// nil maps to a NULL column.
func encodeJSONColumn(v interface{}) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
