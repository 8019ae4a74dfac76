// File path: internal/store/sessions.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coreflowai/agent-dog/internal/event"
)

// Append upserts the session row and inserts the event in one transaction:
// the session is created lazily with status active on first sight, a
// completed session is reactivated, an error-category event raises the stored
// status to error, and a session.end event marks it completed. Readers see
// the event and the session update together or not at all.
func (s *Store) Append(ctx context.Context, ev event.Event, userID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var row sessionRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, ev.SessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		status := appliedStatus(event.StatusActive, ev)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, source, start_time, last_event_time, status, metadata, user_id)
                         VALUES (?, ?, ?, ?, ?, '{}', ?)`,
			ev.SessionID, string(ev.Source), ev.Timestamp, ev.Timestamp, status, nullString(userID))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	default:
		status := row.Status
		if status == event.StatusCompleted {
			status = event.StatusActive
		}
		status = appliedStatus(status, ev)
		last := row.LastEventTime
		if ev.Timestamp > last {
			last = ev.Timestamp
		}
		user := row.UserID
		if !user.Valid && userID != "" {
			user = nullString(userID)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET last_event_time = ?, status = ?, user_id = ? WHERE id = ?`,
			last, status, user, ev.SessionID)
		if err != nil {
			return fmt.Errorf("refresh session: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, session_id, timestamp, source, category, type, role, text, tool_name, tool_input, tool_output, error, meta)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Timestamp, string(ev.Source), string(ev.Category), ev.Type,
		nullString(ev.Role), nullString(ev.Text), nullString(ev.ToolName),
		encodeJSONColumn(ev.ToolInput), encodeJSONColumn(ev.ToolOutput),
		nullString(ev.Error), encodeJSONColumn(ev.Meta))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// appliedStatus applies the event side-rules on top of the base status.
func appliedStatus(status string, ev event.Event) string {
	if ev.Category == event.CategoryError {
		return event.StatusError
	}
	if ev.Type == event.TypeSessionEnd {
		return event.StatusCompleted
	}
	return status
}

// GetSession returns the session with derived fields applied, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (event.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Session{}, ErrNotFound
	}
	if err != nil {
		return event.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess := row.toSession()
	if err := s.applyDerived(ctx, &sess); err != nil {
		return event.Session{}, err
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by last event time descending,
// derived fields applied.
func (s *Store) ListSessions(ctx context.Context) ([]event.Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions ORDER BY last_event_time DESC`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]event.Session, 0, len(rows))
	for _, row := range rows {
		sess := row.toSession()
		if err := s.applyDerived(ctx, &sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) applyDerived(ctx context.Context, sess *event.Session) error {
	if err := s.db.GetContext(ctx, &sess.EventCount,
		`SELECT COUNT(*) FROM events WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	var last eventRow
	err := s.db.GetContext(ctx, &last,
		`SELECT * FROM events WHERE session_id = ? ORDER BY timestamp DESC, seq DESC LIMIT 1`, sess.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("last event: %w", err)
	}
	if err == nil {
		sess.LastEventType = last.Type
		sess.LastEventText = last.Text.String
	}
	sess.Status = sess.EffectiveStatus(time.Now())
	return nil
}

// GetSessionEvents returns all events for a session ordered by timestamp,
// ties broken by insertion order.
func (s *Store) GetSessionEvents(ctx context.Context, id string) ([]event.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM events WHERE session_id = ? ORDER BY timestamp ASC, seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

// UpdateSessionMeta shallow-merges the patch into the session metadata map.
// Top-level keys in the patch override existing values; nested objects are
// replaced, not merged.
func (s *Store) UpdateSessionMeta(ctx context.Context, id string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin meta update: %w", err)
	}
	defer tx.Rollback()

	var stored string
	err = tx.GetContext(ctx, &stored, `SELECT metadata FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	meta := map[string]interface{}{}
	if stored != "" {
		_ = json.Unmarshal([]byte(stored), &meta)
	}
	for key, value := range patch {
		meta[key] = value
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET metadata = ? WHERE id = ?`, string(raw), id); err != nil {
		return fmt.Errorf("store metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit meta update: %w", err)
	}
	return nil
}

// DeleteSession removes one session and its events.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ClearAll purges every event and session.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// ActiveUserIDs returns the distinct user ids with stored sessions.
func (s *Store) ActiveUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT user_id FROM sessions WHERE user_id IS NOT NULL AND user_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	return ids, nil
}

// CountUserEventsSince counts events newer than the given timestamp across a
// user's sessions.
func (s *Store) CountUserEventsSince(ctx context.Context, userID string, since int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM events e
                 JOIN sessions s ON s.id = e.session_id
                 WHERE s.user_id = ? AND e.timestamp > ?`, userID, since)
	if err != nil {
		return 0, fmt.Errorf("count user events: %w", err)
	}
	return count, nil
}

// LatestUserEventTimestamp returns the newest event timestamp across a user's
// sessions, or zero when the user has none.
func (s *Store) LatestUserEventTimestamp(ctx context.Context, userID string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.GetContext(ctx, &ts,
		`SELECT MAX(e.timestamp) FROM events e
                 JOIN sessions s ON s.id = e.session_id
                 WHERE s.user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("latest user event: %w", err)
	}
	return ts.Int64, nil
}
