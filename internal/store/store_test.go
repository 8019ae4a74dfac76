// File path: internal/store/store_test.go
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coreflowai/agent-dog/internal/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{Path: filepath.Join(t.TempDir(), "agent-flow.db")}
	cfg.applyDefaults()
	s, err := OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEvent(sessionID, typ string, category event.Category, ts int64) event.Event {
	return event.Event{
		ID:        event.NewID(),
		SessionID: sessionID,
		Timestamp: ts,
		Source:    event.SourceClaudeCode,
		Category:  category,
		Type:      typ,
	}
}

func TestAppendCreatesSessionLazily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UnixMilli()
	ev := testEvent("S1", event.TypeSessionStart, event.CategorySession, ts)
	if err := s.Append(ctx, ev, "user-1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	sess, err := s.GetSession(ctx, "S1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.StartTime != ts || sess.LastEventTime != ts {
		t.Fatalf("expected start == last == %d, got %d/%d", ts, sess.StartTime, sess.LastEventTime)
	}
	if sess.Status != event.StatusActive {
		t.Fatalf("expected active, got %q", sess.Status)
	}
	if sess.UserID != "user-1" {
		t.Fatalf("expected user stamped on create, got %q", sess.UserID)
	}
	if sess.EventCount != 1 {
		t.Fatalf("expected 1 event, got %d", sess.EventCount)
	}
}

func TestGetSessionUnknownID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UnixMilli()

	if err := s.Append(ctx, testEvent("S1", event.TypeSessionStart, event.CategorySession, ts), ""); err != nil {
		t.Fatalf("append start: %v", err)
	}
	if err := s.Append(ctx, testEvent("S1", event.TypeSessionEnd, event.CategorySession, ts+1), ""); err != nil {
		t.Fatalf("append end: %v", err)
	}
	sess, _ := s.GetSession(ctx, "S1")
	if sess.Status != event.StatusCompleted {
		t.Fatalf("expected completed after session.end, got %q", sess.Status)
	}

	// A new event reactivates a completed session.
	if err := s.Append(ctx, testEvent("S1", event.TypeMessageUser, event.CategoryMessage, ts+2), ""); err != nil {
		t.Fatalf("append reactivate: %v", err)
	}
	sess, _ = s.GetSession(ctx, "S1")
	if sess.Status != event.StatusActive {
		t.Fatalf("expected reactivated active, got %q", sess.Status)
	}

	// An error-category event raises status to error.
	if err := s.Append(ctx, testEvent("S1", event.TypeError, event.CategoryError, ts+3), ""); err != nil {
		t.Fatalf("append error: %v", err)
	}
	sess, _ = s.GetSession(ctx, "S1")
	if sess.Status != event.StatusError {
		t.Fatalf("expected error status, got %q", sess.Status)
	}
}

func TestStaleSessionReadsCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stale := time.Now().Add(-3 * time.Minute).UnixMilli()
	if err := s.Append(ctx, testEvent("S1", event.TypeSessionStart, event.CategorySession, stale), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	sess, err := s.GetSession(ctx, "S1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != event.StatusCompleted {
		t.Fatalf("expected effective completed for stale session, got %q", sess.Status)
	}
	// Stored state must not be mutated by the read.
	var stored string
	if err := s.db.Get(&stored, `SELECT status FROM sessions WHERE id = 'S1'`); err != nil {
		t.Fatalf("read stored status: %v", err)
	}
	if stored != event.StatusActive {
		t.Fatalf("expected stored status untouched, got %q", stored)
	}
}

func TestLastEventTimeMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, testEvent("S1", event.TypeSessionStart, event.CategorySession, 2000), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Out-of-order producer timestamp must not move last_event_time backwards.
	if err := s.Append(ctx, testEvent("S1", event.TypeMessageUser, event.CategoryMessage, 1000), ""); err != nil {
		t.Fatalf("append older: %v", err)
	}
	var last int64
	if err := s.db.Get(&last, `SELECT last_event_time FROM sessions WHERE id = 'S1'`); err != nil {
		t.Fatalf("read last: %v", err)
	}
	if last != 2000 {
		t.Fatalf("expected last_event_time to stay at 2000, got %d", last)
	}
}

func TestEventOrderingTieBreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := int64(5000)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ev := testEvent("S1", fmt.Sprintf("system.step%d", i), event.CategorySystem, ts)
		ids = append(ids, ev.ID)
		if err := s.Append(ctx, ev, ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	events, err := s.GetSessionEvents(ctx, "S1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	var prev int64
	for i, ev := range events {
		if ev.Timestamp < prev {
			t.Fatalf("timestamps not non-decreasing at %d", i)
		}
		prev = ev.Timestamp
		if ev.ID != ids[i] {
			t.Fatalf("insertion order not preserved at %d: %s vs %s", i, ev.ID, ids[i])
		}
	}
}

func TestToolPayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := testEvent("S1", event.TypeToolEnd, event.CategoryTool, 1)
	ev.ToolName = "Read"
	ev.ToolInput = map[string]interface{}{"file_path": "a.ts"}
	ev.ToolOutput = event.TruncateToolOutput(strings.Repeat("y", 15000))
	ev.Meta = map[string]interface{}{"k": "v"}
	if err := s.Append(ctx, ev, ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, err := s.GetSessionEvents(ctx, "S1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	got := events[0]
	input, ok := got.ToolInput.(map[string]interface{})
	if !ok || input["file_path"] != "a.ts" {
		t.Fatalf("tool input round trip failed: %v", got.ToolInput)
	}
	out, ok := got.ToolOutput.(string)
	if !ok {
		t.Fatalf("expected string tool output, got %T", got.ToolOutput)
	}
	marker := "... [truncated, 15000 chars total]"
	if !strings.HasSuffix(out, marker) {
		t.Fatalf("expected truncation marker, got tail %q", out[len(out)-50:])
	}
	if len(out) > event.MaxToolOutputChars+len(marker) {
		t.Fatalf("stored output exceeds cap: %d", len(out))
	}
	if got.Meta["k"] != "v" {
		t.Fatalf("meta round trip failed: %v", got.Meta)
	}
}

func TestUpdateSessionMetaShallowMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, testEvent("S1", event.TypeSessionStart, event.CategorySession, 1), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.UpdateSessionMeta(ctx, "S1", map[string]interface{}{
		"user": map[string]interface{}{"name": "ann"},
		"mode": "dev",
	}); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	// Object fields override scalars and prior objects wholesale.
	if err := s.UpdateSessionMeta(ctx, "S1", map[string]interface{}{
		"user": map[string]interface{}{"email": "ann@example.com"},
	}); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	sess, err := s.GetSession(ctx, "S1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Metadata["mode"] != "dev" {
		t.Fatalf("expected untouched key to survive, got %v", sess.Metadata)
	}
	user, ok := sess.Metadata["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected user object, got %v", sess.Metadata["user"])
	}
	if user["email"] != "ann@example.com" {
		t.Fatalf("expected replaced user object, got %v", user)
	}
	if _, kept := user["name"]; kept {
		t.Fatalf("nested objects must be replaced, not deep-merged: %v", user)
	}

	if err := s.UpdateSessionMeta(ctx, "missing", map[string]interface{}{"x": 1}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestListSessionsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	if err := s.Append(ctx, testEvent("old", event.TypeSessionStart, event.CategorySession, now-1000), ""); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := s.Append(ctx, testEvent("new", event.TypeSessionStart, event.CategorySession, now), ""); err != nil {
		t.Fatalf("append new: %v", err)
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "old" {
		t.Fatalf("unexpected ordering: %+v", sessions)
	}
	if sessions[0].LastEventType != event.TypeSessionStart {
		t.Fatalf("expected derived last event type, got %q", sessions[0].LastEventType)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, testEvent("S1", event.TypeSessionStart, event.CategorySession, 1), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.DeleteSession(ctx, "S1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSession(ctx, "S1"); err != ErrNotFound {
		t.Fatalf("expected session gone, got %v", err)
	}
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM events`); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascaded event delete, %d rows remain", count)
	}
	if err := s.DeleteSession(ctx, "S1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on re-delete, got %v", err)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B"} {
		if err := s.Append(ctx, testEvent(id, event.TypeSessionStart, event.CategorySession, 1), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty store, got %d sessions", len(sessions))
	}
}

func TestUserActivityQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	if err := s.Append(ctx, testEvent("S1", event.TypeSessionStart, event.CategorySession, now-100), "u1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, testEvent("S1", event.TypeMessageUser, event.CategoryMessage, now), "u1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	users, err := s.ActiveUserIDs(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 1 || users[0] != "u1" {
		t.Fatalf("unexpected users: %v", users)
	}
	count, err := s.CountUserEventsSince(ctx, "u1", now-100)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 new event, got %d", count)
	}
	latest, err := s.LatestUserEventTimestamp(ctx, "u1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != now {
		t.Fatalf("expected latest %d, got %d", now, latest)
	}
}

func TestCronJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := event.CronJob{
		ID:             "job-1",
		UserID:         "u1",
		Name:           "daily report",
		Prompt:         "summarise yesterday",
		ScheduleText:   "every day at 9",
		CronExpression: "0 9 * * *",
		Enabled:        true,
	}
	if err := s.SaveCronJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetCronJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Timezone != "UTC" {
		t.Fatalf("expected default timezone, got %q", got.Timezone)
	}
	if err := s.RecordCronRun(ctx, "job-1", "cron-sess", "success", 100, 200); err != nil {
		t.Fatalf("record run: %v", err)
	}
	got, _ = s.GetCronJob(ctx, "job-1")
	if got.TotalRuns != 1 || got.LastRunSessionID != "cron-sess" || got.LastRunStatus != "success" {
		t.Fatalf("unexpected run bookkeeping: %+v", got)
	}
	if got.NextRunAt != 200 {
		t.Fatalf("expected next run 200, got %d", got.NextRunAt)
	}
	jobs, err := s.ListCronJobs(ctx, "u1")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("list: %v %d", err, len(jobs))
	}
	if err := s.DeleteCronJob(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCronJob(ctx, "job-1"); err != ErrNotFound {
		t.Fatalf("expected gone, got %v", err)
	}
}

func TestInsightLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := event.Insight{
		ID:      "ins-1",
		UserID:  "u1",
		Content: "## Summary\nfindings",
		Phase:   event.PhasePreliminary,
		Round:   1,
		Categories: []string{
			"workflow",
		},
		FollowUpActions: []event.FollowUpAction{{Title: "add tests", Priority: "high", Category: "workflow"}},
	}
	if err := s.SaveInsight(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	q := event.Question{ID: "q1", InsightID: "ins-1", Text: "which repo?"}
	if err := s.SaveQuestion(ctx, q); err != nil {
		t.Fatalf("save question: %v", err)
	}
	answered, err := s.AnswerQuestion(ctx, "q1", "the main one")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !answered.Answered || answered.Answer != "the main one" {
		t.Fatalf("unexpected answered question: %+v", answered)
	}

	// Refinement updates in place.
	in.Phase = event.PhaseRefined
	in.Round = 2
	in.AnswersReceived = 1
	in.Content = "## Refined\nfindings"
	if err := s.SaveInsight(ctx, in); err != nil {
		t.Fatalf("refine: %v", err)
	}
	got, err := s.GetInsight(ctx, "ins-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phase != event.PhaseRefined || got.AnswersReceived != 1 {
		t.Fatalf("unexpected refined insight: %+v", got)
	}
	if len(got.FollowUpActions) != 1 || got.FollowUpActions[0].Priority != "high" {
		t.Fatalf("follow-up actions lost: %+v", got.FollowUpActions)
	}
	list, err := s.ListInsights(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}

	state, err := s.AnalysisState(ctx, "u1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastAnalyzedAt != 0 {
		t.Fatalf("expected zero state for new user, got %+v", state)
	}
	state.LastAnalyzedAt = 10
	state.LastEventTimestamp = 20
	if err := s.SaveAnalysisState(ctx, state); err != nil {
		t.Fatalf("save state: %v", err)
	}
	state, _ = s.AnalysisState(ctx, "u1")
	if state.LastEventTimestamp != 20 {
		t.Fatalf("state round trip failed: %+v", state)
	}
}

func TestUsersAndAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := User{ID: "u1", Email: "dev@example.com", PasswordHash: "x"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.UserByEmail(ctx, "dev@example.com"); err != nil {
		t.Fatalf("by email: %v", err)
	}
	if _, err := s.UserByEmail(ctx, "other@example.com"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	key := APIKey{ID: "k1", UserID: "u1", KeyHash: "hash"}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	userID, err := s.UserIDForKeyHash(ctx, "hash")
	if err != nil || userID != "u1" {
		t.Fatalf("key lookup: %v %q", err, userID)
	}
	if _, err := s.UserIDForKeyHash(ctx, "bogus"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}
