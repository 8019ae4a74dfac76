// File path: internal/store/insights.go
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

type insightRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	Repo             sql.NullString `db:"repo"`
	Content          string         `db:"content"`
	Categories       string         `db:"categories"`
	FollowUpActions  string         `db:"follow_up_actions"`
	SessionsAnalyzed int            `db:"sessions_analyzed"`
	EventsAnalyzed   int            `db:"events_analyzed"`
	Phase            sql.NullString `db:"phase"`
	Round            int            `db:"round"`
	AnswersReceived  int            `db:"answers_received"`
	TokensUsed       int            `db:"tokens_used"`
	Model            sql.NullString `db:"model"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
}

func (r insightRow) toInsight() event.Insight {
	in := event.Insight{
		ID:               r.ID,
		UserID:           r.UserID,
		Repo:             r.Repo.String,
		Content:          r.Content,
		SessionsAnalyzed: r.SessionsAnalyzed,
		EventsAnalyzed:   r.EventsAnalyzed,
		Phase:            r.Phase.String,
		Round:            r.Round,
		AnswersReceived:  r.AnswersReceived,
		TokensUsed:       r.TokensUsed,
		Model:            r.Model.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	_ = json.Unmarshal([]byte(r.Categories), &in.Categories)
	_ = json.Unmarshal([]byte(r.FollowUpActions), &in.FollowUpActions)
	return in
}

// SaveInsight inserts a new insight or replaces an existing one in place
// (in-place refinement after answers arrive).
func (s *Store) SaveInsight(ctx context.Context, in event.Insight) error {
	categories, err := json.Marshal(in.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	actions, err := json.Marshal(in.FollowUpActions)
	if err != nil {
		return fmt.Errorf("encode follow-up actions: %w", err)
	}
	now := time.Now().UnixMilli()
	if in.CreatedAt == 0 {
		in.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO insights (id, user_id, repo, content, categories, follow_up_actions,
                        sessions_analyzed, events_analyzed, phase, round, answers_received,
                        tokens_used, model, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT(id) DO UPDATE SET
                        content = excluded.content,
                        categories = excluded.categories,
                        follow_up_actions = excluded.follow_up_actions,
                        sessions_analyzed = excluded.sessions_analyzed,
                        events_analyzed = excluded.events_analyzed,
                        phase = excluded.phase,
                        round = excluded.round,
                        answers_received = excluded.answers_received,
                        tokens_used = excluded.tokens_used,
                        model = excluded.model,
                        updated_at = excluded.updated_at`,
		in.ID, in.UserID, nullString(in.Repo), in.Content, string(categories), string(actions),
		in.SessionsAnalyzed, in.EventsAnalyzed, nullString(in.Phase), in.Round, in.AnswersReceived,
		in.TokensUsed, nullString(in.Model), in.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("save insight: %w", err)
	}
	return nil
}

// GetInsight returns one insight by id, or ErrNotFound.
func (s *Store) GetInsight(ctx context.Context, id string) (event.Insight, error) {
	var row insightRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM insights WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Insight{}, ErrNotFound
	}
	if err != nil {
		return event.Insight{}, fmt.Errorf("get insight: %w", err)
	}
	return row.toInsight(), nil
}

// ListInsights returns a user's insights, newest first.
func (s *Store) ListInsights(ctx context.Context, userID string) ([]event.Insight, error) {
	var rows []insightRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM insights WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	insights := make([]event.Insight, 0, len(rows))
	for _, row := range rows {
		insights = append(insights, row.toInsight())
	}
	return insights, nil
}

// SaveQuestion records a follow-up question raised for an insight.
func (s *Store) SaveQuestion(ctx context.Context, q event.Question) error {
	if q.CreatedAt == 0 {
		q.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insight_questions (id, insight_id, text, answer, answered, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.InsightID, q.Text, nullString(q.Answer), q.Answered, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

// AnswerQuestion stores the answer for a question and marks it answered.
func (s *Store) AnswerQuestion(ctx context.Context, id, answer string) (event.Question, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE insight_questions SET answer = ?, answered = 1 WHERE id = ?`, answer, id)
	if err != nil {
		return event.Question{}, fmt.Errorf("answer question: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return event.Question{}, ErrNotFound
	}
	var q event.Question
	if err := s.db.GetContext(ctx, &q, `SELECT id, insight_id, text, COALESCE(answer, '') AS answer, answered, created_at FROM insight_questions WHERE id = ?`, id); err != nil {
		return event.Question{}, fmt.Errorf("reload question: %w", err)
	}
	return q, nil
}

// InsightQuestions returns all questions for an insight in creation order.
func (s *Store) InsightQuestions(ctx context.Context, insightID string) ([]event.Question, error) {
	var questions []event.Question
	err := s.db.SelectContext(ctx, &questions,
		`SELECT id, insight_id, text, COALESCE(answer, '') AS answer, answered, created_at
                 FROM insight_questions WHERE insight_id = ? ORDER BY created_at ASC, id ASC`, insightID)
	if err != nil {
		return nil, fmt.Errorf("insight questions: %w", err)
	}
	return questions, nil
}

// AnalysisState returns the per-user scheduler bookkeeping, zero-valued when
// the user has never been analyzed.
func (s *Store) AnalysisState(ctx context.Context, userID string) (event.AnalysisState, error) {
	var state event.AnalysisState
	err := s.db.GetContext(ctx, &state,
		`SELECT user_id, last_analyzed_at, last_event_timestamp
                 FROM insight_analysis_state WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return event.AnalysisState{UserID: userID}, nil
	}
	if err != nil {
		return event.AnalysisState{}, fmt.Errorf("analysis state: %w", err)
	}
	return state, nil
}

// SaveAnalysisState upserts the per-user scheduler bookkeeping.
func (s *Store) SaveAnalysisState(ctx context.Context, state event.AnalysisState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insight_analysis_state (user_id, last_analyzed_at, last_event_timestamp)
                 VALUES (?, ?, ?)
                 ON CONFLICT(user_id) DO UPDATE SET
                        last_analyzed_at = excluded.last_analyzed_at,
                        last_event_timestamp = excluded.last_event_timestamp`,
		state.UserID, state.LastAnalyzedAt, state.LastEventTimestamp)
	if err != nil {
		return fmt.Errorf("save analysis state: %w", err)
	}
	return nil
}
