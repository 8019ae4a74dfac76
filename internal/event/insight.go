// File path: internal/event/insight.go
package event

// Insight phases. An insight with open questions starts preliminary and either
// refines once answers arrive or settles as final-no-answers when no answer
// channel exists.
const (
	PhasePreliminary    = "preliminary"
	PhaseRefined        = "refined"
	PhaseFinalNoAnswers = "final-no-answers"
)

// FollowUpAction is one recommended action attached to an insight.
type FollowUpAction struct {
	Title    string `json:"title"`
	Priority string `json:"priority"` // low | medium | high
	Category string `json:"category"` // tooling | workflow | knowledge | other
}

// Insight is one analysis artifact over a (user, optional repo, window).
type Insight struct {
	ID               string           `json:"id" db:"id"`
	UserID           string           `json:"userId" db:"user_id"`
	Repo             string           `json:"repo,omitempty" db:"repo"`
	Content          string           `json:"content" db:"content"`
	Categories       []string         `json:"categories,omitempty"`
	FollowUpActions  []FollowUpAction `json:"followUpActions,omitempty"`
	SessionsAnalyzed int              `json:"sessionsAnalyzed" db:"sessions_analyzed"`
	EventsAnalyzed   int              `json:"eventsAnalyzed" db:"events_analyzed"`
	Phase            string           `json:"phase,omitempty" db:"phase"`
	Round            int              `json:"round" db:"round"`
	AnswersReceived  int              `json:"answersReceived" db:"answers_received"`
	TokensUsed       int              `json:"tokensUsed" db:"tokens_used"`
	Model            string           `json:"model,omitempty" db:"model"`
	CreatedAt        int64            `json:"createdAt" db:"created_at"`
	UpdatedAt        int64            `json:"updatedAt" db:"updated_at"`
}

// Question is one follow-up question raised by the analyzer for an insight.
type Question struct {
	ID        string `json:"id" db:"id"`
	InsightID string `json:"insightId" db:"insight_id"`
	Text      string `json:"text" db:"text"`
	Answer    string `json:"answer,omitempty" db:"answer"`
	Answered  bool   `json:"answered" db:"answered"`
	CreatedAt int64  `json:"createdAt" db:"created_at"`
}

// AnalysisState tracks, per user, where the insight scheduler left off.
type AnalysisState struct {
	UserID             string `json:"userId" db:"user_id"`
	LastAnalyzedAt     int64  `json:"lastAnalyzedAt" db:"last_analyzed_at"`
	LastEventTimestamp int64  `json:"lastEventTimestamp" db:"last_event_timestamp"`
}

// CronJob is a user-defined scheduled prompt. CronExpression is canonical;
// ScheduleText is a human echo kept for the UI only.
type CronJob struct {
	ID               string `json:"id" db:"id"`
	UserID           string `json:"userId" db:"user_id"`
	Name             string `json:"name" db:"name"`
	Prompt           string `json:"prompt" db:"prompt"`
	ScheduleText     string `json:"scheduleText" db:"schedule_text"`
	CronExpression   string `json:"cronExpression" db:"cron_expression"`
	Timezone         string `json:"timezone" db:"timezone"`
	Enabled          bool   `json:"enabled" db:"enabled"`
	NotifySlack      bool   `json:"notifySlack" db:"notify_slack"`
	LastRunAt        int64  `json:"lastRunAt,omitempty" db:"last_run_at"`
	LastRunSessionID string `json:"lastRunSessionId,omitempty" db:"last_run_session_id"`
	LastRunStatus    string `json:"lastRunStatus,omitempty" db:"last_run_status"`
	NextRunAt        int64  `json:"nextRunAt,omitempty" db:"next_run_at"`
	TotalRuns        int    `json:"totalRuns" db:"total_runs"`
}
