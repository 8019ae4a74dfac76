// File path: internal/event/event.go
package event

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies the upstream producer of an event.
type Source string

const (
	SourceClaudeCode Source = "claude-code"
	SourceCodex      Source = "codex"
	SourceOpenCode   Source = "opencode"
	SourceCron       Source = "cron"
	SourceSandbox    Source = "sandbox"
)

// Category is the coarse classification of an event.
type Category string

const (
	CategorySession Category = "session"
	CategoryMessage Category = "message"
	CategoryTool    Category = "tool"
	CategoryError   Category = "error"
	CategorySystem  Category = "system"
)

// Well-known event types. Types are lowercase dot-separated verbs; unknown
// producer payloads keep their raw type and fall into CategorySystem.
const (
	TypeSessionStart     = "session.start"
	TypeSessionEnd       = "session.end"
	TypeMessageUser      = "message.user"
	TypeMessageAssistant = "message.assistant"
	TypeToolStart        = "tool.start"
	TypeToolEnd          = "tool.end"
	TypeTurnStart        = "turn.start"
	TypeError            = "error"
)

// Session status values as stored. The effective status additionally applies
// the stale-timeout rule at read time.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusArchived  = "archived"
)

// StaleTimeout is the inactivity window after which an active session reads
// back as completed.
const StaleTimeout = 2 * time.Minute

// Event is the atomic, immutable record of one observation inside a session.
type Event struct {
	ID         string                 `json:"id" db:"id"`
	SessionID  string                 `json:"sessionId" db:"session_id"`
	Timestamp  int64                  `json:"timestamp" db:"timestamp"`
	Source     Source                 `json:"source" db:"source"`
	Category   Category               `json:"category" db:"category"`
	Type       string                 `json:"type" db:"type"`
	Role       string                 `json:"role,omitempty" db:"role"`
	Text       string                 `json:"text,omitempty" db:"text"`
	ToolName   string                 `json:"toolName,omitempty" db:"tool_name"`
	ToolInput  interface{}            `json:"toolInput,omitempty"`
	ToolOutput interface{}            `json:"toolOutput,omitempty"`
	Error      string                 `json:"error,omitempty" db:"error"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Session groups events under a producer-chosen opaque id.
type Session struct {
	ID            string                 `json:"id" db:"id"`
	Source        Source                 `json:"source" db:"source"`
	StartTime     int64                  `json:"startTime" db:"start_time"`
	LastEventTime int64                  `json:"lastEventTime" db:"last_event_time"`
	Status        string                 `json:"status" db:"status"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	UserID        string                 `json:"userId,omitempty" db:"user_id"`

	// Derived at read time, never stored.
	EventCount    int    `json:"eventCount"`
	LastEventType string `json:"lastEventType,omitempty"`
	LastEventText string `json:"lastEventText,omitempty"`
}

// EffectiveStatus applies the stale-timeout rule to the stored status: an
// active session with no event inside StaleTimeout reads back as completed.
func (s Session) EffectiveStatus(now time.Time) string {
	if s.Status == StatusActive && now.UnixMilli()-s.LastEventTime > StaleTimeout.Milliseconds() {
		return StatusCompleted
	}
	return s.Status
}

// NewID returns a fresh opaque event id.
func NewID() string {
	return uuid.NewString()
}
