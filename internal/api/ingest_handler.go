// File path: internal/api/ingest_handler.go
package api

import (
	"fmt"
	"net/http"

	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/normalize"
)

type ingestRequest struct {
	Source    string                 `json:"source"`
	SessionID string                 `json:"sessionId"`
	Event     normalize.RawEvent     `json:"event"`
	User      map[string]interface{} `json:"user,omitempty"`
	Git       map[string]interface{} `json:"git,omitempty"`
}

type ingestResponse struct {
	OK      bool   `json:"ok"`
	EventID string `json:"eventId"`
}

// handleIngest accepts one raw producer event, normalizes it, persists it, and
// fans it out. Session creation is implicit on first append; duplicate payload
// submissions create duplicate events.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.Source == "" || req.SessionID == "" || req.Event == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source, sessionId, and event are required"))
		return
	}

	spliceTranscript(event.Source(req.Source), req.Event, s.cfg.MaxTranscriptBytes)

	ev := normalize.Normalize(event.Source(req.Source), req.SessionID, req.Event)
	userID := auth.UserID(r.Context())
	if err := s.store.Append(r.Context(), ev, userID); err != nil {
		logger.Error("api: ingest append failed", "session", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if len(req.User) > 0 || len(req.Git) > 0 {
		meta := make(map[string]interface{}, 2)
		if len(req.User) > 0 {
			meta["user"] = req.User
		}
		if len(req.Git) > 0 {
			meta["git"] = req.Git
		}
		if err := s.store.UpdateSessionMeta(r.Context(), req.SessionID, meta); err != nil {
			logger.Warn("api: ingest meta merge failed", "session", req.SessionID, "error", err)
		}
	}

	s.bus.Publish(bus.SessionTopic(ev.SessionID), bus.Message{Kind: "event", Data: ev})
	if session, err := s.store.GetSession(r.Context(), ev.SessionID); err == nil {
		s.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "session:update", Data: session})
	}

	writeJSON(w, http.StatusOK, ingestResponse{OK: true, EventID: ev.ID})
}
