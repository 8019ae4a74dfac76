// File path: internal/api/insights_handler.go
package api

import (
	"errors"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/store"
)

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	insights, err := s.store.ListInsights(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if insights == nil {
		insights = []event.Insight{}
	}
	writeJSON(w, http.StatusOK, insights)
}

type insightAnswerRequest struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// handleInsightAnswer records an answer to one follow-up question and signals
// the scheduler that the question's thread is ready for refinement.
func (s *Server) handleInsightAnswer(w http.ResponseWriter, r *http.Request) {
	insightID := chi.URLParam(r, "id")
	var req insightAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.QuestionID == "" || req.Answer == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("questionId and answer are required"))
		return
	}
	if _, err := s.store.GetInsight(r.Context(), insightID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("insight not found: %s", insightID))
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	question, err := s.store.AnswerQuestion(r.Context(), req.QuestionID, req.Answer)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("question not found: %s", req.QuestionID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.bus.Publish(bus.ThreadReadyTopic(question.ID), bus.Message{Kind: "thread:ready", Data: question})
	writeJSON(w, http.StatusOK, question)
}
