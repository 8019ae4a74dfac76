// File path: internal/api/cron_handler.go
package api

import (
	"errors"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/store"
)

func (s *Server) handleListCronJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListCronJobs(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []event.CronJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleSaveCronJob(w http.ResponseWriter, r *http.Request) {
	var job event.CronJob
	if err := decodeJSON(r, &job); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if job.CronExpression == "" || job.Prompt == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("cronExpression and prompt are required"))
		return
	}
	if job.ID == "" {
		job.ID = event.NewID()
	}
	job.UserID = auth.UserID(r.Context())
	if err := s.store.SaveCronJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	common.Logger().Info("api: cron job saved", "job", job.ID, "enabled", job.Enabled)
	saved, err := s.store.GetCronJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleUpdateCronJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCronJob(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("cron job not found: %s", id))
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var job event.CronJob
	if err := decodeJSON(r, &job); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	job.ID = id
	job.UserID = auth.UserID(r.Context())
	if err := s.store.SaveCronJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	saved, err := s.store.GetCronJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteCronJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.DeleteCronJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("cron job not found: %s", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleTriggerCronJob runs a job now. The runner still applies its per-job
// overlap guard, so triggering a running job fails fast.
func (s *Server) handleTriggerCronJob(w http.ResponseWriter, r *http.Request) {
	if s.cron == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("cron runner unavailable"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.cron.Trigger(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("cron job not found: %s", id))
			return
		}
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
