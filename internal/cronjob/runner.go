// File path: internal/cronjob/runner.go
//
// Package cronjob executes user-defined scheduled prompts. Each run is a
// synthetic session: the job's prompt drives a bounded tool-calling loop and
// every step is appended and fanned out exactly like an ingested event, so
// the dashboard shows a cron run as a first-class session.
package cronjob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coreflowai/agent-dog/internal/agenttools"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/llm"
	"github.com/coreflowai/agent-dog/internal/store"
)

// MaxIterations bounds the tool-calling loop of one run.
const MaxIterations = 15

// Run outcomes stored on the job.
const (
	RunSuccess = "success"
	RunFailed  = "failed"
)

// ErrAlreadyRunning reports a trigger against a job whose previous run has
// not finished.
var ErrAlreadyRunning = fmt.Errorf("job already running")

const systemPrompt = `You are a scheduled automation agent with read-only SQL access to an
observability database of AI coding sessions. Use the tools to gather what the
task needs, then answer with a concise report.`

// syncInterval is how often the runner reconciles its schedule entries with
// the job table, picking up CRUD changes made through the API.
const syncInterval = time.Minute

// Runner schedules and executes cron jobs.
type Runner struct {
	store    *store.Store
	bus      *bus.Bus
	provider llm.Provider
	tools    *agenttools.Registry
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]scheduledEntry
	running map[string]bool
}

type scheduledEntry struct {
	id   cron.EntryID
	spec string
}

// NewRunner constructs the runner. Start arms the schedules.
func NewRunner(st *store.Store, b *bus.Bus, provider llm.Provider, tools *agenttools.Registry) *Runner {
	return &Runner{
		store:    st,
		bus:      b,
		provider: provider,
		tools:    tools,
		entries:  make(map[string]scheduledEntry),
		running:  make(map[string]bool),
	}
}

// Start loads the enabled jobs, arms their schedules, and keeps them in sync
// with the job table.
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New()
	if err := r.Sync(ctx); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("@every "+syncInterval.String(), func() {
		if err := r.Sync(context.Background()); err != nil {
			common.Logger().Warn("cronjob: schedule sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sync job: %w", err)
	}
	r.cron.Start()
	common.Logger().Info("cronjob: runner started", "jobs", len(r.entries))
	return nil
}

// Stop disarms all schedules and waits for running jobs' cron callbacks.
func (r *Runner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sync reconciles cron entries with the stored job definitions: new and
// changed enabled jobs are (re)scheduled, disabled and deleted jobs are
// removed.
func (r *Runner) Sync(ctx context.Context) error {
	jobs, err := r.store.ListCronJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("load cron jobs: %w", err)
	}
	logger := common.Logger()

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		seen[job.ID] = struct{}{}
		spec := scheduleSpec(job)
		if entry, ok := r.entries[job.ID]; ok {
			if entry.spec == spec {
				continue
			}
			r.cron.Remove(entry.id)
			delete(r.entries, job.ID)
		}
		jobID := job.ID
		entryID, err := r.cron.AddFunc(spec, func() {
			if err := r.runByID(context.Background(), jobID); err != nil && err != ErrAlreadyRunning {
				logger.Error("cronjob: scheduled run failed", "job", jobID, "error", err)
			}
		})
		if err != nil {
			logger.Warn("cronjob: invalid schedule, job skipped", "job", job.ID, "spec", spec, "error", err)
			continue
		}
		r.entries[job.ID] = scheduledEntry{id: entryID, spec: spec}
	}
	for jobID, entry := range r.entries {
		if _, ok := seen[jobID]; !ok {
			r.cron.Remove(entry.id)
			delete(r.entries, jobID)
		}
	}
	return nil
}

// scheduleSpec builds the robfig spec, carrying the job timezone for
// field-based expressions.
func scheduleSpec(job event.CronJob) string {
	expr := strings.TrimSpace(job.CronExpression)
	if job.Timezone != "" && job.Timezone != "UTC" && !strings.HasPrefix(expr, "@") {
		return "CRON_TZ=" + job.Timezone + " " + expr
	}
	return expr
}

// Trigger runs a job now. The schedule is bypassed but the overlap guard is
// not: triggering a running job returns ErrAlreadyRunning.
func (r *Runner) Trigger(ctx context.Context, jobID string) error {
	return r.runByID(ctx, jobID)
}

func (r *Runner) runByID(ctx context.Context, jobID string) error {
	job, err := r.store.GetCronJob(ctx, jobID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.running[job.ID] {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running[job.ID] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, job.ID)
		r.mu.Unlock()
	}()

	return r.run(ctx, job)
}

func (r *Runner) run(ctx context.Context, job event.CronJob) error {
	logger := common.Logger()
	sessionID := event.NewID()
	ranAt := time.Now().UnixMilli()
	logger.Info("cronjob: run starting", "job", job.ID, "session", sessionID)

	r.emit(ctx, job, event.Event{
		ID:        event.NewID(),
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Source:    event.SourceCron,
		Category:  event.CategorySession,
		Type:      event.TypeSessionStart,
		Meta: map[string]interface{}{
			"title": job.Name,
			"cronJob": map[string]interface{}{
				"id":       job.ID,
				"name":     job.Name,
				"schedule": job.CronExpression,
			},
		},
	})
	r.emit(ctx, job, event.Event{
		ID:        event.NewID(),
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Source:    event.SourceCron,
		Category:  event.CategoryMessage,
		Type:      event.TypeMessageUser,
		Role:      "user",
		Text:      job.Prompt,
	})

	status := RunSuccess
	if err := r.toolLoop(ctx, job, sessionID); err != nil {
		status = RunFailed
		r.emit(ctx, job, event.Event{
			ID:        event.NewID(),
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Source:    event.SourceCron,
			Category:  event.CategoryError,
			Type:      event.TypeError,
			Error:     err.Error(),
		})
	}

	r.emit(ctx, job, event.Event{
		ID:        event.NewID(),
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Source:    event.SourceCron,
		Category:  event.CategorySession,
		Type:      event.TypeSessionEnd,
	})

	if err := r.store.RecordCronRun(ctx, job.ID, sessionID, status, ranAt, r.nextRunAt(job)); err != nil {
		logger.Warn("cronjob: run bookkeeping failed", "job", job.ID, "error", err)
	}
	r.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "cron:run", Data: map[string]string{
		"jobId":     job.ID,
		"sessionId": sessionID,
		"status":    status,
	}})
	logger.Info("cronjob: run finished", "job", job.ID, "session", sessionID, "status", status)
	if status == RunFailed {
		return fmt.Errorf("cron job %s run failed", job.ID)
	}
	return nil
}

// toolLoop drives the chat client until it finishes a turn or the iteration
// budget runs out.
func (r *Runner) toolLoop(ctx context.Context, job event.CronJob, sessionID string) error {
	chat := r.provider.NewChat(systemPrompt, r.tools.Defs())
	turn, err := chat.Send(ctx, job.Prompt)
	if err != nil {
		return err
	}
	for i := 0; i < MaxIterations; i++ {
		if turn.FinishReason != llm.FinishToolCalls {
			r.emit(ctx, job, event.Event{
				ID:        event.NewID(),
				SessionID: sessionID,
				Timestamp: time.Now().UnixMilli(),
				Source:    event.SourceCron,
				Category:  event.CategoryMessage,
				Type:      event.TypeMessageAssistant,
				Role:      "assistant",
				Text:      turn.Text,
			})
			return nil
		}
		results := make([]llm.ToolResult, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			r.emit(ctx, job, event.Event{
				ID:        event.NewID(),
				SessionID: sessionID,
				Timestamp: time.Now().UnixMilli(),
				Source:    event.SourceCron,
				Category:  event.CategoryTool,
				Type:      event.TypeToolStart,
				ToolName:  call.Name,
				ToolInput: call.Arguments,
			})
			output := r.tools.Dispatch(ctx, call)
			r.emit(ctx, job, event.Event{
				ID:         event.NewID(),
				SessionID:  sessionID,
				Timestamp:  time.Now().UnixMilli(),
				Source:     event.SourceCron,
				Category:   event.CategoryTool,
				Type:       event.TypeToolEnd,
				ToolName:   call.Name,
				ToolOutput: event.TruncateToolOutput(output),
			})
			results = append(results, llm.ToolResult{ToolCallID: call.ID, Content: output})
		}
		turn, err = chat.SendToolResults(ctx, results)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("tool loop exceeded %d iterations", MaxIterations)
}

// emit appends one synthetic event and fans it out like an ingested event.
func (r *Runner) emit(ctx context.Context, job event.CronJob, ev event.Event) {
	if err := r.store.Append(ctx, ev, job.UserID); err != nil {
		common.Logger().Error("cronjob: event append failed", "job", job.ID, "type", ev.Type, "error", err)
		return
	}
	r.bus.Publish(bus.SessionTopic(ev.SessionID), bus.Message{Kind: "event", Data: ev})
	if session, err := r.store.GetSession(ctx, ev.SessionID); err == nil {
		r.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "session:update", Data: session})
	}
}

// nextRunAt computes the job's next scheduled wake-up, zero when the spec
// cannot be parsed or the job is disabled.
func (r *Runner) nextRunAt(job event.CronJob) int64 {
	if !job.Enabled {
		return 0
	}
	sched, err := cron.ParseStandard(scheduleSpec(job))
	if err != nil {
		return 0
	}
	return sched.Next(time.Now()).UnixMilli()
}
