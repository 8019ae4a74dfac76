// File path: internal/cronjob/runner_test.go
package cronjob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreflowai/agent-dog/internal/agenttools"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/llm"
	"github.com/coreflowai/agent-dog/internal/store"
)

// scriptProvider replays staged turns; a nil turn entry makes the chat fail.
type scriptProvider struct {
	mu      sync.Mutex
	turns   []*llm.Turn
	blockCh chan struct{} // when set, Send blocks until closed
}

func (p *scriptProvider) NewChat(system string, tools []llm.ToolDef) llm.Chat {
	return &scriptChat{p: p}
}
func (p *scriptProvider) Model() string { return "stub-model" }
func (p *scriptProvider) Name() string  { return "script" }

type scriptChat struct{ p *scriptProvider }

func (c *scriptChat) next() (*llm.Turn, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if len(c.p.turns) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}
	turn := c.p.turns[0]
	c.p.turns = c.p.turns[1:]
	if turn == nil {
		return nil, fmt.Errorf("provider unavailable")
	}
	return turn, nil
}

func (c *scriptChat) Send(ctx context.Context, content string) (*llm.Turn, error) {
	if c.p.blockCh != nil {
		<-c.p.blockCh
	}
	return c.next()
}
func (c *scriptChat) SendToolResults(ctx context.Context, results []llm.ToolResult) (*llm.Turn, error) {
	return c.next()
}
func (c *scriptChat) TokensUsed() int { return 0 }

func newTestRunner(t *testing.T, provider llm.Provider) (*Runner, *store.Store, *bus.Bus) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cron-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New()
	return NewRunner(st, b, provider, agenttools.NewRegistry(st)), st, b
}

func saveJob(t *testing.T, st *store.Store, job event.CronJob) event.CronJob {
	t.Helper()
	if job.ID == "" {
		job.ID = event.NewID()
	}
	if err := st.SaveCronJob(context.Background(), job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	saved, err := st.GetCronJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return saved
}

func eventTypes(events []event.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestTriggerRunsSyntheticSession(t *testing.T) {
	provider := &scriptProvider{turns: []*llm.Turn{
		{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{{
			ID: "call-1", Name: "query_events",
			Arguments: `{"sql": "SELECT COUNT(*) AS n FROM events"}`,
		}}},
		{FinishReason: llm.FinishStop, Text: "No activity in the last day."},
	}}
	runner, st, b := newTestRunner(t, provider)
	job := saveJob(t, st, event.CronJob{
		UserID:         "user-1",
		Name:           "daily digest",
		Prompt:         "Summarize yesterday's sessions",
		CronExpression: "0 6 * * *",
		Enabled:        true,
	})

	globalSub := b.Subscribe(bus.GlobalTopic)
	defer globalSub.Unsubscribe()

	ctx := context.Background()
	if err := runner.Trigger(ctx, job.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	updated, err := st.GetCronJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if updated.TotalRuns != 1 || updated.LastRunStatus != RunSuccess || updated.LastRunSessionID == "" {
		t.Fatalf("run bookkeeping wrong: %+v", updated)
	}
	if updated.NextRunAt == 0 {
		t.Fatalf("nextRunAt not computed")
	}

	events, err := st.GetSessionEvents(ctx, updated.LastRunSessionID)
	if err != nil {
		t.Fatalf("load session events: %v", err)
	}
	want := []string{
		event.TypeSessionStart,
		event.TypeMessageUser,
		event.TypeToolStart,
		event.TypeToolEnd,
		event.TypeMessageAssistant,
		event.TypeSessionEnd,
	}
	got := eventTypes(events)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence: %v", got)
	}
	if events[0].Meta["title"] != "daily digest" {
		t.Fatalf("session.start meta missing title: %+v", events[0].Meta)
	}
	if events[0].Source != event.SourceCron {
		t.Fatalf("wrong source: %s", events[0].Source)
	}
	if events[1].Text != "Summarize yesterday's sessions" {
		t.Fatalf("prompt not carried: %q", events[1].Text)
	}
	if events[2].ToolName != "query_events" {
		t.Fatalf("tool name missing: %+v", events[2])
	}

	session, err := st.GetSession(ctx, updated.LastRunSessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != event.StatusCompleted || session.UserID != "user-1" {
		t.Fatalf("session state wrong: %+v", session)
	}

	sawCronRun := false
	for {
		select {
		case msg := <-globalSub.C():
			if msg.Kind == "cron:run" {
				sawCronRun = true
			}
			continue
		default:
		}
		break
	}
	if !sawCronRun {
		t.Fatalf("no cron:run broadcast")
	}
}

func TestRunFailureEmitsErrorEvent(t *testing.T) {
	provider := &scriptProvider{turns: []*llm.Turn{nil}}
	runner, st, _ := newTestRunner(t, provider)
	job := saveJob(t, st, event.CronJob{
		UserID:         "user-1",
		Name:           "broken job",
		Prompt:         "do something",
		CronExpression: "0 6 * * *",
		Enabled:        true,
	})

	ctx := context.Background()
	if err := runner.Trigger(ctx, job.ID); err == nil {
		t.Fatalf("expected failed run to return an error")
	}

	updated, err := st.GetCronJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if updated.LastRunStatus != RunFailed || updated.TotalRuns != 1 {
		t.Fatalf("failure bookkeeping wrong: %+v", updated)
	}

	events, err := st.GetSessionEvents(ctx, updated.LastRunSessionID)
	if err != nil {
		t.Fatalf("load session events: %v", err)
	}
	got := eventTypes(events)
	want := []string{
		event.TypeSessionStart,
		event.TypeMessageUser,
		event.TypeError,
		event.TypeSessionEnd,
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence: %v", got)
	}
}

func TestOverlapGuard(t *testing.T) {
	block := make(chan struct{})
	provider := &scriptProvider{
		turns:   []*llm.Turn{{FinishReason: llm.FinishStop, Text: "done"}},
		blockCh: block,
	}
	runner, st, _ := newTestRunner(t, provider)
	job := saveJob(t, st, event.CronJob{
		UserID:         "user-1",
		Name:           "slow job",
		Prompt:         "take a while",
		CronExpression: "0 6 * * *",
		Enabled:        true,
	})

	done := make(chan error, 1)
	go func() { done <- runner.Trigger(context.Background(), job.ID) }()

	// Wait until the first run holds the guard.
	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.mu.Lock()
		held := runner.running[job.ID]
		runner.mu.Unlock()
		if held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := runner.Trigger(context.Background(), job.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	runner, _, _ := newTestRunner(t, &scriptProvider{})
	err := runner.Trigger(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncSchedulesEnabledJobsOnly(t *testing.T) {
	runner, st, _ := newTestRunner(t, &scriptProvider{})
	enabled := saveJob(t, st, event.CronJob{
		UserID: "user-1", Name: "on", Prompt: "p",
		CronExpression: "0 6 * * *", Enabled: true,
	})
	disabled := saveJob(t, st, event.CronJob{
		UserID: "user-1", Name: "off", Prompt: "p",
		CronExpression: "0 7 * * *", Enabled: false,
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	runner.mu.Lock()
	_, hasEnabled := runner.entries[enabled.ID]
	_, hasDisabled := runner.entries[disabled.ID]
	runner.mu.Unlock()
	if !hasEnabled || hasDisabled {
		t.Fatalf("schedule state wrong: enabled=%v disabled=%v", hasEnabled, hasDisabled)
	}

	// Disabling the job drops its entry on the next sync.
	enabled.Enabled = false
	if err := st.SaveCronJob(context.Background(), enabled); err != nil {
		t.Fatalf("disable job: %v", err)
	}
	if err := runner.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	runner.mu.Lock()
	_, still := runner.entries[enabled.ID]
	runner.mu.Unlock()
	if still {
		t.Fatalf("disabled job still scheduled")
	}
}
