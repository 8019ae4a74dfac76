// File path: internal/insight/scheduler.go
//
// Package insight runs periodic analysis over each user's recent activity.
// The analyzer is an LLM given read-only SQL tools; its JSON result is stored
// as an Insight. Follow-up questions open a refinement loop driven by
// thread:ready signals from the answers endpoint.
package insight

import (
	"context"
	"fmt"
	"os"
	"strconv"
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

// MaxRounds bounds the question/answer refinement loop per insight.
const MaxRounds = 3

// Config controls the scheduler cadence and sensitivity.
type Config struct {
	// Cadence is a cron spec. Default: every 5 hours.
	Cadence string
	// MinNewEvents is the per-user activity threshold below which a run
	// skips the user.
	MinNewEvents int
	// MaxToolIterations bounds one analyzer conversation.
	MaxToolIterations int
}

// DefaultConfig returns the standard scheduler configuration.
func DefaultConfig() Config {
	return Config{Cadence: "@every 5h", MinNewEvents: 5, MaxToolIterations: 10}
}

// Merge overlays non-zero fields from the override onto the base configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Cadence) != "" {
		result.Cadence = strings.TrimSpace(override.Cadence)
	}
	if override.MinNewEvents > 0 {
		result.MinNewEvents = override.MinNewEvents
	}
	if override.MaxToolIterations > 0 {
		result.MaxToolIterations = override.MaxToolIterations
	}
	return result
}

// LoadConfig reads the scheduler configuration from the environment.
func LoadConfig() Config {
	cfg := DefaultConfig()
	if cadence := strings.TrimSpace(os.Getenv("INSIGHT_CADENCE")); cadence != "" {
		cfg.Cadence = cadence
	}
	if raw := strings.TrimSpace(os.Getenv("INSIGHT_MIN_EVENTS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MinNewEvents = n
		}
	}
	return cfg
}

// Scheduler owns the periodic analysis job and the refinement listeners.
type Scheduler struct {
	store    *store.Store
	bus      *bus.Bus
	provider llm.Provider
	tools    *agenttools.Registry
	cfg      Config
	cron     *cron.Cron

	mu        sync.Mutex
	refining  map[string]bool // insight id -> refinement in flight
	listeners sync.WaitGroup
	stopped   chan struct{}
}

// NewScheduler wires the analysis job. Start must be called to arm the cron.
func NewScheduler(st *store.Store, b *bus.Bus, provider llm.Provider, tools *agenttools.Registry, cfg Config) *Scheduler {
	return &Scheduler{
		store:    st,
		bus:      b,
		provider: provider,
		tools:    tools,
		cfg:      DefaultConfig().Merge(cfg),
		refining: make(map[string]bool),
		stopped:  make(chan struct{}),
	}
}

// Start arms the cron schedule. A tick is skipped while the previous run is
// still executing.
func (s *Scheduler) Start() error {
	logger := common.Logger()
	c := cron.New()
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if err := s.RunOnce(context.Background()); err != nil {
			logger.Error("insight: scheduled run failed", "error", err)
		}
	}))
	if _, err := c.AddJob(s.cfg.Cadence, job); err != nil {
		return fmt.Errorf("schedule insight job: %w", err)
	}
	c.Start()
	s.cron = c
	logger.Info("insight: scheduler armed", "cadence", s.cfg.Cadence, "threshold", s.cfg.MinNewEvents)
	return nil
}

// Stop disarms the cron and waits for refinement listeners to exit.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	close(s.stopped)
	s.listeners.Wait()
}

// RunOnce analyzes every user with enough new activity since the last run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	logger := common.Logger()
	users, err := s.store.ActiveUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("enumerate users: %w", err)
	}
	for _, userID := range users {
		state, err := s.store.AnalysisState(ctx, userID)
		if err != nil {
			logger.Warn("insight: analysis state load failed", "user", userID, "error", err)
			continue
		}
		newEvents, err := s.store.CountUserEventsSince(ctx, userID, state.LastEventTimestamp)
		if err != nil {
			logger.Warn("insight: activity count failed", "user", userID, "error", err)
			continue
		}
		if newEvents < s.cfg.MinNewEvents {
			logger.Debug("insight: below threshold, skipping", "user", userID, "new_events", newEvents)
			continue
		}
		if err := s.analyzeUser(ctx, userID, state); err != nil {
			logger.Error("insight: analysis failed", "user", userID, "error", err)
			s.bus.Publish(bus.GlobalTopic, bus.Message{
				Kind: "insight:error",
				Data: map[string]string{"userId": userID, "error": err.Error()},
			})
		}
	}
	return nil
}

func (s *Scheduler) analyzeUser(ctx context.Context, userID string, state event.AnalysisState) error {
	logger := common.Logger()
	result, tokens, err := s.analyze(ctx, initialPrompt(userID, state.LastEventTimestamp))
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	in := event.Insight{
		ID:               event.NewID(),
		UserID:           userID,
		Content:          result.render(),
		Categories:       result.categories(),
		FollowUpActions:  result.FollowUpActions,
		SessionsAnalyzed: result.Stats.SessionsAnalyzed,
		EventsAnalyzed:   result.Stats.EventsAnalyzed,
		Round:            1,
		TokensUsed:       tokens,
		Model:            s.provider.Model(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	switch {
	case len(result.Questions) > 0 && s.bus != nil:
		in.Phase = event.PhasePreliminary
	case len(result.Questions) > 0:
		in.Phase = event.PhaseFinalNoAnswers
	}

	if err := s.store.SaveInsight(ctx, in); err != nil {
		return err
	}
	if latest, err := s.store.LatestUserEventTimestamp(ctx, userID); err == nil {
		_ = s.store.SaveAnalysisState(ctx, event.AnalysisState{
			UserID:             userID,
			LastAnalyzedAt:     now,
			LastEventTimestamp: latest,
		})
	}

	if in.Phase == event.PhasePreliminary {
		for _, text := range result.Questions {
			q := event.Question{ID: event.NewID(), InsightID: in.ID, Text: text}
			if err := s.store.SaveQuestion(ctx, q); err != nil {
				logger.Warn("insight: question save failed", "insight", in.ID, "error", err)
				continue
			}
			s.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "question:new", Data: q})
			s.listenForAnswer(in.ID, q.ID)
		}
	}

	logger.Info("insight: stored", "insight", in.ID, "user", userID, "phase", in.Phase, "questions", len(result.Questions))
	s.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "insight:new", Data: in})
	return nil
}

// listenForAnswer waits for the question's thread:ready signal and kicks off
// a refinement round when it arrives.
func (s *Scheduler) listenForAnswer(insightID, questionID string) {
	sub := s.bus.Subscribe(bus.ThreadReadyTopic(questionID))
	s.listeners.Add(1)
	go func() {
		defer s.listeners.Done()
		defer sub.Unsubscribe()
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.Refine(context.Background(), insightID); err != nil {
				common.Logger().Error("insight: refinement failed", "insight", insightID, "error", err)
				s.bus.Publish(bus.GlobalTopic, bus.Message{
					Kind: "insight:error",
					Data: map[string]string{"insightId": insightID, "error": err.Error()},
				})
			}
		case <-s.stopped:
		}
	}()
}

// Refine re-runs the analyzer over the insight plus its answered questions and
// updates the insight in place. Rounds are bounded by MaxRounds; the final
// round always settles the phase.
func (s *Scheduler) Refine(ctx context.Context, insightID string) error {
	s.mu.Lock()
	if s.refining[insightID] {
		s.mu.Unlock()
		return nil
	}
	s.refining[insightID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.refining, insightID)
		s.mu.Unlock()
	}()

	in, err := s.store.GetInsight(ctx, insightID)
	if err != nil {
		return fmt.Errorf("load insight: %w", err)
	}
	questions, err := s.store.InsightQuestions(ctx, insightID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	var answered []event.Question
	for _, q := range questions {
		if q.Answered {
			answered = append(answered, q)
		}
	}
	if len(answered) == 0 {
		return nil
	}

	result, tokens, err := s.analyze(ctx, refinementPrompt(in, answered))
	if err != nil {
		return err
	}

	in.Content = result.render()
	in.Categories = result.categories()
	in.FollowUpActions = result.FollowUpActions
	in.Round++
	in.AnswersReceived = len(answered)
	in.TokensUsed += tokens
	in.UpdatedAt = time.Now().UnixMilli()
	if result.Stats.SessionsAnalyzed > 0 {
		in.SessionsAnalyzed = result.Stats.SessionsAnalyzed
	}
	if result.Stats.EventsAnalyzed > 0 {
		in.EventsAnalyzed = result.Stats.EventsAnalyzed
	}

	if len(result.Questions) > 0 && in.Round < MaxRounds {
		in.Phase = event.PhasePreliminary
	} else {
		in.Phase = event.PhaseRefined
	}

	if err := s.store.SaveInsight(ctx, in); err != nil {
		return err
	}
	if in.Phase == event.PhasePreliminary {
		for _, text := range result.Questions {
			q := event.Question{ID: event.NewID(), InsightID: in.ID, Text: text}
			if err := s.store.SaveQuestion(ctx, q); err != nil {
				continue
			}
			s.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "question:new", Data: q})
			s.listenForAnswer(in.ID, q.ID)
		}
	}
	common.Logger().Info("insight: refined", "insight", in.ID, "round", in.Round, "phase", in.Phase)
	s.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "insight:updated", Data: in})
	return nil
}
