// File path: internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/store"
)

const serverShutdownTimeout = 10 * time.Second

// CronTrigger runs a stored cron job outside its schedule. Satisfied by the
// cron runner; kept as an interface so handler tests can stub it.
type CronTrigger interface {
	Trigger(ctx context.Context, jobID string) error
}

// Config controls the HTTP surface.
type Config struct {
	Port int
	// MaxTranscriptBytes caps how much of a transcript file the ingest
	// splice will read. Zero means the default of 1 MiB.
	MaxTranscriptBytes int64
}

// DefaultConfig returns the standard HTTP configuration.
func DefaultConfig() Config {
	return Config{Port: 3333, MaxTranscriptBytes: 1 << 20}
}

// Merge overlays non-zero fields from the override onto the base configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if override.Port > 0 {
		result.Port = override.Port
	}
	if override.MaxTranscriptBytes > 0 {
		result.MaxTranscriptBytes = override.MaxTranscriptBytes
	}
	return result
}

// LoadConfig reads the HTTP configuration from the environment.
func LoadConfig() Config {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	return cfg
}

// Server is the HTTP facade: ingest, session queries, auth endpoints, hook
// installer, logs, insights, and cron job management.
type Server struct {
	router   chi.Router
	store    *store.Store
	bus      *bus.Bus
	verifier *auth.Verifier
	cron     CronTrigger
	cfg      Config
}

// NewServer wires the router. The realtime gateway is mounted separately by
// the caller via Mount so this package stays off the websocket dependency.
func NewServer(s *store.Store, b *bus.Bus, verifier *auth.Verifier, cron CronTrigger, cfg Config) (*Server, error) {
	if s == nil {
		return nil, fmt.Errorf("store required")
	}
	if b == nil {
		return nil, fmt.Errorf("bus required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		bus:      b,
		verifier: verifier,
		cron:     cron,
		cfg:      DefaultConfig().Merge(cfg),
	}
	srv.routes()
	return srv, nil
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.verifier.Middleware)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Post("/api/auth/sign-in/email", s.handleSignIn)
	s.router.Post("/api/auth/sign-up/email", s.handleSignUp)
	s.router.Get("/api/auth/get-session", s.handleAuthSession)
	s.router.Post("/api/auth/api-key/create", s.handleCreateAPIKey)

	s.router.Post("/api/ingest", s.handleIngest)

	s.router.Get("/api/sessions", s.handleListSessions)
	s.router.Delete("/api/sessions", s.handleClearSessions)
	s.router.Get("/api/sessions/{id}", s.handleGetSession)
	s.router.Delete("/api/sessions/{id}", s.handleDeleteSession)

	s.router.Get("/setup/hook.sh", s.handleHookScript)
	s.router.Get("/api/logs", s.handleLogs)

	s.router.Get("/api/insights", s.handleListInsights)
	s.router.Post("/api/insights/{id}/answers", s.handleInsightAnswer)

	s.router.Get("/api/cron", s.handleListCronJobs)
	s.router.Post("/api/cron", s.handleSaveCronJob)
	s.router.Put("/api/cron/{id}", s.handleUpdateCronJob)
	s.router.Delete("/api/cron/{id}", s.handleDeleteCronJob)
	s.router.Post("/api/cron/{id}/trigger", s.handleTriggerCronJob)
}

// Router exposes the composed handler for mounting and for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Mount attaches an externally built handler (the realtime gateway) under the
// given pattern.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

// ListenAndServe serves the router until the context is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	logger := common.Logger()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api: listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
