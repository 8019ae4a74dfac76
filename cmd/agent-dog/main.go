// File path: cmd/agent-dog/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/coreflowai/agent-dog/internal/agenttools"
	"github.com/coreflowai/agent-dog/internal/api"
	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/config"
	"github.com/coreflowai/agent-dog/internal/cronjob"
	"github.com/coreflowai/agent-dog/internal/insight"
	"github.com/coreflowai/agent-dog/internal/llm"
	"github.com/coreflowai/agent-dog/internal/realtime"
	"github.com/coreflowai/agent-dog/internal/source"
	"github.com/coreflowai/agent-dog/internal/store"
)

func main() {
	logger := common.Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug("agent-dog: .env file not loaded", "error", err)
	} else {
		logger.Info("agent-dog: environment loaded from .env")
	}

	port := flag.Int("port", 0, "listen port (overrides PORT)")
	dbPath := flag.String("db", "", "path to the SQLite database (overrides AGENT_FLOW_DB)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("agent-dog: configuration error", "error", err)
		fmt.Println("configuration error:", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.API.Port = *port
	}
	if trimmed := strings.TrimSpace(*dbPath); trimmed != "" {
		cfg.Store.Path = trimmed
	}

	logger.Info("agent-dog: startup initiated", "port", cfg.API.Port, "db", cfg.Store.Path)

	st, err := store.OpenWithConfig(cfg.Store)
	if err != nil {
		logger.Error("agent-dog: store open failed", "error", err)
		fmt.Println("store error:", err)
		os.Exit(1)
	}
	defer st.Close()

	b := bus.New()
	verifier := auth.NewVerifier(st, cfg.Auth)
	provider := llm.NewProvider()
	logger.Info("agent-dog: llm provider ready", "provider", provider.Name(), "model", provider.Model())
	tools := agenttools.NewRegistry(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := insight.NewScheduler(st, b, provider, tools, cfg.Insight)
	if err := scheduler.Start(); err != nil {
		logger.Error("agent-dog: insight scheduler failed", "error", err)
		fmt.Println("scheduler error:", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	// External-data adapters register here before Start; their entries and
	// status changes fan out to websocket clients via the global topic.
	sources := source.NewManager(b)
	if err := sources.Start(ctx); err != nil {
		logger.Error("agent-dog: source manager failed", "error", err)
		fmt.Println("source manager error:", err)
		os.Exit(1)
	}
	defer sources.Stop()

	runner := cronjob.NewRunner(st, b, provider, tools)
	if err := runner.Start(ctx); err != nil {
		logger.Error("agent-dog: cron runner failed", "error", err)
		fmt.Println("cron runner error:", err)
		os.Exit(1)
	}
	defer runner.Stop()

	server, err := api.NewServer(st, b, verifier, runner, cfg.API)
	if err != nil {
		logger.Error("agent-dog: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}
	server.Mount("/ws", realtime.NewGateway(st, b, verifier))

	fmt.Printf("Serving on :%d\n", cfg.API.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("agent-dog: server stopped", "error", err)
		fmt.Println("server stopped:", err)
		os.Exit(1)
	}
	logger.Info("agent-dog: shutdown complete")
}
