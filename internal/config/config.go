// File path: internal/config/config.go
//
// Package config gathers the per-subsystem configurations for the service
// entrypoint. Each subsystem owns its Config type and env parsing; this
// package only composes them.
package config

import (
	"fmt"

	"github.com/coreflowai/agent-dog/internal/api"
	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/insight"
	"github.com/coreflowai/agent-dog/internal/store"
)

// Config is the full service configuration.
type Config struct {
	Store   store.Config
	API     api.Config
	Auth    auth.Config
	Insight insight.Config
}

// Load reads every subsystem's configuration from the environment.
func Load() (Config, error) {
	authCfg, err := auth.LoadConfig()
	if err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}
	return Config{
		Store:   store.LoadConfig(),
		API:     api.LoadConfig(),
		Auth:    authCfg,
		Insight: insight.LoadConfig(),
	}, nil
}
