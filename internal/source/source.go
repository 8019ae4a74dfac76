// File path: internal/source/source.go
//
// Package source is the plug-in seam for external-data listeners (chat
// feeds, RSS, similar third-party adapters). Listeners are registered on a
// Manager, which starts and stops them with the process and fans their
// output onto the realtime bus as source:* messages.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/common"
)

// Entry is one item produced by a listener.
type Entry struct {
	Source      string      `json:"source"`
	ID          string      `json:"id,omitempty"`
	Title       string      `json:"title,omitempty"`
	URL         string      `json:"url,omitempty"`
	Content     string      `json:"content,omitempty"`
	PublishedAt int64       `json:"publishedAt,omitempty"`
	Meta        interface{} `json:"meta,omitempty"`
}

// Callbacks is handed to a listener at start; the listener invokes them
// from its own goroutines as items arrive or fetches fail.
type Callbacks struct {
	OnEntry func(Entry)
	OnError func(error)
}

// Listener is an external-data adapter. Start must not block; Stop must be
// safe to call when Start failed or was never called.
type Listener interface {
	Name() string
	Start(ctx context.Context, cb Callbacks) error
	Stop()
}

// Syncer is optionally implemented by listeners that can fetch on demand.
type Syncer interface {
	SyncNow(ctx context.Context) error
}

// Manager owns the registered listeners and their bus fan-out.
type Manager struct {
	bus *bus.Bus

	mu        sync.Mutex
	listeners []Listener
	started   bool
}

func NewManager(b *bus.Bus) *Manager {
	return &Manager{bus: b}
}

// Register adds a listener. Registration happens at wiring time, before
// Start.
func (m *Manager) Register(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start starts every registered listener. A listener that fails to start is
// reported on the bus and skipped; the rest keep running.
func (m *Manager) Start(ctx context.Context) error {
	logger := common.Logger()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("source manager already started")
	}
	m.started = true
	for _, l := range m.listeners {
		if err := l.Start(ctx, m.callbacksFor(l.Name())); err != nil {
			logger.Error("source: listener failed to start", "source", l.Name(), "error", err)
			m.publishStatus(l.Name(), "error")
			m.publishError(l.Name(), err)
			continue
		}
		logger.Info("source: listener started", "source", l.Name())
		m.publishStatus(l.Name(), "running")
	}
	return nil
}

// Stop stops every listener and reports the transition.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	for _, l := range m.listeners {
		l.Stop()
		m.publishStatus(l.Name(), "stopped")
	}
}

// SyncNow asks the named listener for an on-demand fetch. Listeners that do
// not implement Syncer report an error.
func (m *Manager) SyncNow(ctx context.Context, name string) error {
	m.mu.Lock()
	var target Listener
	for _, l := range m.listeners {
		if l.Name() == name {
			target = l
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return fmt.Errorf("no listener named %q", name)
	}
	syncer, ok := target.(Syncer)
	if !ok {
		return fmt.Errorf("listener %q does not support on-demand sync", name)
	}
	return syncer.SyncNow(ctx)
}

func (m *Manager) callbacksFor(name string) Callbacks {
	return Callbacks{
		OnEntry: func(e Entry) {
			e.Source = name
			m.bus.Publish(bus.GlobalTopic, bus.Message{Kind: "source:entry", Data: e})
		},
		OnError: func(err error) {
			common.Logger().Warn("source: listener error", "source", name, "error", err)
			m.publishError(name, err)
		},
	}
}

func (m *Manager) publishStatus(name, status string) {
	m.bus.Publish(bus.GlobalTopic, bus.Message{
		Kind: "source:status",
		Data: map[string]string{"source": name, "status": status},
	})
}

func (m *Manager) publishError(name string, err error) {
	m.bus.Publish(bus.GlobalTopic, bus.Message{
		Kind: "source:error",
		Data: map[string]string{"source": name, "error": err.Error()},
	})
}
