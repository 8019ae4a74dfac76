// File path: internal/realtime/gateway.go
//
// Package realtime is the websocket gateway. Each connection authenticates at
// the handshake, receives a sessions:list snapshot, and can subscribe to
// individual session rooms. Session history is delivered before any live
// event for that session, with no gaps and no duplicates across the boundary.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/bus"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/event"
	"github.com/coreflowai/agent-dog/internal/store"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 256
)

// ClientMessage is a command sent by the browser: subscribe or unsubscribe to
// one session room.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServerMessage is one frame pushed to the client.
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// SessionEvents is the one-shot history payload sent on subscribe.
type SessionEvents struct {
	SessionID string        `json:"sessionId"`
	Events    []event.Event `json:"events"`
}

// Gateway upgrades HTTP requests and bridges the bus to websocket clients.
type Gateway struct {
	store    *store.Store
	bus      *bus.Bus
	verifier *auth.Verifier
	upgrader websocket.Upgrader
}

// NewGateway constructs the websocket endpoint handler.
func NewGateway(s *store.Store, b *bus.Bus, verifier *auth.Verifier) *Gateway {
	return &Gateway{
		store:    s,
		bus:      b,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the dashboard origin, CLI
			// clients from anywhere; credentials gate access instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the handshake and runs the connection. Credentials
// are the HTTP scheme's: session cookie, x-api-key header, or a "key" query
// parameter for clients that cannot set headers.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	userID, err := g.verifier.Verify(r)
	if err != nil {
		if key := r.URL.Query().Get("key"); key != "" {
			userID, err = g.verifier.VerifyKey(r.Context(), key)
		}
	}
	if err != nil || userID == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("realtime: upgrade failed", "error", err)
		return
	}

	c := &connection{
		gateway: g,
		ws:      ws,
		userID:  userID,
		send:    make(chan ServerMessage, sendQueueSize),
		done:    make(chan struct{}),
		subs:    make(map[string]*bus.Subscription),
	}
	logger.Debug("realtime: connected", "user", userID, "remote", r.RemoteAddr)
	c.run()
}

type connection struct {
	gateway *Gateway
	ws      *websocket.Conn
	userID  string
	send    chan ServerMessage
	done    chan struct{}

	mu   sync.Mutex
	subs map[string]*bus.Subscription
}

// run drives the connection. Store reads use Background: the socket is
// long-lived and reads should not inherit the handshake request's lifetime.
func (c *connection) run() {
	go c.writeLoop()
	defer c.close()

	// Initial snapshot of all sessions, then the global feed.
	sessions, err := c.gateway.store.ListSessions(context.Background())
	if err != nil {
		common.Logger().Warn("realtime: session snapshot failed", "error", err)
		sessions = nil
	}
	if sessions == nil {
		sessions = []event.Session{}
	}
	c.enqueue(ServerMessage{Type: "sessions:list", Data: sessions})

	globalSub := c.gateway.bus.Subscribe(bus.GlobalTopic)
	c.trackSub(bus.GlobalTopic, globalSub)
	go c.pump(globalSub, nil)

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.SessionID != "" {
				c.subscribeSession(msg.SessionID)
			}
		case "unsubscribe":
			if msg.SessionID != "" {
				c.unsubscribeSession(msg.SessionID)
			}
		default:
			c.enqueue(ServerMessage{Type: "error", Data: map[string]string{"message": "unknown command: " + msg.Type}})
		}
	}
}

// subscribeSession joins the session room. Order of operations matters: join
// the bus topic first so live events queue up, then read history, send it,
// and only then start forwarding the queued live events, dropping any that
// the history already covered.
func (c *connection) subscribeSession(sessionID string) {
	c.mu.Lock()
	if _, exists := c.subs[bus.SessionTopic(sessionID)]; exists {
		c.mu.Unlock()
		return
	}
	sub := c.gateway.bus.Subscribe(bus.SessionTopic(sessionID))
	c.subs[bus.SessionTopic(sessionID)] = sub
	c.mu.Unlock()

	history, err := c.gateway.store.GetSessionEvents(context.Background(), sessionID)
	if err != nil {
		common.Logger().Warn("realtime: history load failed", "session", sessionID, "error", err)
	}
	if history == nil {
		history = []event.Event{}
	}
	seen := make(map[string]struct{}, len(history))
	for _, ev := range history {
		seen[ev.ID] = struct{}{}
	}
	c.enqueue(ServerMessage{Type: "session:events", Data: SessionEvents{SessionID: sessionID, Events: history}})

	go c.pump(sub, seen)
}

func (c *connection) unsubscribeSession(sessionID string) {
	c.mu.Lock()
	sub, ok := c.subs[bus.SessionTopic(sessionID)]
	if ok {
		delete(c.subs, bus.SessionTopic(sessionID))
	}
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// pump forwards bus messages to the send queue. For session rooms, events
// whose id appeared in the history snapshot are skipped; they reached the
// queue between subscribe and snapshot and would otherwise arrive twice.
func (c *connection) pump(sub *bus.Subscription, snapshot map[string]struct{}) {
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if snapshot != nil {
				if ev, isEvent := msg.Data.(event.Event); isEvent {
					if _, dup := snapshot[ev.ID]; dup {
						continue
					}
				}
			}
			c.enqueue(ServerMessage{Type: msg.Kind, Data: msg.Data})
		case <-c.done:
			return
		}
	}
}

func (c *connection) enqueue(msg ServerMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressured client: drop, same contract as the bus.
	}
}

func (c *connection) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) trackSub(topic string, sub *bus.Subscription) {
	c.mu.Lock()
	c.subs[topic] = sub
	c.mu.Unlock()
}

func (c *connection) close() {
	close(c.done)
	c.mu.Lock()
	subs := make([]*bus.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = map[string]*bus.Subscription{}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	_ = c.ws.Close()
}
