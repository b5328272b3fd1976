package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/arkikgo/internal/arkik"
)

// Message types pushed to operators
const (
	TypeCommitProgress = "COMMIT_PROGRESS"
	TypeCommitFinished = "COMMIT_FINISHED"
	TypeSessionEvent   = "SESSION_EVENT"
)

// Message is the envelope of every pushed event
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
}

// Hub fans import session events out to the operators watching that session.
// It implements arkik.ProgressSink.
type Hub struct {
	// Watching clients: SessionID -> set of clients
	sessions map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger logrus.FieldLogger
}

// NewHub creates a new Hub instance
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.WithField("module", "websocket"),
	}
}

// Run starts the hub's main loop and closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			watchers, ok := h.sessions[client.SessionID]
			if !ok {
				watchers = make(map[*Client]struct{})
				h.sessions[client.SessionID] = watchers
			}
			watchers[client] = struct{}{}
			h.mu.Unlock()
			h.logger.WithField("session_id", client.SessionID).Debug("📱 operator watching session")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.WithField("session_id", client.SessionID).Debug("📴 operator left session")

		case <-ctx.Done():
			h.mu.Lock()
			for _, watchers := range h.sessions {
				for client := range watchers {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove must be called with mu held
func (h *Hub) remove(client *Client) {
	watchers, ok := h.sessions[client.SessionID]
	if !ok {
		return
	}
	if _, ok := watchers[client]; !ok {
		return
	}
	delete(watchers, client)
	close(client.send)
	if len(watchers) == 0 {
		delete(h.sessions, client.SessionID)
	}
}

// Publish sends event to everyone watching sessionID. Slow clients miss events.
func (h *Hub) Publish(sessionID string, event any) {
	msg := Message{Type: messageType(event), SessionID: sessionID, Data: event}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Warn("cannot marshal session event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.sessions[sessionID] {
		select {
		case client.send <- raw:
		default:
			// Buffer full or client dead
		}
	}
}

// Watchers returns how many clients watch sessionID
func (h *Hub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func messageType(event any) string {
	switch event.(type) {
	case arkik.ProgressEvent, *arkik.ProgressEvent:
		return TypeCommitProgress
	case arkik.CommitReport, *arkik.CommitReport:
		return TypeCommitFinished
	default:
		return TypeSessionEvent
	}
}
