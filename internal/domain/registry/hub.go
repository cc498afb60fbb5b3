/*
Package registry maps every user to at most one live connection and pushes events to it.

Lookups happen under a short registry lock; the send itself runs after the lock is
released and is bounded by a timeout, so one slow consumer never stalls the others.
Delivery is best effort: a user without a connection is skipped without error.
*/
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-chat-delivery/internal/domain/event"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

var _ Hubber = (*Hub)(nil)

// Hubber defines the gateway for user session management and event routing.
type Hubber interface {
	Register(conn Connector)
	Unregister(userID int64, connID uuid.UUID)
	Push(ev event.Eventer) bool
	IsConnected(userID int64) bool
	MailboxSize() int
	Stats() model.HubStats
	Shutdown()
}

type hubConfig struct {
	sendTimeout time.Duration
	mailboxSize int
}

type Hub struct {
	mu    sync.RWMutex
	conns map[int64]Connector

	config    hubConfig
	logger    *slog.Logger
	startedAt time.Time
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		conns: make(map[int64]Connector),
		config: hubConfig{
			sendTimeout: 500 * time.Millisecond,
			mailboxSize: 256,
		},
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) MailboxSize() int { return h.config.mailboxSize }

// Register makes conn the user's live connection. A previous connection is
// replaced but left open; its owner tears it down.
func (h *Hub) Register(conn Connector) {
	uID := conn.GetUserID()

	h.mu.Lock()
	prev, replaced := h.conns[uID]
	h.conns[uID] = conn
	h.mu.Unlock()

	if replaced && prev.GetID() != conn.GetID() {
		h.logger.Debug("CONNECTION_REPLACED",
			"user_id", uID,
			"old_conn_id", prev.GetID(),
			"conn_id", conn.GetID(),
		)
	}
}

// Unregister removes the mapping only while it still points at connID, so a late
// teardown of a replaced connection never evicts its successor.
func (h *Hub) Unregister(userID int64, connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.conns[userID]; ok && cur.GetID() == connID {
		delete(h.conns, userID)
	}
}

func (h *Hub) IsConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Push delivers ev to its recipient's connection. It returns false when the user has
// no connection or the send did not go through.
func (h *Hub) Push(ev event.Eventer) bool {
	h.mu.RLock()
	conn, ok := h.conns[ev.GetUserID()]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	if !conn.Send(ev, h.config.sendTimeout) {
		h.logger.Debug("PUSH_DROPPED",
			"user_id", ev.GetUserID(),
			"conn_id", conn.GetID(),
			"kind", ev.GetKind().String(),
		)
		return false
	}
	return true
}

func (h *Hub) Stats() model.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var dropped uint64
	for _, c := range h.conns {
		dropped += c.Dropped()
	}
	return model.HubStats{
		Connections: len(h.conns),
		Dropped:     dropped,
		Uptime:      time.Since(h.startedAt),
	}
}

// Shutdown says goodbye to every connection and closes it.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[int64]Connector)
	h.mu.Unlock()

	for uID, c := range conns {
		bye := event.NewSystemEvent(uID, event.Disconnected, event.PriorityHigh, &model.DisconnectedPayload{
			Reason: "server is shutting down",
			Code:   "SHUTDOWN",
		})
		c.Send(bye, 50*time.Millisecond)
		c.Close()
	}

	h.logger.Info("HUB_SHUTDOWN", "closed", len(conns))
}
