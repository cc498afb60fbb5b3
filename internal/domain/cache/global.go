/*
Package cache keeps the in-memory delivery state of the chat: the bounded global message
window with per-user read cursors, the cursor expiry index with its sweeper, and the bounded
per-conversation rings with last-seen markers.

Every structure here is process-lifetime. A restart starts empty and polls fall back to
the durable store until the windows refill.

Lock order, when two locks are ever held together: ExpiryIndex before Global, and a
conversation ring before the last-seen markers.
*/
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

// Store is the durable read path the caches fall back to.
type Store interface {
	// QueryMessagesAfter returns messages with ID > afterID in ascending ID order.
	// A nil chatID selects the global chat.
	QueryMessagesAfter(ctx context.Context, afterID int64, chatID *int64) ([]model.Message, error)
}

// Cursor is a user's read position in the global chat.
type Cursor struct {
	LastSeenID   int64
	LastActivity time.Time

	// sent holds the IDs above LastSeenID the user wrote, ascending. Poll skips them.
	sent []int64
}

// advance moves the cursor forward and forgets own sends it passed.
func (c *Cursor) advance(id int64) {
	if id > c.LastSeenID {
		c.LastSeenID = id
	}
	i := 0
	for i < len(c.sent) && c.sent[i] <= c.LastSeenID {
		i++
	}
	c.sent = c.sent[i:]
}

// markSent remembers at most limit own sends; the oldest are forgotten first.
func (c *Cursor) markSent(id int64, limit int) {
	i, found := slices.BinarySearch(c.sent, id)
	if found {
		return
	}
	c.sent = slices.Insert(c.sent, i, id)
	if len(c.sent) > limit {
		c.sent = c.sent[len(c.sent)-limit:]
	}
}

func (c *Cursor) wasSent(id int64) bool {
	_, found := slices.BinarySearch(c.sent, id)
	return found
}

// clone detaches the copy from the live cursor's sent slice.
func (c *Cursor) clone() Cursor {
	cp := *c
	cp.sent = slices.Clone(c.sent)
	return cp
}

// Global is the bounded window of the most recent global messages plus every user's cursor.
type Global struct {
	// mu guards ring and cursors.
	mu      sync.RWMutex
	ring    *ring[model.Message]
	cursors map[int64]*Cursor

	// polls serializes Poll per user so a cursor never moves on a stale read.
	polls KeyedMutex

	store  Store
	expiry *ExpiryIndex
	now    func() time.Time
	logger *slog.Logger
}

func NewGlobal(store Store, expiry *ExpiryIndex, opts ...Option) *Global {
	o := newOptions(opts)
	return &Global{
		ring:    newRing[model.Message](o.capacity),
		cursors: make(map[int64]*Cursor),
		store:   store,
		expiry:  expiry,
		now:     o.now,
		logger:  o.logger,
	}
}

// Append adds msg at the newest end, dropping the oldest entry past capacity.
// Callers append in ascending ID order.
func (g *Global) Append(msg model.Message) {
	g.mu.Lock()
	g.ring.push(msg.Clone())
	g.mu.Unlock()
}

// AppendSent appends a user's message and records it as that user's own send under the
// same lock, so a concurrent Poll by the author never returns it.
func (g *Global) AppendSent(msg model.Message) {
	now := g.now()

	g.mu.Lock()
	g.ring.push(msg.Clone())
	if msg.UserID != nil {
		g.recordOwnLocked(*msg.UserID, msg.ID, now)
	}
	g.mu.Unlock()

	if msg.UserID != nil {
		g.expiry.Touch(*msg.UserID, now)
	}
}

// RecordOwnSend marks messageID as already delivered to its sender.
func (g *Global) RecordOwnSend(userID, messageID int64) {
	now := g.now()

	g.mu.Lock()
	g.recordOwnLocked(userID, messageID, now)
	g.mu.Unlock()

	g.expiry.Touch(userID, now)
}

func (g *Global) recordOwnLocked(userID, messageID int64, now time.Time) {
	c, ok := g.cursors[userID]
	if !ok {
		// A sender without a cursor still reads the backlog from the start.
		c = &Cursor{}
		g.cursors[userID] = c
	}
	c.LastActivity = now

	if messageID <= c.LastSeenID {
		return
	}
	// Jump only when nothing the user has not read sits between the cursor and the send.
	if g.onlyOwnBetweenLocked(c, messageID) {
		c.advance(messageID)
		return
	}
	c.markSent(messageID, g.ring.capacity())
}

func (g *Global) onlyOwnBetweenLocked(c *Cursor, hi int64) bool {
	lo := c.LastSeenID
	oldest, ok := g.ring.oldest()
	if !ok || lo < oldest.ID {
		return false
	}

	clean := true
	g.ring.each(func(m model.Message) bool {
		if m.ID > lo && m.ID < hi && !c.wasSent(m.ID) {
			clean = false
			return false
		}
		return true
	})
	return clean
}

// Poll returns every global message userID has not seen yet and advances the cursor.
// Own sends recorded on the live cursor are skipped. A user without a cursor, fresh or
// swept, gets the whole backlog including what they wrote.
//
// The window answers when it still holds the cursor position. Otherwise the store is
// queried for everything after the cursor. Only the store path can fail, and a failure
// leaves the cursor untouched.
func (g *Global) Poll(ctx context.Context, userID int64) ([]model.Message, error) {
	unlock := g.polls.Lock(userID)
	defer unlock()

	g.mu.RLock()
	cur := g.snapshotLocked(userID)
	out, high, hit := g.scanLocked(cur)
	// Taken after the scan so every message it saw was created before now.
	now := g.now()
	g.mu.RUnlock()

	if !hit {
		var err error
		out, high, err = g.fromStore(ctx, userID, cur)
		if err != nil {
			return nil, err
		}
		now = g.now()
	}

	g.mu.Lock()
	c, ok := g.cursors[userID]
	if !ok {
		c = &Cursor{}
		g.cursors[userID] = c
	}
	c.advance(high)
	c.LastActivity = now
	g.mu.Unlock()

	g.expiry.Touch(userID, now)

	return out, nil
}

func (g *Global) snapshotLocked(userID int64) Cursor {
	c, ok := g.cursors[userID]
	if !ok {
		return Cursor{LastActivity: g.now()}
	}
	return c.clone()
}

// scanLocked reports false when the window cannot answer for cur. high is the
// largest ID the scan walked past.
func (g *Global) scanLocked(cur Cursor) (out []model.Message, high int64, hit bool) {
	oldest, ok := g.ring.oldest()
	if !ok || cur.LastSeenID < oldest.ID {
		return nil, cur.LastSeenID, false
	}

	high = cur.LastSeenID
	g.ring.each(func(m model.Message) bool {
		switch {
		case m.ID > cur.LastSeenID:
			high = max(high, m.ID)
			if !cur.wasSent(m.ID) {
				out = append(out, m.Clone())
			}
		case m.IsSystem() && m.CreatedAt.After(cur.LastActivity):
			out = append(out, m.Clone())
		}
		return true
	})
	return out, high, true
}

func (g *Global) fromStore(ctx context.Context, userID int64, cur Cursor) ([]model.Message, int64, error) {
	afterID := cur.LastSeenID
	msgs, err := g.store.QueryMessagesAfter(ctx, afterID, nil)
	if err != nil {
		return nil, afterID, fmt.Errorf("global poll after %d: %w", afterID, err)
	}

	g.logger.Debug("GLOBAL_CACHE_MISS", "user_id", userID, "after_id", afterID, "fetched", len(msgs))

	high := afterID
	out := msgs[:0]
	for _, m := range msgs {
		high = max(high, m.ID)
		if !cur.wasSent(m.ID) {
			out = append(out, m)
		}
	}
	return out, high, nil
}

// evictIdle drops the cursor of userID if it has been idle for at least ttl.
func (g *Global) evictIdle(userID int64, now time.Time, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.cursors[userID]
	if !ok || now.Sub(c.LastActivity) < ttl {
		return false
	}
	delete(g.cursors, userID)
	return true
}

// Cursor returns a copy of the user's cursor.
func (g *Global) Cursor(userID int64) (Cursor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.cursors[userID]
	if !ok {
		return Cursor{}, false
	}
	return c.clone(), true
}

func (g *Global) Cursors() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cursors)
}

func (g *Global) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ring.count()
}
