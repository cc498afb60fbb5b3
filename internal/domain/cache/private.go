package cache

import (
	"sync"

	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

type conversationRing struct {
	mu   sync.RWMutex
	ring *ring[model.Message]
}

type seenKey struct {
	userID int64
	chatID int64
}

// Private keeps a bounded ring of recent messages per conversation and every
// participant's last-seen marker. Rings have independent locks, so writers in
// different conversations never contend.
type Private struct {
	rings    sync.Map // int64 -> *conversationRing
	capacity int

	seenMu sync.RWMutex
	seen   map[seenKey]int64
}

func NewPrivate(opts ...Option) *Private {
	o := newOptions(opts)
	return &Private{
		capacity: o.capacity,
		seen:     make(map[seenKey]int64),
	}
}

func (p *Private) conversation(chatID int64) *conversationRing {
	if v, ok := p.rings.Load(chatID); ok {
		return v.(*conversationRing)
	}
	v, _ := p.rings.LoadOrStore(chatID, &conversationRing{ring: newRing[model.Message](p.capacity)})
	return v.(*conversationRing)
}

func (p *Private) lookup(chatID int64) (*conversationRing, bool) {
	v, ok := p.rings.Load(chatID)
	if !ok {
		return nil, false
	}
	return v.(*conversationRing), true
}

// AppendToConversation adds msg to the conversation ring, creating it on first use.
func (p *Private) AppendToConversation(chatID int64, msg model.Message) {
	c := p.conversation(chatID)
	c.mu.Lock()
	c.ring.push(msg.Clone())
	c.mu.Unlock()
}

// UnreadSince returns the cached messages of chatID with ID > afterID, oldest first.
func (p *Private) UnreadSince(chatID, afterID int64) []model.Message {
	c, ok := p.lookup(chatID)
	if !ok {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.Message
	c.ring.each(func(m model.Message) bool {
		if m.ID > afterID {
			out = append(out, m.Clone())
		}
		return true
	})
	return out
}

// Covers reports whether the ring alone can answer "everything after afterID".
func (p *Private) Covers(chatID, afterID int64) bool {
	c, ok := p.lookup(chatID)
	if !ok {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	oldest, ok := c.ring.oldest()
	return ok && afterID >= oldest.ID
}

// Newest returns the highest cached message ID of chatID.
func (p *Private) Newest(chatID int64) (int64, bool) {
	c, ok := p.lookup(chatID)
	if !ok {
		return 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.ring.newest()
	return m.ID, ok
}

// SetLastSeen overwrites the marker. Request paths use AdvanceLastSeen or RecordOwnSend.
func (p *Private) SetLastSeen(userID, chatID, messageID int64) {
	p.seenMu.Lock()
	p.seen[seenKey{userID, chatID}] = messageID
	p.seenMu.Unlock()
}

// AdvanceLastSeen moves the marker to messageID unless it is already there or beyond.
func (p *Private) AdvanceLastSeen(userID, chatID, messageID int64) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()

	key := seenKey{userID, chatID}
	if messageID <= p.seen[key] {
		return false
	}
	p.seen[key] = messageID
	return true
}

// RecordOwnSend moves the author's marker over their own message, but only when every
// cached message between the marker and messageID is theirs too. Anything the other
// participant wrote in that gap stays unread.
func (p *Private) RecordOwnSend(userID, chatID, messageID int64) bool {
	c, ok := p.lookup(chatID)
	if !ok {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p.seenMu.Lock()
	defer p.seenMu.Unlock()

	key := seenKey{userID, chatID}
	lo := p.seen[key]
	if messageID <= lo {
		return false
	}
	// The gap is only known when the ring still holds the marker position.
	oldest, ok := c.ring.oldest()
	if !ok || lo < oldest.ID {
		return false
	}

	clean := true
	c.ring.each(func(m model.Message) bool {
		if m.ID > lo && m.ID < messageID && !m.AuthoredBy(userID) {
			clean = false
			return false
		}
		return true
	})
	if !clean {
		return false
	}
	p.seen[key] = messageID
	return true
}

// GetLastSeen returns 0 when the user never read the conversation.
func (p *Private) GetLastSeen(userID, chatID int64) int64 {
	p.seenMu.RLock()
	defer p.seenMu.RUnlock()
	return p.seen[seenKey{userID, chatID}]
}

func (p *Private) UnreadCount(userID, chatID int64) int {
	return len(p.UnreadSince(chatID, p.GetLastSeen(userID, chatID)))
}

func (p *Private) Conversations() int {
	n := 0
	p.rings.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
