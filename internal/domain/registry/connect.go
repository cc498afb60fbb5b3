package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-chat-delivery/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
type Connector interface {
	GetID() uuid.UUID
	GetUserID() int64
	Send(ev event.Eventer, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan event.Eventer
	Done() <-chan struct{} // Closed once the connection is torn down
	Close()                // Terminate connection and release resources
	Dropped() uint64
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        uuid.UUID
	userID    int64
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc
	// sendCh is never closed; readers select on Done as well.
	sendCh       chan event.Eventer
	closeOnce    sync.Once // [PROTECTION]
	droppedCount atomic.Uint64
}

// NewConnector creates a mailbox bound to ctx. Cancelling ctx closes the connection.
func NewConnector(ctx context.Context, userID int64, bufferSize int) Connector {
	if bufferSize < 1 {
		bufferSize = 1
	}
	childCtx, cancel := context.WithCancel(ctx)

	return &connect{
		id:        uuid.New(),
		userID:    userID,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan event.Eventer, bufferSize),
	}
}

func (c *connect) GetID() uuid.UUID           { return c.id }
func (c *connect) GetUserID() int64           { return c.userID }
func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }
func (c *connect) Done() <-chan struct{}       { return c.ctx.Done() }
func (c *connect) Dropped() uint64            { return c.droppedCount.Load() }

// Send attempts to push an event into the mailbox, waiting up to timeout for room.
// If the mailbox stays full, it tries to evict a lower priority event instead.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	// 1. [LIFECYCLE_GATE] A dead connection never accepts, even if the buffer has room.
	if c.ctx.Err() != nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false

	// 2. [PRIMARY_DELIVERY]
	case c.sendCh <- ev:
		return true

	// 3. [BACKPRESSURE_THRESHOLD] The buffer stayed saturated for the whole window.
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure manages full buffers by dropping low-priority events.
func (c *connect) handleBackpressure(ev event.Eventer) bool {
	if ev.GetPriority() <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	// Swap out the oldest queued event when it matters less than the incoming one.
	select {
	case oldEv := <-c.sendCh:
		if oldEv.GetPriority() < ev.GetPriority() {
			select {
			case c.sendCh <- ev:
				c.droppedCount.Add(1) // oldEv
				return true
			default:
			}
		}
		// Best effort to put it back; the reader may have freed a slot meanwhile.
		select {
		case c.sendCh <- oldEv:
		default:
			c.droppedCount.Add(1)
		}
	default:
	}

	c.droppedCount.Add(1)
	return false
}

// Close terminates the session. Safe to call from several goroutines.
func (c *connect) Close() {
	c.closeOnce.Do(c.cancelFn)
}
