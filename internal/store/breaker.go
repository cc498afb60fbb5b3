package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

var _ Repository = (*Breaker)(nil)

// BreakerSettings tunes the circuit around the repository.
type BreakerSettings struct {
	MaxRequests      uint32        // trial requests allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open-state duration before the next trial
	FailureThreshold uint32        // consecutive failures that open the circuit
}

// Breaker decorates a Repository with a circuit breaker. While open, every call fails
// fast with gobreaker.ErrOpenState. Not-found, conflict and invalid-argument results
// are answers, not failures, and never trip it.
type Breaker struct {
	next Repository
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Repository, st BreakerSettings, logger *slog.Logger) *Breaker {
	threshold := st.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "store",
			MaxRequests: st.MaxRequests,
			Interval:    st.Interval,
			Timeout:     st.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("CIRCUIT_BREAKER_STATE_CHANGED",
					"name", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, model.ErrNotFound) ||
					errors.Is(err, model.ErrConflict) ||
					errors.Is(err, model.ErrInvalidArgument) ||
					errors.Is(err, context.Canceled)
			},
		}),
	}
}

// State exposes the circuit state for health reporting.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (b *Breaker) InsertMessage(ctx context.Context, msg model.Message) (int64, error) {
	return call(b, func() (int64, error) { return b.next.InsertMessage(ctx, msg) })
}

func (b *Breaker) QueryMessagesAfter(ctx context.Context, afterID int64, chatID *int64) ([]model.Message, error) {
	return call(b, func() ([]model.Message, error) { return b.next.QueryMessagesAfter(ctx, afterID, chatID) })
}

func (b *Breaker) CreateUser(ctx context.Context, username string, at time.Time) (model.User, error) {
	return call(b, func() (model.User, error) { return b.next.CreateUser(ctx, username, at) })
}

func (b *Breaker) GetUser(ctx context.Context, userID int64) (model.User, error) {
	return call(b, func() (model.User, error) { return b.next.GetUser(ctx, userID) })
}

func (b *Breaker) TouchUser(ctx context.Context, userID int64, at time.Time) error {
	_, err := call(b, func() (struct{}, error) { return struct{}{}, b.next.TouchUser(ctx, userID, at) })
	return err
}

func (b *Breaker) ListActiveUsers(ctx context.Context, since time.Time) ([]model.User, error) {
	return call(b, func() ([]model.User, error) { return b.next.ListActiveUsers(ctx, since) })
}

func (b *Breaker) GetChat(ctx context.Context, chatID int64) (model.Conversation, error) {
	return call(b, func() (model.Conversation, error) { return b.next.GetChat(ctx, chatID) })
}

func (b *Breaker) FindChatBetween(ctx context.Context, userA, userB int64) (model.Conversation, error) {
	return call(b, func() (model.Conversation, error) { return b.next.FindChatBetween(ctx, userA, userB) })
}

func (b *Breaker) CreateChat(ctx context.Context, userA, userB int64, at time.Time) (model.Conversation, error) {
	return call(b, func() (model.Conversation, error) { return b.next.CreateChat(ctx, userA, userB, at) })
}

func (b *Breaker) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	return call(b, func() (model.Notification, error) { return b.next.CreateNotification(ctx, n) })
}

func (b *Breaker) MarkNotificationsRead(ctx context.Context, userID, chatID int64) (int64, error) {
	return call(b, func() (int64, error) { return b.next.MarkNotificationsRead(ctx, userID, chatID) })
}

func (b *Breaker) UnreadNotificationChats(ctx context.Context, userID int64) ([]model.Conversation, error) {
	return call(b, func() ([]model.Conversation, error) { return b.next.UnreadNotificationChats(ctx, userID) })
}

func (b *Breaker) Ping(ctx context.Context) error {
	_, err := call(b, func() (struct{}, error) { return struct{}{}, b.next.Ping(ctx) })
	return err
}

func (b *Breaker) Close() error { return b.next.Close() }
