package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
)

var _ Deliverer = (*DelivererMiddleware)(nil)

// DelivererMiddleware implements [DECORATOR_PATTERN] to add observability
// to delivery without touching business logic.
type DelivererMiddleware struct {
	Next   Deliverer
	Logger *slog.Logger
}

// NewDelivererMiddleware creates a new logging decorator for the Deliverer.
func NewDelivererMiddleware(next Deliverer, logger *slog.Logger) Deliverer {
	return &DelivererMiddleware{
		Next:   next,
		Logger: logger,
	}
}

// observe logs caller mistakes at debug and everything else that failed at error.
func (m *DelivererMiddleware) observe(op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case err == nil:
		m.Logger.Debug("DELIVERY_OP_COMPLETED", attrs...)
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidArgument), errors.Is(err, model.ErrConflict):
		m.Logger.Debug("DELIVERY_OP_REJECTED", append(attrs, "err", err)...)
	default:
		m.Logger.Error("DELIVERY_OP_FAILED", append(attrs, "err", err)...)
	}
}

func (m *DelivererMiddleware) Join(ctx context.Context, username string) (model.User, error) {
	start := time.Now()
	u, err := m.Next.Join(ctx, username)
	if err == nil {
		m.Logger.Info("USER_JOINED", "user_id", u.ID, "username", u.Username)
	}
	m.observe("join", start, err, "username", username)
	return u, err
}

func (m *DelivererMiddleware) ActiveUsers(ctx context.Context, userID int64) ([]model.User, error) {
	start := time.Now()
	users, err := m.Next.ActiveUsers(ctx, userID)
	m.observe("active_users", start, err, "user_id", userID, "active", len(users))
	return users, err
}

func (m *DelivererMiddleware) SendGlobal(ctx context.Context, authorID int64, body string) (model.Message, error) {
	start := time.Now()
	msg, err := m.Next.SendGlobal(ctx, authorID, body)
	m.observe("send_global", start, err, "user_id", authorID, "message_id", msg.ID)
	return msg, err
}

func (m *DelivererMiddleware) PollGlobal(ctx context.Context, userID int64) ([]model.Message, error) {
	start := time.Now()
	msgs, err := m.Next.PollGlobal(ctx, userID)
	m.observe("poll_global", start, err, "user_id", userID, "delivered", len(msgs))
	return msgs, err
}

func (m *DelivererMiddleware) GetOrCreateChat(ctx context.Context, userA, userB int64) (model.Conversation, error) {
	start := time.Now()
	chat, err := m.Next.GetOrCreateChat(ctx, userA, userB)
	m.observe("get_or_create_chat", start, err, "user_a", userA, "user_b", userB, "chat_id", chat.ID)
	return chat, err
}

func (m *DelivererMiddleware) ChatHistory(ctx context.Context, chatID int64) ([]model.Message, error) {
	start := time.Now()
	msgs, err := m.Next.ChatHistory(ctx, chatID)
	m.observe("chat_history", start, err, "chat_id", chatID, "messages", len(msgs))
	return msgs, err
}

func (m *DelivererMiddleware) SendPrivate(ctx context.Context, chatID, authorID int64, body string) (model.Message, error) {
	start := time.Now()
	msg, err := m.Next.SendPrivate(ctx, chatID, authorID, body)
	m.observe("send_private", start, err, "chat_id", chatID, "user_id", authorID, "message_id", msg.ID)
	return msg, err
}

func (m *DelivererMiddleware) GetUnread(ctx context.Context, userID, chatID int64) ([]model.Message, error) {
	start := time.Now()
	msgs, err := m.Next.GetUnread(ctx, userID, chatID)
	m.observe("get_unread", start, err, "chat_id", chatID, "user_id", userID, "unread", len(msgs))
	return msgs, err
}

func (m *DelivererMiddleware) UnreadCount(ctx context.Context, userID, chatID int64) (int, error) {
	return m.Next.UnreadCount(ctx, userID, chatID)
}

func (m *DelivererMiddleware) MarkRead(ctx context.Context, userID, chatID int64) (int64, error) {
	start := time.Now()
	n, err := m.Next.MarkRead(ctx, userID, chatID)
	m.observe("mark_read", start, err, "chat_id", chatID, "user_id", userID, "updated", n)
	return n, err
}

func (m *DelivererMiddleware) UnreadFlags(ctx context.Context, userID int64) (map[int64]bool, error) {
	return m.Next.UnreadFlags(ctx, userID)
}

func (m *DelivererMiddleware) Subscribe(ctx context.Context, userID int64) (registry.Connector, error) {
	conn, err := m.Next.Subscribe(ctx, userID)
	if err != nil {
		m.Logger.Warn("SUBSCRIBE_REJECTED", "user_id", userID, "err", err)
		return nil, err
	}
	m.Logger.Info("CLIENT_SUBSCRIBED", "user_id", userID, "conn_id", conn.GetID())
	return conn, nil
}

func (m *DelivererMiddleware) Unsubscribe(userID int64, connID uuid.UUID) {
	m.Next.Unsubscribe(userID, connID)
	m.Logger.Info("CLIENT_UNSUBSCRIBED", "user_id", userID, "conn_id", connID)
}

func (m *DelivererMiddleware) Stats() model.HubStats { return m.Next.Stats() }
