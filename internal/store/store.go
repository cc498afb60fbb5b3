// Package store provides durable persistence for users, messages, conversations
// and notifications.
package store

import (
	"context"
	"time"

	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

// Repository defines the durable storage the delivery layer writes through and falls back to.
// Lookups of missing rows return an error wrapping model.ErrNotFound.
type Repository interface {
	// InsertMessage persists msg and returns its newly assigned, strictly increasing ID.
	InsertMessage(ctx context.Context, msg model.Message) (int64, error)

	// QueryMessagesAfter returns messages with ID > afterID in ascending ID order.
	// A nil chatID selects the global chat.
	QueryMessagesAfter(ctx context.Context, afterID int64, chatID *int64) ([]model.Message, error)

	// CreateUser registers a new user. A taken username yields model.ErrConflict.
	CreateUser(ctx context.Context, username string, at time.Time) (model.User, error)

	GetUser(ctx context.Context, userID int64) (model.User, error)

	// TouchUser records user activity at the given time.
	TouchUser(ctx context.Context, userID int64, at time.Time) error

	// ListActiveUsers returns users active at or after since.
	ListActiveUsers(ctx context.Context, since time.Time) ([]model.User, error)

	GetChat(ctx context.Context, chatID int64) (model.Conversation, error)

	// FindChatBetween looks a conversation up in either orientation.
	FindChatBetween(ctx context.Context, userA, userB int64) (model.Conversation, error)

	// CreateChat opens a conversation. A pair that already has one yields model.ErrConflict.
	CreateChat(ctx context.Context, userA, userB int64, at time.Time) (model.Conversation, error)

	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)

	// MarkNotificationsRead flags every unread notification of userID in chatID and
	// returns how many rows changed.
	MarkNotificationsRead(ctx context.Context, userID, chatID int64) (int64, error)

	// UnreadNotificationChats returns the distinct conversations holding unread
	// notifications for userID.
	UnreadNotificationChats(ctx context.Context, userID int64) ([]model.Conversation, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
