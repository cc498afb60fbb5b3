package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-chat-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-chat-delivery/internal/domain/cache"
	"github.com/webitel/im-chat-delivery/internal/domain/event"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
	"github.com/webitel/im-chat-delivery/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var _ Deliverer = (*DeliveryService)(nil)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (HTTP/WebSocket/Bus)
type Deliverer interface {
	// Join registers a user and announces them in the global chat.
	Join(ctx context.Context, username string) (model.User, error)
	// ActiveUsers marks userID active and lists everyone active within the presence window.
	ActiveUsers(ctx context.Context, userID int64) ([]model.User, error)

	SendGlobal(ctx context.Context, authorID int64, body string) (model.Message, error)
	PollGlobal(ctx context.Context, userID int64) ([]model.Message, error)

	GetOrCreateChat(ctx context.Context, userA, userB int64) (model.Conversation, error)
	ChatHistory(ctx context.Context, chatID int64) ([]model.Message, error)
	SendPrivate(ctx context.Context, chatID, authorID int64, body string) (model.Message, error)
	GetUnread(ctx context.Context, userID, chatID int64) ([]model.Message, error)
	UnreadCount(ctx context.Context, userID, chatID int64) (int, error)
	MarkRead(ctx context.Context, userID, chatID int64) (int64, error)
	// UnreadFlags maps every counterpart with unread notifications for userID to true.
	UnreadFlags(ctx context.Context, userID int64) (map[int64]bool, error)

	Subscribe(ctx context.Context, userID int64) (registry.Connector, error)
	Unsubscribe(userID int64, connID uuid.UUID)

	Stats() model.HubStats
}

// DeliveryService writes every message through the store first and then makes it visible
// to the in-memory caches and the live connections of its recipients.
type DeliveryService struct {
	repo       store.Repository
	dir        *Directory
	global     *cache.Global
	expiry     *cache.ExpiryIndex
	private    *cache.Private
	hub        registry.Hubber
	dispatcher pubsub.EventDispatcher

	// globalMu serializes global writes so the window receives IDs in ascending order.
	globalMu sync.Mutex
	// chats serializes writes per conversation for the same reason.
	chats cache.KeyedMutex

	tracer       trace.Tracer
	now          func() time.Time
	activeWindow time.Duration
	logger       *slog.Logger
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(
	repo store.Repository,
	dir *Directory,
	global *cache.Global,
	expiry *cache.ExpiryIndex,
	private *cache.Private,
	hub registry.Hubber,
	dispatcher pubsub.EventDispatcher,
	opts ...Option,
) *DeliveryService {
	s := &DeliveryService{
		repo:         repo,
		dir:          dir,
		global:       global,
		expiry:       expiry,
		private:      private,
		hub:          hub,
		dispatcher:   dispatcher,
		tracer:       otel.Tracer("github.com/webitel/im-chat-delivery/internal/service"),
		now:          time.Now,
		activeWindow: DefaultActiveWindow,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DeliveryService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "delivery."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// -------------------- GLOBAL CHAT --------------------

func (s *DeliveryService) Join(ctx context.Context, username string) (_ model.User, err error) {
	ctx, span := s.start(ctx, "join")
	defer func() { finish(span, err) }()

	now := s.now()
	u, err := s.repo.CreateUser(ctx, username, now)
	if err != nil {
		return model.User{}, err
	}
	s.dir.RememberUser(u)
	span.SetAttributes(attribute.Int64("user.id", u.ID))

	// [ANNOUNCE] Everyone polling the global chat sees the newcomer.
	notice := model.NewSystemMessage(fmt.Sprintf("%s joined the chat!", u.Username), now)

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	id, err := s.repo.InsertMessage(ctx, notice)
	if err != nil {
		return model.User{}, fmt.Errorf("announce user %d: %w", u.ID, err)
	}
	notice.ID = id
	s.global.Append(notice)

	return u, nil
}

func (s *DeliveryService) ActiveUsers(ctx context.Context, userID int64) ([]model.User, error) {
	now := s.now()
	if err := s.repo.TouchUser(ctx, userID, now); err != nil {
		return nil, err
	}
	return s.repo.ListActiveUsers(ctx, now.Add(-s.activeWindow))
}

func (s *DeliveryService) SendGlobal(ctx context.Context, authorID int64, body string) (_ model.Message, err error) {
	ctx, span := s.start(ctx, "send_global", attribute.Int64("user.id", authorID))
	defer func() { finish(span, err) }()

	author, err := s.dir.User(ctx, authorID)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.NewUserMessage(author.ID, author.Username, body, nil, s.now())
	if err := msg.Validate(); err != nil {
		return model.Message{}, err
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	id, err := s.repo.InsertMessage(ctx, msg)
	if err != nil {
		return model.Message{}, err
	}
	msg.ID = id

	// [WRITE_THROUGH] Stored first, then visible to pollers and recorded as the author's own.
	s.global.AppendSent(msg)

	if err := s.dispatcher.Publish(ctx, event.NewMessageV1Event(msg, 0)); err != nil {
		s.logger.Warn("EVENT_PUBLISH_FAILED", "err", err, "message_id", id)
	}

	return msg, nil
}

func (s *DeliveryService) PollGlobal(ctx context.Context, userID int64) (_ []model.Message, err error) {
	ctx, span := s.start(ctx, "poll_global", attribute.Int64("user.id", userID))
	defer func() { finish(span, err) }()

	msgs, err := s.global.Poll(ctx, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("messages", len(msgs)))
	return msgs, nil
}

// -------------------- PRIVATE CHATS --------------------

func (s *DeliveryService) GetOrCreateChat(ctx context.Context, userA, userB int64) (_ model.Conversation, err error) {
	ctx, span := s.start(ctx, "get_or_create_chat",
		attribute.Int64("user.a", userA),
		attribute.Int64("user.b", userB),
	)
	defer func() { finish(span, err) }()

	if userA == userB {
		return model.Conversation{}, fmt.Errorf("chat with oneself: %w", model.ErrInvalidArgument)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { _, err := s.dir.User(gCtx, userA); return err })
	g.Go(func() error { _, err := s.dir.User(gCtx, userB); return err })
	if err := g.Wait(); err != nil {
		return model.Conversation{}, err
	}

	chat, err := s.repo.FindChatBetween(ctx, userA, userB)
	if err == nil {
		s.dir.RememberChat(chat)
		return chat, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Conversation{}, err
	}

	chat, err = s.repo.CreateChat(ctx, userA, userB, s.now())
	if errors.Is(err, model.ErrConflict) {
		// Lost the race to a concurrent create of the same pair.
		return s.repo.FindChatBetween(ctx, userA, userB)
	}
	if err != nil {
		return model.Conversation{}, err
	}
	s.dir.RememberChat(chat)

	n, err := s.repo.CreateNotification(ctx, model.Notification{
		RecipientID: chat.UserB,
		ChatID:      chat.ID,
		Kind:        model.NotificationNewChat,
		CreatedAt:   chat.CreatedAt,
	})
	if err != nil {
		return model.Conversation{}, fmt.Errorf("notify new chat %d: %w", chat.ID, err)
	}
	s.emit(ctx, event.NewNotificationV1Event(n, chat.UserA))

	return chat, nil
}

func (s *DeliveryService) ChatHistory(ctx context.Context, chatID int64) ([]model.Message, error) {
	if _, err := s.dir.Chat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.repo.QueryMessagesAfter(ctx, 0, &chatID)
}

// SendPrivate stores and delivers a conversation message. When only the notification
// write fails the stored message is still pushed and returned with an ErrNotifyFailed error.
func (s *DeliveryService) SendPrivate(ctx context.Context, chatID, authorID int64, body string) (_ model.Message, err error) {
	ctx, span := s.start(ctx, "send_private",
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", authorID),
	)
	defer func() { finish(span, err) }()

	chat, err := s.dir.Chat(ctx, chatID)
	if err != nil {
		return model.Message{}, err
	}
	recipientID, ok := chat.Counterpart(authorID)
	if !ok {
		return model.Message{}, fmt.Errorf("user %d is not in chat %d: %w", authorID, chatID, model.ErrInvalidArgument)
	}
	author, err := s.dir.User(ctx, authorID)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.NewUserMessage(author.ID, author.Username, body, &chat.ID, s.now())
	if err := msg.Validate(); err != nil {
		return model.Message{}, err
	}

	unlock := s.chats.Lock(chatID)
	id, err := s.repo.InsertMessage(ctx, msg)
	if err != nil {
		unlock()
		return model.Message{}, err
	}
	msg.ID = id
	s.private.AppendToConversation(chatID, msg)
	unlock()

	s.markOwnSend(ctx, authorID, chatID, id)

	// [FAN_OUT] The durable notification and the bus copy do not depend on each other.
	var n model.Notification
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		n, err = s.repo.CreateNotification(gCtx, model.Notification{
			RecipientID: recipientID,
			ChatID:      chatID,
			Kind:        model.NotificationNewMessage,
			CreatedAt:   msg.CreatedAt,
		})
		return err
	})
	msgEvent := event.NewMessageV1Event(msg, recipientID)
	g.Go(func() error {
		if err := s.dispatcher.Publish(gCtx, msgEvent); err != nil {
			s.logger.Warn("EVENT_PUBLISH_FAILED", "err", err, "message_id", id, "chat_id", chatID)
		}
		return nil
	})
	notifyErr := g.Wait()

	// [LIVE_PUSH] Best effort. An offline recipient picks it up from unread.
	s.push(msgEvent)
	if notifyErr != nil {
		// The message is stored, so it is returned alongside the error.
		return msg, fmt.Errorf("notify chat %d: %w: %w", chatID, model.ErrNotifyFailed, notifyErr)
	}
	s.emit(ctx, event.NewNotificationV1Event(n, authorID))

	return msg, nil
}

// markOwnSend moves the author's marker over their own message when nothing they have not
// read precedes it. Every earlier message of the chat is committed once the chat lock is
// released, so the gap cannot change under the check.
func (s *DeliveryService) markOwnSend(ctx context.Context, authorID, chatID, id int64) {
	if s.private.RecordOwnSend(authorID, chatID, id) {
		return
	}
	lastSeen := s.private.GetLastSeen(authorID, chatID)
	if lastSeen >= id || s.private.Covers(chatID, lastSeen) {
		return
	}

	gap, err := s.repo.QueryMessagesAfter(ctx, lastSeen, &chatID)
	if err != nil {
		s.logger.Warn("LAST_SEEN_CHECK_FAILED", "err", err, "chat_id", chatID, "user_id", authorID)
		return
	}
	for _, m := range gap {
		if m.ID >= id {
			break
		}
		if !m.AuthoredBy(authorID) {
			return
		}
	}
	s.private.AdvanceLastSeen(authorID, chatID, id)
}

// GetUnread answers from the conversation ring when it still reaches back to the reader's
// last-seen position, otherwise from the store.
func (s *DeliveryService) GetUnread(ctx context.Context, userID, chatID int64) ([]model.Message, error) {
	if err := s.member(ctx, userID, chatID); err != nil {
		return nil, err
	}

	lastSeen := s.private.GetLastSeen(userID, chatID)
	if s.private.Covers(chatID, lastSeen) {
		return s.private.UnreadSince(chatID, lastSeen), nil
	}

	s.logger.Debug("PRIVATE_CACHE_MISS", "chat_id", chatID, "user_id", userID, "after_id", lastSeen)
	return s.repo.QueryMessagesAfter(ctx, lastSeen, &chatID)
}

func (s *DeliveryService) UnreadCount(ctx context.Context, userID, chatID int64) (int, error) {
	msgs, err := s.GetUnread(ctx, userID, chatID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// MarkRead clears the user's notifications for chatID and moves their last-seen marker to
// the newest message of the conversation. The marker never moves backwards.
func (s *DeliveryService) MarkRead(ctx context.Context, userID, chatID int64) (int64, error) {
	if err := s.member(ctx, userID, chatID); err != nil {
		return 0, err
	}

	updated, err := s.repo.MarkNotificationsRead(ctx, userID, chatID)
	if err != nil {
		return 0, err
	}

	newest, ok := s.private.Newest(chatID)
	if !ok {
		lastSeen := s.private.GetLastSeen(userID, chatID)
		msgs, err := s.repo.QueryMessagesAfter(ctx, lastSeen, &chatID)
		if err != nil {
			return 0, err
		}
		if len(msgs) > 0 {
			newest = msgs[len(msgs)-1].ID
		}
	}
	s.private.AdvanceLastSeen(userID, chatID, newest)

	return updated, nil
}

func (s *DeliveryService) UnreadFlags(ctx context.Context, userID int64) (map[int64]bool, error) {
	chats, err := s.repo.UnreadNotificationChats(ctx, userID)
	if err != nil {
		return nil, err
	}

	flags := make(map[int64]bool, len(chats))
	for _, c := range chats {
		if other, ok := c.Counterpart(userID); ok {
			flags[other] = true
		}
	}
	return flags, nil
}

func (s *DeliveryService) member(ctx context.Context, userID, chatID int64) error {
	chat, err := s.dir.Chat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.Has(userID) {
		return fmt.Errorf("user %d is not in chat %d: %w", userID, chatID, model.ErrInvalidArgument)
	}
	return nil
}

// -------------------- LIVE CONNECTIONS --------------------

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, userID int64) (registry.Connector, error) {
	if _, err := s.dir.User(ctx, userID); err != nil {
		return nil, err
	}

	// 1. Create a connector bound to the transport's lifetime
	conn := registry.NewConnector(ctx, userID, s.hub.MailboxSize())

	// 2. Attach to the registry, replacing any older connection of the user
	s.hub.Register(conn)

	// 3. Greet the client so it knows the server side is ready
	s.hub.Push(event.NewSystemEvent(userID, event.Connected, event.PriorityHigh, model.ConnectedPayload{
		Ok:           true,
		ConnectionID: conn.GetID().String(),
		UserID:       userID,
	}))

	return conn, nil
}

// [UNSUBSCRIBE] Removes the registration only if it still belongs to connID.
func (s *DeliveryService) Unsubscribe(userID int64, connID uuid.UUID) {
	s.hub.Unregister(userID, connID)
}

func (s *DeliveryService) Stats() model.HubStats {
	st := s.hub.Stats()
	st.CachedMessages = s.global.Len()
	st.TrackedCursors = s.global.Cursors()
	st.PendingExpiry = s.expiry.Len()
	st.Conversations = s.private.Conversations()
	return st
}

// push hands ev to the recipient's live connection, if any.
func (s *DeliveryService) push(ev event.Eventer) {
	if !s.hub.Push(ev) {
		s.logger.Debug("PUSH_SKIPPED", "user_id", ev.GetUserID(), "kind", ev.GetKind().String())
	}
}

// emit pushes ev locally and exports it to the bus. Neither failure reaches the caller.
func (s *DeliveryService) emit(ctx context.Context, ev event.Eventer) {
	s.push(ev)
	if err := s.dispatcher.Publish(ctx, ev); err != nil {
		s.logger.Warn("EVENT_PUBLISH_FAILED", "err", err, "event_id", ev.GetID())
	}
}
