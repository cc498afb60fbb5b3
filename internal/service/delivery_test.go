package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-chat-delivery/internal/domain/cache"
	"github.com/webitel/im-chat-delivery/internal/domain/event"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
	"github.com/webitel/im-chat-delivery/internal/store"
)

// memRepo is an in-memory store.Repository.
type memRepo struct {
	mu            sync.Mutex
	seq           int64
	messages      []model.Message
	users         map[int64]model.User
	chats         map[int64]model.Conversation
	notifications []model.Notification
	// notifyErr, when set, fails CreateNotification.
	notifyErr error
}

var _ store.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		users: make(map[int64]model.User),
		chats: make(map[int64]model.Conversation),
	}
}

func (r *memRepo) next() int64 { r.seq++; return r.seq }

func (r *memRepo) InsertMessage(_ context.Context, msg model.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = r.next()
	r.messages = append(r.messages, msg.Clone())
	return msg.ID, nil
}

func (r *memRepo) QueryMessagesAfter(_ context.Context, afterID int64, chatID *int64) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.ID <= afterID {
			continue
		}
		if (chatID == nil && m.ChatID == nil) || (chatID != nil && m.ChatID != nil && *m.ChatID == *chatID) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) CreateUser(_ context.Context, username string, at time.Time) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return model.User{}, model.ErrConflict
		}
	}
	u := model.User{ID: r.next(), Username: username, LastActive: at, CreatedAt: at}
	r.users[u.ID] = u
	return u, nil
}

func (r *memRepo) GetUser(_ context.Context, userID int64) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (r *memRepo) TouchUser(_ context.Context, userID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.LastActive = at
	r.users[userID] = u
	return nil
}

func (r *memRepo) ListActiveUsers(_ context.Context, since time.Time) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.User
	for _, u := range r.users {
		if !u.LastActive.Before(since) {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b model.User) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *memRepo) GetChat(_ context.Context, chatID int64) (model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return model.Conversation{}, model.ErrNotFound
	}
	return c, nil
}

func (r *memRepo) FindChatBetween(_ context.Context, a, b int64) (model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.Has(a) && c.Has(b) {
			return c, nil
		}
	}
	return model.Conversation{}, model.ErrNotFound
}

func (r *memRepo) CreateChat(_ context.Context, a, b int64, at time.Time) (model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := model.Conversation{ID: r.next(), UserA: a, UserB: b, CreatedAt: at}
	r.chats[c.ID] = c
	return c, nil
}

func (r *memRepo) CreateNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifyErr != nil {
		return model.Notification{}, r.notifyErr
	}
	n.ID = r.next()
	r.notifications = append(r.notifications, n)
	return n, nil
}

func (r *memRepo) MarkNotificationsRead(_ context.Context, userID, chatID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.notifications {
		x := &r.notifications[i]
		if x.RecipientID == userID && x.ChatID == chatID && !x.Read {
			x.Read = true
			n++
		}
	}
	return n, nil
}

func (r *memRepo) UnreadNotificationChats(_ context.Context, userID int64) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	var out []model.Conversation
	for _, n := range r.notifications {
		if n.RecipientID == userID && !n.Read && !seen[n.ChatID] {
			seen[n.ChatID] = true
			out = append(out, r.chats[n.ChatID])
		}
	}
	return out, nil
}

func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

func (r *memRepo) notificationsFor(userID int64) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.notifications {
		if n.RecipientID == userID {
			out = append(out, n)
		}
	}
	return out
}

// recordingDispatcher keeps every exportable event it is asked to publish.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []event.Eventer
}

func (d *recordingDispatcher) Publish(_ context.Context, ev event.Eventer) error {
	if _, ok := ev.(event.Exportable); !ok {
		return nil
	}
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) Publisher() message.Publisher { return nil }

func (d *recordingDispatcher) kinds() []event.EventKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []event.EventKind
	for _, ev := range d.events {
		out = append(out, ev.GetKind())
	}
	return out
}

type fixture struct {
	svc        *DeliveryService
	repo       *memRepo
	hub        *registry.Hub
	dispatcher *recordingDispatcher
	private    *cache.Private
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	dir, err := NewDirectory(repo, 16)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	expiry := cache.NewExpiryIndex()
	global := cache.NewGlobal(repo, expiry)
	private := cache.NewPrivate()
	hub := registry.NewHub(registry.WithSendTimeout(10 * time.Millisecond))
	d := &recordingDispatcher{}

	t.Cleanup(hub.Shutdown)

	return &fixture{
		svc:        NewDeliveryService(repo, dir, global, expiry, private, hub, d, WithLogger(slog.Default())),
		repo:       repo,
		hub:        hub,
		dispatcher: d,
		private:    private,
	}
}

func (f *fixture) join(t *testing.T, name string) model.User {
	t.Helper()
	u, err := f.svc.Join(context.Background(), name)
	if err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
	return u
}

func recv(t *testing.T, conn registry.Connector) event.Eventer {
	t.Helper()
	select {
	case ev := <-conn.Recv():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestJoinAnnouncesInGlobalChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	// Drain everything ann has not seen yet, including their own announcement.
	if _, err := f.svc.PollGlobal(ctx, ann.ID); err != nil {
		t.Fatalf("PollGlobal: %v", err)
	}

	f.join(t, "bob")

	got, err := f.svc.PollGlobal(ctx, ann.ID)
	if err != nil {
		t.Fatalf("PollGlobal: %v", err)
	}
	if len(got) != 1 || !got[0].IsSystem() || got[0].Content != "bob joined the chat!" {
		t.Fatalf("poll = %+v, want bob's announcement", got)
	}

	if _, err := f.svc.Join(ctx, "ann"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate join err = %v", err)
	}
}

func TestSendGlobal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")
	for _, u := range []model.User{ann, bob} {
		if _, err := f.svc.PollGlobal(ctx, u.ID); err != nil {
			t.Fatalf("PollGlobal: %v", err)
		}
	}

	msg, err := f.svc.SendGlobal(ctx, ann.ID, "hello")
	if err != nil {
		t.Fatalf("SendGlobal: %v", err)
	}
	if msg.ID == 0 || *msg.Username != "ann" || !msg.IsGlobal() {
		t.Fatalf("sent = %+v", msg)
	}

	got, _ := f.svc.PollGlobal(ctx, bob.ID)
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("bob poll = %+v", got)
	}
	got, _ = f.svc.PollGlobal(ctx, ann.ID)
	if len(got) != 0 {
		t.Fatalf("author received own message: %+v", got)
	}

	if _, err := f.svc.SendGlobal(ctx, 999, "hi"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown author err = %v", err)
	}
	if _, err := f.svc.SendGlobal(ctx, ann.ID, "   "); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("blank body err = %v", err)
	}
	if kinds := f.dispatcher.kinds(); len(kinds) != 1 || kinds[0] != event.MessageCreated {
		t.Fatalf("exported = %v", kinds)
	}
}

func TestGetOrCreateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")

	conn, err := f.svc.Subscribe(ctx, bob.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ev := recv(t, conn); ev.GetKind() != event.Connected {
		t.Fatalf("first event = %s", ev.GetKind())
	}

	chat, err := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}
	again, err := f.svc.GetOrCreateChat(ctx, bob.ID, ann.ID)
	if err != nil || again.ID != chat.ID {
		t.Fatalf("reversed lookup = %+v, %v", again, err)
	}

	notes := f.repo.notificationsFor(bob.ID)
	if len(notes) != 1 || notes[0].Kind != model.NotificationNewChat {
		t.Fatalf("bob notifications = %+v", notes)
	}
	ev := recv(t, conn)
	p, ok := ev.GetPayload().(event.NotificationPayload)
	if !ok || p.Kind != model.NotificationNewChat || p.FromUserID != ann.ID {
		t.Fatalf("pushed = %#v", ev.GetPayload())
	}

	if _, err := f.svc.GetOrCreateChat(ctx, ann.ID, ann.ID); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("self chat err = %v", err)
	}
	if _, err := f.svc.GetOrCreateChat(ctx, ann.ID, 999); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown peer err = %v", err)
	}
}

func TestSendPrivateDeliversAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")
	carl := f.join(t, "carl")
	chat, err := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}

	conn, err := f.svc.Subscribe(ctx, bob.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	recv(t, conn) // connected

	msg, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "psst")
	if err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	ev := recv(t, conn)
	if ev.GetKind() != event.MessageCreated || ev.GetPayload().(model.Message).ID != msg.ID {
		t.Fatalf("first push = %s %#v", ev.GetKind(), ev.GetPayload())
	}
	if ev := recv(t, conn); ev.GetKind() != event.NotificationCreated {
		t.Fatalf("second push = %s", ev.GetKind())
	}

	flags, err := f.svc.UnreadFlags(ctx, bob.ID)
	if err != nil || !flags[ann.ID] || len(flags) != 1 {
		t.Fatalf("UnreadFlags = %v, %v", flags, err)
	}

	unread, err := f.svc.GetUnread(ctx, bob.ID, chat.ID)
	if err != nil || len(unread) != 1 || unread[0].ID != msg.ID {
		t.Fatalf("GetUnread = %+v, %v", unread, err)
	}
	if n, _ := f.svc.UnreadCount(ctx, ann.ID, chat.ID); n != 0 {
		t.Fatalf("author unread = %d, want 0", n)
	}

	updated, err := f.svc.MarkRead(ctx, bob.ID, chat.ID)
	if err != nil || updated != 2 {
		t.Fatalf("MarkRead = %d, %v; want 2 (new_chat + new_message)", updated, err)
	}
	if n, _ := f.svc.UnreadCount(ctx, bob.ID, chat.ID); n != 0 {
		t.Fatalf("unread after MarkRead = %d", n)
	}
	if flags, _ := f.svc.UnreadFlags(ctx, bob.ID); len(flags) != 0 {
		t.Fatalf("flags after MarkRead = %v", flags)
	}

	// Ring path: the reader's marker now sits inside the cached window.
	if _, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "again"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	if n, _ := f.svc.UnreadCount(ctx, bob.ID, chat.ID); n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}

	if _, err := f.svc.SendPrivate(ctx, chat.ID, carl.ID, "hi"); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("outsider send err = %v", err)
	}
	if _, err := f.svc.GetUnread(ctx, carl.ID, chat.ID); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("outsider read err = %v", err)
	}
	if _, err := f.svc.SendPrivate(ctx, 404, ann.ID, "hi"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown chat err = %v", err)
	}

	history, err := f.svc.ChatHistory(ctx, chat.ID)
	if err != nil || len(history) != 2 {
		t.Fatalf("ChatHistory = %+v, %v", history, err)
	}
}

func TestSendPrivateToOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")
	chat, _ := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)

	if _, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "are you there?"); err != nil {
		t.Fatalf("SendPrivate to offline user: %v", err)
	}
	if n, _ := f.svc.UnreadCount(ctx, bob.ID, chat.ID); n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}
}

func TestSubscribeReplacesAndUnsubscribes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.join(t, "ann")

	if _, err := f.svc.Subscribe(ctx, 999); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown user err = %v", err)
	}

	first, _ := f.svc.Subscribe(ctx, ann.ID)
	second, _ := f.svc.Subscribe(ctx, ann.ID)

	// The stale connection's cleanup must not remove the new one.
	f.svc.Unsubscribe(ann.ID, first.GetID())
	if !f.hub.IsConnected(ann.ID) {
		t.Fatal("stale unsubscribe removed the live connection")
	}

	f.svc.Unsubscribe(ann.ID, second.GetID())
	if f.hub.IsConnected(ann.ID) {
		t.Fatal("connection still registered")
	}
}

func TestActiveUsersAndStats(t *testing.T) {
	now := time.Now()
	f := newFixture(t)
	f.svc.now = func() time.Time { return now }
	ctx := context.Background()

	ann := f.join(t, "ann")
	now = now.Add(time.Minute)
	bob := f.join(t, "bob")

	users, err := f.svc.ActiveUsers(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != bob.ID {
		t.Fatalf("active = %+v, want only bob", users)
	}
	if _, err := f.svc.ActiveUsers(ctx, 999); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown user err = %v", err)
	}

	if _, err := f.svc.PollGlobal(ctx, ann.ID); err != nil {
		t.Fatalf("PollGlobal: %v", err)
	}
	chat, _ := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)
	if _, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "hi"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	st := f.svc.Stats()
	if st.CachedMessages != 2 || st.TrackedCursors != 1 || st.Conversations != 1 || st.PendingExpiry < 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func unreadIDs(t *testing.T, f *fixture, userID, chatID int64) []int64 {
	t.Helper()
	msgs, err := f.svc.GetUnread(context.Background(), userID, chatID)
	if err != nil {
		t.Fatalf("GetUnread: %v", err)
	}
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestSendPrivateKeepsCounterpartMessagesUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")
	chat, _ := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)

	b1, _ := f.svc.SendPrivate(ctx, chat.ID, bob.ID, "one")
	b2, _ := f.svc.SendPrivate(ctx, chat.ID, bob.ID, "two")
	a1, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "reply")
	if err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	// Replying does not mean ann read what bob wrote before.
	got := unreadIDs(t, f, ann.ID, chat.ID)
	if !slices.Contains(got, b1.ID) || !slices.Contains(got, b2.ID) {
		t.Fatalf("ann unread = %v, want it to keep %d and %d", got, b1.ID, b2.ID)
	}
	if f.private.GetLastSeen(ann.ID, chat.ID) >= a1.ID {
		t.Fatal("reply moved ann's marker over unread messages")
	}

	if _, err := f.svc.MarkRead(ctx, ann.ID, chat.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	// Nothing foreign in between: ann's own message is read.
	if _, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "anyone?"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	if got := unreadIDs(t, f, ann.ID, chat.ID); len(got) != 0 {
		t.Fatalf("ann unread = %v, want none", got)
	}

	b3, _ := f.svc.SendPrivate(ctx, chat.ID, bob.ID, "yes")
	if _, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "ok"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	if got := unreadIDs(t, f, ann.ID, chat.ID); !slices.Contains(got, b3.ID) {
		t.Fatalf("ann unread = %v, want it to keep %d", got, b3.ID)
	}
}

func TestLastSeenNeverMovesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")
	chat, _ := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)

	const rounds = 50
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		var last int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			cur := f.private.GetLastSeen(ann.ID, chat.ID)
			if cur < last {
				t.Errorf("marker moved back from %d to %d", last, cur)
				return
			}
			last = cur
		}
	}()

	var wg sync.WaitGroup
	for _, author := range []int64{ann.ID, bob.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				if _, err := f.svc.SendPrivate(ctx, chat.ID, author, "x"); err != nil {
					t.Errorf("SendPrivate: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range rounds {
			if _, err := f.svc.MarkRead(ctx, ann.ID, chat.ID); err != nil {
				t.Errorf("MarkRead: %v", err)
				return
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-sampled

	if _, err := f.svc.MarkRead(ctx, ann.ID, chat.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := unreadIDs(t, f, ann.ID, chat.ID); len(got) != 0 {
		t.Fatalf("unread after final MarkRead = %v", got)
	}
}

func TestSendPrivateReturnsStoredMessageWhenNotifyFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ann := f.join(t, "ann")
	bob := f.join(t, "bob")
	chat, _ := f.svc.GetOrCreateChat(ctx, ann.ID, bob.ID)

	conn, err := f.svc.Subscribe(ctx, bob.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	recv(t, conn) // connected

	f.repo.mu.Lock()
	f.repo.notifyErr = errors.New("disk full")
	f.repo.mu.Unlock()

	msg, err := f.svc.SendPrivate(ctx, chat.ID, ann.ID, "still here")
	if !errors.Is(err, model.ErrNotifyFailed) {
		t.Fatalf("err = %v, want ErrNotifyFailed", err)
	}
	if msg.ID == 0 || msg.Content != "still here" {
		t.Fatalf("returned message = %+v, want the stored one", msg)
	}

	ev := recv(t, conn)
	if ev.GetKind() != event.MessageCreated || ev.GetPayload().(model.Message).ID != msg.ID {
		t.Fatalf("push = %s %#v", ev.GetKind(), ev.GetPayload())
	}
	if got := unreadIDs(t, f, bob.ID, chat.ID); len(got) != 1 || got[0] != msg.ID {
		t.Fatalf("bob unread = %v", got)
	}
}
