package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/webitel/im-chat-delivery/internal/domain/event"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
	"github.com/webitel/im-chat-delivery/internal/service"
)

type sent struct {
	chatID  int64
	userID  int64
	content string
}

// fakeDeliverer registers sockets in a real hub and records private sends.
type fakeDeliverer struct {
	service.Deliverer

	hub *registry.Hub

	mu    sync.Mutex
	sends []sent
	seen  chan struct{}
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{
		hub:  registry.NewHub(registry.WithSendTimeout(100 * time.Millisecond)),
		seen: make(chan struct{}, 16),
	}
}

func (f *fakeDeliverer) Subscribe(ctx context.Context, userID int64) (registry.Connector, error) {
	if userID == 404 {
		return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	conn := registry.NewConnector(ctx, userID, f.hub.MailboxSize())
	f.hub.Register(conn)
	f.hub.Push(event.NewSystemEvent(userID, event.Connected, event.PriorityHigh, model.ConnectedPayload{
		Ok:           true,
		ConnectionID: conn.GetID().String(),
		UserID:       userID,
	}))
	return conn, nil
}

func (f *fakeDeliverer) Unsubscribe(userID int64, connID uuid.UUID) {
	f.hub.Unregister(userID, connID)
}

func (f *fakeDeliverer) SendPrivate(_ context.Context, chatID, authorID int64, body string) (model.Message, error) {
	f.mu.Lock()
	f.sends = append(f.sends, sent{chatID: chatID, userID: authorID, content: body})
	f.mu.Unlock()
	f.seen <- struct{}{}

	switch chatID {
	case 404:
		return model.Message{}, fmt.Errorf("chat %d: %w", chatID, model.ErrNotFound)
	case 500:
		return model.Message{}, fmt.Errorf("disk on fire")
	}
	return model.Message{ID: 1, Content: body, ChatID: &chatID}, nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, d *fakeDeliverer) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(NewWSHandler(slog.Default(), d, nil))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func connect(t *testing.T, d *fakeDeliverer, userID int64) *websocket.Conn {
	t.Helper()

	ws := dial(t, d)
	if err := ws.WriteJSON(map[string]any{"type": "connect", "user_id": userID}); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	if env := readEnvelope(t, ws); env.Type != "connected" {
		t.Fatalf("first frame = %q, want connected", env.Type)
	}
	return ws
}

func waitSend(t *testing.T, d *fakeDeliverer) sent {
	t.Helper()

	select {
	case <-d.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("SendPrivate was not called")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sends[len(d.sends)-1]
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, code) {
		t.Fatalf("read err = %v, want close %d", err, code)
	}
}

func TestSocketConnectAndReceive(t *testing.T) {
	d := newFakeDeliverer()
	ws := connect(t, d, 7)

	chatID := int64(3)
	msg := model.Message{ID: 11, Content: "hello", ChatID: &chatID, CreatedAt: time.Now()}
	if !d.hub.Push(event.NewMessageV1Event(msg, 7)) {
		t.Fatal("push to connected user failed")
	}

	env := readEnvelope(t, ws)
	if env.Type != "new_message" {
		t.Fatalf("type = %q, want new_message", env.Type)
	}
	var got model.Message
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got.ID != 11 || got.Content != "hello" {
		t.Errorf("data = %+v", got)
	}
}

func TestSocketSendsPrivateMessages(t *testing.T) {
	d := newFakeDeliverer()
	ws := connect(t, d, 7)

	for _, kind := range []string{"new_message", "private_message"} {
		frame := map[string]any{
			"type": kind,
			"data": map[string]any{"chat_id": 3, "content": "hi via " + kind},
		}
		if err := ws.WriteJSON(frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		got := waitSend(t, d)
		if got.chatID != 3 || got.userID != 7 || got.content != "hi via "+kind {
			t.Errorf("%s: send = %+v", kind, got)
		}
	}
}

func TestSocketReportsErrors(t *testing.T) {
	d := newFakeDeliverer()
	ws := connect(t, d, 7)

	cases := []struct {
		name  string
		frame any
		want  string
	}{
		{"unknown chat", map[string]any{"type": "new_message", "data": map[string]any{"chat_id": 404, "content": "x"}}, "not found"},
		{"storage failure", map[string]any{"type": "new_message", "data": map[string]any{"chat_id": 500, "content": "x"}}, "internal error"},
		{"unknown frame", map[string]any{"type": "typing"}, "unsupported frame type: typing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ws.WriteJSON(tc.frame); err != nil {
				t.Fatalf("write: %v", err)
			}
			env := readEnvelope(t, ws)
			if env.Type != "error" {
				t.Fatalf("type = %q, want error", env.Type)
			}
			var body map[string]string
			if err := json.Unmarshal(env.Data, &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.Contains(body["error"], tc.want) {
				t.Errorf("error = %q, want it to contain %q", body["error"], tc.want)
			}
		})
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := readEnvelope(t, ws); env.Type != "error" {
		t.Fatalf("malformed frame answered with %q", env.Type)
	}
}

func TestSocketRejectsMissingHandshake(t *testing.T) {
	d := newFakeDeliverer()
	ws := dial(t, d)

	if err := ws.WriteJSON(map[string]any{"type": "new_message"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, ws, websocket.ClosePolicyViolation)
}

func TestSocketRejectsUnknownUser(t *testing.T) {
	d := newFakeDeliverer()
	ws := dial(t, d)

	if err := ws.WriteJSON(map[string]any{"type": "connect", "user_id": 404}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, ws, websocket.ClosePolicyViolation)
}

func TestSocketClosesOnShutdown(t *testing.T) {
	d := newFakeDeliverer()
	ws := connect(t, d, 7)

	d.hub.Shutdown()

	if env := readEnvelope(t, ws); env.Type != "disconnected" {
		t.Fatalf("type = %q, want disconnected", env.Type)
	}
	expectClose(t, ws, websocket.CloseNormalClosure)
}

func TestSocketUnregistersOnClientClose(t *testing.T) {
	d := newFakeDeliverer()
	ws := connect(t, d, 7)

	if !d.hub.IsConnected(7) {
		t.Fatal("user should be registered while the socket is open")
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	deadline := time.Now().Add(2 * time.Second)
	for d.hub.IsConnected(7) {
		if time.Now().After(deadline) {
			t.Fatal("connection still registered after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
