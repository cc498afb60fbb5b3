package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-chat-delivery/config"
	"github.com/webitel/im-chat-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/service"
	"github.com/webitel/im-chat-delivery/internal/service/dto"
	"go.uber.org/goleak"
)

type call struct {
	chatID  int64
	userID  int64
	content string
}

// fakeDeliverer records sends. Methods the bus never calls are left to the nil interface.
type fakeDeliverer struct {
	service.Deliverer

	mu    sync.Mutex
	calls []call
	err   error
	seen  chan struct{}
}

func (f *fakeDeliverer) record(c call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.seen <- struct{}{}
	return f.err
}

func (f *fakeDeliverer) SendGlobal(_ context.Context, authorID int64, body string) (model.Message, error) {
	return model.Message{}, f.record(call{userID: authorID, content: body})
}

func (f *fakeDeliverer) SendPrivate(_ context.Context, chatID, authorID int64, body string) (model.Message, error) {
	return model.Message{}, f.record(call{chatID: chatID, userID: authorID, content: body})
}

func startRouter(t *testing.T, d *fakeDeliverer) *pubsub.Provider {
	t.Helper()

	cfg := &config.Config{Pubsub: config.PubsubConfig{
		InboundTopic: "im_chat.inbound.message.v1",
		PoisonTopic:  "im_chat.inbound.message.v1.poison",
		Throttle:     1000,
		HandlerTTL:   time.Second,
	}}
	wmLogger := watermill.NopLogger{}

	provider, err := pubsub.NewProvider(cfg, wmLogger)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	router, err := NewWatermillRouter(wmLogger)
	if err != nil {
		t.Fatalf("NewWatermillRouter: %v", err)
	}

	h := NewMessageHandler(d, slog.Default(), wmLogger)
	if err := h.RegisterHandlers(router, provider, cfg.Pubsub); err != nil {
		t.Fatalf("RegisterHandlers: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = router.Run(context.Background())
	}()
	<-router.Running()

	t.Cleanup(func() {
		_ = router.Close()
		<-done
		_ = provider.Close()
	})
	return provider
}

func publish(t *testing.T, p *pubsub.Provider, payload []byte) {
	t.Helper()
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.Publisher().Publish("im_chat.inbound.message.v1", msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func waitCall(t *testing.T, d *fakeDeliverer) {
	t.Helper()
	select {
	case <-d.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestRouterDispatchesInbound(t *testing.T) {
	// Registered first so it runs after the router and channel cleanups.
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })

	d := &fakeDeliverer{seen: make(chan struct{}, 4)}
	p := startRouter(t, d)

	// Garbage and invalid envelopes are acked without reaching the service.
	publish(t, p, []byte("{not json"))
	publish(t, p, []byte(`{"user_id": 1, "content": "   "}`))

	global, _ := json.Marshal(dto.MessageV1{UserID: 1, Content: "hello all"})
	publish(t, p, global)
	waitCall(t, d)

	chatID := int64(7)
	private, _ := json.Marshal(dto.MessageV1{ChatID: &chatID, UserID: 2, Content: "psst"})
	publish(t, p, private)
	waitCall(t, d)

	d.mu.Lock()
	defer d.mu.Unlock()
	want := []call{{userID: 1, content: "hello all"}, {chatID: 7, userID: 2, content: "psst"}}
	if len(d.calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", d.calls, want)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, d.calls[i], want[i])
		}
	}
}

func TestRouterAcksTerminalErrors(t *testing.T) {
	d := &fakeDeliverer{seen: make(chan struct{}, 4), err: model.ErrNotFound}
	p := startRouter(t, d)

	poison, err := p.Subscriber().Subscribe(context.Background(), "im_chat.inbound.message.v1.poison")
	if err != nil {
		t.Fatalf("Subscribe poison: %v", err)
	}

	body, _ := json.Marshal(dto.MessageV1{UserID: 404, Content: "hi"})
	publish(t, p, body)
	waitCall(t, d)

	select {
	case <-d.seen:
		t.Fatal("a not-found result was retried")
	case m := <-poison:
		t.Fatalf("a not-found result went to the poison queue: %s", m.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}
