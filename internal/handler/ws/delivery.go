package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-chat-delivery/internal/handler/marshaller/ws"
	"github.com/webitel/im-chat-delivery/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	handshakeWait  = 10 * time.Second
	maxMessageSize = 64 << 10
)

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

// NewWSHandler accepts any origin when allowedOrigins is empty or contains "*".
func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// session serializes writes; gorilla allows one concurrent writer per connection.
type session struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(messageType, data)
}

func (s *session) close(code int, reason string) {
	_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	s := &session{ws: ws}

	// 2. HANDSHAKE: the first frame must identify the user
	userID, err := h.handshake(ws)
	if err != nil {
		h.logger.Debug("WS_HANDSHAKE_REJECTED", "err", err)
		s.close(websocket.ClosePolicyViolation, "expected connect frame")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 3. SUBSCRIBE VIA THE SAME SERVICE
	conn, err := h.deliverer.Subscribe(ctx, userID)
	if err != nil {
		reason := "subscribe failed"
		if errors.Is(err, model.ErrNotFound) {
			reason = "user not found"
		}
		s.close(websocket.ClosePolicyViolation, reason)
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	h.logger.Info("WS_OPENED", "user_id", userID, "conn_id", conn.GetID())

	// 4. WRITE PUMP runs beside the read loop and owns pings
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.writePump(s, conn)
		// Unblock the read loop once nothing more can be delivered.
		_ = ws.SetReadDeadline(time.Now())
	}()

	h.readLoop(ctx, s, userID)

	conn.Close()
	<-pumpDone

	h.logger.Info("WS_CLOSED", "user_id", userID, "conn_id", conn.GetID(), "dropped", conn.Dropped())
}

func (h *WSHandler) handshake(ws *websocket.Conn) (int64, error) {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeWait))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return 0, err
	}
	f, err := wsmarshaller.DecodeFrame(raw)
	if err != nil {
		return 0, err
	}
	if f.Type != wsmarshaller.FrameConnect || f.UserID <= 0 {
		return 0, errors.New("first frame is not a connect frame")
	}
	return f.UserID, nil
}

func (h *WSHandler) writePump(s *session, conn registry.Connector) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			// Drain what was queued before the close, e.g. a shutdown notice.
			for {
				select {
				case ev := <-conn.Recv():
					if data, err := wsmarshaller.MarshallDeliveryEvent(ev); err == nil {
						_ = s.write(websocket.TextMessage, data)
					}
				default:
					s.close(websocket.CloseNormalClosure, "")
					return
				}
			}

		case ev := <-conn.Recv():
			data, err := wsmarshaller.MarshallDeliveryEvent(ev)
			if err != nil {
				h.logger.Error("WS_MARSHAL_FAILED", "err", err, "event_id", ev.GetID())
				continue
			}
			if err := s.write(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WS_SEND_FAILED", "err", err, "user_id", conn.GetUserID())
				return
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, s *session, userID int64) {
	ws := s.ws
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WS_READ_FAILED", "err", err, "user_id", userID)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := wsmarshaller.DecodeFrame(raw)
		if err != nil {
			h.reply(s, "malformed frame")
			continue
		}

		switch f.Type {
		case wsmarshaller.FrameNewMessage, wsmarshaller.FramePrivateMessage:
			m, err := f.PrivateMessage()
			if err != nil {
				h.reply(s, "malformed message")
				continue
			}
			msg, err := h.deliverer.SendPrivate(ctx, m.ChatID, userID, m.Content)
			switch {
			case errors.Is(err, model.ErrNotifyFailed):
				h.logger.Warn("NOTIFICATION_FAILED", "chat_id", m.ChatID, "message_id", msg.ID, "err", err)
			case err != nil:
				h.reply(s, clientError(err))
			}
		default:
			h.reply(s, "unsupported frame type: "+f.Type)
		}
	}
}

// clientError hides storage details from the peer.
func clientError(err error) string {
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidArgument) {
		return err.Error()
	}
	return "internal error"
}

func (h *WSHandler) reply(s *session, message string) {
	data, err := wsmarshaller.MarshallError(message)
	if err != nil {
		return
	}
	_ = s.write(websocket.TextMessage, data)
}
