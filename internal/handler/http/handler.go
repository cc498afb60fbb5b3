package httphandler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/handler/lp"
	"github.com/webitel/im-chat-delivery/internal/service"
	"github.com/webitel/im-chat-delivery/internal/service/dto"
)

type Handler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
}

func NewHandler(deliverer service.Deliverer, logger *slog.Logger) *Handler {
	return &Handler{deliverer: deliverer, logger: logger}
}

// NewRouter mounts the REST surface, the long-poll event stream and the socket endpoint.
func NewRouter(h *Handler, events *lp.LPHandler, socket http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(CORS(allowedOrigins))

	// Global chat.
	r.Post("/join", h.Join)
	r.Get("/active-users", h.ActiveUsers)
	r.Get("/messages/new", h.NewMessages)
	r.Post("/send", h.Send)

	// Private chats.
	r.Route("/chats", func(r chi.Router) {
		r.Get("/get-or-create", h.GetOrCreateChat)
		r.Get("/ws", socket.ServeHTTP)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/messages", h.ChatHistory)
			r.Post("/messages", h.PostChatMessage)
			r.Get("/unread", h.Unread)
			r.Get("/unread-count", h.UnreadCount)
		})
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/unread", h.UnreadFlags)
		r.Patch("/{chatID}/read", h.MarkRead)
	})

	r.Get("/events", events.Poll)
	r.Get("/stats", h.Stats)

	return r
}

// -------------------- GLOBAL CHAT --------------------

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req dto.JoinRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.deliverer.Join(r.Context(), req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, u)
}

func (h *Handler) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "current_user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	users, err := h.deliverer.ActiveUsers(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list(users))
}

// NewMessages is the global chat poll. Each call returns only what the caller has not
// received before.
func (h *Handler) NewMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs, err := h.deliverer.PollGlobal(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list(msgs))
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req dto.SendRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.deliverer.SendGlobal(r.Context(), req.UserID, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

// -------------------- PRIVATE CHATS --------------------

func (h *Handler) GetOrCreateChat(w http.ResponseWriter, r *http.Request) {
	userA, err := queryID(r, "user1_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userB, err := queryID(r, "user2_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	chat, err := h.deliverer.GetOrCreateChat(r.Context(), userA, userB)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chat)
}

func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r, "chatID")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs, err := h.deliverer.ChatHistory(r.Context(), chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list(msgs))
}

func (h *Handler) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r, "chatID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req dto.SendRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.deliverer.SendPrivate(r.Context(), chatID, req.UserID, req.Content)
	if errors.Is(err, model.ErrNotifyFailed) {
		h.logger.Warn("NOTIFICATION_FAILED", "chat_id", chatID, "message_id", msg.ID, "err", err)
		err = nil
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r, "chatID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs, err := h.deliverer.GetUnread(r.Context(), userID, chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list(msgs))
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r, "chatID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.deliverer.UnreadCount(r.Context(), userID, chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, dto.UnreadCountResponse{ChatID: chatID, UserID: userID, Count: n})
}

// -------------------- NOTIFICATIONS --------------------

// UnreadFlags answers {"<counterpart id>": true, ...} for the caller.
func (h *Handler) UnreadFlags(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "current_user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	flags, err := h.deliverer.UnreadFlags(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, flags)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r, "chatID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req dto.MarkReadRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	updated, err := h.deliverer.MarkRead(r.Context(), req.UserID, chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, dto.MarkReadResponse{Updated: updated})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.deliverer.Stats())
}
