package lp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/webitel/im-chat-delivery/internal/domain/event"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	lpmarshaller "github.com/webitel/im-chat-delivery/internal/handler/marshaller/lp"
	"github.com/webitel/im-chat-delivery/internal/service"
)

const (
	DefaultWait = 30 * time.Second
	maxBatch    = 16
)

// LPHandler streams live events to clients that cannot hold a socket open.
// A poll takes over the user's live registration for its duration.
type LPHandler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
	wait      time.Duration
}

func NewLPHandler(deliverer service.Deliverer, logger *slog.Logger, wait time.Duration) *LPHandler {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &LPHandler{
		deliverer: deliverer,
		logger:    logger,
		wait:      wait,
	}
}

// Poll handles the long-polling request.
// It holds the connection until an event arrives or timeout occurs.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Extract Identity.
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	// 2. Temporary Subscription.
	// The connector lives only for the duration of this HTTP request.
	conn, err := h.deliverer.Subscribe(r.Context(), userID)
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())
	defer conn.Close()

	var events []event.Eventer

	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	// 3. Wait for data or timeout. The greeting is skipped, a poll only reports news.
wait:
	for {
		select {
		case <-r.Context().Done():
			// Client disconnected.
			return

		case <-conn.Done():
			// Replaced by a newer connection of the same user.
			w.WriteHeader(http.StatusNoContent)
			return

		case <-timer.C:
			// Standard Long-Polling timeout to prevent hanging connections.
			w.WriteHeader(http.StatusNoContent)
			return

		case ev := <-conn.Recv():
			if ev.GetKind() == event.Connected {
				continue
			}
			events = append(events, ev)
			break wait
		}
	}

	// Drain remaining events from buffer to provide batching.
drain:
	for len(events) < maxBatch {
		select {
		case ev := <-conn.Recv():
			events = append(events, ev)
		default:
			break drain
		}
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		h.logger.Error("LP_MARSHAL_FAILED", "err", err, "user_id", userID)
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
