package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amara-dev/wallet-backend/internal/auth"
	"github.com/amara-dev/wallet-backend/internal/logging"
	"github.com/amara-dev/wallet-backend/internal/notify"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

type hub interface {
	Subscribe(userID uuid.UUID, sub *notify.Subscriber)
	Unsubscribe(userID uuid.UUID, sub *notify.Subscriber)
}

// WSHandler exposes the notification channel: a connection authenticates
// as a user and receives that user's transfer events for its lifetime.
type WSHandler struct {
	hub       hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewWSHandler(h hub, jwtSecret string) *WSHandler {
	return &WSHandler{
		hub:       h,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	// Browsers cannot set Authorization headers on websocket upgrades,
	// so the token rides in the query string.
	claims, err := auth.ValidateToken(r.URL.Query().Get("token"), h.jwtSecret)
	if err != nil {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := notify.NewSubscriber()
	h.hub.Subscribe(claims.UserID, sub)
	log.Info("notification subscriber connected", "user_id", claims.UserID)

	go h.writePump(conn, sub)

	// Read loop exists only to observe the close handshake and pong
	// frames; inbound payloads are discarded.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unsubscribe(claims.UserID, sub)
	conn.Close()
	log.Info("notification subscriber disconnected", "user_id", claims.UserID)
}

func (h *WSHandler) writePump(conn *websocket.Conn, sub *notify.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
