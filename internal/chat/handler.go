package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-server/internal/apperr"
	"chat-server/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the frontend host is pinned down.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub      *Hub
	presence *Presence
	log      zerolog.Logger
}

func NewHandler(hub *Hub, presence *Presence, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, presence: presence, log: log}
}

// ServeWs upgrades the connection and registers it with the hub and the
// presence core. The credential was already resolved by the auth
// middleware; without a verified user the registration never happens.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	log := h.log.With().
		Str("user", userID).
		Str("name", middleware.UserName(r.Context())).
		Logger()
	client := newClient(uuid.NewString(), userID, h.hub, h.presence, conn, log)
	h.hub.register(client)

	if err := h.presence.OnConnect(r.Context(), client.id, userID); err != nil {
		h.log.Warn().Err(err).Str("user", userID).Msg("connect rejected")
		h.hub.unregister(client)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// GetConversation returns the caller's pairwise conversation with the
// user in the path, queued deliveries included.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	selfID := middleware.UserID(r.Context())
	otherID := chi.URLParam(r, "id")

	convo, err := h.presence.Conversation(selfID, otherID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apperr.HTTPStatus(err))
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(convo)
}
