package room

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chat-server/internal/apperr"
	"chat-server/internal/middleware"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// Routes mounts the room REST surface.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/mine", h.Mine)
	r.Get("/open", h.Open)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Put("/{id}/join", h.Join)
	r.Put("/{id}/leave", h.Leave)
	r.Put("/{id}/topic", h.UpdateTopic)
	r.Put("/{id}/description", h.UpdateDescription)
	r.Put("/{id}/limit", h.UpdateLimit)
	r.Put("/{id}/read-receipt", h.UpdateReadReceipt)
	r.Put("/{id}/reactions", h.UpdateReactions)
	r.Post("/{id}/messages", h.SendMessage)
	r.Put("/{id}/messages/{msgID}", h.EditMessage)
	r.Delete("/{id}/messages/{msgID}", h.DeleteMessage)
	r.Post("/{id}/messages/{msgID}/reactions", h.React)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	room, err := h.Service.Create(r.Context(), middleware.UserID(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.Service.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.ByUser(middleware.UserID(r.Context())))
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Open())
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	room, err := h.Service.Join(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Leave(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var chat ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&chat); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	msg, err := h.Service.SendMessage(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), &chat)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	msg, err := h.Service.EditMessage(r.Context(), middleware.UserID(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "msgID"), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Service.DeleteMessage(r.Context(), middleware.UserID(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "msgID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reaction string `json:"reaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	msg, err := h.Service.React(r.Context(), middleware.UserID(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "msgID"), req.Reaction)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	room, err := h.Service.UpdateTopic(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	room, err := h.Service.UpdateDescription(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	// Absent or empty limit means unlimited.
	var limit *int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperr.Invalid("limit must be a number"))
			return
		}
		limit = &n
	}
	room, err := h.Service.UpdateLimit(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) UpdateReadReceipt(w http.ResponseWriter, r *http.Request) {
	h.updateFlag(w, r, h.Service.UpdateReadReceipt)
}

func (h *Handler) UpdateReactions(w http.ResponseWriter, r *http.Request) {
	h.updateFlag(w, r, h.Service.UpdateReactions)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateFlag(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, callerID, roomID string, enabled bool) (Room, error)) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	room, err := fn(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": err.Error()})
}
