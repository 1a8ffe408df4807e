package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/chatclient/internal/chat"
	"github.com/chatclient/internal/connection"
	"github.com/chatclient/internal/middleware"
	"github.com/chatclient/internal/model"
	"github.com/chatclient/internal/outbox"
)

const maxMessagesPage = 500

// Core is the part of chat.Client the inspector drives.
type Core interface {
	Status(ctx context.Context) (chat.Status, error)
	Send(ctx context.Context, chatID, text string) (model.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	ForceReconnect(ctx context.Context) error
}

// Snapshots reads the conversation store.
type Snapshots interface {
	Messages(conversationID string) []model.Message
	Chats() []model.Chat
	DebugLog() []model.DebugEvent
}

// InspectHandler serves a local HTTP view of the client: connection state,
// conversations, the debug log, and send/reconnect actions.
type InspectHandler struct {
	core  Core
	snaps Snapshots
}

func NewInspectHandler(core Core, snaps Snapshots) *InspectHandler {
	return &InspectHandler{core: core, snaps: snaps}
}

// Router mounts the inspector routes with recovery, request logging and CORS.
func (h *InspectHandler) Router(corsOrigins string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(corsOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/chats", h.GetChats)
		r.Get("/chats/{chatId}/messages", h.GetMessages)
		r.Post("/chats/{chatId}/messages", h.SendMessage)
		r.Post("/messages/{messageId}/read", h.MarkRead)
		r.Post("/reconnect", h.Reconnect)
		r.Get("/debug", h.GetDebugLog)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (h *InspectHandler) GetState(w http.ResponseWriter, r *http.Request) {
	s, err := h.core.Status(r.Context())
	if err != nil {
		writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *InspectHandler) GetChats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"chats": h.snaps.Chats()})
}

func (h *InspectHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	limit := queryInt(r, "limit", 0, maxMessagesPage)
	offset := queryInt(r, "offset", 0, 0)
	msgs := page(h.snaps.Messages(chatID), limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "limit": limit, "offset": offset})
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Message model.Message `json:"message"`
	Error   string        `json:"error,omitempty"`
}

func (h *InspectHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := h.core.Send(r.Context(), chatID, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sendResponse{Message: m})
	case errors.Is(err, outbox.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "text is empty")
	case errors.Is(err, connection.ErrNotConnected):
		// The entry is kept locally as "sending".
		writeJSON(w, http.StatusServiceUnavailable, sendResponse{Message: m, Error: "not connected"})
	default:
		writeLoopError(w, err)
	}
}

func (h *InspectHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.core.MarkRead(r.Context(), chi.URLParam(r, "messageId"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, connection.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "not connected")
	default:
		writeLoopError(w, err)
	}
}

func (h *InspectHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.core.ForceReconnect(r.Context()); err != nil {
		writeLoopError(w, err)
		return
	}
	s, err := h.core.Status(r.Context())
	if err != nil {
		writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s)
}

func (h *InspectHandler) GetDebugLog(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0, 0)
	writeJSON(w, http.StatusOK, map[string]any{"events": page(h.snaps.DebugLog(), limit, 0)})
}
