package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/vryxia/internal/domain"
	"github.com/ashureev/vryxia/internal/identity"
	"github.com/ashureev/vryxia/internal/persona"
	"github.com/ashureev/vryxia/internal/presentation"
	"github.com/ashureev/vryxia/internal/session"
	"github.com/go-chi/chi/v5"
)

// ChatSessions resolves live controllers. *session.Manager satisfies it.
type ChatSessions interface {
	GetOrCreate(ctx context.Context, userID, sessionID string) (*session.Controller, error)
	Reset(ctx context.Context, userID, sessionID string) (*session.Controller, error)
	Touch(ctx context.Context, c *session.Controller)
}

// SessionLister reads recorded session metadata. store.Repository satisfies it.
type SessionLister interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListChatSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)
}

// ChatHandler serves the chat trigger endpoints.
type ChatHandler struct {
	sessions  ChatSessions
	repo      SessionLister
	persona   persona.Persona
	catalog   presentation.Catalog
	aiEnabled bool
	sendLimit func(http.Handler) http.Handler
	stream    http.HandlerFunc
}

// ChatHandlerConfig configures a ChatHandler.
type ChatHandlerConfig struct {
	Sessions  ChatSessions
	Repo      SessionLister
	Persona   persona.Persona
	Catalog   presentation.Catalog
	AIEnabled bool
	// SendLimit wraps the send route, typically a rate limiter. Optional.
	SendLimit func(http.Handler) http.Handler
	// Stream serves GET /api/chat/stream when set.
	Stream http.HandlerFunc
}

// NewChatHandler creates a chat handler.
func NewChatHandler(cfg ChatHandlerConfig) *ChatHandler {
	sendLimit := cfg.SendLimit
	if sendLimit == nil {
		sendLimit = func(next http.Handler) http.Handler { return next }
	}
	return &ChatHandler{
		sessions:  cfg.Sessions,
		repo:      cfg.Repo,
		persona:   cfg.Persona,
		catalog:   cfg.Catalog,
		aiEnabled: cfg.AIEnabled,
		sendLimit: sendLimit,
		stream:    cfg.Stream,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Route("/chat", func(r chi.Router) {
			r.Get("/state", h.GetState)
			r.Get("/sessions", h.ListSessions)
			r.Put("/draft", h.PutDraft)
			r.With(h.sendLimit).Post("/send", h.Send)
			r.Post("/activate", h.Activate)
			r.Post("/reset", h.Reset)
			if h.stream != nil {
				r.Get("/stream", h.stream)
			}
		})
	})
}

type draftRequest struct {
	Text string `json:"text"`
}

type sendRequest struct {
	Text *string `json:"text,omitempty"`
}

type sendResponse struct {
	Dispatched bool                `json:"dispatched"`
	State      domain.SessionState `json:"state"`
}

// controller resolves the caller's session or writes an error response.
func (h *ChatHandler) controller(w http.ResponseWriter, r *http.Request) *session.Controller {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	ctrl, err := h.sessions.GetOrCreate(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to resolve chat session", "error", err, "user_id", userID, "session_id", sessionID)
		if errors.Is(err, session.ErrManagerClosed) {
			Error(w, http.StatusServiceUnavailable, "shutting down")
			return nil
		}
		Error(w, http.StatusInternalServerError, "session unavailable")
		return nil
	}
	return ctrl
}

// touch records activity without holding up the response.
func (h *ChatHandler) touch(ctrl *session.Controller) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.sessions.Touch(ctx, ctrl)
	}()
}

// GetState returns the session snapshot.
func (h *ChatHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// PutDraft replaces the draft.
func (h *ChatHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	ctrl.SetDraft(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// Send commits the draft. An optional {"text"} body replaces the draft first.
// It answers 202 when a request was dispatched and 200 when the send was
// ignored (blank draft or a reply already pending).
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	if req.Text != nil {
		ctrl.SetDraft(*req.Text)
	}
	dispatched := ctrl.Send()
	h.touch(ctrl)

	status := http.StatusOK
	if dispatched {
		status = http.StatusAccepted
	}
	JSON(w, status, sendResponse{Dispatched: dispatched, State: ctrl.Snapshot()})
}

// Activate toggles chat mode, as clicking the character does.
func (h *ChatHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	active := ctrl.ToggleChatMode()
	h.touch(ctrl)
	JSON(w, http.StatusOK, map[string]bool{"chat_mode_active": active})
}

// Reset discards the tab's conversation and starts over from the greeting.
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	ctrl, err := h.sessions.Reset(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to reset chat session", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// ListSessions returns the recorded sessions of the caller.
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessions, err := h.repo.ListChatSessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list chat sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]interface{}{
			"session_id":       s.SessionID,
			"message_count":    s.MessageCount,
			"chat_mode_active": s.ChatModeActive,
			"created_at":       s.CreatedAt,
			"last_active_at":   s.LastActiveAt,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetMe returns the current user's information.
func (h *ChatHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetConfig returns what the front-end needs to present the character.
func (h *ChatHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"name":       h.persona.Name,
		"greeting":   h.persona.Greeting,
		"ai_enabled": h.aiEnabled,
		"sounds":     h.catalog,
		"visuals": map[string]interface{}{
			"pending":               presentation.VisualQuestionMark,
			"replied":               presentation.VisualLightBulb,
			"replied_hide_delay_ms": presentation.LightBulbHideDelayMs,
		},
		"session_header": identity.SessionHeaderName,
	})
}
