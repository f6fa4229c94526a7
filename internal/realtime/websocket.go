package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/vryxia/internal/domain"
	"github.com/ashureev/vryxia/internal/identity"
	"github.com/ashureev/vryxia/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Limiter throttles sends per user. middleware.RateLimiter satisfies it.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler serves GET /ws/chat: inbound triggers, outbound events.
type WebSocketHandler struct {
	hub           *Hub
	sessions      Sessions
	limiter       Limiter
	allowedOrigin string
	isDev         bool
	writeTimeout  time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler. limiter may be nil.
func NewWebSocketHandler(hub *Hub, sessions Sessions, limiter Limiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		sessions:      sessions,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		writeTimeout:  10 * time.Second,
	}
}

// inboundMessage is a client trigger.
type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// outboundMessage is written to the client.
type outboundMessage struct {
	Type       string               `json:"type"`
	ID         int64                `json:"id,omitempty"`
	Event      *domain.Event        `json:"event,omitempty"`
	State      *domain.SessionState `json:"state,omitempty"`
	Dispatched *bool                `json:"dispatched,omitempty"`
	Active     *bool                `json:"active,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ctrl, err := h.sessions.GetOrCreate(r.Context(), userID, sessionID)
	if err != nil {
		http.Error(w, `{"error": "session unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, _ := h.hub.Subscribe(ctrl.ID(), -1)
	defer sub.Close()

	state := ctrl.Snapshot()
	if err := h.write(ctx, ws, outboundMessage{Type: "state", State: &state}); err != nil {
		slog.Debug("Failed to send initial state", "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, userID, sessionID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, sub)
	}()

	wg.Wait()
	slog.Info("Chat websocket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		var msg inboundMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		// A reset from another tab replaces the controller; always act on
		// the current one.
		ctrl, err := h.sessions.GetOrCreate(ctx, userID, sessionID)
		if err != nil {
			_ = h.write(ctx, ws, outboundMessage{Type: "error", Error: "session unavailable"})
			return
		}

		var reply *outboundMessage
		switch msg.Type {
		case "draft":
			ctrl.SetDraft(msg.Text)
		case "send":
			if h.limiter != nil && !h.limiter.Allow(userID) {
				reply = &outboundMessage{Type: "error", Error: "rate limit exceeded"}
				break
			}
			dispatched := ctrl.Send()
			reply = &outboundMessage{Type: "send_result", Dispatched: &dispatched}
		case "activate":
			active := ctrl.ToggleChatMode()
			reply = &outboundMessage{Type: "chat_mode", Active: &active}
		case "state":
			state := ctrl.Snapshot()
			reply = &outboundMessage{Type: "state", State: &state}
		case "ping":
			reply = &outboundMessage{Type: "pong"}
		default:
			reply = &outboundMessage{Type: "error", Error: "unknown message type"}
		}

		if reply != nil {
			if err := h.write(ctx, ws, *reply); err != nil {
				slog.Debug("Failed to write websocket reply", "error", err, "type", reply.Type)
				return
			}
		}

		if msg.Type != "ping" && msg.Type != "state" {
			go func(c *session.Controller) {
				touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				h.sessions.Touch(touchCtx, c)
			}(ctrl)
		}
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case qe, ok := <-sub.C:
			if !ok {
				return
			}
			e := qe.Event
			if err := h.write(ctx, ws, outboundMessage{Type: "event", ID: qe.ID, Event: &e}); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, msg outboundMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, msg)
}
