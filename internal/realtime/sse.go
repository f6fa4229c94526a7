package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/vryxia/internal/identity"
	"github.com/ashureev/vryxia/internal/session"
)

// Sessions resolves the live controller for a request. *session.Manager
// satisfies it.
type Sessions interface {
	GetOrCreate(ctx context.Context, userID, sessionID string) (*session.Controller, error)
	Touch(ctx context.Context, c *session.Controller)
}

// StreamConfig controls SSE timing.
type StreamConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// StreamHandler serves GET /api/chat/stream.
type StreamHandler struct {
	hub      *Hub
	sessions Sessions
	cfg      StreamConfig
}

// NewStreamHandler creates an SSE handler.
func NewStreamHandler(hub *Hub, sessions Sessions, cfg StreamConfig) *StreamHandler {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &StreamHandler{hub: hub, sessions: sessions, cfg: cfg}
}

// lastEventID parses Last-Event-ID (or the lastEventId query parameter used by
// clients that cannot set headers). It returns -1 when absent or invalid.
func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return -1
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return -1
	}
	return id
}

// HandleStream streams session events with replay of missed events.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	ctrl, err := h.sessions.GetOrCreate(r.Context(), userID, sessionID)
	if err != nil {
		http.Error(w, `{"error": "session unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	afterID := lastEventID(r)
	sub, missed := h.hub.Subscribe(ctrl.ID(), afterID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}

	if len(missed) > 0 {
		slog.Info("Sending missed events",
			"user_id", userID,
			"session_id", sessionID,
			"count", len(missed),
		)
	}
	for _, qe := range missed {
		if err := writeEvent(w, qe); err != nil {
			slog.Warn("failed to replay SSE event", "error", err, "user_id", userID)
			return
		}
	}

	connected, err := json.Marshal(map[string]any{
		"status": "connected",
		"state":  ctrl.Snapshot(),
	})
	if err != nil {
		slog.Error("failed to marshal SSE connected event", "error", err)
		return
	}
	if err := writeSSE(w, "connected", string(connected)); err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	slog.Info("SSE connection established",
		"user_id", userID,
		"session_id", sessionID,
		"subscription", sub.ID,
		"reconnect", afterID >= 0,
	)

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("SSE stream disconnected", "user_id", userID, "session_id", sessionID)
			return
		case qe, ok := <-sub.C:
			if !ok {
				slog.Info("SSE stream closed by hub", "user_id", userID, "session_id", sessionID)
				return
			}
			if err := writeEvent(w, qe); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, qe QueuedEvent) error {
	data, err := json.Marshal(qe.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return writeSSEWithID(w, qe.ID, string(qe.Event.Kind), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
