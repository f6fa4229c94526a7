package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/vryxia/internal/agent"
	"github.com/ashureev/vryxia/internal/domain"
	"github.com/ashureev/vryxia/internal/persona"
	"github.com/ashureev/vryxia/internal/shared"
)

// MetadataStore persists per-session summaries. store.Repository satisfies it.
type MetadataStore interface {
	UpsertChatSession(ctx context.Context, session *domain.ChatSession) error
	DeleteChatSession(ctx context.Context, userID, sessionID string) error
}

// CloseCallback is called after a session has been removed from the manager.
type CloseCallback func(userID, sessionID string)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Generator       agent.Generator
	Persona         persona.Persona
	ReplyCooldown   time.Duration
	Sink            domain.EventSink
	Store           MetadataStore
	ConversationLog agent.ConversationLogger
	Logger          *slog.Logger
	OnClose         CloseCallback
	Now             func() time.Time
}

// Manager owns the live controllers, keyed by user and tab session.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]map[string]*Controller
	closed bool
}

// ErrManagerClosed is returned by GetOrCreate after CloseAll.
var ErrManagerClosed = errors.New("session manager closed")

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		active: make(map[string]map[string]*Controller),
	}, nil
}

// Get returns the live controller for a user and session, or nil.
func (m *Manager) Get(userID, sessionID string) *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// GetOrCreate returns the live controller for a user and session, creating
// and recording it if needed.
func (m *Manager) GetOrCreate(ctx context.Context, userID, sessionID string) (*Controller, error) {
	if c := m.Get(userID, sessionID); c != nil {
		return c, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if c := m.active[userID][sessionID]; c != nil {
		m.mu.Unlock()
		return c, nil
	}
	c := m.newControllerLocked(userID, sessionID)
	m.mu.Unlock()

	m.logger.Info("Chat session created", "user_id", userID, "session_id", sessionID)
	m.persist(ctx, c)
	return c, nil
}

// Reset replaces the session with a fresh controller. The old controller is
// closed; any reply it still awaits is discarded.
func (m *Manager) Reset(ctx context.Context, userID, sessionID string) (*Controller, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	// The old controller is closed before the lock is released so a late
	// reply cannot publish under the key the new controller now owns.
	if old := m.active[userID][sessionID]; old != nil {
		old.Close()
	}
	c := m.newControllerLocked(userID, sessionID)
	m.mu.Unlock()

	m.logger.Info("Chat session reset", "user_id", userID, "session_id", sessionID)
	m.persist(ctx, c)
	return c, nil
}

func (m *Manager) newControllerLocked(userID, sessionID string) *Controller {
	c := NewController(m.cfg.Generator, m.cfg.Persona, Config{
		UserID:          userID,
		SessionID:       sessionID,
		ReplyCooldown:   m.cfg.ReplyCooldown,
		Sink:            m.cfg.Sink,
		ConversationLog: m.cfg.ConversationLog,
		Logger:          m.logger,
		Now:             m.cfg.Now,
	})
	if _, ok := m.active[userID]; !ok {
		m.active[userID] = make(map[string]*Controller)
	}
	m.active[userID][sessionID] = c
	return c
}

// Touch records the controller's current metadata in the store.
func (m *Manager) Touch(ctx context.Context, c *Controller) {
	m.persist(ctx, c)
}

func (m *Manager) persist(ctx context.Context, c *Controller) {
	if m.cfg.Store == nil {
		return
	}
	meta := c.Metadata()
	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func(ctx context.Context) error {
		return m.cfg.Store.UpsertChatSession(ctx, &meta)
	})
	if err != nil {
		m.logger.Warn("Failed to record chat session",
			"error", err,
			"user_id", meta.UserID,
			"session_id", meta.SessionID)
	}
}

// CloseSession closes and forgets one session. It reports whether the
// session existed.
func (m *Manager) CloseSession(ctx context.Context, userID, sessionID string) bool {
	m.mu.Lock()
	c := m.removeLocked(userID, sessionID)
	m.mu.Unlock()

	if c == nil {
		return false
	}
	m.finish(ctx, c, userID, sessionID)
	return true
}

// CloseUser closes every session belonging to a user and returns how many
// were closed.
func (m *Manager) CloseUser(ctx context.Context, userID string) int {
	m.mu.Lock()
	sessions := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	for sid, c := range sessions {
		m.finish(ctx, c, userID, sid)
	}
	return len(sessions)
}

// CloseAll closes every session and rejects further creation. Metadata is
// kept so operators can see what was live at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	all := m.active
	m.active = make(map[string]map[string]*Controller)
	m.mu.Unlock()

	for userID, sessions := range all {
		for sid, c := range sessions {
			c.Close()
			if m.cfg.OnClose != nil {
				m.cfg.OnClose(userID, sid)
			}
		}
	}
	for _, sessions := range all {
		for _, c := range sessions {
			c.Wait()
		}
	}
	m.logger.Info("All chat sessions closed")
}

// Sweep closes sessions idle for longer than ttl. Sessions awaiting a reply
// are never swept. It returns the number of sessions closed.
func (m *Manager) Sweep(ctx context.Context, ttl time.Duration) int {
	now := m.cfg.Now()

	type target struct {
		userID, sessionID string
		c                 *Controller
	}
	var expired []target

	m.mu.Lock()
	for userID, sessions := range m.active {
		for sid, c := range sessions {
			last, pending := c.IdleSince()
			if pending || now.Sub(last) < ttl {
				continue
			}
			expired = append(expired, target{userID, sid, c})
			m.removeLocked(userID, sid)
		}
	}
	m.mu.Unlock()

	for _, t := range expired {
		m.logger.Info("Expiring idle chat session", "user_id", t.userID, "session_id", t.sessionID)
		m.finish(ctx, t.c, t.userID, t.sessionID)
	}
	return len(expired)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

func (m *Manager) removeLocked(userID, sessionID string) *Controller {
	sessions, ok := m.active[userID]
	if !ok {
		return nil
	}
	c, ok := sessions[sessionID]
	if !ok {
		return nil
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	return c
}

func (m *Manager) finish(ctx context.Context, c *Controller, userID, sessionID string) {
	c.Close()
	if m.cfg.OnClose != nil {
		m.cfg.OnClose(userID, sessionID)
	}
	if m.cfg.Store == nil {
		return
	}
	err := shared.RetryOnConflict(ctx, 3, 100*time.Millisecond, func(ctx context.Context) error {
		return m.cfg.Store.DeleteChatSession(ctx, userID, sessionID)
	})
	if err != nil {
		m.logger.Warn("Failed to delete chat session metadata",
			"error", err,
			"user_id", userID,
			"session_id", sessionID)
	}
	m.logger.Info("Chat session closed", "user_id", userID, "session_id", sessionID)
}
