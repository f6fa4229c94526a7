// Package session owns per-tab conversation state and its request lifecycle.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/vryxia/internal/agent"
	"github.com/ashureev/vryxia/internal/domain"
	"github.com/ashureev/vryxia/internal/persona"
	"github.com/google/uuid"
)

// DefaultReplyCooldown is how long the recently-replied flag stays set.
const DefaultReplyCooldown = 1500 * time.Millisecond

// Timer is the subset of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config controls a Controller.
type Config struct {
	UserID          string
	SessionID       string
	ReplyCooldown   time.Duration
	Sink            domain.EventSink
	ConversationLog agent.ConversationLogger
	Logger          *slog.Logger

	// AfterFunc and Now are replaced in tests.
	AfterFunc AfterFunc
	Now       func() time.Time
}

// Controller is the conversation state machine for one session. At most one
// request is in flight; sends issued meanwhile are dropped.
type Controller struct {
	userID    string
	sessionID string
	generator agent.Generator
	persona   persona.Persona
	cooldown  time.Duration
	sink      domain.EventSink
	convLog   agent.ConversationLogger
	logger    *slog.Logger
	afterFunc AfterFunc
	now       func() time.Time

	mu         sync.Mutex
	transcript []domain.Message
	draft      string
	pending    bool
	replied    bool
	chatMode   bool
	timer      Timer
	timerGen   uint64
	seq        int64
	closed     bool
	lastActive time.Time

	inflight sync.WaitGroup
}

// NewController creates a controller whose transcript starts with the
// persona greeting.
func NewController(generator agent.Generator, p persona.Persona, cfg Config) *Controller {
	if cfg.ReplyCooldown <= 0 {
		cfg.ReplyCooldown = DefaultReplyCooldown
	}
	if cfg.Sink == nil {
		cfg.Sink = domain.EventSinkFunc(func(domain.Event) {})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Controller{
		userID:    cfg.UserID,
		sessionID: cfg.SessionID,
		generator: generator,
		persona:   p,
		cooldown:  cfg.ReplyCooldown,
		sink:      cfg.Sink,
		convLog:   cfg.ConversationLog,
		afterFunc: cfg.AfterFunc,
		now:       cfg.Now,
	}
	c.logger = cfg.Logger.With("user_id", cfg.UserID, "session_id", cfg.SessionID)
	c.lastActive = c.now()
	c.transcript = []domain.Message{c.newMessage(domain.SenderAssistant, p.Greeting)}
	return c
}

// ID returns the registry key of this session.
func (c *Controller) ID() string {
	return domain.SessionKey(c.userID, c.sessionID)
}

// SetDraft replaces the uncommitted input text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
	c.lastActive = c.now()
}

// ToggleChatMode flips chat mode and announces the transition.
func (c *Controller) ToggleChatMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chatMode = !c.chatMode
	c.lastActive = c.now()
	if c.chatMode {
		c.emitLocked(domain.Event{Kind: domain.EventChatModeEntered, Active: true})
	} else {
		c.emitLocked(domain.Event{Kind: domain.EventChatModeExited})
	}
	return c.chatMode
}

// Send commits the draft and dispatches one request. It returns false, and
// changes nothing, when the draft is blank, a request is already pending, or
// the controller is closed.
func (c *Controller) Send() bool {
	c.mu.Lock()
	if c.closed || c.pending || strings.TrimSpace(c.draft) == "" {
		c.mu.Unlock()
		return false
	}

	c.emitLocked(domain.Event{Kind: domain.EventMessageSent})
	text := c.draft
	c.appendLocked(c.newMessage(domain.SenderUser, text))
	c.draft = ""

	c.pending = true
	c.emitLocked(domain.Event{Kind: domain.EventPendingChanged, Active: true})
	c.stopTimerLocked()
	if c.replied {
		c.replied = false
		c.emitLocked(domain.Event{Kind: domain.EventRepliedChanged})
	}
	c.lastActive = c.now()
	c.inflight.Add(1)
	c.mu.Unlock()

	c.logConversation("outbound", "chat_user_message", text, nil)
	go c.dispatch(text)
	return true
}

func (c *Controller) dispatch(text string) {
	defer c.inflight.Done()

	reply, err := c.generator.Generate(context.Background(), c.persona.Prompt(text))
	c.resolve(reply, err)
}

func (c *Controller) resolve(reply string, err error) {
	meta := map[string]any{"fallback": err != nil}
	if err != nil {
		c.logger.Warn("Chat request failed, replying with fallback", "error", err)
		meta["error"] = err.Error()
		reply = c.persona.Fallback
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("Chat resolution ignored after close")
		return
	}

	c.emitLocked(domain.Event{Kind: domain.EventMessageReceived})
	c.appendLocked(c.newMessage(domain.SenderAssistant, reply))

	c.pending = false
	c.emitLocked(domain.Event{Kind: domain.EventPendingChanged})
	c.replied = true
	c.emitLocked(domain.Event{Kind: domain.EventRepliedChanged, Active: true})
	c.startTimerLocked()
	c.lastActive = c.now()
	c.mu.Unlock()

	c.logConversation("inbound", "chat_assistant_message", reply, meta)
}

// startTimerLocked schedules the cooldown. Each schedule bumps timerGen so a
// timer that fires after being replaced is a no-op.
func (c *Controller) startTimerLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.afterFunc(c.cooldown, func() {
		c.clearReplied(gen)
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller) clearReplied(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.timerGen {
		return
	}
	c.timer = nil
	if c.replied {
		c.replied = false
		c.emitLocked(domain.Event{Kind: domain.EventRepliedChanged})
	}
}

func (c *Controller) appendLocked(msg domain.Message) {
	c.transcript = append(c.transcript, msg)
	m := msg
	c.emitLocked(domain.Event{Kind: domain.EventTranscriptAppended, Message: &m})
}

func (c *Controller) emitLocked(e domain.Event) {
	c.seq++
	e.Seq = c.seq
	e.SessionID = c.ID()
	e.At = c.now()
	c.sink.Publish(e)
}

func (c *Controller) newMessage(sender domain.Sender, text string) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		CreatedAt: c.now(),
	}
}

func (c *Controller) logConversation(direction, eventType, content string, meta map[string]any) {
	if c.convLog == nil {
		return
	}
	c.convLog.Log(agent.ConversationLogEvent{
		Timestamp:  c.now().UTC().Format(time.RFC3339Nano),
		UserID:     c.userID,
		SessionID:  c.sessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	transcript := make([]domain.Message, len(c.transcript))
	copy(transcript, c.transcript)
	return domain.SessionState{
		SessionID:       c.ID(),
		Transcript:      transcript,
		Draft:           c.draft,
		Pending:         c.pending,
		RecentlyReplied: c.replied,
		ChatModeActive:  c.chatMode,
	}
}

// Metadata returns the persistable summary of the session.
func (c *Controller) Metadata() domain.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ChatSession{
		UserID:         c.userID,
		SessionID:      c.sessionID,
		MessageCount:   len(c.transcript),
		ChatModeActive: c.chatMode,
		LastActiveAt:   c.lastActive,
	}
}

// IdleSince returns the last time an inbound trigger or resolution touched
// the session, and whether a request is in flight.
func (c *Controller) IdleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive, c.pending
}

// Close tears the session down. A request still in flight is not cancelled,
// but its result is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Wait blocks until no request is in flight.
func (c *Controller) Wait() {
	c.inflight.Wait()
}
