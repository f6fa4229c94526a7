// Package realtime fans controller events out to connected clients.
package realtime

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/vryxia/internal/domain"
)

const (
	defaultReplaySize     = 100
	defaultSubscriberSize = 64
)

// QueuedEvent is an event stamped with its stream ID.
type QueuedEvent struct {
	ID    int64
	Event domain.Event
}

// Subscription receives the events of one session.
type Subscription struct {
	ID         int64
	SessionKey string
	C          <-chan QueuedEvent

	ch   chan QueuedEvent
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub is a domain.EventSink that keeps a bounded replay queue per session and
// forwards events to live subscribers without blocking the publisher.
//
// Stream IDs are assigned by the hub, not taken from Event.Seq, so they keep
// increasing across session resets and Last-Event-ID replay stays valid.
type Hub struct {
	mu         sync.RWMutex
	queues     map[string]*list.List // sessionKey -> *QueuedEvent
	subs       map[string]map[int64]*Subscription
	eventID    int64
	subID      int64
	replaySize int
	subSize    int
	closed     bool
	logger     *slog.Logger
}

// NewHub creates a hub that keeps replaySize events per session.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queues:     make(map[string]*list.List),
		subs:       make(map[string]map[int64]*Subscription),
		replaySize: replaySize,
		subSize:    defaultSubscriberSize,
		logger:     logger,
	}
}

// Publish implements domain.EventSink.
func (h *Hub) Publish(e domain.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.eventID++
	qe := QueuedEvent{ID: h.eventID, Event: e}

	l, ok := h.queues[e.SessionID]
	if !ok {
		l = list.New()
		h.queues[e.SessionID] = l
	}
	l.PushBack(qe)
	for l.Len() > h.replaySize {
		l.Remove(l.Front())
	}

	for _, sub := range h.subs[e.SessionID] {
		h.deliver(sub, qe)
	}
}

// deliver never blocks. A full subscriber buffer loses its oldest event.
func (h *Hub) deliver(sub *Subscription, qe QueuedEvent) {
	select {
	case sub.ch <- qe:
		return
	default:
	}

	h.logger.Warn("Subscriber queue full, dropping oldest event",
		"session", sub.SessionKey,
		"subscription", sub.ID)
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- qe:
	default:
		h.logger.Warn("Failed to queue event after dropping oldest", "session", sub.SessionKey)
	}
}

// Subscribe registers a subscriber for a session and returns the queued
// events with an ID greater than afterID. Pass afterID < 0 to skip replay.
func (h *Hub) Subscribe(sessionKey string, afterID int64) (*Subscription, []QueuedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subID++
	ch := make(chan QueuedEvent, h.subSize)
	sub := &Subscription{
		ID:         h.subID,
		SessionKey: sessionKey,
		C:          ch,
		ch:         ch,
		hub:        h,
	}
	if h.closed {
		close(ch)
		return sub, nil
	}

	if _, ok := h.subs[sessionKey]; !ok {
		h.subs[sessionKey] = make(map[int64]*Subscription)
	}
	h.subs[sessionKey][sub.ID] = sub

	var missed []QueuedEvent
	if afterID >= 0 {
		if l, ok := h.queues[sessionKey]; ok {
			for el := l.Front(); el != nil; el = el.Next() {
				qe := el.Value.(QueuedEvent)
				if qe.ID > afterID {
					missed = append(missed, qe)
				}
			}
		}
	}
	return sub, missed
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.SessionKey]; ok {
		if _, ok := subs[sub.ID]; ok {
			delete(subs, sub.ID)
			close(sub.ch)
		}
		if len(subs) == 0 {
			delete(h.subs, sub.SessionKey)
		}
	}
}

// LastID returns the most recent stream ID assigned.
func (h *Hub) LastID() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.eventID
}

// Prune drops the replay queue of a session that no longer exists.
// Subscribers stay attached so a reset session keeps streaming.
func (h *Hub) Prune(sessionKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queues, sessionKey)
}

// Subscribers returns the number of live subscriptions for a session.
func (h *Hub) Subscribers(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionKey])
}

// Close disconnects every subscriber and drops all queues.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, subs := range h.subs {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(h.subs, key)
	}
	h.queues = make(map[string]*list.List)
}

var _ domain.EventSink = (*Hub)(nil)
