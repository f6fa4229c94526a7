package domain

import (
	"time"
)

// EventKind names a conversation lifecycle event.
type EventKind string

const (
	// EventChatModeEntered fires when chat mode flips from off to on.
	EventChatModeEntered EventKind = "chat_mode_entered"
	// EventChatModeExited fires when chat mode flips from on to off.
	EventChatModeExited EventKind = "chat_mode_exited"
	// EventMessageSent fires as soon as a send is accepted.
	EventMessageSent EventKind = "message_sent"
	// EventMessageReceived fires when a request resolves, success or not.
	EventMessageReceived EventKind = "message_received"
	// EventTranscriptAppended carries each message appended to the transcript.
	EventTranscriptAppended EventKind = "transcript_appended"
	// EventPendingChanged mirrors the pending flag.
	EventPendingChanged EventKind = "pending_changed"
	// EventRepliedChanged mirrors the recently-replied flag.
	EventRepliedChanged EventKind = "replied_changed"
)

// Event is published by a conversation controller on every observable change.
type Event struct {
	Seq       int64     `json:"seq"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Message   *Message  `json:"message,omitempty"`
	Active    bool      `json:"active"`
	Cue       *Cue      `json:"cue,omitempty"`
	At        time.Time `json:"at"`
}

// Cue describes the presentation effect a client should perform for an event.
type Cue struct {
	Sound       string  `json:"sound,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
	Visual      string  `json:"visual,omitempty"`
	Visible     bool    `json:"visible"`
	HideDelayMs int64   `json:"hide_delay_ms,omitempty"`
}

// EventSink receives controller events. Publish must not block and must not
// call back into the controller that emitted the event.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(e).
func (f EventSinkFunc) Publish(e Event) { f(e) }

// Fanout publishes every event to each sink in order.
type Fanout []EventSink

// Publish forwards e to all sinks.
func (f Fanout) Publish(e Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}
