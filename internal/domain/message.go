package domain

import (
	"time"
)

// Sender identifies who authored a transcript message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionState is a point-in-time copy of a conversation's observable state.
type SessionState struct {
	SessionID       string    `json:"session_id"`
	Transcript      []Message `json:"transcript"`
	Draft           string    `json:"draft"`
	Pending         bool      `json:"pending"`
	RecentlyReplied bool      `json:"recently_replied"`
	ChatModeActive  bool      `json:"chat_mode_active"`
}
