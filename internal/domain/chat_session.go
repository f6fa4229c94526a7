package domain

import (
	"time"
)

// ChatSession stores persisted metadata about one tab's conversation.
// The transcript itself is never persisted.
type ChatSession struct {
	UserID         string
	SessionID      string
	MessageCount   int
	ChatModeActive bool
	CreatedAt      time.Time
	LastActiveAt   time.Time
}

// Key returns the registry key for the session.
func (s *ChatSession) Key() string {
	return SessionKey(s.UserID, s.SessionID)
}

// SessionKey joins a user and tab session ID into a single registry key.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}
