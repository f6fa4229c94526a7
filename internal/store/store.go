// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/vryxia/internal/domain"
)

// Repository defines the interface for persisting users and chat session metadata.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetChatSession retrieves metadata for one tab session.
	GetChatSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error)

	// UpsertChatSession creates or updates tab session metadata.
	UpsertChatSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteChatSession removes tab session metadata.
	DeleteChatSession(ctx context.Context, userID, sessionID string) error

	// ListChatSessions returns all sessions recorded for a user, most recent first.
	ListChatSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// CleanupExpiredSessions removes session rows inactive for longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
