package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/vryxia/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "vryxia.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "anon_missing")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing user, got %+v", got)
	}

	now := time.Unix(1_700_000_000, 0)
	if err := s.UpsertUser(ctx, &domain.User{
		UserID:     "anon_1",
		Username:   "anon-1",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err = s.GetUser(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || got.Username != "anon-1" {
		t.Fatalf("unexpected user %+v", got)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Fatalf("expected last seen %v, got %v", later, got.LastSeenAt)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("expected created %v, got %v", now, got.CreatedAt)
	}
}

func TestChatSessionUpsertKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Unix(1_700_000_000, 0)
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID:       "anon_1",
		SessionID:    "tab-1",
		MessageCount: 1,
		CreatedAt:    created,
		LastActiveAt: created,
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	active := created.Add(10 * time.Minute)
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID:         "anon_1",
		SessionID:      "tab-1",
		MessageCount:   3,
		ChatModeActive: true,
		CreatedAt:      active,
		LastActiveAt:   active,
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	got, err := s.GetChatSession(ctx, "anon_1", "tab-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session row")
	}
	if got.MessageCount != 3 || !got.ChatModeActive {
		t.Fatalf("expected updated counters, got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at must not change on update, got %v", got.CreatedAt)
	}
	if !got.LastActiveAt.Equal(active) {
		t.Fatalf("expected last active %v, got %v", active, got.LastActiveAt)
	}
}

func TestListAndDeleteChatSessions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	for i, sid := range []string{"tab-a", "tab-b", "tab-c"} {
		if err := s.UpsertChatSession(ctx, &domain.ChatSession{
			UserID:       "anon_1",
			SessionID:    sid,
			CreatedAt:    base,
			LastActiveAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("UpsertChatSession(%s) failed: %v", sid, err)
		}
	}
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{UserID: "anon_2", SessionID: "tab-a"}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	sessions, err := s.ListChatSessions(ctx, "anon_1")
	if err != nil {
		t.Fatalf("ListChatSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "tab-c" {
		t.Fatalf("expected most recent first, got %s", sessions[0].SessionID)
	}

	if err := s.DeleteChatSession(ctx, "anon_1", "tab-b"); err != nil {
		t.Fatalf("DeleteChatSession failed: %v", err)
	}
	if err := s.DeleteChatSession(ctx, "anon_1", "tab-b"); err != nil {
		t.Fatalf("deleting a missing session should succeed: %v", err)
	}

	got, err := s.GetChatSession(ctx, "anon_1", "tab-b")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected deleted session, got %+v", got)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID:       "anon_1",
		SessionID:    "old",
		CreatedAt:    now.Add(-3 * time.Hour),
		LastActiveAt: now.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID:       "anon_1",
		SessionID:    "fresh",
		CreatedAt:    now,
		LastActiveAt: now,
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	deleted, err := s.CleanupExpiredSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}

	if got, _ := s.GetChatSession(ctx, "anon_1", "fresh"); got == nil {
		t.Fatal("fresh session should survive cleanup")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
