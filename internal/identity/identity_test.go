package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vryxia/internal/domain"
)

type fakeUserStore struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	lastSeens int
	err       error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*domain.User)}
}

func (s *fakeUserStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.users[userID], nil
}

func (s *fakeUserStore) UpsertUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users[user.UserID] = &u
	return nil
}

func (s *fakeUserStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeens++
	if u, ok := s.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func captureIdentity(t *testing.T, repo UserStore, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var userID, sessionID string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, userID, sessionID
}

func TestMiddlewareMintsIdentity(t *testing.T) {
	t.Parallel()
	repo := newFakeUserStore()

	req := httptest.NewRequest(http.MethodGet, "/api/chat/state", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	rec, userID, sessionID := captureIdentity(t, repo, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !isValidAnonID(userID) {
		t.Fatalf("expected generated anon id, got %q", userID)
	}
	if sessionID != "tab-1" {
		t.Fatalf("expected session from header, got %q", sessionID)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != userID {
		t.Fatalf("expected identity cookie, got %+v", cookies)
	}
	if repo.users[userID] == nil {
		t.Fatal("expected user record created")
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	t.Parallel()
	repo := newFakeUserStore()
	id := "anon_" + strings.Repeat("ab", 16)
	old := time.Now().Add(-time.Hour)
	repo.users[id] = &domain.User{UserID: id, LastSeenAt: old}

	req := httptest.NewRequest(http.MethodGet, "/api/chat/state?session_id=tab-9", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	_, userID, sessionID := captureIdentity(t, repo, req)

	if userID != id {
		t.Fatalf("expected cookie identity reused, got %q", userID)
	}
	if sessionID != "tab-9" {
		t.Fatalf("expected session from query, got %q", sessionID)
	}
	if repo.lastSeens != 1 {
		t.Fatalf("expected last seen refreshed for stale user, got %d updates", repo.lastSeens)
	}

	_, _, _ = captureIdentity(t, repo, req)
	if repo.lastSeens != 1 {
		t.Fatal("expected no second last-seen write within resolution")
	}
}

func TestMiddlewareRejectsForgedCookie(t *testing.T) {
	t.Parallel()
	repo := newFakeUserStore()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc"})
	_, userID, _ := captureIdentity(t, repo, req)

	if userID == "anon_../../etc" || !isValidAnonID(userID) {
		t.Fatalf("expected forged cookie replaced, got %q", userID)
	}
}

func TestMiddlewareStoreFailure(t *testing.T) {
	t.Parallel()
	repo := newFakeUserStore()
	repo.err = errors.New("disk full")

	rec, _, _ := captureIdentity(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                       DefaultSessionIDValue,
		"  ":                     DefaultSessionIDValue,
		"tab-1":                  "tab-1",
		"a/b":                    DefaultSessionIDValue,
		strings.Repeat("x", 129): DefaultSessionIDValue,
		" tab.2 ":                "tab.2",
	}
	for in, want := range tests {
		if got := sanitizeSessionID(in); got != want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()
	ctx := WithIdentity(context.Background(), "anon_x", "bad/id")
	if UserIDFromContext(ctx) != "anon_x" {
		t.Fatal("expected user id in context")
	}
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Fatal("expected invalid session id sanitized")
	}
	if SessionIDFromContext(context.Background()) != DefaultSessionIDValue {
		t.Fatal("expected default session id for empty context")
	}
}
