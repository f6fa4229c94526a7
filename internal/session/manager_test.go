package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vryxia/internal/agent"
	"github.com/ashureev/vryxia/internal/domain"
	"github.com/ashureev/vryxia/internal/persona"
)

type fakeMetadataStore struct {
	mu       sync.Mutex
	sessions map[string]domain.ChatSession
	deletes  []string
	busy     int // number of upserts to fail with SQLITE_BUSY
	cleaned  []time.Duration
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{sessions: make(map[string]domain.ChatSession)}
}

func (s *fakeMetadataStore) UpsertChatSession(_ context.Context, session *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy > 0 {
		s.busy--
		return errors.New("SQLITE_BUSY")
	}
	s.sessions[session.Key()] = *session
	return nil
}

func (s *fakeMetadataStore) DeleteChatSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.SessionKey(userID, sessionID)
	delete(s.sessions, key)
	s.deletes = append(s.deletes, key)
	return nil
}

func (s *fakeMetadataStore) CleanupExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = append(s.cleaned, ttl)
	return 0, nil
}

func (s *fakeMetadataStore) get(key string) (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *fakeMetadataStore) deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, gen agent.Generator, st *fakeMetadataStore, now func() time.Time) (*Manager, *[]string) {
	t.Helper()
	var mu sync.Mutex
	closed := []string{}
	mgr, err := NewManager(ManagerConfig{
		Generator: gen,
		Persona:   persona.Default(),
		Store:     st,
		Now:       now,
		OnClose: func(userID, sessionID string) {
			mu.Lock()
			defer mu.Unlock()
			closed = append(closed, domain.SessionKey(userID, sessionID))
		},
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr, &closed
}

func staticGenerator(reply string) agent.Generator {
	return agent.GeneratorFunc(func(context.Context, string) (string, error) {
		return reply, nil
	})
}

func TestNewManagerRequiresGenerator(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Fatal("expected error without generator")
	}
}

func TestManagerGetOrCreateReusesSession(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	mgr, _ := newTestManager(t, staticGenerator("ok"), st, nil)
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "anon_1", "tab-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := mgr.GetOrCreate(ctx, "anon_1", "tab-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the same controller for the same tab")
	}

	other, _ := mgr.GetOrCreate(ctx, "anon_1", "tab-2")
	if other == first {
		t.Fatal("expected separate controllers per tab")
	}
	if mgr.Count() != 2 {
		t.Fatalf("expected 2 live sessions, got %d", mgr.Count())
	}

	meta, ok := st.get("anon_1:tab-1")
	if !ok {
		t.Fatal("expected session metadata recorded on create")
	}
	if meta.MessageCount != 1 {
		t.Fatalf("expected greeting counted, got %d", meta.MessageCount)
	}
}

func TestManagerPersistRetriesBusyStore(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	st.busy = 2
	mgr, _ := newTestManager(t, staticGenerator("ok"), st, nil)

	if _, err := mgr.GetOrCreate(context.Background(), "anon_1", "tab-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, ok := st.get("anon_1:tab-1"); !ok {
		t.Fatal("expected metadata written after busy retries")
	}
}

func TestManagerResetReplacesController(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	mgr, _ := newTestManager(t, staticGenerator("ok"), st, nil)
	ctx := context.Background()

	old, _ := mgr.GetOrCreate(ctx, "anon_1", "tab-1")
	old.SetDraft("Halo")
	old.Send()
	old.Wait()

	fresh, err := mgr.Reset(ctx, "anon_1", "tab-1")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if fresh == old {
		t.Fatal("expected a new controller")
	}
	if !old.Closed() {
		t.Fatal("expected old controller closed")
	}
	if got := len(fresh.Snapshot().Transcript); got != 1 {
		t.Fatalf("expected fresh transcript with greeting only, got %d", got)
	}
	if mgr.Get("anon_1", "tab-1") != fresh {
		t.Fatal("expected registry to point at the new controller")
	}
}

func TestManagerResetSilencesInFlightReply(t *testing.T) {
	t.Parallel()
	gen := newGatedGenerator()
	sink := &recordingSink{}
	mgr, err := NewManager(ManagerConfig{
		Generator: gen,
		Persona:   persona.Default(),
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	old, _ := mgr.GetOrCreate(ctx, "anon_1", "tab-1")
	old.SetDraft("Halo")
	if !old.Send() {
		t.Fatal("expected send to dispatch")
	}
	<-gen.started

	fresh, err := mgr.Reset(ctx, "anon_1", "tab-1")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !old.Closed() {
		t.Fatal("expected old controller closed by the time Reset returns")
	}

	gen.release("late reply", nil)
	old.Wait()

	if n := sink.count(domain.EventMessageReceived); n != 0 {
		t.Fatalf("expected no message_received after reset, got %d", n)
	}
	if got := fresh.Snapshot().Transcript; len(got) != 1 {
		t.Fatalf("expected fresh transcript with greeting only, got %d messages", len(got))
	}
	mgr.CloseAll()
}

func TestManagerCloseSessionAndUser(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	mgr, closed := newTestManager(t, staticGenerator("ok"), st, nil)
	ctx := context.Background()

	a, _ := mgr.GetOrCreate(ctx, "anon_1", "tab-1")
	b, _ := mgr.GetOrCreate(ctx, "anon_1", "tab-2")
	c, _ := mgr.GetOrCreate(ctx, "anon_2", "tab-1")

	if !mgr.CloseSession(ctx, "anon_1", "tab-1") {
		t.Fatal("expected existing session to close")
	}
	if mgr.CloseSession(ctx, "anon_1", "tab-1") {
		t.Fatal("expected second close to report missing session")
	}
	if !a.Closed() {
		t.Fatal("expected controller closed")
	}
	if _, ok := st.get("anon_1:tab-1"); ok {
		t.Fatal("expected metadata deleted on close")
	}

	if n := mgr.CloseUser(ctx, "anon_1"); n != 1 {
		t.Fatalf("expected 1 remaining session for user, got %d", n)
	}
	if !b.Closed() || c.Closed() {
		t.Fatal("CloseUser must only close the user's sessions")
	}
	if mgr.Count() != 1 {
		t.Fatalf("expected 1 live session, got %d", mgr.Count())
	}
	if len(*closed) != 2 {
		t.Fatalf("expected close callback twice, got %v", *closed)
	}
}

func TestManagerCloseAllRejectsNewSessions(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	mgr, _ := newTestManager(t, staticGenerator("ok"), st, nil)
	ctx := context.Background()

	c, _ := mgr.GetOrCreate(ctx, "anon_1", "tab-1")
	mgr.CloseAll()

	if !c.Closed() {
		t.Fatal("expected controller closed")
	}
	if _, err := mgr.GetOrCreate(ctx, "anon_1", "tab-1"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	if _, err := mgr.Reset(ctx, "anon_1", "tab-1"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	if _, ok := st.get("anon_1:tab-1"); !ok {
		t.Fatal("CloseAll must keep metadata")
	}
}

func TestManagerSweepSkipsActiveAndPending(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	gen := newGatedGenerator()
	mgr, _ := newTestManager(t, gen, st, clock.Now)
	ctx := context.Background()

	idle, _ := mgr.GetOrCreate(ctx, "anon_1", "idle")
	busy, _ := mgr.GetOrCreate(ctx, "anon_1", "busy")
	busy.SetDraft("Halo")
	busy.Send()
	<-gen.started

	clock.Advance(2 * time.Hour)
	fresh, _ := mgr.GetOrCreate(ctx, "anon_1", "fresh")

	if n := mgr.Sweep(ctx, time.Hour); n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	if !idle.Closed() {
		t.Fatal("expected idle session closed")
	}
	if busy.Closed() || fresh.Closed() {
		t.Fatal("pending and fresh sessions must survive the sweep")
	}
	if got := st.deleted(); len(got) != 1 || got[0] != "anon_1:idle" {
		t.Fatalf("expected idle metadata deleted, got %v", got)
	}

	gen.release("ok", nil)
	busy.Wait()
	mgr.CloseAll()
}

func TestSweepExpiredCleansOrphans(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	mgr, _ := newTestManager(t, staticGenerator("ok"), st, nil)

	sweepExpired(context.Background(), mgr, st, time.Hour)

	if len(st.cleaned) != 1 || st.cleaned[0] != orphanGrace {
		t.Fatalf("expected orphan cleanup with %v grace, got %v", orphanGrace, st.cleaned)
	}
}

func TestStartExpiryWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()
	st := newFakeMetadataStore()
	mgr, _ := newTestManager(t, staticGenerator("ok"), st, nil)
	ctx, cancel := context.WithCancel(context.Background())

	StartExpiryWorker(ctx, mgr, st, time.Nanosecond, 5*time.Millisecond)
	if _, err := mgr.GetOrCreate(context.Background(), "anon_1", "tab-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expiry worker never swept the idle session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
}
