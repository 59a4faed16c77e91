package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatd/internal/domain"
)

type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	lastSeens int
	err       error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*domain.User)}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.users[userID], nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.UserID] = &cp
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeens++
	if u, ok := f.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func serve(repo UserRepository, req *http.Request) (*httptest.ResponseRecorder, string) {
	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, seen
}

func TestMiddlewareIssuesAnonymousIdentity(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	w, userID := serve(repo, httptest.NewRequest(http.MethodGet, "/", nil))

	if !IsValidAnonID(userID) {
		t.Fatalf("expected anonymous id in context, got %q", userID)
	}
	if repo.users[userID] == nil {
		t.Fatal("expected user record to be created")
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != userID {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Fatal("expected HttpOnly cookie")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	id, err := NewAnonID()
	if err != nil {
		t.Fatalf("NewAnonID failed: %v", err)
	}
	repo.users[id] = &domain.User{UserID: id, LastSeenAt: time.Now().Add(-time.Hour)}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	_, userID := serve(repo, req)

	if userID != id {
		t.Fatalf("expected cookie id %q to be reused, got %q", id, userID)
	}
	if repo.lastSeens != 1 {
		t.Fatalf("expected last seen to be refreshed once, got %d", repo.lastSeens)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})
	_, userID := serve(newFakeRepo(), req)

	if userID == "admin" || !IsValidAnonID(userID) {
		t.Fatalf("expected forged cookie to be replaced, got %q", userID)
	}
}

func TestMiddlewareFailsWhenStoreFails(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.err = errors.New("db down")
	w, userID := serve(repo, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if userID != "" {
		t.Fatal("next handler must not run")
	}
}

func TestEnsureUserSkipsRecentLastSeen(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.users["anon_x"] = &domain.User{UserID: "anon_x", LastSeenAt: time.Now()}
	if err := EnsureUser(context.Background(), repo, "anon_x"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if repo.lastSeens != 0 {
		t.Fatalf("expected no last seen write, got %d", repo.lastSeens)
	}
}

func TestWithUser(t *testing.T) {
	t.Parallel()

	ctx := WithUser(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	if UserIDFromContext(ctx) != "anon_0123456789abcdef0123456789abcdef" {
		t.Fatal("user id not stored")
	}
	if UsernameFromContext(ctx) != "anon-89abcdef" {
		t.Fatalf("unexpected username %q", UsernameFromContext(ctx))
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Fatal("expected empty user id for bare context")
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Fatalf("IPFromRequest() = %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := IPFromRequest(req); got != "pipe" {
		t.Fatalf("IPFromRequest() = %q", got)
	}
}
