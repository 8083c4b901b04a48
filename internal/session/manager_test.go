package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jun/docshare/internal/api"
	"github.com/jun/docshare/internal/apitest"
	"github.com/jun/docshare/internal/credstore"
	"github.com/jun/docshare/internal/logging"
	"github.com/jun/docshare/internal/model"
)

type fixture struct {
	srv    *apitest.Server
	store  *credstore.MemoryStore
	client *api.Client
	mgr    *Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.New(t)
	store := credstore.NewMemoryStore()
	client := api.New(srv.BaseURL(), srv.Client(), logging.Discard())
	return &fixture{
		srv:    srv,
		store:  store,
		client: client,
		mgr:    NewManager(store, client, logging.Discard()),
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	uid := f.srv.AddUser("a@x.com", "a", "secret1")

	var got []Event
	f.mgr.Subscribe(func(ev Event) { got = append(got, ev) })

	sess, err := f.mgr.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected non-empty tokens, got %+v", sess)
	}
	if sess.ExpiresAt.IsZero() {
		t.Error("expected expiry from access token")
	}

	for _, key := range []string{credstore.KeyAccessToken, credstore.KeyRefreshToken} {
		if v, err := f.store.Get(ctx, key); err != nil || v == "" {
			t.Errorf("store %s = %q, %v", key, v, err)
		}
	}

	tok, ok := f.mgr.CurrentToken(ctx)
	if !ok || tok != sess.AccessToken {
		t.Errorf("CurrentToken = %q, %v", tok, ok)
	}

	ident, ok := f.mgr.Identity(ctx)
	if !ok || ident.UserID != uid || ident.Email != "a@x.com" {
		t.Errorf("Identity = %+v, %v", ident, ok)
	}

	if len(got) != 1 || got[0].Kind != LoggedIn || got[0].Identity.UserID != uid {
		t.Errorf("events = %+v", got)
	}
}

func TestLoginErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"empty email", "", "secret1", model.ErrValidation},
		{"malformed email", "not-an-email", "secret1", model.ErrValidation},
		{"display name", "A <a@x.com>", "secret1", model.ErrValidation},
		{"empty password", "a@x.com", "", model.ErrValidation},
		{"wrong password", "a@x.com", "secret2", model.ErrInvalidCredentials},
		{"unknown account", "b@x.com", "secret1", model.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Login(ctx, tt.email, tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if _, ok := f.mgr.CurrentToken(ctx); ok {
				t.Error("failed login must not leave a token")
			}
		})
	}
}

func TestLoginNetworkError(t *testing.T) {
	f := setup(t)
	f.srv.Close()

	_, err := f.mgr.Login(context.Background(), "a@x.com", "secret1")
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("taken@x.com", "taken", "secret1")

	tests := []struct {
		name     string
		email    string
		username string
		password string
		want     error
	}{
		{"ok", "a@x.com", "a", "secret1", nil},
		{"short password", "b@x.com", "b", "12345", model.ErrWeakSecret},
		{"malformed email", "b-at-x", "b", "secret1", model.ErrValidation},
		{"blank username", "b@x.com", "  ", "secret1", model.ErrValidation},
		{"duplicate email", "taken@x.com", "c", "secret1", model.ErrDuplicateIdentity},
		{"duplicate username", "d@x.com", "taken", "secret1", model.ErrDuplicateIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.mgr.Register(ctx, tt.email, tt.username, tt.password)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Register failed: %v", err)
				}
			} else if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if _, ok := f.mgr.CurrentToken(ctx); ok {
				t.Error("Register must not establish a session")
			}
		})
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")
	if _, err := f.mgr.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var kinds []EventKind
	f.mgr.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	for i := 0; i < 2; i++ {
		f.mgr.Logout(ctx)
		if n := f.store.Len(); n != 0 {
			t.Fatalf("logout %d: store holds %d keys", i+1, n)
		}
		if _, ok := f.mgr.CurrentToken(ctx); ok {
			t.Fatalf("logout %d: token still present", i+1)
		}
	}
	for _, k := range kinds {
		if k != LoggedOut {
			t.Errorf("unexpected event %s", k)
		}
	}
}

func TestHandleUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")
	if _, err := f.mgr.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var got []Event
	cancel := f.mgr.Subscribe(func(ev Event) {
		// Subscribers may call back into the manager.
		if _, ok := f.mgr.CurrentToken(ctx); ok {
			t.Error("token visible to subscriber after expiry")
		}
		got = append(got, ev)
	})
	defer cancel()

	f.mgr.HandleUnauthorized(ctx, "")

	if f.store.Len() != 0 {
		t.Error("store not cleared")
	}
	if len(got) != 1 || got[0].Kind != SessionExpired || got[0].Identity.Email != "a@x.com" {
		t.Errorf("events = %+v", got)
	}
	if _, err := f.mgr.Token(); !errors.Is(err, model.ErrSessionExpired) {
		t.Errorf("Token after expiry: %v", err)
	}
}

func TestHandleUnauthorizedIgnoresSupersededToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")

	first, err := f.mgr.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	second, err := f.mgr.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	if first.AccessToken == second.AccessToken {
		t.Fatal("expected a fresh access token")
	}

	var kinds []EventKind
	f.mgr.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	f.mgr.HandleUnauthorized(ctx, first.AccessToken)
	if tok, ok := f.mgr.CurrentToken(ctx); !ok || tok != second.AccessToken {
		t.Errorf("CurrentToken after stale rejection = %q, %v", tok, ok)
	}
	if len(kinds) != 0 {
		t.Errorf("events = %v, want none", kinds)
	}

	f.mgr.HandleUnauthorized(ctx, second.AccessToken)
	if _, ok := f.mgr.CurrentToken(ctx); ok {
		t.Error("token still present after current token was rejected")
	}
	if len(kinds) != 1 || kinds[0] != SessionExpired {
		t.Errorf("events = %v", kinds)
	}
}

// stickyStore refuses deletes.
type stickyStore struct {
	*credstore.MemoryStore
}

func (stickyStore) Delete(context.Context, string) error {
	return errors.New("disk is read-only")
}

func TestLogoutWhenClearFails(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")
	mgr := NewManager(stickyStore{f.store}, f.client, logging.Discard())
	if _, err := mgr.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	mgr.Logout(ctx)
	if _, ok := mgr.CurrentToken(ctx); ok {
		t.Error("token visible after logout")
	}
	if _, ok := mgr.Identity(ctx); ok {
		t.Error("identity visible after logout")
	}
	if _, err := mgr.Token(); !errors.Is(err, model.ErrSessionExpired) {
		t.Errorf("Token after logout: %v", err)
	}

	if _, err := mgr.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login after logout failed: %v", err)
	}
	if _, ok := mgr.CurrentToken(ctx); !ok {
		t.Error("login after logout should establish a session")
	}
}

func TestTokenRefresh(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")

	base := time.Now()
	now := base
	f.srv.SetClock(func() time.Time { return now })
	f.mgr.now = func() time.Time { return now }

	sess, err := f.mgr.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	tok, err := f.mgr.Token()
	if err != nil || tok.AccessToken != sess.AccessToken {
		t.Fatalf("Token before expiry = %v, %v", tok, err)
	}

	now = base.Add(apitest.AccessTTL - 10*time.Second)
	tok, err = f.mgr.Token()
	if err != nil {
		t.Fatalf("Token near expiry: %v", err)
	}
	if tok.AccessToken == sess.AccessToken {
		t.Error("expected a refreshed access token")
	}
	if stored, _ := f.store.Get(ctx, credstore.KeyAccessToken); stored != tok.AccessToken {
		t.Error("refreshed token not persisted")
	}
	if stored, _ := f.store.Get(ctx, credstore.KeyRefreshToken); stored != sess.RefreshToken {
		t.Error("refresh token should be kept when not rotated")
	}
}

func TestTokenRefreshRejected(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")

	base := time.Now()
	now := base
	f.mgr.now = func() time.Time { return now }
	sess, err := f.mgr.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var kinds []EventKind
	f.mgr.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	f.srv.RevokeSessions()
	now = base.Add(apitest.AccessTTL)
	_, err = f.mgr.Token()
	if !errors.Is(err, model.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if model.RejectedCredential(err) != sess.AccessToken {
		t.Error("refresh rejection should name the expired access token")
	}
	if f.store.Len() != 0 {
		t.Error("store not cleared after rejected refresh")
	}
	if len(kinds) != 1 || kinds[0] != SessionExpired {
		t.Errorf("events = %v", kinds)
	}
}

func TestTokenRefreshNetworkErrorKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")

	base := time.Now()
	now := base
	f.mgr.now = func() time.Time { return now }
	if _, err := f.mgr.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	f.srv.Close()
	now = base.Add(apitest.AccessTTL)
	if _, err := f.mgr.Token(); !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if _, ok := f.mgr.CurrentToken(ctx); !ok {
		t.Error("network failure must not clear the session")
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")
	access, refresh := f.srv.IssueTokens("a@x.com")
	f.store.Set(ctx, credstore.KeyAccessToken, access)
	f.store.Set(ctx, credstore.KeyRefreshToken, refresh)

	ok, err := f.mgr.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	ident, ok := f.mgr.Identity(ctx)
	if !ok || ident.Email != "a@x.com" {
		t.Errorf("Identity = %+v, %v", ident, ok)
	}

	empty := NewManager(credstore.NewMemoryStore(), f.client, logging.Discard())
	if ok, err := empty.Restore(ctx); err != nil || ok {
		t.Errorf("Restore on empty store = %v, %v", ok, err)
	}
}

func TestRestoreExpiredRefresh(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")
	access, refresh := f.srv.IssueTokens("a@x.com")
	f.store.Set(ctx, credstore.KeyAccessToken, access)
	f.store.Set(ctx, credstore.KeyRefreshToken, refresh)
	f.mgr.now = func() time.Time { return time.Now().Add(apitest.RefreshTTL + time.Minute) }

	ok, err := f.mgr.Restore(ctx)
	if err != nil || ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if f.store.Len() != 0 {
		t.Error("expired session should be cleared")
	}
}

func TestConcurrentLogoutAndToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.srv.AddUser("a@x.com", "a", "secret1")
	if _, err := f.mgr.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.mgr.Token()
		}()
		go func() {
			defer wg.Done()
			f.mgr.Logout(ctx)
		}()
	}
	wg.Wait()

	if f.store.Len() != 0 {
		t.Error("store should be empty after logout")
	}
}

func TestInspect(t *testing.T) {
	ident, exp := inspect("opaque-token")
	if ident != (model.Identity{}) || !exp.IsZero() {
		t.Errorf("opaque token: %+v %v", ident, exp)
	}
}
