// Package session owns the client's authenticated identity: login,
// registration, logout, token refresh and the handling of server-side
// session rejection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"github.com/jun/docshare/internal/credstore"
	"github.com/jun/docshare/internal/model"
)

// MinPasswordLength is the registration password policy.
const MinPasswordLength = 6

// refreshLeeway is how long before expiry an access token is refreshed.
const refreshLeeway = 30 * time.Second

// Authenticator is the part of the document service the manager needs.
type Authenticator interface {
	ObtainToken(ctx context.Context, email, password string) (model.Session, error)
	RefreshToken(ctx context.Context, refresh string) (model.Session, error)
	Register(ctx context.Context, email, username, password string) error
}

// Manager owns the single session of a client process. Login, Logout,
// HandleUnauthorized and token refresh are serialized by one mutex.
//
// Manager implements oauth2.TokenSource so that authenticated HTTP clients
// obtain the current access token, refreshed when close to expiry.
type Manager struct {
	mu    sync.Mutex
	store credstore.Store
	auth  Authenticator
	log   *slog.Logger
	now   func() time.Time

	// sess is nil when logged out or not yet loaded from the store.
	sess  *model.Session
	ident model.Identity

	// loggedOut keeps the store from being read back after Logout or expiry,
	// even when clearing it failed. Only a new login resets it.
	loggedOut bool

	events events
}

// NewManager creates a Manager persisting credentials in store.
func NewManager(store credstore.Store, auth Authenticator, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: store,
		auth:  auth,
		log:   log.With("component", "session"),
		now:   time.Now,
	}
}

var _ oauth2.TokenSource = (*Manager)(nil)

func validateEmail(email string) error {
	if email == "" {
		return model.Invalid("email", "This field may not be blank.")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return model.Invalid("email", "Enter a valid email address.")
	}
	return nil
}

// Login authenticates and persists the resulting session.
func (m *Manager) Login(ctx context.Context, email, password string) (model.Session, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return model.Session{}, err
	}
	if password == "" {
		return model.Session{}, model.Invalid("password", "This field may not be blank.")
	}

	m.mu.Lock()
	sess, err := m.auth.ObtainToken(ctx, email, password)
	if err != nil {
		m.mu.Unlock()
		m.log.InfoContext(ctx, "login failed", "error_kind", kindName(err))
		return model.Session{}, err
	}
	sess, err = m.persistLocked(ctx, sess, email)
	ident := m.ident
	m.mu.Unlock()
	if err != nil {
		return model.Session{}, fmt.Errorf("persist session: %w", err)
	}

	m.log.InfoContext(ctx, "logged in", "user_id", ident.UserID)
	m.events.emit(Event{Kind: LoggedIn, Identity: ident, At: m.now()})
	return sess, nil
}

// Register creates an account. It does not establish a session.
func (m *Manager) Register(ctx context.Context, email, username, password string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if strings.TrimSpace(username) == "" {
		return model.Invalid("username", "This field may not be blank.")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &model.Error{
			Kind:   model.ErrWeakSecret,
			Fields: map[string][]string{"password": {fmt.Sprintf("Ensure this field has at least %d characters.", MinPasswordLength)}},
		}
	}
	if err := m.auth.Register(ctx, email, username, password); err != nil {
		m.log.InfoContext(ctx, "registration failed", "error_kind", kindName(err))
		return err
	}
	return nil
}

// CurrentToken returns the persisted access token, if any.
func (m *Manager) CurrentToken(ctx context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.loadLocked(ctx)
	if sess == nil {
		return "", false
	}
	return sess.AccessToken, true
}

// Identity returns the identity of the current session.
func (m *Manager) Identity(ctx context.Context) (model.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadLocked(ctx) == nil {
		return model.Identity{}, false
	}
	return m.ident, true
}

// Restore loads a persisted session at startup. It reports whether a usable
// session was found. A session whose refresh token has expired is cleared as
// if the server had rejected it.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.sess = nil
	sess := m.loadLocked(ctx)
	if sess == nil {
		m.mu.Unlock()
		return false, nil
	}
	if _, exp := inspect(sess.RefreshToken); !exp.IsZero() && !m.now().Before(exp) {
		ev := m.expireLocked(ctx, "refresh token expired")
		m.mu.Unlock()
		m.events.emit(ev)
		return false, nil
	}
	ident := m.ident
	m.mu.Unlock()

	m.log.DebugContext(ctx, "session restored", "user_id", ident.UserID)
	return true, nil
}

// Logout clears all persisted credentials. It is idempotent and never fails;
// storage errors are logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	if err := credstore.Clear(ctx, m.store); err != nil {
		m.log.WarnContext(ctx, "clearing credentials failed", "error", err)
	}
	m.sess = nil
	m.ident = model.Identity{}
	m.loggedOut = true
	m.mu.Unlock()

	m.log.InfoContext(ctx, "logged out", "reason", "logout")
	m.events.emit(Event{Kind: LoggedOut, At: m.now()})
}

// HandleUnauthorized destroys the session after the server rejected its
// token and notifies subscribers with a SessionExpired event.
//
// rejected is the access token the failed request carried. When the current
// session holds a different token, the rejection is stale (the user logged
// in again or the token was refreshed meanwhile) and nothing happens. An
// empty rejected destroys whatever session is current.
// Without a session it only makes sure the store is empty.
func (m *Manager) HandleUnauthorized(ctx context.Context, rejected string) {
	m.mu.Lock()
	sess := m.loadLocked(ctx)
	if sess != nil && rejected != "" && sess.AccessToken != rejected {
		m.mu.Unlock()
		m.log.DebugContext(ctx, "ignored rejection of a superseded token")
		return
	}
	ev := m.expireLocked(ctx, "server rejected token")
	m.mu.Unlock()
	if sess != nil {
		m.events.emit(ev)
	}
}

// Token implements oauth2.TokenSource. It refreshes the access token when it
// is within refreshLeeway of expiry. Without a session it returns an error
// wrapping model.ErrSessionExpired.
func (m *Manager) Token() (*oauth2.Token, error) {
	ctx := context.Background()

	m.mu.Lock()
	tok, ev, err := m.tokenLocked(ctx)
	m.mu.Unlock()
	if ev != nil {
		m.events.emit(*ev)
	}
	return tok, err
}

func (m *Manager) tokenLocked(ctx context.Context) (*oauth2.Token, *Event, error) {
	sess := m.loadLocked(ctx)
	if sess == nil {
		return nil, nil, &model.Error{Kind: model.ErrSessionExpired, Detail: "not logged in"}
	}

	if !sess.ExpiresAt.IsZero() && !m.now().Add(refreshLeeway).Before(sess.ExpiresAt) {
		access := sess.AccessToken
		if sess.RefreshToken == "" {
			ev := m.expireLocked(ctx, "access token expired")
			return nil, &ev, &model.Error{Kind: model.ErrSessionExpired, Detail: "access token expired", Credential: access}
		}
		next, err := m.auth.RefreshToken(ctx, sess.RefreshToken)
		switch {
		case errors.Is(err, model.ErrSessionExpired):
			ev := m.expireLocked(ctx, "refresh rejected")
			return nil, &ev, rejectedFor(err, access)
		case err != nil:
			return nil, nil, err
		}
		if next.RefreshToken == "" {
			next.RefreshToken = sess.RefreshToken
		}
		refreshed, err := m.persistLocked(ctx, next, m.ident.Email)
		if err != nil {
			return nil, nil, fmt.Errorf("persist refreshed session: %w", err)
		}
		m.log.DebugContext(ctx, "access token refreshed")
		sess = &refreshed
	}

	return &oauth2.Token{
		AccessToken: sess.AccessToken,
		TokenType:   "Bearer",
		Expiry:      sess.ExpiresAt,
	}, nil, nil
}

// persistLocked stores sess and makes it current. loginEmail is used when
// the token has no email claim.
func (m *Manager) persistLocked(ctx context.Context, sess model.Session, loginEmail string) (model.Session, error) {
	ident, exp := inspect(sess.AccessToken)
	if ident.Email == "" {
		ident.Email = loginEmail
	}
	sess.ExpiresAt = exp

	err := credstore.SetAll(ctx, m.store, map[string]string{
		credstore.KeyAccessToken:  sess.AccessToken,
		credstore.KeyRefreshToken: sess.RefreshToken,
		credstore.KeyIdentity:     ident.Email,
	})
	if err != nil {
		if cerr := credstore.Clear(ctx, m.store); cerr != nil {
			m.log.WarnContext(ctx, "clearing partial credentials failed", "error", cerr)
		}
		m.sess = nil
		m.ident = model.Identity{}
		m.loggedOut = true
		return model.Session{}, err
	}

	m.sess = &sess
	m.ident = ident
	m.loggedOut = false
	return sess, nil
}

// loadLocked returns the current session, reading the store on first use.
func (m *Manager) loadLocked(ctx context.Context) *model.Session {
	if m.sess != nil {
		return m.sess
	}
	if m.loggedOut {
		return nil
	}

	access, err := m.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			m.log.WarnContext(ctx, "reading credentials failed", "error", err)
		}
		return nil
	}
	if access == "" {
		return nil
	}
	refresh, err := m.store.Get(ctx, credstore.KeyRefreshToken)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		m.log.WarnContext(ctx, "reading credentials failed", "error", err)
		return nil
	}
	email, _ := m.store.Get(ctx, credstore.KeyIdentity)

	ident, exp := inspect(access)
	if ident.Email == "" {
		ident.Email = email
	}
	m.sess = &model.Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}
	m.ident = ident
	return m.sess
}

// expireLocked is the single path that destroys a session because the
// server no longer accepts it.
func (m *Manager) expireLocked(ctx context.Context, reason string) Event {
	ident := m.ident
	if err := credstore.Clear(ctx, m.store); err != nil {
		m.log.WarnContext(ctx, "clearing credentials failed", "error", err)
	}
	m.sess = nil
	m.ident = model.Identity{}
	m.loggedOut = true
	m.log.InfoContext(ctx, "session expired", "reason", reason, "user_id", ident.UserID)
	return Event{Kind: SessionExpired, Identity: ident, At: m.now()}
}

// rejectedFor returns a session error for err that names the access token it
// was raised for.
func rejectedFor(err error, access string) error {
	var e *model.Error
	if errors.As(err, &e) {
		cp := *e
		cp.Credential = access
		return &cp
	}
	return &model.Error{Kind: model.ErrSessionExpired, Detail: err.Error(), Credential: access}
}

func kindName(err error) string {
	if k := model.Kind(err); k != nil {
		return k.Error()
	}
	return "unknown"
}
