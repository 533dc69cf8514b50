package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/phenrril/jeanstore/internal/domain"
)

type LoginResult struct {
	Success       bool
	Message       string
	EmailVerified bool
}

type RegisterResult struct {
	Success               bool
	Message               string
	EmailVerificationSent bool
}

type AuthOption func(*AuthSession)

// WithGoogleOAuth enables LoginWithGoogle.
func WithGoogleOAuth(cfg *oauth2.Config) AuthOption {
	return func(s *AuthSession) { s.oauth = cfg }
}

// AuthSession projects the provider's session onto a *domain.User.
//
// The provider's session events are the only thing that changes the
// projection. The cached token in the KV store is used to ask the provider to
// restore a session at start, and HasCachedSession reports that it existed,
// but it never authenticates anybody by itself.
type AuthSession struct {
	provider domain.AuthProvider
	kv       domain.KVStore
	notify   domain.Notifier
	oauth    *oauth2.Config

	mu          sync.RWMutex
	user        *domain.User
	loading     bool
	cached      bool
	started     bool
	subs        map[int]func(*domain.User)
	nextSub     int
	unsubscribe func()

	ready     chan struct{}
	readyOnce sync.Once
}

func NewAuthSession(provider domain.AuthProvider, kv domain.KVStore, notify domain.Notifier, opts ...AuthOption) *AuthSession {
	s := &AuthSession{
		provider: provider,
		kv:       kv,
		notify:   notify,
		loading:  true,
		subs:     map[int]func(*domain.User){},
		ready:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start restores the previous session, if a token was cached, and begins
// following the provider's session events.
func (s *AuthSession) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	token := s.cachedToken()
	if token != "" {
		if err := s.provider.Restore(ctx, token); err != nil {
			zlog.Warn().Err(err).Msg("auth: cached session not restored")
			s.removeToken()
		}
	}
	unsub := s.provider.OnSessionChange(s.onSessionChange)
	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()
}

// Close stops following provider events.
func (s *AuthSession) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *AuthSession) cachedToken() string {
	if s.kv == nil {
		return ""
	}
	token, ok, err := s.kv.Get(domain.KeyAuthToken)
	if err != nil {
		zlog.Warn().Err(err).Msg("auth: read cached token")
		return ""
	}
	token = strings.TrimSpace(token)
	s.mu.Lock()
	s.cached = ok && token != ""
	s.mu.Unlock()
	return token
}

func (s *AuthSession) removeToken() {
	if s.kv == nil {
		return
	}
	if err := s.kv.Remove(domain.KeyAuthToken); err != nil {
		zlog.Warn().Err(err).Msg("auth: remove cached token")
	}
}

func (s *AuthSession) onSessionChange(u *domain.AuthUser) {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	if s.kv != nil {
		switch {
		case u == nil:
			s.removeToken()
		case u.IDToken != "":
			if err := s.kv.Set(domain.KeyAuthToken, u.IDToken); err != nil {
				zlog.Warn().Err(err).Msg("auth: cache token")
			}
		}
	}

	user := u.ToUser()
	s.mu.Lock()
	s.user = user
	s.cached = u != nil
	s.loading = false
	subs := make([]func(*domain.User), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	for _, fn := range subs {
		fn(copyUser(user))
	}
}

// Subscribe registers fn for every session change.
func (s *AuthSession) Subscribe(fn func(*domain.User)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Ready is closed once the provider has reported the session for the first time.
func (s *AuthSession) Ready() <-chan struct{} { return s.ready }

// IsLoading is true until the first session event and while an event is being applied.
func (s *AuthSession) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *AuthSession) HasCachedSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

func (s *AuthSession) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *AuthSession) CurrentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Login signs in. An unverified email does not block the login; the result
// reports it so the caller can warn.
func (s *AuthSession) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return failedLogin(domain.Invalid("email", "is required"))
	}
	if password == "" {
		return failedLogin(domain.Invalid("password", "is required"))
	}
	u, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		zlog.Info().Err(err).Str("email", email).Msg("login failed")
		return failedLogin(err)
	}
	res := LoginResult{Success: true, EmailVerified: u.EmailVerified, Message: "Signed in successfully"}
	if !u.EmailVerified {
		res.Message = "Signed in. Please verify your email address"
		s.notify.Notify(res.Message, domain.SeverityWarning)
	} else {
		s.notify.Notify(res.Message, domain.SeveritySuccess)
	}
	return res, nil
}

func failedLogin(err error) (LoginResult, error) {
	return LoginResult{Message: domain.FailureReason(err)}, err
}

// Register creates the account and sends the verification email. A failed
// send does not fail the registration.
func (s *AuthSession) Register(ctx context.Context, name, email, password string) (RegisterResult, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	var err error
	switch {
	case name == "":
		err = domain.Invalid("name", "is required")
	case email == "":
		err = domain.Invalid("email", "is required")
	case password == "":
		err = domain.Invalid("password", "is required")
	}
	if err != nil {
		return RegisterResult{Message: domain.FailureReason(err)}, err
	}
	if _, err := s.provider.SignUp(ctx, name, email, password); err != nil {
		zlog.Info().Err(err).Str("email", email).Msg("registration failed")
		return RegisterResult{Message: domain.FailureReason(err)}, err
	}
	res := RegisterResult{Success: true, EmailVerificationSent: true, Message: "Account created. Check your inbox to verify your email"}
	if err := s.provider.SendVerificationEmail(ctx); err != nil {
		zlog.Warn().Err(err).Str("email", email).Msg("verification email not sent")
		res.EmailVerificationSent = false
		res.Message = "Account created"
	}
	s.notify.Notify(res.Message, domain.SeveritySuccess)
	return res, nil
}

// Logout ends the provider session and forgets the cached token, even when
// the provider call fails.
func (s *AuthSession) Logout(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	s.removeToken()
	s.mu.Lock()
	s.cached = false
	s.mu.Unlock()
	if err != nil {
		s.notify.Notify(domain.FailureReason(err), domain.SeverityError)
		return errors.Wrap(err, "logout")
	}
	s.notify.Notify("Signed out", domain.SeverityInfo)
	return nil
}

func (s *AuthSession) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.Invalid("email", "is required")
	}
	if err := s.provider.SendPasswordReset(ctx, email); err != nil {
		return errors.Wrap(err, "password reset")
	}
	s.notify.Notify("Password reset email sent", domain.SeverityInfo)
	return nil
}

// GoogleAuthURL is where the shopper starts the Google sign-in; empty when Google is not configured.
func (s *AuthSession) GoogleAuthURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// LoginWithGoogle exchanges the authorization code and signs in with the returned ID token.
func (s *AuthSession) LoginWithGoogle(ctx context.Context, code string) (LoginResult, error) {
	if s.oauth == nil {
		return failedLogin(errors.New("google sign-in is not configured"))
	}
	gp, ok := s.provider.(domain.GoogleSignIn)
	if !ok {
		return failedLogin(errors.New("auth provider does not support google sign-in"))
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return failedLogin(domain.Remote("google.exchange", err))
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return failedLogin(domain.Remote("google.exchange", errors.New("no id_token in response")))
	}
	u, err := gp.SignInWithGoogle(ctx, idToken)
	if err != nil {
		return failedLogin(err)
	}
	s.notify.Notify("Signed in with Google", domain.SeveritySuccess)
	return LoginResult{Success: true, EmailVerified: u.EmailVerified, Message: "Signed in successfully"}, nil
}
