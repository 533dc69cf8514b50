package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/phenrril/jeanstore/internal/adapters/auth"
	"github.com/phenrril/jeanstore/internal/domain"
)

const minPasswordLen = 6

type account struct {
	uid      string
	email    string
	name     string
	password string
	verified bool
}

// Provider is an in-process AuthProvider for development and tests.
type Provider struct {
	hub auth.Hub

	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string

	verifications []string
	resets        []string

	// FailVerification, when set, is returned by SendVerificationEmail.
	FailVerification error
}

func New() *Provider {
	return &Provider{accounts: map[string]*account{}, tokens: map[string]string{}}
}

func key(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (p *Provider) session(a *account) *domain.AuthUser {
	token := uuid.NewString()
	p.tokens[token] = a.email
	return &domain.AuthUser{
		UID:           a.uid,
		Email:         a.email,
		DisplayName:   a.name,
		EmailVerified: a.verified,
		IDToken:       token,
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*domain.AuthUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Remote("memory.signIn", err)
	}
	p.mu.Lock()
	a, ok := p.accounts[key(email)]
	if !ok || a.password != password {
		p.mu.Unlock()
		return nil, domain.ErrInvalidCredentials
	}
	u := p.session(a)
	p.mu.Unlock()
	p.hub.Set(u)
	return u, nil
}

func (p *Provider) SignUp(ctx context.Context, name, email, password string) (*domain.AuthUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Remote("memory.signUp", err)
	}
	if len(password) < minPasswordLen {
		return nil, domain.ErrWeakPassword
	}
	p.mu.Lock()
	k := key(email)
	if _, taken := p.accounts[k]; taken {
		p.mu.Unlock()
		return nil, domain.ErrEmailTaken
	}
	a := &account{uid: uuid.NewString(), email: k, name: strings.TrimSpace(name), password: password}
	p.accounts[k] = a
	u := p.session(a)
	p.mu.Unlock()
	p.hub.Set(u)
	return u, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.hub.Set(nil)
	return nil
}

// Restore signs the holder of a token issued by this provider back in.
func (p *Provider) Restore(ctx context.Context, idToken string) error {
	p.mu.Lock()
	email, ok := p.tokens[idToken]
	var a *account
	if ok {
		a = p.accounts[email]
	}
	if a == nil {
		p.mu.Unlock()
		return errors.Wrap(domain.ErrAuthRequired, "unknown session token")
	}
	u := p.session(a)
	p.mu.Unlock()
	p.hub.Set(u)
	return nil
}

func (p *Provider) SendVerificationEmail(ctx context.Context) error {
	u := p.hub.Current()
	if u == nil {
		return domain.ErrAuthRequired
	}
	if p.FailVerification != nil {
		return p.FailVerification
	}
	p.mu.Lock()
	p.verifications = append(p.verifications, u.Email)
	p.mu.Unlock()
	return nil
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	p.mu.Lock()
	p.resets = append(p.resets, key(email))
	p.mu.Unlock()
	return nil
}

func (p *Provider) CurrentUser() *domain.AuthUser { return p.hub.Current() }

func (p *Provider) OnSessionChange(fn func(*domain.AuthUser)) func() {
	return p.hub.Subscribe(fn)
}

// Verify marks the account's email as verified.
func (p *Provider) Verify(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[key(email)]; ok {
		a.verified = true
	}
}

func (p *Provider) VerificationsSent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.verifications...)
}

func (p *Provider) ResetsSent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}
