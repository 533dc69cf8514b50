package firebase

import (
	"context"
	"net/url"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/phenrril/jeanstore/internal/adapters/auth"
	"github.com/phenrril/jeanstore/internal/domain"
)

// Admin is the slice of the Firebase Admin SDK the provider uses. *fbauth.Client implements it.
type Admin interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *fbauth.UserToUpdate) (*fbauth.UserRecord, error)
}

// Provider signs shoppers in against Firebase Authentication. Password and
// Google flows go through the Identity Toolkit relying-party API, which the
// Admin SDK does not offer; when an Admin client is set it verifies restored
// tokens and reads and updates user records.
type Provider struct {
	toolkit *identitytoolkit.RelyingpartyService
	admin   Admin

	hub auth.Hub
}

// NewProvider builds the Identity Toolkit client for apiKey. Extra options
// such as option.WithEndpoint point it at an emulator. Without a key every
// call fails with a remote error.
func NewProvider(ctx context.Context, apiKey string, admin Admin, opts ...option.ClientOption) (*Provider, error) {
	p := &Provider{admin: admin}
	if apiKey == "" {
		return p, nil
	}
	svc, err := identitytoolkit.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "identitytoolkit client")
	}
	p.toolkit = svc.Relyingparty
	return p, nil
}

func (p *Provider) ready(op string) error {
	if p.toolkit == nil {
		return domain.Remote("identitytoolkit."+op, errors.New("firebase api key missing (FIREBASE_API_KEY)"))
	}
	return nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*domain.AuthUser, error) {
	if err := p.ready("verifyPassword"); err != nil {
		return nil, err
	}
	res, err := p.toolkit.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapCallErr("verifyPassword", err)
	}
	u, err := p.profile(ctx, res.IdToken, res.LocalId)
	if err != nil {
		return nil, err
	}
	p.hub.Set(u)
	return u, nil
}

func (p *Provider) SignUp(ctx context.Context, name, email, password string) (*domain.AuthUser, error) {
	if err := p.ready("signupNewUser"); err != nil {
		return nil, err
	}
	res, err := p.toolkit.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapCallErr("signupNewUser", err)
	}
	u := &domain.AuthUser{UID: res.LocalId, Email: res.Email, DisplayName: res.DisplayName, IDToken: res.IdToken}
	if name = strings.TrimSpace(name); name != "" {
		if err := p.setDisplayName(ctx, res.LocalId, res.IdToken, name); err != nil {
			zlog.Warn().Err(err).Str("uid", res.LocalId).Msg("firebase: display name not set")
		} else {
			u.DisplayName = name
		}
	}
	p.hub.Set(u)
	return u, nil
}

func (p *Provider) setDisplayName(ctx context.Context, uid, idToken, name string) error {
	if p.admin != nil {
		_, err := p.admin.UpdateUser(ctx, uid, (&fbauth.UserToUpdate{}).DisplayName(name))
		return mapAdminErr("updateUser", err)
	}
	_, err := p.toolkit.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:     idToken,
		DisplayName: name,
	}).Context(ctx).Do()
	return mapCallErr("setAccountInfo", err)
}

// SignOut ends the local session; Firebase ID tokens simply expire.
func (p *Provider) SignOut(ctx context.Context) error {
	p.hub.Set(nil)
	return nil
}

func (p *Provider) Restore(ctx context.Context, idToken string) error {
	uid := ""
	if p.admin != nil {
		tok, err := p.admin.VerifyIDToken(ctx, idToken)
		if err != nil {
			return mapAdminErr("verifyIdToken", err)
		}
		uid = tok.UID
	}
	u, err := p.profile(ctx, idToken, uid)
	if err != nil {
		return err
	}
	p.hub.Set(u)
	return nil
}

// profile reads the account behind idToken, through the Admin SDK when uid is known.
func (p *Provider) profile(ctx context.Context, idToken, uid string) (*domain.AuthUser, error) {
	if p.admin != nil && uid != "" {
		rec, err := p.admin.GetUser(ctx, uid)
		if err != nil {
			return nil, mapAdminErr("getUser", err)
		}
		u := &domain.AuthUser{UID: uid, EmailVerified: rec.EmailVerified, IDToken: idToken}
		if rec.UserInfo != nil {
			u.Email = rec.UserInfo.Email
			u.DisplayName = rec.UserInfo.DisplayName
		}
		return u, nil
	}
	if err := p.ready("getAccountInfo"); err != nil {
		return nil, err
	}
	res, err := p.toolkit.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapCallErr("getAccountInfo", err)
	}
	if len(res.Users) == 0 || res.Users[0] == nil {
		return nil, errors.Wrap(domain.ErrAuthRequired, "firebase: no user for token")
	}
	r := res.Users[0]
	return &domain.AuthUser{
		UID:           r.LocalId,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		EmailVerified: r.EmailVerified,
		IDToken:       idToken,
	}, nil
}

func (p *Provider) SendVerificationEmail(ctx context.Context) error {
	u := p.hub.Current()
	if u == nil || u.IDToken == "" {
		return domain.ErrAuthRequired
	}
	return p.sendOobCode(ctx, &identitytoolkit.Relyingparty{RequestType: "VERIFY_EMAIL", IdToken: u.IDToken})
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	return p.sendOobCode(ctx, &identitytoolkit.Relyingparty{RequestType: "PASSWORD_RESET", Email: email})
}

func (p *Provider) sendOobCode(ctx context.Context, req *identitytoolkit.Relyingparty) error {
	if err := p.ready("getOobConfirmationCode"); err != nil {
		return err
	}
	_, err := p.toolkit.GetOobConfirmationCode(req).Context(ctx).Do()
	return mapCallErr("getOobConfirmationCode", err)
}

// SignInWithGoogle trades a Google ID token for a Firebase session.
func (p *Provider) SignInWithGoogle(ctx context.Context, googleIDToken string) (*domain.AuthUser, error) {
	if err := p.ready("verifyAssertion"); err != nil {
		return nil, err
	}
	res, err := p.toolkit.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:            "id_token=" + url.QueryEscape(googleIDToken) + "&providerId=google.com",
		RequestUri:          "http://localhost",
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapCallErr("verifyAssertion", err)
	}
	u := &domain.AuthUser{
		UID:           res.LocalId,
		Email:         res.Email,
		DisplayName:   res.DisplayName,
		EmailVerified: res.EmailVerified,
		IDToken:       res.IdToken,
	}
	p.hub.Set(u)
	return u, nil
}

func (p *Provider) CurrentUser() *domain.AuthUser { return p.hub.Current() }

func (p *Provider) OnSessionChange(fn func(*domain.AuthUser)) func() {
	return p.hub.Subscribe(fn)
}

func mapCallErr(method string, err error) error {
	if err == nil {
		return nil
	}
	op := "identitytoolkit." + method
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return mapToolkitErr(op, gerr.Message)
	}
	return domain.Remote(op, err)
}

// mapToolkitErr turns an Identity Toolkit error message such as
// "WEAK_PASSWORD : Password should be at least 6 characters" into the domain taxonomy.
func mapToolkitErr(op, message string) error {
	code := message
	if i := strings.IndexAny(code, " :"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED", "INVALID_EMAIL":
		return errors.Wrap(domain.ErrInvalidCredentials, code)
	case "EMAIL_EXISTS":
		return errors.Wrap(domain.ErrEmailTaken, code)
	case "WEAK_PASSWORD":
		return errors.Wrap(domain.ErrWeakPassword, code)
	case "TOO_MANY_ATTEMPTS_TRY_LATER", "QUOTA_EXCEEDED":
		return errors.Wrap(domain.ErrRateLimited, code)
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "USER_NOT_FOUND", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		return errors.Wrap(domain.ErrAuthRequired, code)
	}
	return domain.Remote(op, errors.New(message))
}

func mapAdminErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case fbauth.IsIDTokenExpired(err), fbauth.IsIDTokenInvalid(err), fbauth.IsUserNotFound(err):
		return errors.Wrap(domain.ErrAuthRequired, err.Error())
	}
	return domain.Remote("firebase."+op, err)
}
