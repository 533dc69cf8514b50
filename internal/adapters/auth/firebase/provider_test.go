package firebase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/phenrril/jeanstore/internal/domain"
)

// toolkit is a scripted Identity Toolkit relying-party endpoint keyed by method name.
type toolkit struct {
	mu       sync.Mutex
	replies  map[string]func(body map[string]any) (int, any)
	requests []string
	bodies   map[string]map[string]any
}

func newToolkit(t *testing.T) (*toolkit, *Provider) {
	t.Helper()
	tk := &toolkit{replies: map[string]func(map[string]any) (int, any){}, bodies: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			key = r.Header.Get("X-Goog-Api-Key")
		}
		assert.Equal(t, "test-key", key)
		method := strings.TrimPrefix(r.URL.Path, "/v3/relyingparty/")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		tk.mu.Lock()
		tk.requests = append(tk.requests, method)
		tk.bodies[method] = body
		reply := tk.replies[method]
		tk.mu.Unlock()

		if reply == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, payload := reply(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	p, err := NewProvider(context.Background(), "test-key", nil, option.WithEndpoint(srv.URL+"/v3/relyingparty/"))
	require.NoError(t, err)
	return tk, p
}

func (tk *toolkit) on(method string, fn func(body map[string]any) (int, any)) {
	tk.mu.Lock()
	tk.replies[method] = fn
	tk.mu.Unlock()
}

func (tk *toolkit) fail(method, message string) {
	tk.on(method, func(map[string]any) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": map[string]any{"code": 400, "message": message}}
	})
}

func (tk *toolkit) body(method string) map[string]any {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.bodies[method]
}

func okJSON(v any) func(map[string]any) (int, any) {
	return func(map[string]any) (int, any) { return http.StatusOK, v }
}

func TestProvider_SignInLooksUpProfile(t *testing.T) {
	tk, p := newToolkit(t)
	tk.on("verifyPassword", okJSON(map[string]any{"localId": "uid-1", "email": "ana@example.com", "idToken": "tok-1"}))
	tk.on("getAccountInfo", okJSON(map[string]any{"users": []map[string]any{
		{"localId": "uid-1", "email": "ana@example.com", "displayName": "Ana", "emailVerified": true},
	}}))

	var events []*domain.AuthUser
	unsub := p.OnSessionChange(func(u *domain.AuthUser) { events = append(events, u) })
	defer unsub()

	u, err := p.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", u.UID)
	assert.Equal(t, "Ana", u.DisplayName)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, "tok-1", u.IDToken)
	assert.Equal(t, "tok-1", tk.body("getAccountInfo")["idToken"])

	require.Len(t, events, 2, "current user on subscribe, then the sign-in")
	assert.Nil(t, events[0])
	assert.Equal(t, "uid-1", events[1].UID)
	assert.Equal(t, "uid-1", p.CurrentUser().UID)
}

func TestProvider_ErrorMapping(t *testing.T) {
	cases := []struct {
		message string
		want    error
	}{
		{"INVALID_LOGIN_CREDENTIALS", domain.ErrInvalidCredentials},
		{"EMAIL_NOT_FOUND", domain.ErrInvalidCredentials},
		{"INVALID_PASSWORD", domain.ErrInvalidCredentials},
		{"USER_DISABLED : The user account has been disabled by an administrator.", domain.ErrInvalidCredentials},
		{"TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account has been temporarily disabled", domain.ErrRateLimited},
		{"SOMETHING_NEW", domain.ErrRemoteUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			tk, p := newToolkit(t)
			tk.fail("verifyPassword", tc.message)
			_, err := p.SignIn(context.Background(), "a@example.com", "x")
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, p.CurrentUser())
		})
	}
}

func TestProvider_CallErrorMapping(t *testing.T) {
	assert.NoError(t, mapCallErr("verifyPassword", nil))

	wrapped := errors.Wrap(&googleapi.Error{Code: http.StatusBadRequest, Message: "EMAIL_EXISTS"}, "do")
	assert.ErrorIs(t, mapCallErr("signupNewUser", wrapped), domain.ErrEmailTaken)

	bare := &googleapi.Error{Code: http.StatusServiceUnavailable}
	assert.ErrorIs(t, mapCallErr("getAccountInfo", bare), domain.ErrRemoteUnavailable)
	assert.ErrorIs(t, mapCallErr("getAccountInfo", context.DeadlineExceeded), domain.ErrRemoteUnavailable)
}

func TestProvider_UnscriptedMethodIsRemoteError(t *testing.T) {
	_, p := newToolkit(t)
	_, err := p.SignIn(context.Background(), "a@example.com", "x")
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestProvider_SignUpErrors(t *testing.T) {
	tk, p := newToolkit(t)
	ctx := context.Background()

	tk.fail("signupNewUser", "EMAIL_EXISTS")
	_, err := p.SignUp(ctx, "Ana", "ana@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	tk.fail("signupNewUser", "WEAK_PASSWORD : Password should be at least 6 characters")
	_, err = p.SignUp(ctx, "Ana", "ana@example.com", "123")
	assert.ErrorIs(t, err, domain.ErrWeakPassword)
}

func TestProvider_SignUpSetsDisplayNameAndVerifies(t *testing.T) {
	tk, p := newToolkit(t)
	ctx := context.Background()
	tk.on("signupNewUser", okJSON(map[string]any{"localId": "uid-2", "email": "bo@example.com", "idToken": "tok-2"}))
	tk.on("setAccountInfo", okJSON(map[string]any{}))
	tk.on("getOobConfirmationCode", okJSON(map[string]any{"email": "bo@example.com"}))

	u, err := p.SignUp(ctx, " Bo ", "bo@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Bo", u.DisplayName)
	assert.Equal(t, "Bo", tk.body("setAccountInfo")["displayName"])

	require.NoError(t, p.SendVerificationEmail(ctx))
	assert.Equal(t, "VERIFY_EMAIL", tk.body("getOobConfirmationCode")["requestType"])
	assert.Equal(t, "tok-2", tk.body("getOobConfirmationCode")["idToken"])
}

func TestProvider_DisplayNameFailureKeepsAccount(t *testing.T) {
	tk, p := newToolkit(t)
	tk.on("signupNewUser", okJSON(map[string]any{"localId": "uid-3", "email": "cy@example.com", "idToken": "tok-3"}))
	tk.fail("setAccountInfo", "INTERNAL")

	u, err := p.SignUp(context.Background(), "Cy", "cy@example.com", "secret1")
	require.NoError(t, err)
	assert.Empty(t, u.DisplayName)
	assert.Equal(t, "uid-3", p.CurrentUser().UID)
}

func TestProvider_SendVerificationNeedsSession(t *testing.T) {
	_, p := newToolkit(t)
	assert.ErrorIs(t, p.SendVerificationEmail(context.Background()), domain.ErrAuthRequired)
}

func TestProvider_PasswordReset(t *testing.T) {
	tk, p := newToolkit(t)
	tk.on("getOobConfirmationCode", okJSON(map[string]any{}))

	require.NoError(t, p.SendPasswordReset(context.Background(), "ana@example.com"))
	assert.Equal(t, "PASSWORD_RESET", tk.body("getOobConfirmationCode")["requestType"])
	assert.Equal(t, "ana@example.com", tk.body("getOobConfirmationCode")["email"])
}

func TestProvider_RestoreThroughREST(t *testing.T) {
	tk, p := newToolkit(t)
	ctx := context.Background()

	tk.fail("getAccountInfo", "INVALID_ID_TOKEN")
	assert.ErrorIs(t, p.Restore(ctx, "expired"), domain.ErrAuthRequired)
	assert.Nil(t, p.CurrentUser())

	tk.on("getAccountInfo", okJSON(map[string]any{"users": []map[string]any{{"localId": "uid-1", "email": "ana@example.com"}}}))
	require.NoError(t, p.Restore(ctx, "tok-1"))
	assert.Equal(t, "tok-1", p.CurrentUser().IDToken)

	require.NoError(t, p.SignOut(ctx))
	assert.Nil(t, p.CurrentUser())
}

func TestProvider_GoogleSignIn(t *testing.T) {
	tk, p := newToolkit(t)
	tk.on("verifyAssertion", okJSON(map[string]any{"localId": "g-1", "email": "g@example.com", "emailVerified": true, "idToken": "tok-g"}))

	var _ domain.GoogleSignIn = p
	u, err := p.SignInWithGoogle(context.Background(), "google-id-token")
	require.NoError(t, err)
	assert.Equal(t, "g-1", u.UID)
	assert.True(t, u.EmailVerified)
	assert.Contains(t, tk.body("verifyAssertion")["postBody"], "id_token=google-id-token")
	assert.Contains(t, tk.body("verifyAssertion")["postBody"], "providerId=google.com")
}

func TestProvider_MissingAPIKey(t *testing.T) {
	p, err := NewProvider(context.Background(), "", nil)
	require.NoError(t, err)
	_, err = p.SignIn(context.Background(), "a@example.com", "x")
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

type fakeAdmin struct {
	verifyErr error
	record    *fbauth.UserRecord
	updated   []string
}

func (f *fakeAdmin) VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &fbauth.Token{UID: "uid-admin"}, nil
}

func (f *fakeAdmin) GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error) {
	return f.record, nil
}

func (f *fakeAdmin) UpdateUser(ctx context.Context, uid string, user *fbauth.UserToUpdate) (*fbauth.UserRecord, error) {
	f.updated = append(f.updated, uid)
	return f.record, nil
}

func TestProvider_RestoreWithAdmin(t *testing.T) {
	admin := &fakeAdmin{record: &fbauth.UserRecord{
		UserInfo:      &fbauth.UserInfo{UID: "uid-admin", Email: "admin@example.com", DisplayName: "Admin"},
		EmailVerified: true,
	}}
	tk, p := newToolkit(t)
	p.admin = admin

	require.NoError(t, p.Restore(context.Background(), "tok-a"))
	u := p.CurrentUser()
	assert.Equal(t, "uid-admin", u.UID)
	assert.Equal(t, "Admin", u.DisplayName)
	assert.True(t, u.EmailVerified)
	assert.Empty(t, tk.requests, "the admin path makes no REST calls")

	admin.verifyErr = errors.New("token has expired")
	assert.ErrorIs(t, p.Restore(context.Background(), "tok-b"), domain.ErrRemoteUnavailable)
}
