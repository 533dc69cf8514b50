package domain

// User is the session projection of the auth provider's account. It is never persisted as a source of truth.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

// AuthUser is what an AuthProvider reports for a signed-in account.
type AuthUser struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	IDToken       string
}

func (u *AuthUser) ToUser() *User {
	if u == nil {
		return nil
	}
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	return &User{ID: u.UID, Name: name, Email: u.Email, EmailVerified: u.EmailVerified}
}
