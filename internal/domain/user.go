package domain

import (
	"strconv"
	"strings"
	"time"
)

// User is an account known to the directory. PasswordHash holds a bcrypt
// hash; accounts created through Google sign-in carry the hash of a random
// password nobody knows.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"name,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary returns the public view of u that is handed back to clients.
func (u *User) Summary() AuthenticatedUser {
	return AuthenticatedUser{
		ID:    strconv.FormatInt(u.ID, 10),
		Name:  u.DisplayName,
		Email: u.Email,
	}
}

// ExternalIdentity holds the claims of a verified third-party identity token.
type ExternalIdentity struct {
	Email    string
	Name     string
	PhotoURL string
}

// AuthenticatedUser is the user summary returned with every AuthResult.
type AuthenticatedUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthResult is returned by every successful authentication flow.
type AuthResult struct {
	Token        string            `json:"token"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	User         AuthenticatedUser `json:"user"`
}

// NormalizeEmail trims and lower-cases an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
