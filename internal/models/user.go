package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	// DeletedAtKey is the identity metadata key that marks a soft-deleted user.
	DeletedAtKey = "deletedAt"
)

// UserSnapshot is the externally visible state of an identity-provider user,
// captured when the user is moved to the bin.
type UserSnapshot struct {
	ID             string         `json:"id"`
	FirstName      string         `json:"firstName,omitempty"`
	LastName       string         `json:"lastName,omitempty"`
	Username       string         `json:"username,omitempty"`
	Email          string         `json:"email,omitempty"`
	PublicMetadata map[string]any `json:"publicMetadata,omitempty"`
	CreatedAt      int64          `json:"createdAt,omitempty"`
}

// DisplayName prefers the full name, then username, then email.
func (u UserSnapshot) DisplayName() string {
	switch {
	case u.FirstName != "" || u.LastName != "":
		if u.LastName == "" {
			return u.FirstName
		}
		if u.FirstName == "" {
			return u.LastName
		}
		return u.FirstName + " " + u.LastName
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	}
	return u.ID
}

// LocalUser is an account of the username/password fallback.
type LocalUser struct {
	ID                 int       `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	Role               string    `json:"role"` // "admin" or "user"
	TOTPSecret         string    `json:"-"`
	TOTPEnabled        bool      `json:"totp_enabled"`
	LastPasswordChange time.Time `json:"last_password_change,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ValidRole reports whether role is one the application knows.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// HashPassword generates bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares password with hash
func (u *LocalUser) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}
