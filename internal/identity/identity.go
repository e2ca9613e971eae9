// Package identity talks to the third-party identity provider that owns the
// user accounts (profile, e-mail, public metadata).
package identity

import (
	"context"
	"errors"
	"fmt"

	"congregation-admin-go/internal/models"
)

var (
	// ErrNotFound means the provider has no user with the requested id.
	ErrNotFound = errors.New("identity: user not found")

	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("identity: upstream failure")
)

// UpstreamError is a non-2xx answer (other than 404) from the provider.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("identity: %s: provider returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// User is a provider account.
type User struct {
	ID             string         `json:"id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Username       string         `json:"username"`
	EmailAddresses []Email        `json:"email_addresses"`
	PublicMetadata map[string]any `json:"public_metadata"`
	CreatedAt      int64          `json:"created_at"`
}

type Email struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// PrimaryEmail returns the first address, or "".
func (u User) PrimaryEmail() string {
	if len(u.EmailAddresses) == 0 {
		return ""
	}
	return u.EmailAddresses[0].EmailAddress
}

// Deleted reports whether the user carries the soft-delete marker.
func (u User) Deleted() bool {
	_, ok := u.PublicMetadata[models.DeletedAtKey]
	return ok
}

// Role returns the "role" metadata value, or "".
func (u User) Role() string {
	role, _ := u.PublicMetadata["role"].(string)
	return role
}

// Snapshot captures the fields stored in the recycle bin.
func (u User) Snapshot() models.UserSnapshot {
	return models.UserSnapshot{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Username:       u.Username,
		Email:          u.PrimaryEmail(),
		PublicMetadata: u.PublicMetadata,
		CreatedAt:      u.CreatedAt,
	}
}

// Invitation is a pending sign-up sent by e-mail.
type Invitation struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Status       string `json:"status"`
}

// Provider is the identity store the workflows depend on.
type Provider interface {
	GetUser(ctx context.Context, id string) (User, error)
	// UpdateMetadata merges patch into the public metadata. A nil value removes the key;
	// keys absent from patch are left untouched.
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]User, error)
	InviteUser(ctx context.Context, email string, metadata map[string]any) (Invitation, error)
}

// MergeMetadata applies patch to current with the provider's merge rules and
// returns a new map.
func MergeMetadata(current, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}
