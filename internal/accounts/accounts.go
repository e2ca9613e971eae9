// Package accounts administers identity-provider users and the local
// username/password accounts, recording every change in the event log.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"congregation-admin-go/internal/identity"
	"congregation-admin-go/internal/models"
	"congregation-admin-go/internal/store"
)

// MinPasswordLength is the shortest password a local account accepts.
const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidRole        = errors.New("invalid role")
)

type Service struct {
	users  identity.Provider
	local  store.LocalUserStore
	events store.EventLog
}

func NewService(users identity.Provider, local store.LocalUserStore, events store.EventLog) *Service {
	return &Service{users: users, local: local, events: events}
}

// UserView is a provider user as listed in the admin UI.
type UserView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Deleted   bool   `json:"deleted"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{
			ID:        u.ID,
			Name:      u.Snapshot().DisplayName(),
			Email:     u.PrimaryEmail(),
			Role:      u.Role(),
			Deleted:   u.Deleted(),
			CreatedAt: u.CreatedAt,
		})
	}
	return views, nil
}

// UpdateRole sets the "role" metadata key on a provider user.
func (s *Service) UpdateRole(ctx context.Context, userID, role, actor string) error {
	if !models.ValidRole(role) {
		return ErrInvalidRole
	}
	u, err := s.users.UpdateMetadata(ctx, userID, map[string]any{"role": role})
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionUpdateUser,
		Actor:       actor,
		Target:      models.BinTarget(models.BinTypeUser, userID),
		Description: fmt.Sprintf("Changed role of %s to %s", u.Snapshot().DisplayName(), role),
		Metadata:    map[string]any{"role": role},
	})
}

func (s *Service) Invite(ctx context.Context, email, role, actor string) (identity.Invitation, error) {
	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		return identity.Invitation{}, ErrInvalidRole
	}
	inv, err := s.users.InviteUser(ctx, email, map[string]any{"role": role})
	if err != nil {
		return identity.Invitation{}, fmt.Errorf("invite user: %w", err)
	}
	err = s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionInviteUser,
		Actor:       actor,
		Target:      "invitation:" + inv.ID,
		Description: fmt.Sprintf("Invited %s as %s", email, role),
		Metadata:    map[string]any{"email": email, "role": role},
	})
	return inv, err
}

// RecordLogin logs a sign-in completed at the identity provider. The user
// must exist there.
func (s *Service) RecordLogin(ctx context.Context, userID, name string) error {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if name == "" {
		name = u.Snapshot().DisplayName()
	}
	return s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionLogin,
		Actor:       name,
		Target:      models.BinTarget(models.BinTypeUser, userID),
		Description: fmt.Sprintf("%s signed in", name),
	})
}

// Local accounts

// LoginResult is the outcome of a password check. When Requires2FA is set
// the caller must complete the login with VerifyTOTP.
type LoginResult struct {
	User        models.LocalUser
	Requires2FA bool
}

// Register creates a local account with the "user" role.
func (s *Service) Register(ctx context.Context, username, password string) (models.LocalUser, error) {
	u, err := s.createLocal(ctx, username, password, models.RoleUser)
	if err != nil {
		return models.LocalUser{}, err
	}
	err = s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionRegisterLocalUser,
		Actor:       u.Username,
		Target:      localTarget(u.ID),
		Description: fmt.Sprintf("%s registered a local account", u.Username),
	})
	return u, err
}

// CreateLocal creates a local account on behalf of an admin.
func (s *Service) CreateLocal(ctx context.Context, username, password, role, actor string) (models.LocalUser, error) {
	if !models.ValidRole(role) {
		return models.LocalUser{}, ErrInvalidRole
	}
	u, err := s.createLocal(ctx, username, password, role)
	if err != nil {
		return models.LocalUser{}, err
	}
	err = s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionCreateLocalUser,
		Actor:       actor,
		Target:      localTarget(u.ID),
		Description: fmt.Sprintf("Created local account %s", u.Username),
		Metadata:    map[string]any{"username": u.Username, "role": role},
	})
	return u, err
}

func (s *Service) createLocal(ctx context.Context, username, password, role string) (models.LocalUser, error) {
	username = strings.TrimSpace(username)
	if len(password) < MinPasswordLength {
		return models.LocalUser{}, ErrWeakPassword
	}
	u, err := s.local.CreateLocalUser(ctx, username, password, role)
	if err != nil {
		return models.LocalUser{}, fmt.Errorf("create local user %q: %w", username, err)
	}
	return u, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (LoginResult, error) {
	u, err := s.local.GetLocalUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("authenticate: %w", err)
	}
	if !u.CheckPassword(password) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if u.TOTPEnabled {
		return LoginResult{User: u, Requires2FA: true}, nil
	}
	return LoginResult{User: u}, s.recordLocalLogin(ctx, u, false)
}

// VerifyTOTP completes a login for a user with a second factor.
func (s *Service) VerifyTOTP(ctx context.Context, userID int, code string) (models.LocalUser, error) {
	u, err := s.local.GetLocalUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.LocalUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.LocalUser{}, fmt.Errorf("verify totp: %w", err)
	}
	if !u.TOTPEnabled || !models.VerifyTOTPCode(u.TOTPSecret, code) {
		return models.LocalUser{}, ErrInvalidCode
	}
	return u, s.recordLocalLogin(ctx, u, true)
}

func (s *Service) recordLocalLogin(ctx context.Context, u models.LocalUser, twoFactor bool) error {
	return s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionLocalLogin,
		Actor:       u.Username,
		Target:      localTarget(u.ID),
		Description: fmt.Sprintf("%s signed in with a local account", u.Username),
		Metadata:    map[string]any{"2fa": twoFactor},
	})
}

// LocalUser returns the current state of a local account.
func (s *Service) LocalUser(ctx context.Context, id int) (models.LocalUser, error) {
	u, err := s.local.GetLocalUser(ctx, id)
	if err != nil {
		return models.LocalUser{}, fmt.Errorf("get local user %d: %w", id, err)
	}
	return u, nil
}

// ResetPassword sets a new password without checking the old one.
func (s *Service) ResetPassword(ctx context.Context, userID int, newPassword, actor string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	u, err := s.local.GetLocalUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	hash, err := models.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if err := s.local.UpdateLocalUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return s.record(ctx, models.AuditLogEntry{
		Action:      models.ActionPasswordReset,
		Actor:       actor,
		Target:      localTarget(userID),
		Description: fmt.Sprintf("Reset the password of %s", u.Username),
	})
}

// SetupTOTP issues a new secret for userID. Nothing is stored until EnableTOTP.
func (s *Service) SetupTOTP(ctx context.Context, userID int) (models.TOTPEnrollment, error) {
	u, err := s.local.GetLocalUser(ctx, userID)
	if err != nil {
		return models.TOTPEnrollment{}, fmt.Errorf("setup totp: %w", err)
	}
	enrollment, err := models.NewTOTPEnrollment(u.Username)
	if err != nil {
		return models.TOTPEnrollment{}, fmt.Errorf("setup totp: %w", err)
	}
	return enrollment, nil
}

// EnableTOTP stores secret once code proves the authenticator has it.
func (s *Service) EnableTOTP(ctx context.Context, userID int, secret, code string) error {
	if !models.VerifyTOTPCode(secret, code) {
		return ErrInvalidCode
	}
	if err := s.local.UpdateLocalUser2FA(ctx, userID, secret, true); err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}
	return nil
}

// EnsureDefaultAdmin creates an admin account when no local account exists yet.
// An empty password skips the bootstrap.
func (s *Service) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	users, err := s.local.ListLocalUsers(ctx)
	if err != nil {
		return fmt.Errorf("list local users: %w", err)
	}
	if len(users) > 0 || username == "" {
		return nil
	}
	if password == "" {
		slog.Warn("no local accounts exist and DEFAULT_ADMIN_PASSWORD is empty, skipping default admin",
			"username", username)
		return nil
	}
	u, err := s.createLocal(ctx, username, password, models.RoleAdmin)
	if err != nil {
		return err
	}
	slog.Warn("created default admin account, change its password", "username", u.Username)
	return nil
}

func (s *Service) record(ctx context.Context, entry models.AuditLogEntry) error {
	if entry.Actor == "" {
		entry.Actor = models.DefaultDeletedBy
	}
	if _, err := s.events.Append(ctx, entry); err != nil {
		return fmt.Errorf("record %s: %w", entry.Action, err)
	}
	return nil
}

func localTarget(id int) string {
	return "local_user:" + strconv.Itoa(id)
}
