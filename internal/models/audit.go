package models

import "time"

// Audit actions recorded in the event log.
const (
	ActionSoftDelete          = "SOFT_DELETE"
	ActionRestoreUser         = "RESTORE_USER"
	ActionPermanentDelete     = "PERMANENT_DELETE"
	ActionPermanentDeleteAuto = "PERMANENT_DELETE_AUTO"
	ActionLogin               = "LOGIN"
	ActionUpdateUser          = "UPDATE_USER"
	ActionInviteUser          = "INVITE_USER"
	ActionRegisterLocalUser   = "REGISTER_LOCAL_USER"
	ActionCreateLocalUser     = "CREATE_LOCAL_USER"
	ActionPasswordReset       = "PASSWORD_RESET"
	ActionLocalLogin          = "LOCAL_LOGIN"
)

const (
	// DefaultEventPageSize caps how many entries the event log exposes.
	DefaultEventPageSize = 50

	// SystemActor is the actor recorded for automatic actions.
	SystemActor = "System"
)

// AuditLogEntry is an immutable record of an administrative action.
type AuditLogEntry struct {
	ID          int64          `json:"id"`
	Action      string         `json:"action"`
	Actor       string         `json:"actor"`
	Target      string         `json:"target"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// NowMillis converts t to epoch milliseconds.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
