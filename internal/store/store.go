package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"congregation-admin-go/internal/models"
)

var (
	// ErrNotFound is returned when a bin item, local user or subscription does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique value (e.g. a username) is already taken.
	ErrConflict = errors.New("already exists")
)

// SweepPolicy decides what PurgeExpired does when one item fails to purge.
type SweepPolicy string

const (
	// SweepContinue purges every item it can and reports the failures together.
	SweepContinue SweepPolicy = "continue"
	// SweepFailFast stops at the first failure.
	SweepFailFast SweepPolicy = "fail-fast"
)

// ParseSweepPolicy accepts "continue" and "fail-fast" (case-insensitive).
func ParseSweepPolicy(s string) (SweepPolicy, error) {
	switch p := SweepPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SweepContinue, SweepFailFast:
		return p, nil
	case "":
		return SweepContinue, nil
	}
	return "", fmt.Errorf("unknown sweep policy %q", s)
}

// EventLog is the append-only record of administrative actions.
type EventLog interface {
	// Append stamps the entry with the current time and stores it.
	Append(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error)
	// ListRecent returns at most limit entries, newest first. limit <= 0 means 50.
	ListRecent(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
	// ListAll returns every entry, newest first.
	ListAll(ctx context.Context) ([]models.AuditLogEntry, error)
}

// BinStore holds soft-deleted items until they are restored or expire.
type BinStore interface {
	// Add inserts a bin item and appends its SOFT_DELETE entry atomically.
	Add(ctx context.Context, itemType, originalID string, data json.RawMessage, deletedBy string) (models.BinItem, error)
	// GetBinItem returns one item without removing it.
	GetBinItem(ctx context.Context, binID string) (models.BinItem, error)
	// Remove deletes the item and returns it. It appends nothing to the event log.
	Remove(ctx context.Context, binID string) (models.BinItem, error)
	// RemoveByOriginal deletes every item for (itemType, originalID) and returns how many.
	RemoveByOriginal(ctx context.Context, itemType, originalID string) (int, error)
	// ListBin returns all items, most recently deleted first.
	ListBin(ctx context.Context) ([]models.BinItem, error)
	// PurgeExpired deletes items with ExpiresAt < now, logging PERMANENT_DELETE_AUTO for each.
	PurgeExpired(ctx context.Context, now time.Time, policy SweepPolicy) (int, error)
}

// LocalUserStore persists accounts of the username/password fallback.
type LocalUserStore interface {
	CreateLocalUser(ctx context.Context, username, password, role string) (models.LocalUser, error)
	GetLocalUser(ctx context.Context, id int) (models.LocalUser, error)
	GetLocalUserByUsername(ctx context.Context, username string) (models.LocalUser, error)
	ListLocalUsers(ctx context.Context) ([]models.LocalUser, error)
	UpdateLocalUserPassword(ctx context.Context, id int, passwordHash string) error
	UpdateLocalUser2FA(ctx context.Context, id int, totpSecret string, enabled bool) error
}

// PushStore persists web-push subscriptions.
type PushStore interface {
	SavePushSubscription(ctx context.Context, userID int, endpoint, p256dh, auth string) error
	ListPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// Store is everything the application persists.
type Store interface {
	EventLog
	BinStore
	LocalUserStore
	PushStore

	AddAuditListener(l AuditListener)
	RunMigrations(ctx context.Context) error
	Close() error
}

// AuditListener is told about every entry after it has been committed.
type AuditListener interface {
	AuditAppended(ctx context.Context, entry models.AuditLogEntry)
}

// AuditListenerFunc adapts a function to AuditListener.
type AuditListenerFunc func(ctx context.Context, entry models.AuditLogEntry)

func (f AuditListenerFunc) AuditAppended(ctx context.Context, entry models.AuditLogEntry) {
	f(ctx, entry)
}

type listeners []AuditListener

func (ls listeners) fire(ctx context.Context, entries ...models.AuditLogEntry) {
	for _, e := range entries {
		for _, l := range ls {
			l.AuditAppended(ctx, e)
		}
	}
}

func softDeleteEntry(item models.BinItem) models.AuditLogEntry {
	return models.AuditLogEntry{
		Action:      models.ActionSoftDelete,
		Actor:       item.DeletedBy,
		Target:      item.Target(),
		Description: fmt.Sprintf("Moved %s %s to the recycle bin", item.Type, item.OriginalID),
		Metadata:    map[string]any{"binId": item.ID, "expiresAt": item.ExpiresAt},
		Timestamp:   item.DeletedAt,
	}
}

func purgeEntry(item models.BinItem, nowMillis int64) models.AuditLogEntry {
	return models.AuditLogEntry{
		Action:      models.ActionPermanentDeleteAuto,
		Actor:       models.SystemActor,
		Target:      item.Target(),
		Description: fmt.Sprintf("Recycle bin retention expired for %s %s", item.Type, item.OriginalID),
		Metadata:    map[string]any{"binId": item.ID, "deletedBy": item.DeletedBy, "deletedAt": item.DeletedAt},
		Timestamp:   nowMillis,
	}
}

func emptyIfNil(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage(`{}`)
	}
	return data
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
