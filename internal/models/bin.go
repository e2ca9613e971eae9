package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// BinRetention is how long a soft-deleted item stays in the bin.
	BinRetention = 30 * 24 * time.Hour

	// BinRetentionMillis is BinRetention in epoch milliseconds (2,592,000,000).
	BinRetentionMillis = int64(BinRetention / time.Millisecond)

	BinTypeUser = "user"

	// DefaultDeletedBy is used when a soft delete does not name its actor.
	DefaultDeletedBy = "Admin"
)

// BinItem is a soft-deleted entity waiting for restore or expiry.
type BinItem struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OriginalID string          `json:"originalId"`
	Data       json.RawMessage `json:"data"`
	DeletedBy  string          `json:"deletedBy"`
	DeletedAt  int64           `json:"deletedAt"`
	ExpiresAt  int64           `json:"expiresAt"`
}

// NewBinItem stamps deletion and expiry times. ExpiresAt is fixed at creation.
func NewBinItem(itemType, originalID string, data json.RawMessage, deletedBy string, now time.Time) BinItem {
	if deletedBy == "" {
		deletedBy = DefaultDeletedBy
	}
	deletedAt := NowMillis(now)
	return BinItem{
		Type:       itemType,
		OriginalID: originalID,
		Data:       data,
		DeletedBy:  deletedBy,
		DeletedAt:  deletedAt,
		ExpiresAt:  deletedAt + BinRetentionMillis,
	}
}

// Target renders the "<type>:<originalId>" audit target.
func (b BinItem) Target() string {
	return BinTarget(b.Type, b.OriginalID)
}

// Expired reports whether the item is past its retention window at now (ms).
func (b BinItem) Expired(nowMillis int64) bool {
	return b.ExpiresAt < nowMillis
}

// UserSnapshot decodes Data for items of type "user".
func (b BinItem) UserSnapshot() (UserSnapshot, error) {
	var snap UserSnapshot
	if b.Type != BinTypeUser {
		return snap, fmt.Errorf("bin item %s has type %q, not %q", b.ID, b.Type, BinTypeUser)
	}
	if err := json.Unmarshal(b.Data, &snap); err != nil {
		return snap, fmt.Errorf("decode user snapshot: %w", err)
	}
	return snap, nil
}

// BinTarget builds an audit target for a binned entity.
func BinTarget(itemType, originalID string) string {
	return itemType + ":" + originalID
}
