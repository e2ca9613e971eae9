package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"congregation-admin-go/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. It is meant for local
// development and tests; nothing survives a restart.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	listeners listeners

	audit       []models.AuditLogEntry
	nextAuditID int64

	bin map[string]models.BinItem

	users      map[int]models.LocalUser
	nextUserID int

	push       map[string]models.PushSubscription
	nextPushID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		bin:   make(map[string]models.BinItem),
		users: make(map[int]models.LocalUser),
		push:  make(map[string]models.PushSubscription),
	}
}

// SetClock replaces the time source used to stamp entries and bin items.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) AddAuditListener(l AuditListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *MemoryStore) RunMigrations(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Event log

func (s *MemoryStore) Append(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	s.mu.Lock()
	entry.Timestamp = models.NowMillis(s.now())
	entry = s.appendLocked(entry)
	ls := s.listeners
	s.mu.Unlock()

	ls.fire(ctx, entry)
	return entry, nil
}

func (s *MemoryStore) appendLocked(entry models.AuditLogEntry) models.AuditLogEntry {
	s.nextAuditID++
	entry.ID = s.nextAuditID
	s.audit = append(s.audit, entry)
	return entry
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = models.DefaultEventPageSize
	}
	logs := s.sortedAudit()
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *MemoryStore) ListAll(context.Context) ([]models.AuditLogEntry, error) {
	return s.sortedAudit(), nil
}

func (s *MemoryStore) sortedAudit() []models.AuditLogEntry {
	s.mu.Lock()
	logs := make([]models.AuditLogEntry, len(s.audit))
	copy(logs, s.audit)
	s.mu.Unlock()

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].Timestamp != logs[j].Timestamp {
			return logs[i].Timestamp > logs[j].Timestamp
		}
		return logs[i].ID > logs[j].ID
	})
	return logs
}

// Recycle bin

func (s *MemoryStore) Add(ctx context.Context, itemType, originalID string, data json.RawMessage, deletedBy string) (models.BinItem, error) {
	s.mu.Lock()
	item := models.NewBinItem(itemType, originalID, emptyIfNil(data), deletedBy, s.now())
	item.ID = uuid.NewString()
	s.bin[item.ID] = item
	entry := s.appendLocked(softDeleteEntry(item))
	ls := s.listeners
	s.mu.Unlock()

	ls.fire(ctx, entry)
	return item, nil
}

func (s *MemoryStore) GetBinItem(_ context.Context, binID string) (models.BinItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.bin[binID]
	if !ok {
		return models.BinItem{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) Remove(_ context.Context, binID string) (models.BinItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.bin[binID]
	if !ok {
		return models.BinItem{}, ErrNotFound
	}
	delete(s.bin, binID)
	return item, nil
}

func (s *MemoryStore) RemoveByOriginal(_ context.Context, itemType, originalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.bin {
		if item.Type == itemType && item.OriginalID == originalID {
			delete(s.bin, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListBin(context.Context) ([]models.BinItem, error) {
	s.mu.Lock()
	items := make([]models.BinItem, 0, len(s.bin))
	for _, item := range s.bin {
		items = append(items, item)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].DeletedAt != items[j].DeletedAt {
			return items[i].DeletedAt > items[j].DeletedAt
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// PurgeExpired never fails per item in memory, so the policy has no effect here.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time, _ SweepPolicy) (int, error) {
	nowMillis := models.NowMillis(now)

	s.mu.Lock()
	var expired []models.BinItem
	for _, item := range s.bin {
		if item.Expired(nowMillis) {
			expired = append(expired, item)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt < expired[j].ExpiresAt })

	entries := make([]models.AuditLogEntry, 0, len(expired))
	for _, item := range expired {
		delete(s.bin, item.ID)
		entries = append(entries, s.appendLocked(purgeEntry(item, nowMillis)))
	}
	ls := s.listeners
	s.mu.Unlock()

	ls.fire(ctx, entries...)
	return len(entries), nil
}

// Local users

func (s *MemoryStore) CreateLocalUser(_ context.Context, username, password, role string) (models.LocalUser, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.LocalUser{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return models.LocalUser{}, ErrConflict
		}
	}

	s.nextUserID++
	now := s.now().UTC()
	user := models.LocalUser{
		ID:                 s.nextUserID,
		Username:           username,
		PasswordHash:       passwordHash,
		Role:               role,
		LastPasswordChange: now,
		CreatedAt:          now,
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) GetLocalUser(_ context.Context, id int) (models.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.LocalUser{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetLocalUserByUsername(_ context.Context, username string) (models.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.LocalUser{}, ErrNotFound
}

func (s *MemoryStore) ListLocalUsers(context.Context) ([]models.LocalUser, error) {
	s.mu.Lock()
	users := make([]models.LocalUser, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })
	return users, nil
}

func (s *MemoryStore) UpdateLocalUserPassword(_ context.Context, id int, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.LastPasswordChange = s.now().UTC()
	s.users[id] = user
	return nil
}

func (s *MemoryStore) UpdateLocalUser2FA(_ context.Context, id int, totpSecret string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.TOTPSecret = totpSecret
	user.TOTPEnabled = enabled
	s.users[id] = user
	return nil
}

// Push subscriptions

func (s *MemoryStore) SavePushSubscription(_ context.Context, userID int, endpoint, p256dh, auth string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.push[endpoint]
	if !ok {
		s.nextPushID++
		sub = models.PushSubscription{ID: s.nextPushID, Endpoint: endpoint, CreatedAt: s.now().UTC()}
	}
	sub.UserID = userID
	sub.P256dh = p256dh
	sub.Auth = auth
	s.push[endpoint] = sub
	return nil
}

func (s *MemoryStore) ListPushSubscriptions(context.Context) ([]models.PushSubscription, error) {
	s.mu.Lock()
	subs := make([]models.PushSubscription, 0, len(s.push))
	for _, sub := range s.push {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (s *MemoryStore) DeletePushSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.push, endpoint)
	return nil
}
