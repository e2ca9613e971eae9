package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryProvider is an in-process provider for local development and tests.
type MemoryProvider struct {
	mu          sync.Mutex
	users       map[string]User
	invitations []Invitation
}

func NewMemoryProvider(users ...User) *MemoryProvider {
	p := &MemoryProvider{users: make(map[string]User)}
	for _, u := range users {
		p.Put(u)
	}
	return p
}

// Put stores u, replacing any user with the same id.
func (p *MemoryProvider) Put(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	u.PublicMetadata = MergeMetadata(u.PublicMetadata, nil)
	p.users[u.ID] = u
}

func (p *MemoryProvider) GetUser(_ context.Context, id string) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.PublicMetadata = MergeMetadata(u.PublicMetadata, nil)
	return u, nil
}

func (p *MemoryProvider) UpdateMetadata(_ context.Context, id string, patch map[string]any) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.PublicMetadata = MergeMetadata(u.PublicMetadata, patch)
	p.users[id] = u
	u.PublicMetadata = MergeMetadata(u.PublicMetadata, nil)
	return u, nil
}

func (p *MemoryProvider) DeleteUser(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[id]; !ok {
		return ErrNotFound
	}
	delete(p.users, id)
	return nil
}

func (p *MemoryProvider) ListUsers(context.Context) ([]User, error) {
	p.mu.Lock()
	users := make([]User, 0, len(p.users))
	for _, u := range p.users {
		u.PublicMetadata = MergeMetadata(u.PublicMetadata, nil)
		users = append(users, u)
	}
	p.mu.Unlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt != users[j].CreatedAt {
			return users[i].CreatedAt > users[j].CreatedAt
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (p *MemoryProvider) InviteUser(_ context.Context, email string, _ map[string]any) (Invitation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv := Invitation{
		ID:           fmt.Sprintf("inv_%d", len(p.invitations)+1),
		EmailAddress: email,
		Status:       "pending",
	}
	p.invitations = append(p.invitations, inv)
	return inv, nil
}

// Invitations returns the invitations sent so far.
func (p *MemoryProvider) Invitations() []Invitation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Invitation(nil), p.invitations...)
}

var (
	_ Provider = (*Client)(nil)
	_ Provider = (*MemoryProvider)(nil)
)
