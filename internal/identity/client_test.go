package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/v1/", "sk_test_123", 5*time.Second)
}

func TestClientGetUser_SendsBearerSecret(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/users/user_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"user_1","first_name":"Ana","email_addresses":[{"id":"e1","email_address":"ana@example.com"}],"public_metadata":{"role":"admin"}}`)
	})

	u, err := c.GetUser(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.FirstName)
	assert.Equal(t, "ana@example.com", u.PrimaryEmail())
	assert.Equal(t, "admin", u.Role())
	assert.False(t, u.Deleted())
}

func TestClientGetUser_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"code":"resource_not_found"}]}`, http.StatusNotFound)
	})

	_, err := c.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := c.DeleteUser(context.Background(), "user_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
	assert.Equal(t, "boom", upstream.Body)
}

func TestClientUpdateMetadata_SendsNullToRemoveKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/users/user_1/metadata", r.URL.Path)

		var body map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		meta := body["public_metadata"]
		v, present := meta["deletedAt"]
		assert.True(t, present)
		assert.Nil(t, v)

		_, _ = io.WriteString(w, `{"id":"user_1","public_metadata":{"role":"user"}}`)
	})

	u, err := c.UpdateMetadata(context.Background(), "user_1", map[string]any{"deletedAt": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"role": "user"}, u.PublicMetadata)
}

func TestClientListUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[{"id":"a"},{"id":"b","public_metadata":{"deletedAt":"1"}}]`)
	})

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.True(t, users[1].Deleted())
}

func TestClientInviteUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/invitations", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "new@example.com", body["email_address"])
		_, _ = io.WriteString(w, `{"id":"inv_1","email_address":"new@example.com","status":"pending"}`)
	})

	inv, err := c.InviteUser(context.Background(), "new@example.com", map[string]any{"role": "user"})
	require.NoError(t, err)
	assert.Equal(t, "inv_1", inv.ID)
}

func TestMergeMetadata(t *testing.T) {
	current := map[string]any{"role": "admin", "deletedAt": "1700000000000", "group": "north"}

	merged := MergeMetadata(current, map[string]any{"deletedAt": nil})
	assert.Equal(t, map[string]any{"role": "admin", "group": "north"}, merged)
	assert.Contains(t, current, "deletedAt", "input is not modified")

	merged = MergeMetadata(nil, map[string]any{"role": "user"})
	assert.Equal(t, map[string]any{"role": "user"}, merged)
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(User{ID: "u1", PublicMetadata: map[string]any{"role": "admin"}})

	u, err := p.UpdateMetadata(ctx, "u1", map[string]any{"deletedAt": "5"})
	require.NoError(t, err)
	assert.True(t, u.Deleted())
	assert.Equal(t, "admin", u.Role())

	require.NoError(t, p.DeleteUser(ctx, "u1"))
	assert.ErrorIs(t, p.DeleteUser(ctx, "u1"), ErrNotFound)
	_, err = p.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}
