package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
	listUsersLimit = 500
)

// Client calls the provider's backend REST API with a bearer secret key.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for baseURL (e.g. https://api.clerk.com/v1).
// A non-positive timeout falls back to 15s.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secretKey, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := c.do(ctx, "get user", http.MethodGet, "/users/"+url.PathEscape(id), nil, &u)
	return u, err
}

func (c *Client) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (User, error) {
	var u User
	body := map[string]any{"public_metadata": patch}
	err := c.do(ctx, "update metadata", http.MethodPatch, "/users/"+url.PathEscape(id)+"/metadata", body, &u)
	return u, err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, "delete user", http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(listUsersLimit))
	q.Set("order_by", "-created_at")

	users := make([]User, 0)
	err := c.do(ctx, "list users", http.MethodGet, "/users?"+q.Encode(), nil, &users)
	return users, err
}

func (c *Client) InviteUser(ctx context.Context, email string, metadata map[string]any) (Invitation, error) {
	var inv Invitation
	body := map[string]any{
		"email_address":   email,
		"public_metadata": metadata,
	}
	err := c.do(ctx, "invite user", http.MethodPost, "/invitations", body, &inv)
	return inv, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("identity: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %s: %w: %w", op, ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: %s: decode response: %w: %w", op, ErrUpstream, err)
	}
	return nil
}
