// Package directory is the thin client for the identity/session
// store. The store is a black box that yields a stable numeric
// identity and a display name; nothing here designs its semantics.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pairline/pairline/internal/identity"
)

// Account is the authenticated local participant.
type Account struct {
	ID    identity.Identity `json:"id"`
	Name  string            `json:"name"`
	Token string            `json:"token"`
}

// Profile is another participant's public record.
type Profile struct {
	ID   identity.Identity `json:"id"`
	Name string            `json:"name"`
}

// Client talks to the directory's REST endpoints.
type Client struct {
	http    *resty.Client
	baseURL string
	log     *slog.Logger
	now     func() time.Time
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{http: resty.New(), baseURL: baseURL, log: log, now: time.Now}
}

// Login exchanges credentials for an account with a session token.
func (c *Client) Login(ctx context.Context, name, password string) (Account, error) {
	return c.post(ctx, "/login", name, password)
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, name, password string) (Account, error) {
	return c.post(ctx, "/register", name, password)
}

func (c *Client) post(ctx context.Context, path, name, password string) (Account, error) {
	var account Account
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name, "password": password}).
		SetResult(&account).
		Post(c.baseURL + path)
	if err != nil {
		return Account{}, fmt.Errorf("directory %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return Account{}, fmt.Errorf("directory %s: status %d", path, resp.StatusCode())
	}
	if !account.ID.Valid() {
		return Account{}, fmt.Errorf("directory %s: invalid identity %d", path, account.ID)
	}
	return account, nil
}

// Profile looks up a participant by identity.
func (c *Client) Profile(ctx context.Context, id identity.Identity) (Profile, error) {
	var profile Profile
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&profile).
		Get(fmt.Sprintf("%s/users/%d", c.baseURL, id))
	if err != nil {
		return Profile{}, fmt.Errorf("directory profile: %w", err)
	}
	if !resp.IsSuccess() {
		return Profile{}, fmt.Errorf("directory profile: status %d", resp.StatusCode())
	}
	return profile, nil
}

// TokenUsable inspects a stored session token's expiry without
// verifying its signature (verification is the server's job). A token
// that cannot be parsed or has expired must not be reused; the caller
// re-authenticates instead.
func (c *Client) TokenUsable(token string) bool {
	if token == "" {
		return false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	expiry, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return false
	}
	return expiry.After(c.now())
}
