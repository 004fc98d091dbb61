// Package client calls the gatehouse HTTP API on behalf of one user. It keeps
// the token pair from the last login, sends the access token as a bearer and,
// when a call is rejected with 401, refreshes the pair once and replays the
// call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

var (
	// ErrNoSession is returned by authenticated calls made before a login.
	ErrNoSession = errors.New("client: not logged in")
	// ErrSessionExpired means the refresh token was rejected; the caller
	// must log in again.
	ErrSessionExpired = errors.New("client: session expired")
)

// APIError is a non-2xx response decoded from the envelope.
type APIError struct {
	Status  int
	Message string
	Errors  json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %d %s", e.Status, e.Message)
}

// Tokens is the pair held between calls.
type Tokens struct {
	Access  string
	Refresh string
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
}

type sessionData struct {
	Tokens struct {
		Auth    string `json:"auth"`
		Refresh string `json:"refresh"`
	} `json:"tokens"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBasePath sets the API prefix. Defaults to "/v1".
func WithBasePath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.basePath = "/" + strings.Trim(p, "/")
		}
	}
}

// WithTokens starts the client with an existing pair.
func WithTokens(t Tokens) Option {
	return func(c *Client) { c.tokens = t }
}

// Client is safe for concurrent use. Concurrent calls that hit 401 with the
// same access token share a single refresh.
type Client struct {
	baseURL  string
	basePath string
	http     *http.Client

	mu     sync.Mutex
	tokens Tokens

	refreshMu sync.Mutex
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		basePath: "/v1",
		http:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the current pair.
func (c *Client) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *Client) setTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// Login starts a login and returns the OTP reference.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	err := c.send(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, "", &out)
	if err != nil {
		return "", err
	}
	return out.Reference, nil
}

// Validate completes a login with the delivered code and keeps the issued pair.
func (c *Client) Validate(ctx context.Context, reference, code string) error {
	var out sessionData
	err := c.send(ctx, http.MethodPost, "/auth/login/validate", map[string]string{"reference": reference, "code": code}, "", &out)
	if err != nil {
		return err
	}
	c.setTokens(Tokens{Access: out.Tokens.Auth, Refresh: out.Tokens.Refresh})
	return nil
}

// Logout ends the session on the server and forgets the pair.
func (c *Client) Logout(ctx context.Context) error {
	err := c.Do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.setTokens(Tokens{})
	return err
}

// Do sends an authenticated request to path under the base path and decodes
// the envelope data into out, which may be nil. A 401 triggers one refresh
// and one replay; a second 401 is returned as is.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	access := c.Tokens().Access
	if access == "" {
		return ErrNoSession
	}
	err := c.send(ctx, method, path, body, access, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}
	access, err = c.refresh(ctx, access)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, body, access, out)
}

// refresh exchanges the refresh token unless another caller already replaced
// stale. On rejection the pair is dropped.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.Tokens()
	if current.Access != stale && current.Access != "" {
		return current.Access, nil
	}
	if current.Refresh == "" {
		return "", ErrSessionExpired
	}
	var out sessionData
	err := c.send(ctx, http.MethodPost, "/auth/refresh", nil, current.Refresh, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.setTokens(Tokens{})
			return "", fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Message)
		}
		return "", fmt.Errorf("refresh: %w", err)
	}
	if out.Tokens.Auth == "" || out.Tokens.Refresh == "" {
		c.setTokens(Tokens{})
		return "", fmt.Errorf("%w: refresh returned no tokens", ErrSessionExpired)
	}
	c.setTokens(Tokens{Access: out.Tokens.Auth, Refresh: out.Tokens.Refresh})
	return out.Tokens.Auth, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.basePath+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message, Errors: env.Errors}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
