package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stridehq/stride/internal/auth"
	"github.com/stridehq/stride/internal/protocol"
)

// HTTPClient talks to the remote sync service over HTTP with a bearer
// token supplied by the credential store. Network and server failures are
// classified into the engine's error taxonomy: 401 maps to
// ErrUnauthorized, transport errors and 5xx responses to TransientError.
type HTTPClient struct {
	BaseURL string
	Creds   auth.CredentialStore
	HTTP    *http.Client
}

// NewHTTPClient creates a client for the sync service at baseURL.
func NewHTTPClient(baseURL string, creds auth.CredentialStore) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Creds:   creds,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Push uploads a batch of changed records.
func (c *HTTPClient) Push(ctx context.Context, req protocol.PushRequest) (*protocol.PushResponse, error) {
	var resp protocol.PushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull downloads records changed since the given epoch-millis watermark.
func (c *HTTPClient) Pull(ctx context.Context, since int64) (*protocol.PullResponse, error) {
	path := "/sync/pull?since=" + strconv.FormatInt(since, 10)
	var resp protocol.PullResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges credentials for a token and stores it.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*protocol.LoginResponse, error) {
	req := protocol.LoginRequest{Email: email, Password: password}
	var resp protocol.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	if c.Creds != nil {
		if err := c.Creds.SaveToken(resp.Token); err != nil {
			return nil, fmt.Errorf("failed to store credential: %w", err)
		}
	}
	return &resp, nil
}

// Signup registers a new account, then stores the returned token.
func (c *HTTPClient) Signup(ctx context.Context, name, email, password string) (*protocol.LoginResponse, error) {
	req := protocol.SignupRequest{Name: name, Email: email, Password: password}
	var resp protocol.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	if c.Creds != nil {
		if err := c.Creds.SaveToken(resp.Token); err != nil {
			return nil, fmt.Errorf("failed to store credential: %w", err)
		}
	}
	return &resp, nil
}

// Verify validates the stored token against the service and returns the
// identity it carries.
func (c *HTTPClient) Verify(ctx context.Context) (*protocol.VerifyResponse, error) {
	var resp protocol.VerifyResponse
	if err := c.do(ctx, http.MethodGet, "/auth/verify", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	u, err := url.JoinPath(c.BaseURL, path)
	if err != nil {
		return fmt.Errorf("invalid sync service URL: %w", err)
	}
	// JoinPath escapes the query string; keep it out of the join.
	if i := bytes.IndexByte([]byte(path), '?'); i >= 0 {
		u, err = url.JoinPath(c.BaseURL, path[:i])
		if err != nil {
			return fmt.Errorf("invalid sync service URL: %w", err)
		}
		u += path[i:]
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Creds != nil {
		if token, err := c.Creds.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return &TransientError{Op: method + " " + path, Err: fmt.Errorf("server returned %s", resp.Status)}
	case resp.StatusCode >= 400:
		var apiErr protocol.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
