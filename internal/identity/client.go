// Package identity is the client for the external identity provider. The
// provider issues and validates the opaque bearer tokens and owns all
// credential storage; this pipeline only calls it and caches the result.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// User is the provider's view of an account.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"userMetadata,omitempty"`
}

// Provider is the subset of the identity API the pipeline uses.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, email, password string) (string, error)
	User(ctx context.Context, token string) (User, error)
}

// Client talks to the provider over HTTP.
type Client struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn exchanges credentials for an opaque bearer token.
func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.post(ctx, "/auth/signin", credentialsRequest{Email: email, Password: password}, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("identity: empty access token in sign-in response")
	}
	return result.AccessToken, nil
}

// SignUp creates a new account and returns its user ID.
func (c *Client) SignUp(ctx context.Context, email, password string) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/auth/signup", credentialsRequest{Email: email, Password: password}, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// User resolves the profile behind a bearer token.
func (c *Client) User(ctx context.Context, token string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/auth/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return User{}, ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("identity: user lookup returned %d", resp.StatusCode)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case resp.StatusCode >= 400:
		return fmt.Errorf("identity: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
