// Package easee polls an Easee charger and equalizer and logs their phase
// currents.
package easee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Agrid-Dev/stmq/internal/applog"
)

const DefaultURL = "https://api.easee.com"

// Tokens is the bearer pair issued by login and refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Client is an Easee cloud API client. It logs in lazily, refreshes the
// access token on 401 and falls back to a fresh login when the refresh
// is rejected. With TokenFile set the pair survives restarts.
type Client struct {
	HTTP      *http.Client
	BaseURL   string
	Username  string
	Password  string
	TokenFile string
	log       *applog.Logger

	mu     sync.Mutex
	tokens Tokens
}

func NewClient(username, password, tokenFile string, timeout time.Duration, log *applog.Logger) (*Client, error) {
	if username == "" || password == "" {
		return nil, ErrNoCredentials
	}
	c := &Client{
		HTTP:      &http.Client{Timeout: timeout},
		BaseURL:   DefaultURL,
		Username:  username,
		Password:  password,
		TokenFile: tokenFile,
		log:       log.With("easee"),
	}
	if tokenFile != "" {
		t, err := loadTokens(tokenFile)
		if err != nil {
			c.log.Warnf("ignoring stored tokens: %v", err)
		}
		c.tokens = t
	}
	return c, nil
}

// ChargerState is the subset of /api/chargers/{id}/state that is logged.
type ChargerState struct {
	InCurrentT3 float64 `json:"inCurrentT3"`
	InCurrentT4 float64 `json:"inCurrentT4"`
	InCurrentT5 float64 `json:"inCurrentT5"`
}

// EqualizerState is the subset of /api/equalizers/{id}/state that is logged.
type EqualizerState struct {
	CurrentL1 float64 `json:"currentL1"`
	CurrentL2 float64 `json:"currentL2"`
	CurrentL3 float64 `json:"currentL3"`
}

func (c *Client) ChargerState(ctx context.Context, id string) (ChargerState, error) {
	var s ChargerState
	err := c.get(ctx, "/api/chargers/"+url.PathEscape(id)+"/state", &s)
	return s, err
}

func (c *Client) EqualizerState(ctx context.Context, id string) (EqualizerState, error) {
	var s EqualizerState
	err := c.get(ctx, "/api/equalizers/"+url.PathEscape(id)+"/state", &s)
	return s, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens.AccessToken == "" {
		if err := c.login(ctx); err != nil {
			return err
		}
	}
	err := c.do(ctx, http.MethodGet, path, c.tokens.AccessToken, nil, out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if err := c.refresh(ctx); err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, path, c.tokens.AccessToken, nil, out)
}

func (c *Client) login(ctx context.Context) error {
	body := map[string]string{"userName": c.Username, "password": c.Password}
	var t Tokens
	if err := c.do(ctx, http.MethodPost, "/api/accounts/login", "", body, &t); err != nil {
		return fmt.Errorf("easee login: %w", err)
	}
	c.log.Infof("logged in")
	return c.store(t)
}

func (c *Client) refresh(ctx context.Context) error {
	if c.tokens.RefreshToken != "" {
		var t Tokens
		err := c.do(ctx, http.MethodPost, "/api/accounts/refresh_token", c.tokens.AccessToken, c.tokens, &t)
		if err == nil {
			c.log.Debugf("access token refreshed")
			return c.store(t)
		}
		c.log.Warnf("refresh rejected, logging in again: %v", err)
	}
	return c.login(ctx)
}

func (c *Client) store(t Tokens) error {
	if t.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrUnauthorized)
	}
	c.tokens = t
	if c.TokenFile == "" {
		return nil
	}
	if err := saveTokens(c.TokenFile, t); err != nil {
		c.log.Warnf("store tokens: %v", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func loadTokens(path string) (Tokens, error) {
	var t Tokens
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return Tokens{}, err
	}
	return t, nil
}

func saveTokens(path string, t Tokens) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
