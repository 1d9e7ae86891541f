// Package token manages the Fitbit OAuth token lifecycle: deciding whether
// the stored token is usable, exchanging the refresh token, and atomically
// replacing the stored record.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/fitsync/internal/model"
)

// DefaultTokenURL is the Fitbit OAuth token endpoint.
const DefaultTokenURL = "https://api.fitbit.com/oauth2/token"

// ErrInvalidGrant means the refresh token was already consumed or revoked.
// The entire credential lineage is dead; retrying with the same token can
// never succeed, so callers must stop the run and surface the error.
var ErrInvalidGrant = errors.New("refresh token rejected: invalid_grant")

// Store is the token persistence surface the manager depends on.
type Store interface {
	Get(ctx context.Context, userID string) (*model.TokenRecord, error)
	Put(ctx context.Context, record *model.TokenRecord) error
}

// Config holds OAuth client credentials and endpoint configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	UserID       string
	TokenURL     string // defaults to DefaultTokenURL
}

// Manager decides whether a token is usable and refreshes it when it is not.
type Manager struct {
	cfg    Config
	store  Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a token manager. The HTTP client and logger may be nil,
// in which case defaults are used.
func NewManager(cfg Config, store Store, client *http.Client, logger *slog.Logger) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureValid returns a token record that is safe to use for the next fetch
// cycle, refreshing it first if it is inside the expiry margin.
//
// The store is always re-read rather than trusting any cached copy: the
// refresh token is single-use, so the latest writer in the store wins and a
// stale in-memory record must never be exchanged.
func (m *Manager) EnsureValid(ctx context.Context) (*model.TokenRecord, error) {
	record, err := m.store.Get(ctx, m.cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("read token store: %w", err)
	}

	if !record.Expired(m.now()) {
		return record, nil
	}

	m.logger.Info("token inside expiry margin, refreshing",
		"expires_at", record.ExpiresAt)
	return m.Refresh(ctx, record.RefreshToken)
}

// tokenResponse is the 200 body of the OAuth token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// tokenErrorResponse is the non-200 body of the OAuth token endpoint.
type tokenErrorResponse struct {
	Errors []struct {
		ErrorType string `json:"errorType"`
		Message   string `json:"message"`
	} `json:"errors"`
}

// Refresh exchanges refreshToken at the OAuth endpoint and, on success,
// overwrites the stored record with the new credential before returning it.
// Nothing is persisted on failure.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*model.TokenRecord, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized && errorType(body) == "invalid_grant" {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("refresh returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}

	now := m.now()
	record := &model.TokenRecord{
		UserID:       m.cfg.UserID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    now.Unix() + tr.ExpiresIn,
		Scope:        tr.Scope,
		UpdatedAt:    now.UTC().Format(time.RFC3339),
	}

	if err := m.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	m.logger.Info("token refreshed", "expires_at", record.ExpiresAt)
	return record, nil
}

func errorType(body []byte) string {
	var er tokenErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return ""
	}
	if len(er.Errors) == 0 {
		return ""
	}
	return er.Errors[0].ErrorType
}
