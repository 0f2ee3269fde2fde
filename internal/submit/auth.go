package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/pkg/errors"

	"github.com/rs/zerolog"
)

// AuthManager caches the backend bearer token and refreshes it shortly
// before it expires. With no username configured it hands out no token.
type AuthManager struct {
	cfg       config.BackendConfig
	client    *http.Client
	token     string
	expiresAt time.Time
	mu        sync.RWMutex
	log       zerolog.Logger
}

func NewAuthManager(cfg *config.Config) *AuthManager {
	return &AuthManager{
		cfg: cfg.ExternalAPI.Backend,
		client: &http.Client{
			Timeout: cfg.ExternalAPI.Backend.Timeout,
		},
		log: logger.Component("auth"),
	}
}

func (a *AuthManager) GetToken(ctx context.Context) (string, error) {
	if a.cfg.Username == "" {
		return "", nil
	}

	a.mu.RLock()
	if a.valid() {
		token := a.token
		a.mu.RUnlock()
		return token, nil
	}
	a.mu.RUnlock()

	return a.refreshToken(ctx)
}

// Invalidate drops the cached token after the backend refused it.
func (a *AuthManager) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *AuthManager) valid() bool {
	return a.token != "" && time.Now().Before(a.expiresAt.Add(-30*time.Second))
}

func (a *AuthManager) refreshToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Double check after acquiring write lock
	if a.valid() {
		return a.token, nil
	}

	a.log.Debug().Msg("Refreshing authentication token")

	jsonData, err := json.Marshal(map[string]string{
		"username": a.cfg.Username,
		"password": a.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth data: %w", err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + a.cfg.AuthEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.NewRetryableError(err, "auth request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errors.ErrAuthenticationFailed, resp.StatusCode)
	}

	var tokenResp model.AuthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("%w: empty token", errors.ErrAuthenticationFailed)
	}

	ttl := time.Duration(tokenResp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = a.cfg.TokenExpires
	}
	a.token = tokenResp.Token
	a.expiresAt = time.Now().Add(ttl)

	a.log.Debug().Time("expires_at", a.expiresAt).Msg("Token refreshed successfully")

	return a.token, nil
}
