package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/model"
	"schedule-import-db/pkg/errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RejectedError is a definitive refusal by the backend, for example a key
// created by someone else since the preview. It is never retried.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected record (HTTP %d): %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	authManager *AuthManager
	limiter     *rate.Limiter
	log         zerolog.Logger
}

func NewClient(cfg *config.Config, auth *AuthManager) *Client {
	b := cfg.ExternalAPI.Backend
	limit := rate.Inf
	if b.RateLimit > 0 {
		limit = rate.Limit(b.RateLimit)
	}
	burst := b.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(b.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: b.Timeout,
		},
		authManager: auth,
		limiter:     rate.NewLimiter(limit, burst),
		log:         logger.Component("submit-client"),
	}
}

// SubmitRecord creates one record with POST /api/<resource>.
func (c *Client) SubmitRecord(ctx context.Context, resource string, payload map[string]interface{}) (*model.SubmitResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.authManager.GetToken(ctx)
	if err != nil {
		return nil, errors.NewRetryableError(err, "failed to get auth token")
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	url := c.baseURL + "/api/" + resource
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewRetryableError(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	result := decodeResponse(body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		result.Success = true
		c.log.Debug().Str("resource", resource).Msg("Record created")
		return result, nil
	case resp.StatusCode == http.StatusUnauthorized:
		// Token might be expired, retry will refresh it
		c.authManager.Invalidate()
		return nil, errors.NewRetryableError(errors.ErrAuthenticationFailed, "unauthorized")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.NewRetryableError(
			fmt.Errorf("%w: HTTP %d", errors.ErrExternalAPIError, resp.StatusCode), "external service unavailable")
	default:
		// Business logic error - don't retry
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: result.Message}
	}
}

// decodeResponse tolerates empty and non JSON bodies.
func decodeResponse(body []byte) *model.SubmitResponse {
	var out struct {
		model.SubmitResponse
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return &model.SubmitResponse{Message: strings.TrimSpace(string(body))}
	}
	if out.Message == "" {
		out.Message = out.Error
	}
	return &out.SubmitResponse
}
