package pull

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/logger"
	"schedule-import-db/pkg/errors"

	"github.com/rs/zerolog"
)

// TokenSource supplies a bearer token for the backend. May be nil when the
// list endpoints are public.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Service builds existing-record snapshots from the scheduling backend.
type Service struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        zerolog.Logger
}

func NewService(cfg *config.Config, tokens TokenSource) *Service {
	return &Service{
		baseURL: strings.TrimRight(cfg.ExternalAPI.Backend.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.ExternalAPI.Backend.Timeout,
		},
		tokens: tokens,
		log:    logger.Component("pull"),
	}
}

// ExistingSet fetches GET /api/<resource> and indexes every unique field of
// the entity. The result is a snapshot for one reconciliation pass.
func (s *Service) ExistingSet(ctx context.Context, rules *importer.RuleSet) (*importer.KeySet, error) {
	log := s.log.With().Str("entity", rules.Entity).Logger()

	url := s.baseURL + "/api/" + rules.Resource
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if s.tokens != nil {
		token, err := s.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrAuthenticationFailed, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRetryableError(err, "failed to fetch "+rules.Resource)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d: %s",
			errors.ErrExternalAPIError, resp.StatusCode, truncate(body, 200))
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, err
	}

	set := importer.NewKeySet()
	keys := rules.UniqueKeys()
	for _, item := range items {
		for _, field := range keys {
			set.Add(field, keyString(item[field]))
		}
	}

	log.Debug().Int("records", len(items)).Int("keys", set.Len(rules.PrimaryKey)).Msg("Existing records loaded")
	return set, nil
}

// decodeItems accepts a bare JSON array or a {"data": [...]} envelope.
func decodeItems(body []byte) ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []map[string]interface{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return envelope.Data, nil
}

func keyString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
