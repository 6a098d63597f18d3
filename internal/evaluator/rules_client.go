package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// RulesClient fetches the active correlation rule set from the rules
// service (spec §6: Rule CRUD is owned externally, the correlator only
// reads). Implementations must never cache staler than one poll cycle.
type RulesClient interface {
	ListRules(ctx context.Context) ([]*models.Rule, error)
}

// HTTPRulesClient implements RulesClient over the rules service's REST
// API.
type HTTPRulesClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRulesClient creates a new HTTP rules client.
func NewHTTPRulesClient(baseURL string) *HTTPRulesClient {
	return &HTTPRulesClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListRules fetches all enabled rules from the rules service.
func (c *HTTPRulesClient) ListRules(ctx context.Context) ([]*models.Rule, error) {
	url := fmt.Sprintf("%s/api/v1/rules?enabled=true&limit=500", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var response struct {
		Rules []*models.Rule `json:"rules"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Rules, nil
}
