package evaluator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// AlertsClient fetches alerts produced by the alert-ingestion pipeline
// since a given timestamp. Alert ingestion and dedup are an external
// collaborator (spec §6): the correlator reads the fetched alerts,
// firing-like and resolved alike, to match rules against.
type AlertsClient interface {
	FetchAlerts(ctx context.Context, since time.Time) ([]*models.Alert, error)
}

// HTTPAlertsClient implements AlertsClient against the alert store's
// search API.
type HTTPAlertsClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewHTTPAlertsClient creates a new HTTP alerts client.
func NewHTTPAlertsClient(baseURL, username, password string, insecure bool) *HTTPAlertsClient {
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPAlertsClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// FetchAlerts retrieves alerts with a timestamp >= since, ordered
// ascending, so the correlator's poll loop can advance its watermark
// by the last alert's timestamp.
func (c *HTTPAlertsClient) FetchAlerts(ctx context.Context, since time.Time) ([]*models.Alert, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]interface{}{
					"gte": since.UnixMilli(),
				},
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "asc"}},
		},
		"size": 1000,
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/telhawk-alerts-*/_search", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(queryJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("search failed with status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, string(body))
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	alerts := make([]*models.Alert, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		alerts = append(alerts, alertFromSource(hit.ID, hit.Source))
	}
	return alerts, nil
}

func alertFromSource(id string, source map[string]interface{}) *models.Alert {
	alert := &models.Alert{ID: id, Event: source}

	if v, ok := source["fingerprint"].(string); ok {
		alert.Fingerprint = v
	}
	if v, ok := source["tenant_id"].(string); ok {
		alert.TenantID = v
	}
	if v, ok := source["status"].(string); ok {
		alert.Status = v
	}
	if v, ok := source["severity"].(string); ok {
		alert.Severity = v
	}
	if v, ok := source["timestamp"].(float64); ok {
		alert.Timestamp = time.UnixMilli(int64(v))
	} else {
		alert.Timestamp = time.Now()
	}
	return alert
}
