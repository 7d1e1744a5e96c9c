package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// DefaultEndpoints are tried in order until one answers.
var DefaultEndpoints = []string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
}

// Headers sent with every Cloud Code request besides the user agent.
var clientHeaders = map[string]string{
	"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
	"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
}

// ErrUnauthorized is returned when the access token was rejected.
var ErrUnauthorized = errors.New("unauthorized: access token may be expired")

// Fetcher reads a credential's current quota from upstream.
type Fetcher interface {
	FetchQuota(ctx context.Context, accessToken string) (models.QuotaSnapshot, error)
}

// fetchModelsResponse is the fetchAvailableModels payload. Fractions stay
// json.Number so their decimal text is kept exactly.
type fetchModelsResponse struct {
	Models map[string]struct {
		QuotaInfo *struct {
			RemainingFraction json.Number `json:"remainingFraction"`
			ResetTime         string      `json:"resetTime"`
		} `json:"quotaInfo"`
		DisplayName string `json:"displayName"`
	} `json:"models"`
}

// Client fetches quota snapshots from the Cloud Code API.
type Client struct {
	httpClient *http.Client
	clock      clock.Clock
	userAgent  string
	endpoints  []string
}

// NewClient creates a quota client. A nil httpClient gets a 30s timeout client.
func NewClient(httpClient *http.Client, userAgent string, endpoints ...string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	return &Client{
		httpClient: httpClient,
		clock:      clock.Real(),
		userAgent:  userAgent,
		endpoints:  endpoints,
	}
}

// WithClock sets the clock used to stamp snapshots.
func (c *Client) WithClock(clk clock.Clock) *Client {
	c.clock = clk
	return c
}

// FetchQuota retrieves remaining fractions for every model visible to the token.
func (c *Client) FetchQuota(ctx context.Context, accessToken string) (models.QuotaSnapshot, error) {
	if accessToken == "" {
		return models.QuotaSnapshot{}, fmt.Errorf("access token is empty")
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		snap, err := c.fetchFrom(ctx, endpoint, accessToken)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return models.QuotaSnapshot{}, err
		}
		logger.Debug("quota endpoint failed", "endpoint", endpoint, "error", err)
		lastErr = err
	}

	if lastErr != nil {
		return models.QuotaSnapshot{}, lastErr
	}
	return models.QuotaSnapshot{}, fmt.Errorf("failed to fetch quota from any endpoint")
}

func (c *Client) fetchFrom(ctx context.Context, endpoint, accessToken string) (models.QuotaSnapshot, error) {
	url := endpoint + "/v1internal:fetchAvailableModels"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		return models.QuotaSnapshot{}, fmt.Errorf("failed to create quota request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range clientHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.QuotaSnapshot{}, fmt.Errorf("quota request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.QuotaSnapshot{}, fmt.Errorf("failed to read quota response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return models.QuotaSnapshot{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return models.QuotaSnapshot{}, &models.TransientUpstreamError{Status: resp.StatusCode, Body: body}
	}

	return c.parseSnapshot(body)
}

func (c *Client) parseSnapshot(body []byte) (models.QuotaSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload fetchModelsResponse
	if err := dec.Decode(&payload); err != nil {
		return models.QuotaSnapshot{}, fmt.Errorf("failed to parse quota response: %w", err)
	}

	snap := models.QuotaSnapshot{
		LastUpdated: c.clock.Now(),
		Models:      make(map[string]models.ModelQuota, len(payload.Models)),
	}
	for id, m := range payload.Models {
		if m.QuotaInfo == nil {
			continue
		}
		// An exhausted model omits remainingFraction.
		remaining := m.QuotaInfo.RemainingFraction.String()
		if remaining == "" {
			remaining = "0"
		}
		q := models.ModelQuota{Remaining: remaining}
		if m.QuotaInfo.ResetTime != "" {
			if t, err := time.Parse(time.RFC3339, m.QuotaInfo.ResetTime); err == nil {
				q.ResetTime = t
			} else {
				logger.Debug("invalid quota reset time", "model", id, "value", m.QuotaInfo.ResetTime)
			}
		}
		snap.Models[id] = q
	}
	return snap, nil
}
