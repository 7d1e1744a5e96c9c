package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-gateway/internal/config"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

const maxErrorBody = 64 << 10

// Upstream opens a streaming generation call for one credential. The caller
// closes the returned body.
type Upstream interface {
	StreamGenerate(ctx context.Context, cred *models.Credential, req Request) (io.ReadCloser, error)
}

// CloudCodeUpstream calls streamGenerateContent on the Cloud Code API.
type CloudCodeUpstream struct {
	httpClient *http.Client
	host       string
	userAgent  string
}

// NewCloudCodeUpstream creates the upstream client. The http client must not
// carry a total timeout since streams are long lived.
func NewCloudCodeUpstream(httpClient *http.Client, host, userAgent string) *CloudCodeUpstream {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if host == "" {
		host = config.DefaultAPIHost
	}
	return &CloudCodeUpstream{httpClient: httpClient, host: host, userAgent: userAgent}
}

type generateEnvelope struct {
	Project   string          `json:"project"`
	RequestID string          `json:"requestId"`
	Request   json.RawMessage `json:"request"`
	Model     string          `json:"model"`
	UserAgent string          `json:"userAgent"`
}

// StreamGenerate posts the request and returns the SSE body on 200.
func (u *CloudCodeUpstream) StreamGenerate(ctx context.Context, cred *models.Credential, req Request) (io.ReadCloser, error) {
	payload, err := json.Marshal(generateEnvelope{
		Project:   cred.ProjectID,
		RequestID: "agent-" + uuid.NewString(),
		Request:   req.Body,
		Model:     req.Model,
		UserAgent: "antigravity",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	url := "https://" + u.host + "/v1internal:streamGenerateContent?alt=sse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if u.userAgent != "" {
		httpReq.Header.Set("User-Agent", u.userAgent)
	}

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &models.CredentialError{
			CredentialID: cred.ID,
			Status:       resp.StatusCode,
			Message:      "upstream rejected credential",
		}
	default:
		return nil, &models.TransientUpstreamError{
			Status:     resp.StatusCode,
			Body:       body,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
