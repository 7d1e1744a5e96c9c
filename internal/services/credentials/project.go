package credentials

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// ErrNoProject means the account is not eligible for a Cloud Code project.
var ErrNoProject = errors.New("no project id available for account")

const (
	onboardAttempts = 5
	onboardInterval = 2 * time.Second
	legacyTier      = "LEGACY"
)

// ProjectResolver discovers the Cloud Code project bound to an access token.
type ProjectResolver interface {
	ResolveProject(ctx context.Context, accessToken string) (string, error)
}

type clientMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"`
	PluginType string `json:"pluginType"`
}

var antigravityMetadata = clientMetadata{
	IDEType:    "ANTIGRAVITY",
	Platform:   "PLATFORM_UNSPECIFIED",
	PluginType: "GEMINI",
}

type loadCodeAssistResponse struct {
	CurrentTier             json.RawMessage `json:"currentTier"`
	CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
	AllowedTiers            []struct {
		ID        string `json:"id"`
		IsDefault bool   `json:"isDefault"`
	} `json:"allowedTiers"`
}

type onboardResponse struct {
	Response struct {
		CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
	} `json:"response"`
	Done bool `json:"done"`
}

// CodeAssistResolver resolves projects with loadCodeAssist, onboarding the
// user when no tier is assigned yet.
type CodeAssistResolver struct {
	httpClient *http.Client
	clock      clock.Clock
	host       string
	userAgent  string
}

// NewCodeAssistResolver creates a resolver against host (e.g. cloudcode-pa.googleapis.com).
func NewCodeAssistResolver(httpClient *http.Client, host, userAgent string, clk clock.Clock) *CodeAssistResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CodeAssistResolver{httpClient: httpClient, clock: clk, host: host, userAgent: userAgent}
}

// ResolveProject implements ProjectResolver. It returns ErrNoProject when the
// account has no project and onboarding does not produce one.
func (r *CodeAssistResolver) ResolveProject(ctx context.Context, accessToken string) (string, error) {
	var loaded loadCodeAssistResponse
	if err := r.post(ctx, "loadCodeAssist", accessToken, map[string]any{"metadata": antigravityMetadata}, &loaded); err != nil {
		return "", err
	}

	if len(loaded.CurrentTier) > 0 && string(loaded.CurrentTier) != "null" {
		if id := projectIDFrom(loaded.CloudAICompanionProject); id != "" {
			return id, nil
		}
	}

	tier := legacyTier
	for _, t := range loaded.AllowedTiers {
		if t.IsDefault && t.ID != "" {
			tier = t.ID
			break
		}
	}
	logger.Info("onboarding user for project id", "tier", tier)

	body := map[string]any{"tierId": tier, "metadata": antigravityMetadata}
	for attempt := 1; attempt <= onboardAttempts; attempt++ {
		var resp onboardResponse
		if err := r.post(ctx, "onboardUser", accessToken, body, &resp); err != nil {
			return "", err
		}
		if resp.Done {
			if id := projectIDFrom(resp.Response.CloudAICompanionProject); id != "" {
				return id, nil
			}
			return "", ErrNoProject
		}
		if attempt < onboardAttempts {
			if err := r.clock.Sleep(ctx, onboardInterval); err != nil {
				return "", err
			}
		}
	}

	logger.Warn("onboarding did not complete", "attempts", onboardAttempts)
	return "", ErrNoProject
}

// projectIDFrom accepts either {"id": "..."} or a bare string.
func projectIDFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func (r *CodeAssistResolver) post(ctx context.Context, method, accessToken string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("https://%s/v1internal:%s", r.host, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &models.CredentialError{
			Message: fmt.Sprintf("%s failed: %s", method, truncate(string(body), 200)),
			Status:  resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	return nil
}

var (
	projectAdjectives = []string{"useful", "bright", "swift", "calm", "wise", "noble", "bold", "cool", "fresh", "keen"}
	projectNouns      = []string{"fuze", "wave", "spark", "flow", "core", "beam", "node", "link", "path", "grid"}
)

// RandomProjectID returns an id shaped like "<adjective>-<noun>-<5 hex>",
// used when project discovery is skipped.
func RandomProjectID() string {
	u := uuid.New()
	adj := projectAdjectives[int(u[0])%len(projectAdjectives)]
	noun := projectNouns[int(u[1])%len(projectNouns)]
	return adj + "-" + noun + "-" + hex.EncodeToString(u[2:5])[:5]
}
