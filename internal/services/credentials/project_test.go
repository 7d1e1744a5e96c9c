package credentials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

type codeAssistServer struct {
	load       string
	onboard    []string
	onboardReq []map[string]any
	loadCalls  int
}

func (s *codeAssistServer) client(t *testing.T) *http.Client {
	return mockClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
		assert.Equal(t, "agent/1.0", req.Header.Get("User-Agent"))

		switch {
		case strings.HasSuffix(req.URL.Path, ":loadCodeAssist"):
			s.loadCalls++
			return respondJSON(http.StatusOK, s.load), nil
		case strings.HasSuffix(req.URL.Path, ":onboardUser"):
			var body map[string]any
			data, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(data, &body)
			s.onboardReq = append(s.onboardReq, body)
			next := s.onboard[0]
			if len(s.onboard) > 1 {
				s.onboard = s.onboard[1:]
			}
			return respondJSON(http.StatusOK, next), nil
		}
		t.Errorf("unexpected request %s", req.URL)
		return respondJSON(http.StatusNotFound, `{}`), nil
	})
}

func TestCodeAssistResolver(t *testing.T) {
	tests := []struct {
		name        string
		load        string
		onboard     []string
		want        string
		wantErr     error
		wantTier    string
		wantSleeps  int
		wantOnboard int
	}{
		{
			name: "CurrentTier",
			load: `{"currentTier":{"id":"free-tier"},"cloudaicompanionProject":"proj-123"}`,
			want: "proj-123",
		},
		{
			name:        "OnboardObject",
			load:        `{"allowedTiers":[{"id":"legacy-tier"},{"id":"free-tier","isDefault":true}]}`,
			onboard:     []string{`{"done":true,"response":{"cloudaicompanionProject":{"id":"proj-obj"}}}`},
			want:        "proj-obj",
			wantTier:    "free-tier",
			wantOnboard: 1,
		},
		{
			name:        "OnboardPolls",
			load:        `{}`,
			onboard:     []string{`{"done":false}`, `{"done":false}`, `{"done":true,"response":{"cloudaicompanionProject":"proj-str"}}`},
			want:        "proj-str",
			wantTier:    legacyTier,
			wantSleeps:  2,
			wantOnboard: 3,
		},
		{
			name:        "OnboardTimeout",
			load:        `{}`,
			onboard:     []string{`{"done":false}`},
			wantErr:     ErrNoProject,
			wantTier:    legacyTier,
			wantSleeps:  onboardAttempts - 1,
			wantOnboard: onboardAttempts,
		},
		{
			name:        "DoneWithoutProject",
			load:        `{"currentTier":null}`,
			onboard:     []string{`{"done":true,"response":{}}`},
			wantErr:     ErrNoProject,
			wantTier:    legacyTier,
			wantOnboard: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &codeAssistServer{load: tt.load, onboard: tt.onboard}
			fake := clock.NewFake(baseTime)
			resolver := NewCodeAssistResolver(server.client(t), "cloudcode-pa.googleapis.com", "agent/1.0", fake)

			got, err := resolver.ResolveProject(context.Background(), "token")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, 1, server.loadCalls)
			require.Len(t, server.onboardReq, tt.wantOnboard)
			if tt.wantOnboard > 0 {
				assert.Equal(t, tt.wantTier, server.onboardReq[0]["tierId"])
				meta, _ := server.onboardReq[0]["metadata"].(map[string]any)
				assert.Equal(t, "ANTIGRAVITY", meta["ideType"])
			}

			sleeps := fake.Sleeps()
			require.Len(t, sleeps, tt.wantSleeps)
			for _, d := range sleeps {
				assert.Equal(t, 2*time.Second, d)
			}
		})
	}
}

func TestCodeAssistResolver_UpstreamStatus(t *testing.T) {
	client := mockClient(func(*http.Request) (*http.Response, error) {
		return respondJSON(http.StatusForbidden, `{"error":{"message":"not eligible"}}`), nil
	})
	resolver := NewCodeAssistResolver(client, "cloudcode-pa.googleapis.com", "", clock.NewFake(baseTime))

	_, err := resolver.ResolveProject(context.Background(), "token")

	assert.True(t, models.IsPermanentCredentialError(err))
}

func TestProjectIDFrom(t *testing.T) {
	assert.Equal(t, "a", projectIDFrom(json.RawMessage(`"a"`)))
	assert.Equal(t, "b", projectIDFrom(json.RawMessage(`{"id":"b"}`)))
	assert.Equal(t, "", projectIDFrom(json.RawMessage(`42`)))
	assert.Equal(t, "", projectIDFrom(nil))
}

func TestRandomProjectID(t *testing.T) {
	seen := make(map[string]bool)
	for range 20 {
		id := RandomProjectID()
		assert.Regexp(t, `^[a-z]+-[a-z]+-[0-9a-f]{5}$`, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1)
}
