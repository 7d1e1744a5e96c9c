package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

func TestFindCredential(t *testing.T) {
	views := []models.CredentialView{
		{ID: "abc123def4567890", Email: "a@example.com"},
		{ID: "abd0000000000000", Email: "b@example.com"},
	}

	tests := []struct {
		name    string
		query   string
		wantID  string
		wantErr bool
	}{
		{"exact id", "abd0000000000000", "abd0000000000000", false},
		{"email", "a@example.com", "abc123def4567890", false},
		{"unique prefix", "abc", "abc123def4567890", false},
		{"ambiguous prefix", "ab", "", true},
		{"no match", "zzz", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findCredential(views, tt.query)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestFindCredential_NoMatchWrapsSentinel(t *testing.T) {
	_, err := findCredential(nil, "x")
	assert.ErrorIs(t, err, models.ErrNoCredential)
}

func TestPrintCredentials(t *testing.T) {
	var buf bytes.Buffer
	printCredentials(&buf, nil)
	assert.Contains(t, buf.String(), "No credentials configured.")

	buf.Reset()
	printCredentials(&buf, []models.CredentialView{
		{ID: "0123456789abcdefXYZ", Email: "a@example.com", Enable: true, Availability: "available"},
	})
	out := buf.String()
	assert.Contains(t, out, "0123456789abcdef ")
	assert.NotContains(t, out, "XYZ")
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "true")
}

func TestPrintReport(t *testing.T) {
	left := int64(12)
	report := models.UsageReport{
		Now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Mode:   models.ModePrecise,
		Window: 6 * time.Hour,
		Models: map[string]models.ModelUsage{
			"gemini-2.5-pro": {
				RemainingPercent: "60",
				Points: []models.UsageSample{
					{ConsumedPercent: "1.5"},
					{ConsumedPercent: "2"},
					{ConsumedPercent: "bad"},
				},
				Stats: models.SeriesStats{Count: 2, Median: "1.75", Min: "1.5", Max: "2", CallsLeft: &left},
			},
			"claude-sonnet-4-5": {},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, models.CredentialView{ID: "c1"}, report, 40, 5))
	out := buf.String()

	assert.Contains(t, out, "Usage for c1 (mode precise, last 6h0m0s)")
	assert.Contains(t, out, "gemini-2.5-pro")
	assert.Contains(t, out, "consumed % per request")
	assert.Contains(t, out, "median 1.75%")
	assert.Contains(t, out, "calls left ~12")
	assert.Contains(t, out, "claude-sonnet-4-5\n  no samples")
}

func TestPrintReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	view := models.CredentialView{ID: "c1", Email: "a@example.com"}
	require.NoError(t, printReport(&buf, view, models.UsageReport{Mode: models.ModeDefault}, 40, 5))

	assert.Contains(t, buf.String(), "Usage for a@example.com (mode default)")
	assert.Contains(t, buf.String(), "No usage samples recorded.")
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "1.5", orDash("1.5"))
}
