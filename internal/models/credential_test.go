package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCredentialUnmarshalDefaults(t *testing.T) {
	data := `{"access_token":"ya29.abc","refresh_token":"1//rt","expires_in":3599,"timestamp":1735689600000}`

	var c Credential
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !c.Enable {
		t.Error("Enable should default to true")
	}
	if !c.HasQuota {
		t.Error("HasQuota should default to true")
	}
	if !c.Availability.IsAvailable() {
		t.Errorf("Availability = %v, want available", c.Availability)
	}
	if c.Timestamp != 1735689600000 {
		t.Errorf("Timestamp = %d, want 1735689600000", c.Timestamp)
	}
}

func TestCredentialUnmarshalExplicitFalse(t *testing.T) {
	data := `{"refresh_token":"rt","enable":false,"hasQuota":false,"timestamp":"2025-01-01T00:00:00Z"}`

	var c Credential
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if c.Enable || c.HasQuota {
		t.Errorf("Enable = %v, HasQuota = %v, want false/false", c.Enable, c.HasQuota)
	}
	if !c.Availability.ExhaustedAll() {
		t.Errorf("Availability = %v, want exhausted", c.Availability)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if c.Timestamp != want {
		t.Errorf("Timestamp = %d, want %d", c.Timestamp, want)
	}
}

func TestCredentialIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	buffer := 5 * time.Minute

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"missing timestamp", Credential{ExpiresIn: 3600}, true},
		{"missing expires_in", Credential{Timestamp: now.UnixMilli()}, true},
		{"fresh", Credential{Timestamp: now.UnixMilli(), ExpiresIn: 3600}, false},
		{"inside buffer", Credential{Timestamp: now.Add(-56 * time.Minute).UnixMilli(), ExpiresIn: 3600}, true},
		{"exactly at buffer edge", Credential{Timestamp: now.Add(-55 * time.Minute).UnixMilli(), ExpiresIn: 3600}, true},
		{"just before buffer", Credential{Timestamp: now.Add(-54 * time.Minute).UnixMilli(), ExpiresIn: 3600}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.IsExpired(now, buffer); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialViewHidesSecrets(t *testing.T) {
	c := Credential{ID: "abc123", AccessToken: "secret-access", RefreshToken: "secret-refresh", Enable: true}

	data, err := json.Marshal(c.View())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("View() leaked secret material: %s", data)
	}
}

func TestCredentialPatchApply(t *testing.T) {
	c := Credential{Enable: true, HasQuota: true}
	off := false
	email := "a@example.com"

	CredentialPatch{HasQuota: &off, Email: &email}.Apply(&c)

	if c.HasQuota {
		t.Error("HasQuota should be false after patch")
	}
	if !c.Availability.ExhaustedAll() {
		t.Errorf("Availability = %v, want exhausted", c.Availability)
	}
	if c.Email != email || !c.Enable {
		t.Errorf("unexpected credential after patch: %+v", c)
	}
}

func TestQuotaGroupOf(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-5-thinking", GroupClaude},
		{"Claude-Opus", GroupClaude},
		{"gemini-3-pro-image-preview", GroupBanana},
		{"gemini-2.5-pro", GroupGemini},
		{"publishers/google/models/chat-bison", GroupGemini},
		{"gpt-oss-120b", GroupOther},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := QuotaGroupOf(tt.model); got != tt.want {
				t.Errorf("QuotaGroupOf(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestAvailability(t *testing.T) {
	a := Exhausted(GroupClaude)
	if !a.ExhaustedFor(GroupClaude) || a.ExhaustedFor(GroupGemini) || a.ExhaustedAll() {
		t.Errorf("unexpected group-scoped exhaustion: %v", a)
	}
	if got := a.String(); got != "exhausted:claude" {
		t.Errorf("String() = %q, want %q", got, "exhausted:claude")
	}
	if !Available().IsAvailable() {
		t.Error("Available() should be available")
	}
}

func TestCredentialErrorPermanent(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, true},
		{403, true},
		{401, false},
		{500, false},
		{0, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("prepare: %w", &CredentialError{CredentialID: "x", Message: "refresh failed", Status: tt.status})
			if got := IsPermanentCredentialError(err); got != tt.want {
				t.Errorf("IsPermanentCredentialError() = %v, want %v", got, tt.want)
			}
		})
	}

	if IsPermanentCredentialError(errors.New("plain")) {
		t.Error("plain errors are not permanent credential errors")
	}
}
