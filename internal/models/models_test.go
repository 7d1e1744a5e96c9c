package models

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestParseRotationStrategy(t *testing.T) {
	for _, name := range []string{"round_robin", "quota_exhausted", "request_count"} {
		got, err := ParseRotationStrategy(name)
		if err != nil || string(got) != name {
			t.Errorf("ParseRotationStrategy(%q) = %q, %v", name, got, err)
		}
	}

	if _, err := ParseRotationStrategy("random"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestParseSamplingMode(t *testing.T) {
	tests := map[string]SamplingMode{
		"precise": ModePrecise,
		"default": ModeDefault,
		"":        ModeDefault,
		"PRECISE": ModeDefault,
	}
	for in, want := range tests {
		if got := ParseSamplingMode(in); got != want {
			t.Errorf("ParseSamplingMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuotaSnapshotCloneIsDeep(t *testing.T) {
	snap := QuotaSnapshot{
		LastUpdated: time.Unix(100, 0),
		Models:      map[string]ModelQuota{"claude-sonnet-4-5": {Remaining: "0.5"}},
	}

	clone := snap.Clone()
	clone.Models["claude-sonnet-4-5"] = ModelQuota{Remaining: "0"}

	if snap.Models["claude-sonnet-4-5"].Remaining != "0.5" {
		t.Error("Clone shares the models map")
	}
	if !clone.LastUpdated.Equal(snap.LastUpdated) {
		t.Error("Clone dropped LastUpdated")
	}
	if (QuotaSnapshot{}).Clone().Models != nil {
		t.Error("Clone of empty snapshot should keep a nil map")
	}
}

func TestErrorWrapping(t *testing.T) {
	persist := fmt.Errorf("write store: %w", &PersistenceError{Op: "write credentials", Err: io.ErrShortWrite})
	if !errors.Is(persist, io.ErrShortWrite) {
		t.Error("PersistenceError should unwrap to its cause")
	}
	var pe *PersistenceError
	if !errors.As(persist, &pe) || pe.Op != "write credentials" {
		t.Errorf("errors.As(PersistenceError) failed: %v", persist)
	}

	upstream := fmt.Errorf("stream: %w", &TransientUpstreamError{Status: 429, Body: []byte(`{"error":{}}`)})
	var te *TransientUpstreamError
	if !errors.As(upstream, &te) || te.StatusCode() != 429 {
		t.Errorf("errors.As(TransientUpstreamError) failed: %v", upstream)
	}

	cred := &CredentialError{CredentialID: "c1", Message: "refresh failed", Status: 403, Err: io.EOF}
	if !errors.Is(cred, io.EOF) {
		t.Error("CredentialError should unwrap to its cause")
	}
	if got := cred.Error(); got != "credential c1: refresh failed (status 403)" {
		t.Errorf("Error() = %q", got)
	}

	if got := (&QuotaDataError{Model: "m", Reason: "no match"}).Error(); got != "quota data for m: no match" {
		t.Errorf("QuotaDataError.Error() = %q", got)
	}
}

func TestTransientUpstreamErrorTruncatesBody(t *testing.T) {
	body := make([]byte, 500)
	for i := range body {
		body[i] = 'x'
	}
	err := &TransientUpstreamError{Status: 503, Body: body}
	if got := len(err.Error()); got > 240 {
		t.Errorf("Error() length = %d, want truncated body", got)
	}
}
