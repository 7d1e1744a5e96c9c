package models

import (
	"maps"
	"strings"
	"time"
)

// Quota group keys.
const (
	GroupClaude = "claude"
	GroupBanana = "banana"
	GroupGemini = "gemini"
	GroupOther  = "other"
)

// QuotaGroupOf buckets a model id into its quota group. First match wins.
func QuotaGroupOf(modelID string) string {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "claude"):
		return GroupClaude
	case strings.Contains(lower, "gemini-3-pro-image"):
		return GroupBanana
	case strings.Contains(lower, "gemini"), strings.Contains(lower, "publishers/google/"):
		return GroupGemini
	default:
		return GroupOther
	}
}

// ModelQuota is the remaining quota of one model.
type ModelQuota struct {
	ResetTime time.Time `json:"resetTime,omitzero"`
	// Remaining is an exact decimal string in [0, 1].
	Remaining string `json:"remaining"`
}

// QuotaSnapshot maps model ids to their remaining quota at one point in time.
type QuotaSnapshot struct {
	LastUpdated time.Time             `json:"lastUpdated"`
	Models      map[string]ModelQuota `json:"models"`
}

// Clone returns a deep copy of the snapshot.
func (s QuotaSnapshot) Clone() QuotaSnapshot {
	out := QuotaSnapshot{LastUpdated: s.LastUpdated}
	if s.Models != nil {
		out.Models = make(map[string]ModelQuota, len(s.Models))
		maps.Copy(out.Models, s.Models)
	}
	return out
}

// QuotaRecord is the tracker's view of one credential.
type QuotaRecord struct {
	Snapshot      QuotaSnapshot        `json:"snapshot"`
	RequestCounts map[string]int       `json:"requestCounts"`
	ResetTimes    map[string]time.Time `json:"resetTimes"`
	CredentialID  string               `json:"credentialId"`
}

// GroupSummary aggregates the models of one quota group.
type GroupSummary struct {
	EarliestReset     time.Time `json:"earliestReset,omitzero"`
	Group             string    `json:"group"`
	MinRemaining      string    `json:"minRemaining"`
	Tier              string    `json:"tier"`
	Models            []string  `json:"models"`
	RequestCount      int       `json:"requestCount"`
	EstimatedRequests int64     `json:"estimatedRequests"`
}
