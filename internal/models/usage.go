package models

import "time"

// SamplingMode selects which usage series a sample belongs to.
type SamplingMode string

const (
	// ModeDefault is the fast single-read sampling mode.
	ModeDefault SamplingMode = "default"
	// ModePrecise re-reads with delays to catch lagged upstream propagation.
	ModePrecise SamplingMode = "precise"
)

// ParseSamplingMode maps anything other than "precise" to ModeDefault.
func ParseSamplingMode(s string) SamplingMode {
	if SamplingMode(s) == ModePrecise {
		return ModePrecise
	}
	return ModeDefault
}

// TokenCounts are the token totals reported at the end of a stream.
type TokenCounts struct {
	Prompt     int64 `json:"prompt_tokens"`
	Completion int64 `json:"completion_tokens"`
	Total      int64 `json:"total_tokens"`
}

// UsageSample is one observed quota consumption. Percent values are exact
// decimal strings on a 0-100 scale.
type UsageSample struct {
	Timestamp       time.Time    `json:"t"`
	Tokens          *TokenCounts `json:"tokens,omitempty"`
	ConsumedPercent string       `json:"v"`
	PrevPercent     string       `json:"a"`
	NextPercent     string       `json:"b"`
}

// SeriesStats summarizes the consumed-percent values of a series.
type SeriesStats struct {
	// CallsLeft is nil when the median is zero or no remaining quota is known.
	CallsLeft *int64 `json:"callsLeft"`
	Median    string `json:"medianRaw,omitempty"`
	Min       string `json:"minRaw,omitempty"`
	Max       string `json:"maxRaw,omitempty"`
	Last      string `json:"lastRaw,omitempty"`
	Count     int    `json:"count"`
}

// ModelUsage is the usage series and statistics of one model.
type ModelUsage struct {
	RemainingPercent string        `json:"remainingPercentRaw,omitempty"`
	Points           []UsageSample `json:"points"`
	Stats            SeriesStats   `json:"stats"`
}

// UsageQuery filters a usage report.
type UsageQuery struct {
	Mode   SamplingMode
	Window time.Duration
	Limit  int
}

// UsageReport is the admin view of a credential's usage series.
type UsageReport struct {
	Now            time.Time             `json:"now"`
	AvailableModes map[SamplingMode]bool `json:"availableModes"`
	Models         map[string]ModelUsage `json:"models"`
	Mode           SamplingMode          `json:"mode"`
	Window         time.Duration         `json:"window"`
}

// StoredSample is a usage sample with the series it belongs to, as persisted.
type StoredSample struct {
	CredentialID string
	Mode         SamplingMode
	Model        string
	Sample       UsageSample
}
