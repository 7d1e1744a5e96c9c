package quota

import (
	"fmt"
	"time"
)

// SubscriptionTier is the account plan inferred from a group's reset cadence.
type SubscriptionTier string

const (
	// TierFree resets daily.
	TierFree SubscriptionTier = "FREE"
	// TierPro resets every few hours.
	TierPro SubscriptionTier = "PRO"
	// TierUnknown has no usable reset time.
	TierUnknown SubscriptionTier = "UNKNOWN"
)

// TierThreshold separates hourly (PRO) from daily (FREE) reset windows.
const TierThreshold = 6 * time.Hour

// DetectTier infers the subscription tier from the next reset time.
func DetectTier(resetTime, now time.Time) SubscriptionTier {
	if resetTime.IsZero() {
		return TierUnknown
	}

	until := resetTime.Sub(now)
	if until < 0 {
		// A reset in the last hour is still a PRO cadence.
		if until > -time.Hour {
			return TierPro
		}
		return TierUnknown
	}
	if until <= TierThreshold {
		return TierPro
	}
	return TierFree
}

// TimeUntilReset returns the non-negative duration until resetTime.
func TimeUntilReset(resetTime, now time.Time) time.Duration {
	if resetTime.IsZero() {
		return 0
	}
	return max(0, resetTime.Sub(now))
}

// FormatResetTime renders the time left until reset as "1h30m", "45m", "< 1m" or "Now".
func FormatResetTime(resetTime, now time.Time) string {
	if resetTime.IsZero() {
		return "Unknown"
	}

	d := TimeUntilReset(resetTime, now)
	switch {
	case d <= 0:
		return "Now"
	case d < time.Minute:
		return "< 1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
