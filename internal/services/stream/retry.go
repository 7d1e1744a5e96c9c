package stream

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

const (
	maxBackoff       = 20 * time.Second
	fallbackBackoff  = 500 * time.Millisecond
	hintSafetyMargin = 50 * time.Millisecond
	capacityBackoff  = time.Second

	capacityExhausted = "MODEL_CAPACITY_EXHAUSTED"
)

var (
	msDuration  = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*ms$`)
	secDuration = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*s$`)
)

// statusCoder is implemented by upstream errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Op is one attempt of a retried call. attempt starts at 0.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

type retryOptions struct {
	clock  clock.Clock
	jitter func() float64
}

// RetryOption customizes WithRetry.
type RetryOption func(*retryOptions)

// WithClock replaces the clock used for backoff sleeps and reset timestamps.
func WithClock(c clock.Clock) RetryOption {
	return func(o *retryOptions) { o.clock = c }
}

// WithJitter replaces the jitter source. fn must return a value in [0, 1).
func WithJitter(fn func() float64) RetryOption {
	return func(o *retryOptions) { o.jitter = fn }
}

// WithRetry runs op, retrying up to maxRetries times when it fails with a
// 429. Any other error is returned unchanged.
func WithRetry[T any](ctx context.Context, op Op[T], maxRetries int, opts ...RetryOption) (T, error) {
	o := retryOptions{clock: clock.Real(), jitter: rand.Float64}
	for _, opt := range opts {
		opt(&o)
	}
	retries := max(0, maxRetries)

	for attempt := 0; ; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil || attempt >= retries || StatusOf(err) != http.StatusTooManyRequests {
			return result, err
		}

		next := attempt + 1
		hint, hasHint := RetryHint(err, o.clock.Now())
		wait := Backoff(next, hint, hasHint, 0.8+o.jitter()*0.4)
		args := []any{"attempt", next, "retries", retries, "wait", wait}
		if hasHint {
			args = append(args, "hint", hint)
		}
		logger.Warn("upstream rate limited, retrying", args...)

		if err := o.clock.Sleep(ctx, wait); err != nil {
			var zero T
			return zero, err
		}
	}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// Backoff computes the wait before retry number attempt (1-based). jitter
// is the multiplier applied to the exponential step.
func Backoff(attempt int, hint time.Duration, hasHint bool, jitter float64) time.Duration {
	base := fallbackBackoff
	if hasHint {
		base = max(0, hint)
	}
	exp := float64(base.Milliseconds()) * math.Pow(2, float64(max(0, attempt-1)))
	exp = math.Min(float64(maxBackoff.Milliseconds()), math.Floor(exp))
	jittered := time.Duration(max(0, math.Floor(exp*jitter))) * time.Millisecond

	if hasHint {
		return min(maxBackoff, max(jittered, hint.Truncate(time.Millisecond)+hintSafetyMargin))
	}
	return min(maxBackoff, max(fallbackBackoff, jittered))
}

// RetryHint extracts the longest upstream-suggested delay from a 429 body:
// RetryInfo.retryDelay, ErrorInfo.metadata.quotaResetDelay and
// quotaResetTimeStamp. A MODEL_CAPACITY_EXHAUSTED reason waits at least 1s.
func RetryHint(err error, now time.Time) (time.Duration, bool) {
	var upstream *models.TransientUpstreamError
	if !errors.As(err, &upstream) {
		return 0, false
	}

	var best time.Duration
	found := false
	take := func(d time.Duration) {
		if !found || d > best {
			best = d
		}
		found = true
	}

	if upstream.RetryAfter > 0 {
		take(upstream.RetryAfter)
	}

	details := errorDetails(upstream.Body)
	reason := ""
	for _, d := range details {
		if v, ok := ParseDelay(d.RetryDelay); ok {
			take(v)
		}
		if v, ok := ParseDelay(d.Metadata.QuotaResetDelay); ok {
			take(v)
		}
		if ts := d.Metadata.QuotaResetTimeStamp; ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				take(max(0, t.Sub(now).Truncate(time.Millisecond)))
			}
		}
		if reason == "" {
			reason = d.Reason
		}
	}

	if reason == capacityExhausted {
		take(capacityBackoff)
	}
	return best, found
}

type errorDetail struct {
	RetryDelay json.RawMessage `json:"retryDelay"`
	Reason     string          `json:"reason"`
	Metadata   struct {
		QuotaResetDelay     json.RawMessage `json:"quotaResetDelay"`
		QuotaResetTimeStamp string          `json:"quotaResetTimeStamp"`
	} `json:"metadata"`
}

type errorEnvelope struct {
	Error   *errorEnvelope `json:"error"`
	Details []errorDetail  `json:"details"`
}

func errorDetails(body []byte) []errorDetail {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Some gateways embed the JSON payload inside a message string.
		first, last := strings.IndexByte(string(body), '{'), strings.LastIndexByte(string(body), '}')
		if first < 0 || last <= first {
			return nil
		}
		if err := json.Unmarshal(body[first:last+1], &env); err != nil {
			return nil
		}
	}
	if env.Error != nil {
		return env.Error.Details
	}
	return env.Details
}

// ParseDelay accepts "X ms", "X s", a bare number of milliseconds, or any of
// those as a JSON string. Fractions are truncated to whole milliseconds.
func ParseDelay(raw json.RawMessage) (time.Duration, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	scale := 1.0
	if m := msDuration.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if m := secDuration.FindStringSubmatch(s); m != nil {
		s, scale = m[1], 1000
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return time.Duration(max(0, math.Floor(n*scale))) * time.Millisecond, true
}
