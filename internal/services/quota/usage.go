package quota

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/decimal"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// Usage query bounds.
const (
	MinUsageWindow     = 5 * time.Minute
	DefaultUsageWindow = 5 * time.Hour
	MinUsageLimit      = 10
	MaxUsageLimit      = 2000
	DefaultUsageLimit  = 300
)

var variantSuffixes = []string{"-thinking", "-high", "-low", "-medium"}

// Outcome describes what UpdateQuotaWithUsage did with a snapshot.
type Outcome string

const (
	// OutcomeBaseline means there was no previous value to compare against.
	OutcomeBaseline Outcome = "baseline"
	// OutcomeUnmatched means the requested model is not in the snapshot.
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeIncrease means quota went up, typically a reset.
	OutcomeIncrease Outcome = "increase"
	// OutcomeRecorded means a usage sample was appended.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeNoUsage means no change was seen and the snapshot was adopted.
	OutcomeNoUsage Outcome = "no_usage"
	// OutcomeDeferred means no change was seen and the matched model kept its baseline.
	OutcomeDeferred Outcome = "deferred"
)

// UsageOptions describes the request a post-request snapshot is attributed to.
type UsageOptions struct {
	CalledAt       time.Time
	Tokens         *models.TokenCounts
	RequestedModel string
	Mode           models.SamplingMode
	// MirrorToPrecise also appends default-mode samples to the precise series.
	MirrorToPrecise bool
	// OverwriteOnNoUsage adopts the snapshot even when no consumption was seen.
	OverwriteOnNoUsage bool
}

// UsageResult reports the attribution of one snapshot.
type UsageResult struct {
	Model    string
	Consumed string
	Outcome  Outcome
	Recorded bool
}

// UpdateQuotaWithUsage compares snap against the baseline of the requested
// model and records the consumed fraction as a usage sample.
func (t *Tracker) UpdateQuotaWithUsage(credentialID string, snap models.QuotaSnapshot, opts UsageOptions) (UsageResult, error) {
	clean, sanitizeErr := t.sanitize(snap)
	mode := opts.Mode
	if mode == "" {
		mode = models.ModeDefault
	}

	var (
		result  UsageResult
		pending []models.StoredSample
		adopted = clean
	)

	t.mu.Lock()
	rec := t.records[credentialID]
	matched, found := matchModel(clean.Models, opts.RequestedModel)
	result.Model = matched

	var prevQuota models.ModelQuota
	hasPrev := false
	if rec != nil && found {
		prevQuota, hasPrev = rec.snapshot.Models[matched]
	}

	switch {
	case !found:
		result.Outcome = OutcomeUnmatched
	case !hasPrev:
		result.Outcome = OutcomeBaseline
	default:
		prev := decimal.MustParse(prevQuota.Remaining)
		next := decimal.MustParse(clean.Models[matched].Remaining)
		consumed := prev.Sub(next)
		result.Consumed = consumed.String()

		switch {
		case consumed.Cmp(t.tolerance.Neg()) < 0:
			result.Outcome = OutcomeIncrease
		case consumed.Cmp(t.tolerance) > 0:
			calledAt := opts.CalledAt
			if calledAt.IsZero() {
				calledAt = t.clock.Now()
			}
			sample := models.UsageSample{
				Timestamp:       calledAt,
				Tokens:          opts.Tokens,
				ConsumedPercent: consumed.Shift(2).String(),
				PrevPercent:     prev.Shift(2).String(),
				NextPercent:     next.Shift(2).String(),
			}
			pending = append(pending, t.appendSampleLocked(credentialID, mode, matched, sample))
			if opts.MirrorToPrecise && mode != models.ModePrecise {
				pending = append(pending, t.appendSampleLocked(credentialID, models.ModePrecise, matched, sample))
			}
			result.Outcome = OutcomeRecorded
			result.Recorded = true
		case opts.OverwriteOnNoUsage:
			result.Outcome = OutcomeNoUsage
		default:
			adopted = clean.Clone()
			adopted.Models[matched] = prevQuota
			result.Outcome = OutcomeDeferred
		}
	}

	withQuota := t.adoptLocked(credentialID, adopted)
	t.mu.Unlock()

	t.persistSnapshot(credentialID, adopted)
	t.notify(credentialID, withQuota)
	if len(pending) > 0 && t.persister != nil {
		if err := t.persister.SaveSamples(pending); err != nil {
			t.log.Warn("failed to persist usage samples", "credential", credentialID,
				"error", &models.PersistenceError{Op: "save usage samples", Err: err})
		}
	}

	if !found {
		return result, &models.QuotaDataError{Model: opts.RequestedModel, Reason: "model not present in quota snapshot"}
	}
	return result, sanitizeErr
}

// appendSampleLocked appends to a series and prunes it.
func (t *Tracker) appendSampleLocked(credentialID string, mode models.SamplingMode, model string, s models.UsageSample) models.StoredSample {
	byMode, ok := t.usage[credentialID]
	if !ok {
		byMode = make(series)
		t.usage[credentialID] = byMode
	}
	byModel, ok := byMode[mode]
	if !ok {
		byModel = make(map[string][]models.UsageSample)
		byMode[mode] = byModel
	}
	byModel[model] = t.prune(append(byModel[model], s), t.clock.Now())
	return models.StoredSample{CredentialID: credentialID, Mode: mode, Model: model, Sample: s}
}

// prune drops points past retention, then the oldest points over the cap.
func (t *Tracker) prune(points []models.UsageSample, now time.Time) []models.UsageSample {
	cutoff := now.Add(-t.config.Retention)
	start := 0
	for start < len(points) && points[start].Timestamp.Before(cutoff) {
		start++
	}
	if over := len(points) - start - t.config.MaxPoints; over > 0 {
		start += over
	}
	if start == 0 {
		return points
	}
	return slices.Clone(points[start:])
}

// matchModel finds the snapshot key for a requested model id: exact, then
// case-insensitive, then by "/models/<id>" suffix, then without variant suffixes.
func matchModel(available map[string]models.ModelQuota, requested string) (string, bool) {
	if requested == "" || len(available) == 0 {
		return "", false
	}
	if _, ok := available[requested]; ok {
		return requested, true
	}

	keys := slices.Sorted(maps.Keys(available))
	want := strings.ToLower(requested)
	for _, k := range keys {
		if strings.ToLower(k) == want {
			return k, true
		}
	}

	wantBase := baseModelName(want)
	for _, k := range keys {
		if baseModelName(strings.ToLower(k)) == wantBase {
			return k, true
		}
	}

	wantStripped := stripVariant(wantBase)
	for _, k := range keys {
		if stripVariant(baseModelName(strings.ToLower(k))) == wantStripped {
			return k, true
		}
	}
	return "", false
}

func baseModelName(id string) string {
	if i := strings.LastIndex(id, "/models/"); i >= 0 {
		return id[i+len("/models/"):]
	}
	return strings.TrimPrefix(id, "models/")
}

func stripVariant(id string) string {
	for {
		trimmed := id
		for _, suffix := range variantSuffixes {
			trimmed = strings.TrimSuffix(trimmed, suffix)
		}
		if trimmed == id {
			return id
		}
		id = trimmed
	}
}

// Usage returns the usage series of one credential for the admin query.
func (t *Tracker) Usage(credentialID string, q models.UsageQuery) models.UsageReport {
	mode := models.ParseSamplingMode(string(q.Mode))
	window := DefaultUsageWindow
	if q.Window > 0 {
		window = max(MinUsageWindow, q.Window)
	}
	window = min(window, t.config.Retention)
	limit := DefaultUsageLimit
	if q.Limit > 0 {
		limit = min(MaxUsageLimit, max(MinUsageLimit, q.Limit))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	report := models.UsageReport{
		Now:    now,
		Mode:   mode,
		Window: window,
		AvailableModes: map[models.SamplingMode]bool{
			models.ModeDefault: true,
			models.ModePrecise: t.config.PreciseEnabled || len(t.usage[credentialID][models.ModePrecise]) > 0,
		},
		Models: make(map[string]models.ModelUsage),
	}

	var snapshot models.QuotaSnapshot
	if rec, ok := t.records[credentialID]; ok {
		snapshot = rec.snapshot
	}

	cutoff := now.Add(-window)
	for model, all := range t.usage[credentialID][mode] {
		var points []models.UsageSample
		for _, p := range all {
			if !p.Timestamp.Before(cutoff) {
				points = append(points, p)
			}
		}
		if len(points) > limit {
			points = points[len(points)-limit:]
		}
		slices.SortStableFunc(points, func(a, b models.UsageSample) int {
			return a.Timestamp.Compare(b.Timestamp)
		})

		usage := models.ModelUsage{Points: points}
		if points == nil {
			usage.Points = []models.UsageSample{}
		}
		if q, ok := snapshot.Models[model]; ok {
			if v, err := decimal.Parse(q.Remaining); err == nil {
				usage.RemainingPercent = v.Shift(2).String()
			}
		}
		usage.Stats = seriesStats(points, usage.RemainingPercent)
		report.Models[model] = usage
	}
	return report
}

// seriesStats computes count, median, min, max, last and calls left.
func seriesStats(points []models.UsageSample, remainingPercent string) models.SeriesStats {
	type entry struct {
		raw string
		v   decimal.Value
	}

	values := make([]entry, 0, len(points))
	for _, p := range points {
		v, err := decimal.Parse(p.ConsumedPercent)
		if err != nil {
			continue
		}
		values = append(values, entry{raw: v.String(), v: v})
	}

	stats := models.SeriesStats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}
	stats.Last = values[len(values)-1].raw

	slices.SortStableFunc(values, func(a, b entry) int { return a.v.Cmp(b.v) })
	median := values[(len(values)-1)/2]
	stats.Median = median.raw
	stats.Min = values[0].raw
	stats.Max = values[len(values)-1].raw

	if remainingPercent != "" && median.v.Sign() > 0 {
		if remaining, err := decimal.Parse(remainingPercent); err == nil {
			if n, ok := remaining.FloorDiv(median.v); ok {
				stats.CallsLeft = &n
			}
		}
	}
	return stats
}
