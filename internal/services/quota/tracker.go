// Package quota tracks per-credential model quota and the usage series
// derived from consecutive quota snapshots.
package quota

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/decimal"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// RequestCostPercent is the share of a group's quota one request is assumed to use.
var RequestCostPercent = decimal.MustParse("0.6667")

// Persister stores snapshots and samples outside the process.
type Persister interface {
	SaveSnapshot(credentialID string, snap models.QuotaSnapshot) error
	SaveSamples(samples []models.StoredSample) error
	LoadSamples(since time.Time) ([]models.StoredSample, error)
	LoadSnapshots(since time.Time) (map[string]models.QuotaSnapshot, error)
}

// Config tunes a Tracker. Zero values fall back to the defaults below.
type Config struct {
	Clock     clock.Clock
	Persister Persister
	// Tolerance is the fraction change below which a delta is noise.
	Tolerance string
	// ResetThreshold is the rise in a group minimum treated as a reset.
	ResetThreshold string
	CacheTTL       time.Duration
	CleanupAge     time.Duration
	Retention      time.Duration
	MaxPoints      int
	PreciseEnabled bool
	// OnUpdate receives the groups with quota left after each fresh snapshot.
	// It runs without the tracker lock held.
	OnUpdate func(credentialID string, withQuota []string)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Tolerance:      "0.000001",
		ResetThreshold: "0.05",
		CacheTTL:       5 * time.Minute,
		CleanupAge:     time.Hour,
		Retention:      24 * time.Hour,
		MaxPoints:      2000,
		PreciseEnabled: true,
	}
}

type record struct {
	snapshot      models.QuotaSnapshot
	requestCounts map[string]int
	groupMins     map[string]decimal.Value
	resetTimes    map[string]time.Time
	updatedAt     time.Time
}

// series[mode][model] is an append-only list of samples, oldest first.
type series map[models.SamplingMode]map[string][]models.UsageSample

// Tracker holds quota state for every credential.
type Tracker struct {
	clock     clock.Clock
	persister Persister
	log       *slog.Logger
	records   map[string]*record
	usage     map[string]series
	tolerance decimal.Value
	threshold decimal.Value
	config    Config
	mu        sync.Mutex
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Tolerance == "" {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.ResetThreshold == "" {
		cfg.ResetThreshold = def.ResetThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = def.CleanupAge
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = def.MaxPoints
	}

	t := &Tracker{
		clock:     cfg.Clock,
		persister: cfg.Persister,
		log:       logger.With("quota"),
		records:   make(map[string]*record),
		usage:     make(map[string]series),
		config:    cfg,
	}

	var err error
	if t.tolerance, err = decimal.Parse(cfg.Tolerance); err != nil {
		t.log.Warn("invalid quota tolerance, using default", "value", cfg.Tolerance, "error", err)
		t.tolerance = decimal.MustParse(def.Tolerance)
	}
	if t.threshold, err = decimal.Parse(cfg.ResetThreshold); err != nil {
		t.log.Warn("invalid reset threshold, using default", "value", cfg.ResetThreshold, "error", err)
		t.threshold = decimal.MustParse(def.ResetThreshold)
	}
	return t
}

// Restore loads persisted samples newer than the retention window and the
// latest snapshots newer than the cleanup age.
func (t *Tracker) Restore() error {
	if t.persister == nil {
		return nil
	}
	now := t.clock.Now()
	samples, err := t.persister.LoadSamples(now.Add(-t.config.Retention))
	if err != nil {
		return err
	}
	snapshots, err := t.persister.LoadSnapshots(now.Add(-t.config.CleanupAge))
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range samples {
		t.appendSampleLocked(s.CredentialID, s.Mode, s.Model, s.Sample)
	}
	for id, snap := range snapshots {
		t.adoptLocked(id, snap)
		t.records[id].updatedAt = snap.LastUpdated
	}
	t.log.Info("restored quota state", "samples", len(samples), "snapshots", len(snapshots))
	return nil
}

// UpdateQuota replaces the credential's snapshot.
func (t *Tracker) UpdateQuota(credentialID string, snap models.QuotaSnapshot) error {
	clean, err := t.sanitize(snap)

	t.mu.Lock()
	withQuota := t.adoptLocked(credentialID, clean)
	t.mu.Unlock()

	t.persistSnapshot(credentialID, clean)
	t.notify(credentialID, withQuota)
	return err
}

func (t *Tracker) notify(credentialID string, withQuota []string) {
	if t.config.OnUpdate != nil && len(withQuota) > 0 {
		t.config.OnUpdate(credentialID, withQuota)
	}
}

// sanitize clamps remaining fractions into [0,1] and drops unparsable models.
func (t *Tracker) sanitize(snap models.QuotaSnapshot) (models.QuotaSnapshot, error) {
	out := models.QuotaSnapshot{
		LastUpdated: snap.LastUpdated,
		Models:      make(map[string]models.ModelQuota, len(snap.Models)),
	}
	if out.LastUpdated.IsZero() {
		out.LastUpdated = t.clock.Now()
	}

	var firstErr error
	for id, q := range snap.Models {
		v, err := decimal.Parse(q.Remaining)
		if err != nil {
			if firstErr == nil {
				firstErr = &models.QuotaDataError{Model: id, Reason: err.Error()}
			}
			continue
		}
		q.Remaining = v.Clamp01().String()
		out.Models[id] = q
	}
	return out, firstErr
}

// adoptLocked installs snap as the baseline and runs group reset detection.
// It returns the sorted groups whose minimum is above zero.
func (t *Tracker) adoptLocked(credentialID string, snap models.QuotaSnapshot) []string {
	now := t.clock.Now()
	rec := t.recordLocked(credentialID)

	mins, resets := groupStats(snap)
	for group, newMin := range mins {
		if t.isReset(rec, group, newMin, resets[group], now) {
			if rec.requestCounts[group] > 0 {
				t.log.Debug("quota group reset", "credential", credentialID, "group", group)
			}
			delete(rec.requestCounts, group)
		}
	}

	rec.snapshot = snap
	rec.groupMins = mins
	rec.resetTimes = resets
	rec.updatedAt = now

	var withQuota []string
	for _, group := range slices.Sorted(maps.Keys(mins)) {
		if mins[group].Sign() > 0 {
			withQuota = append(withQuota, group)
		}
	}
	return withQuota
}

func (t *Tracker) isReset(rec *record, group string, newMin decimal.Value, newReset, now time.Time) bool {
	prevReset, hasPrevReset := rec.resetTimes[group]
	if hasPrevReset && !prevReset.IsZero() {
		if newReset.After(prevReset) || now.After(prevReset) {
			return true
		}
	}
	if prevMin, ok := rec.groupMins[group]; ok {
		if newMin.Sub(prevMin).Cmp(t.threshold) > 0 {
			return true
		}
	}
	return false
}

func groupStats(snap models.QuotaSnapshot) (map[string]decimal.Value, map[string]time.Time) {
	mins := make(map[string]decimal.Value)
	resets := make(map[string]time.Time)
	for id, q := range snap.Models {
		v, err := decimal.Parse(q.Remaining)
		if err != nil {
			continue
		}
		group := models.QuotaGroupOf(id)
		if cur, ok := mins[group]; !ok || v.Cmp(cur) < 0 {
			mins[group] = v
		}
		if !q.ResetTime.IsZero() {
			if cur, ok := resets[group]; !ok || q.ResetTime.Before(cur) {
				resets[group] = q.ResetTime
			}
		}
	}
	return mins, resets
}

func (t *Tracker) recordLocked(credentialID string) *record {
	rec, ok := t.records[credentialID]
	if !ok {
		rec = &record{
			requestCounts: make(map[string]int),
			groupMins:     make(map[string]decimal.Value),
			resetTimes:    make(map[string]time.Time),
		}
		t.records[credentialID] = rec
	}
	return rec
}

func (t *Tracker) persistSnapshot(credentialID string, snap models.QuotaSnapshot) {
	if t.persister == nil {
		return
	}
	if err := t.persister.SaveSnapshot(credentialID, snap); err != nil {
		t.log.Warn("failed to persist quota snapshot", "credential", credentialID,
			"error", &models.PersistenceError{Op: "save quota snapshot", Err: err})
	}
}

// RecordRequest counts one request against the model's quota group.
func (t *Tracker) RecordRequest(credentialID, modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	rec := t.recordLocked(credentialID)
	group := models.QuotaGroupOf(modelID)
	// A count from before the group's reset time belongs to the old window.
	if reset := rec.resetTimes[group]; !reset.IsZero() && now.After(reset) {
		delete(rec.requestCounts, group)
		delete(rec.resetTimes, group)
	}
	rec.requestCounts[group]++
	rec.updatedAt = now
}

// HasQuotaForModel is false iff a cached model of the same group has nothing left.
func (t *Tracker) HasQuotaForModel(credentialID, modelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[credentialID]
	if !ok || len(rec.snapshot.Models) == 0 {
		return true
	}
	lowest, ok := rec.groupMins[models.QuotaGroupOf(modelID)]
	return !ok || lowest.Sign() > 0
}

// GroupQuota returns the smallest remaining fraction in the model's group, "1" without data.
func (t *Tracker) GroupQuota(credentialID, modelID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[credentialID]; ok {
		if lowest, ok := rec.groupMins[models.QuotaGroupOf(modelID)]; ok {
			return lowest.String()
		}
	}
	return decimal.One.String()
}

// Groups summarizes every quota group of the credential, ordered by group name.
func (t *Tracker) Groups(credentialID string) []models.GroupSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[credentialID]
	if !ok {
		return nil
	}

	members := make(map[string][]string)
	for id := range rec.snapshot.Models {
		group := models.QuotaGroupOf(id)
		members[group] = append(members[group], id)
	}

	now := t.clock.Now()
	out := make([]models.GroupSummary, 0, len(rec.groupMins))
	for _, group := range slices.Sorted(maps.Keys(rec.groupMins)) {
		lowest := rec.groupMins[group]
		count := rec.requestCounts[group]
		capacity, _ := lowest.Shift(2).FloorDiv(RequestCostPercent)
		ids := members[group]
		slices.Sort(ids)
		out = append(out, models.GroupSummary{
			Group:             group,
			MinRemaining:      lowest.String(),
			EarliestReset:     rec.resetTimes[group],
			Tier:              string(DetectTier(rec.resetTimes[group], now)),
			Models:            ids,
			RequestCount:      count,
			EstimatedRequests: max(0, capacity-int64(count)),
		})
	}
	return out
}

// Get returns the credential's quota record. Records older than the cache
// TTL are reported missing unless ignoreTTL is set.
func (t *Tracker) Get(credentialID string, ignoreTTL bool) (models.QuotaRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[credentialID]
	if !ok || rec.snapshot.Models == nil {
		return models.QuotaRecord{}, false
	}
	if !ignoreTTL && t.clock.Now().Sub(rec.snapshot.LastUpdated) > t.config.CacheTTL {
		return models.QuotaRecord{}, false
	}
	return models.QuotaRecord{
		CredentialID:  credentialID,
		Snapshot:      rec.snapshot.Clone(),
		RequestCounts: maps.Clone(rec.requestCounts),
		ResetTimes:    maps.Clone(rec.resetTimes),
	}, true
}

// Forget drops all state of a credential.
func (t *Tracker) Forget(credentialID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, credentialID)
	delete(t.usage, credentialID)
}

// Cleanup evicts records not updated within the cleanup age and prunes
// series points past retention. It returns the number of evicted records.
func (t *Tracker) Cleanup(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.config.CleanupAge)
	removed := 0
	for id, rec := range t.records {
		if rec.updatedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}

	for id, byMode := range t.usage {
		for mode, byModel := range byMode {
			for model, points := range byModel {
				points = t.prune(points, now)
				if len(points) == 0 {
					delete(byModel, model)
				} else {
					byModel[model] = points
				}
			}
			if len(byModel) == 0 {
				delete(byMode, mode)
			}
		}
		if len(byMode) == 0 {
			delete(t.usage, id)
		}
	}

	if removed > 0 {
		t.log.Debug("evicted stale quota records", "count", removed)
	}
	return removed
}
