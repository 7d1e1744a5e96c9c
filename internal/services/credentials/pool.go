package credentials

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/config"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// refreshConcurrency bounds the startup refresh fan-out.
const refreshConcurrency = 8

// QuotaGate is the part of the quota tracker the pool consults.
type QuotaGate interface {
	HasQuotaForModel(credentialID, modelID string) bool
	RecordRequest(credentialID, modelID string)
}

// UserInfoFunc looks up the profile behind an access token.
type UserInfoFunc func(ctx context.Context, accessToken string) (*UserInfo, error)

// Config wires a Pool.
type Config struct {
	Store     Store
	Refresher Refresher
	Projects  ProjectResolver
	Quota     QuotaGate
	Clock     clock.Clock
	// UserInfo backfills missing emails after a refresh. Optional.
	UserInfo UserInfoFunc
	// OnEvent receives pool state changes. It is called without the pool lock held.
	OnEvent func(models.PoolEvent)

	Strategy           models.RotationStrategy
	RequestCount       int
	RefreshBuffer      time.Duration
	SkipProjectIDFetch bool
}

// initFuture is the memoized result of one initialization.
type initFuture struct {
	done chan struct{}
	err  error
}

// Pool holds the active credentials and picks one per request.
type Pool struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	creds    []*models.Credential
	index    int
	strategy models.RotationStrategy
	perToken int
	counters map[string]int
	// available holds the ids that still have quota, in pool order.
	available []string
	availPos  int
	init      *initFuture

	persistMu sync.Mutex
	prepares  singleflight.Group
}

// NewPool creates an uninitialized pool. Initialization runs on first use.
func NewPool(cfg Config) *Pool {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if !cfg.Strategy.Valid() {
		cfg.Strategy = models.RoundRobin
	}
	if cfg.RequestCount <= 0 {
		cfg.RequestCount = config.DefaultRequestCountPerToken
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = config.DefaultTokenRefreshBuffer
	}
	return &Pool{
		cfg:      cfg,
		log:      logger.With("credentials"),
		strategy: cfg.Strategy,
		perToken: cfg.RequestCount,
		counters: make(map[string]int),
	}
}

// Init loads the store once. Concurrent callers wait for the same result.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	f := p.init
	owner := f == nil
	if owner {
		f = &initFuture{done: make(chan struct{})}
		p.init = f
	}
	p.mu.Unlock()

	if owner {
		f.err = p.load(ctx)
		if f.err != nil {
			// A failed load is not memoized; the next caller reads the store again.
			p.mu.Lock()
			if p.init == f {
				p.init = nil
			}
			p.mu.Unlock()
		}
		close(f.done)
	}

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload discards the current state and initializes again from the store.
func (p *Pool) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.init = nil
	p.mu.Unlock()

	err := p.Init(ctx)
	p.emit(models.PoolEventReloaded, "", "")
	return err
}

func (p *Pool) load(ctx context.Context) error {
	stored, err := p.cfg.Store.ReadAll()
	if err != nil {
		p.log.Error("failed to load credentials", "error", err)
		p.mu.Lock()
		p.creds = nil
		p.rebuildAvailableLocked()
		p.mu.Unlock()
		return err
	}

	active := make([]*models.Credential, 0, len(stored))
	for i := range stored {
		if !stored[i].Enable {
			continue
		}
		c := stored[i]
		c.ID = p.cfg.Store.ID(c.RefreshToken)
		c.SessionID = uuid.NewString()
		active = append(active, &c)
	}

	p.mu.Lock()
	p.creds = active
	p.index = 0
	p.availPos = 0
	p.counters = make(map[string]int)
	p.rebuildAvailableLocked()
	strategy, perToken := p.strategy, p.perToken
	p.mu.Unlock()

	if len(active) == 0 {
		p.log.Warn("no usable credentials; add accounts to the credentials file")
		return nil
	}
	if strategy == models.RequestCount {
		p.log.Info("loaded credentials", "count", len(active), "strategy", strategy, "requests_per_token", perToken)
	} else {
		p.log.Info("loaded credentials", "count", len(active), "strategy", strategy)
	}

	p.refreshExpired(ctx)
	return nil
}

// refreshExpired refreshes every expired credential concurrently and
// disables those rejected with 400 or 403.
func (p *Pool) refreshExpired(ctx context.Context) {
	now := p.cfg.Clock.Now()

	p.mu.Lock()
	var expired []string
	for _, c := range p.creds {
		if c.IsExpired(now, p.refreshBuffer()) {
			expired = append(expired, c.ID)
		}
	}
	p.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	p.log.Info("refreshing expired credentials", "count", len(expired), "ids", expired)

	results := make([]error, len(expired))
	var g errgroup.Group
	g.SetLimit(refreshConcurrency)
	for i, id := range expired {
		g.Go(func() error {
			results[i] = p.Refresh(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range results {
		if err == nil {
			continue
		}
		failed = append(failed, expired[i])
		if models.IsPermanentCredentialError(err) {
			p.Disable(expired[i])
		}
	}

	elapsed := p.cfg.Clock.Now().Sub(now)
	if len(failed) > 0 {
		p.log.Warn("refresh finished", "succeeded", len(expired)-len(failed), "failed", len(failed),
			"failed_ids", failed, "elapsed", elapsed)
		return
	}
	p.log.Info("refresh finished", "succeeded", len(expired), "elapsed", elapsed)
}

// Select returns a prepared credential for modelID, or models.ErrNoCredential.
// An empty modelID skips quota admission.
func (p *Pool) Select(ctx context.Context, modelID string) (*models.Credential, error) {
	if err := p.Init(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	strategy := p.strategy
	p.mu.Unlock()

	if strategy == models.QuotaExhausted {
		return p.selectQuotaExhausted(ctx, modelID)
	}
	return p.selectRotating(ctx, modelID)
}

// selectRotating serves round_robin and request_count.
func (p *Pool) selectRotating(ctx context.Context, modelID string) (*models.Credential, error) {
	group := models.QuotaGroupOf(modelID)

	p.mu.Lock()
	total := len(p.creds)
	if total == 0 {
		p.mu.Unlock()
		return nil, models.ErrNoCredential
	}
	allExhausted := modelID != "" && p.allExhaustedLocked(modelID, group)
	start := p.index
	p.mu.Unlock()

	for i := range total {
		p.mu.Lock()
		if len(p.creds) == 0 {
			p.mu.Unlock()
			return nil, models.ErrNoCredential
		}
		c := p.creds[(start+i)%len(p.creds)]
		admitted := modelID == "" || allExhausted || p.admitLocked(c, modelID, group)
		id := c.ID
		p.mu.Unlock()

		if !admitted {
			continue
		}

		cred, err := p.prepare(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.handlePrepareError(id, err)
			continue
		}

		p.mu.Lock()
		p.advanceLocked(id)
		p.mu.Unlock()
		return cred, nil
	}
	return nil, models.ErrNoCredential
}

// advanceLocked moves the pointer after a successful round_robin or
// request_count selection of id.
func (p *Pool) advanceLocked(id string) {
	pos := p.positionLocked(id)
	if pos < 0 {
		return
	}
	next := (pos + 1) % len(p.creds)

	switch p.strategy {
	case models.RequestCount:
		p.counters[id]++
		if p.counters[id] >= p.perToken {
			p.counters[id] = 0
			p.index = next
		} else {
			p.index = pos
		}
	default:
		p.index = next
	}
}

// selectQuotaExhausted stays on one credential until it is marked exhausted.
func (p *Pool) selectQuotaExhausted(ctx context.Context, modelID string) (*models.Credential, error) {
	group := models.QuotaGroupOf(modelID)

	p.mu.Lock()
	if len(p.creds) == 0 {
		p.mu.Unlock()
		return nil, models.ErrNoCredential
	}
	reset := false
	if len(p.available) == 0 {
		p.resetQuotasLocked()
		reset = true
	}
	total := len(p.available)
	allExhausted := modelID != "" && p.allExhaustedLocked(modelID, group)
	start := p.availPos % max(total, 1)
	p.mu.Unlock()

	if reset {
		p.log.Warn("every credential was out of quota, resetting quota state")
		p.persist(nil)
	}

	for i := range total {
		p.mu.Lock()
		if len(p.available) == 0 {
			p.mu.Unlock()
			return nil, models.ErrNoCredential
		}
		id := p.available[(start+i)%len(p.available)]
		c := p.findLocked(id)
		admitted := c != nil && (modelID == "" || allExhausted || p.admitLocked(c, modelID, group))
		p.mu.Unlock()

		if !admitted {
			continue
		}

		cred, err := p.prepare(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.handlePrepareError(id, err)
			continue
		}

		p.mu.Lock()
		if pos := p.positionLocked(id); pos >= 0 {
			p.index = pos
		}
		if pos := slices.Index(p.available, id); pos >= 0 {
			p.availPos = pos
		}
		p.mu.Unlock()
		return cred, nil
	}

	p.log.Warn("no credential with quota could be prepared, resetting quota state")
	p.mu.Lock()
	p.resetQuotasLocked()
	var first *models.Credential
	if len(p.creds) > 0 {
		c := p.creds[0].Clone()
		first = &c
	}
	p.mu.Unlock()
	p.persist(nil)

	if first == nil {
		return nil, models.ErrNoCredential
	}
	return first, nil
}

// admitLocked reports whether c may serve modelID.
func (p *Pool) admitLocked(c *models.Credential, modelID, group string) bool {
	if c.Availability.ExhaustedFor(group) {
		return false
	}
	return p.cfg.Quota == nil || p.cfg.Quota.HasQuotaForModel(c.ID, modelID)
}

// allExhaustedLocked is true only when no active credential passes admission.
func (p *Pool) allExhaustedLocked(modelID, group string) bool {
	if len(p.creds) == 0 {
		return false
	}
	for _, c := range p.creds {
		if p.admitLocked(c, modelID, group) {
			return false
		}
	}
	return true
}

// prepare refreshes an expired token and fills a missing project id.
// Concurrent prepares of one credential share a single run.
func (p *Pool) prepare(ctx context.Context, id string) (*models.Credential, error) {
	v, err, _ := p.prepares.Do(id, func() (any, error) {
		return p.prepareOnce(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c := v.(models.Credential)
	return &c, nil
}

func (p *Pool) prepareOnce(ctx context.Context, id string) (models.Credential, error) {
	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return models.Credential{}, models.ErrCredentialNotFound
	}
	expired := c.IsExpired(p.cfg.Clock.Now(), p.refreshBuffer())
	p.mu.Unlock()

	if expired {
		if err := p.Refresh(ctx, id); err != nil {
			return models.Credential{}, err
		}
	}

	p.mu.Lock()
	c = p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return models.Credential{}, models.ErrCredentialNotFound
	}
	snapshot := c.Clone()
	p.mu.Unlock()

	if snapshot.ProjectID != "" {
		return snapshot, nil
	}

	projectID, err := p.discoverProject(ctx, snapshot.AccessToken)
	if err != nil {
		return models.Credential{}, err
	}

	p.mu.Lock()
	c = p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return models.Credential{}, models.ErrCredentialNotFound
	}
	c.ProjectID = projectID
	snapshot = c.Clone()
	p.mu.Unlock()

	p.log.Info("assigned project id", "credential", id, "project", projectID)
	p.persist(&snapshot)
	return snapshot, nil
}

func (p *Pool) discoverProject(ctx context.Context, accessToken string) (string, error) {
	if p.cfg.SkipProjectIDFetch || p.cfg.Projects == nil {
		return RandomProjectID(), nil
	}
	projectID, err := p.cfg.Projects.ResolveProject(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if projectID == "" {
		return "", ErrNoProject
	}
	return projectID, nil
}

// handlePrepareError disables on permanent failures and skips otherwise.
func (p *Pool) handlePrepareError(id string, err error) {
	if models.IsPermanentCredentialError(err) || errors.Is(err, ErrNoProject) {
		p.log.Warn("credential rejected upstream, disabling", "credential", id, "error", err)
		p.Disable(id)
		return
	}
	p.log.Error("failed to prepare credential, skipping", "credential", id, "error", err)
}

// Refresh runs the refresh_token grant for id and persists the new token.
func (p *Pool) Refresh(ctx context.Context, id string) error {
	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return models.ErrCredentialNotFound
	}
	refreshToken, email := c.RefreshToken, c.Email
	p.mu.Unlock()

	tok, err := p.cfg.Refresher.Refresh(ctx, refreshToken)
	if err != nil {
		credErr := &models.CredentialError{CredentialID: id, Message: "failed to refresh token", Err: err}
		var upstream *models.CredentialError
		if errors.As(err, &upstream) {
			credErr.Status = upstream.Status
			credErr.Message = upstream.Message
		}
		p.emit(models.PoolEventRefreshFailed, id, credErr.Message)
		return credErr
	}

	if email == "" && p.cfg.UserInfo != nil {
		if info, err := p.cfg.UserInfo(ctx, tok.AccessToken); err == nil {
			email = info.Email
		} else {
			p.log.Debug("failed to fetch user info", "credential", id, "error", err)
		}
	}

	p.mu.Lock()
	c = p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return models.ErrCredentialNotFound
	}
	c.AccessToken = tok.AccessToken
	c.ExpiresIn = tok.ExpiresIn
	c.Timestamp = p.cfg.Clock.Now().UnixMilli()
	if c.Email == "" {
		c.Email = email
	}
	snapshot := c.Clone()
	p.mu.Unlock()

	p.persist(&snapshot)
	p.emit(models.PoolEventRefreshed, id, "")
	return nil
}

// AccessToken returns a valid access token for id, refreshing when expired.
func (p *Pool) AccessToken(ctx context.Context, id string) (string, error) {
	if err := p.Init(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return "", models.ErrCredentialNotFound
	}
	expired := c.IsExpired(p.cfg.Clock.Now(), p.refreshBuffer())
	token := c.AccessToken
	p.mu.Unlock()

	if !expired {
		return token, nil
	}
	if err := p.Refresh(ctx, id); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.findLocked(id); c != nil {
		return c.AccessToken, nil
	}
	return "", models.ErrCredentialNotFound
}

// FetchProjectID rediscovers the project of id and restores its quota flag.
func (p *Pool) FetchProjectID(ctx context.Context, id string) (string, error) {
	token, err := p.AccessToken(ctx, id)
	if err != nil {
		return "", err
	}
	projectID, err := p.discoverProject(ctx, token)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return "", models.ErrCredentialNotFound
	}
	c.ProjectID = projectID
	c.HasQuota = true
	c.Availability = models.Available()
	p.rebuildAvailableLocked()
	snapshot := c.Clone()
	p.mu.Unlock()

	p.persist(&snapshot)
	return projectID, nil
}

// MarkExhausted marks id out of quota for group, or for every group when
// group is empty.
func (p *Pool) MarkExhausted(id, group string) {
	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return
	}
	c.Availability = models.Exhausted(group)
	global := group == ""
	if global {
		c.HasQuota = false
	}
	if p.strategy == models.QuotaExhausted {
		if pos := slices.Index(p.available, id); pos >= 0 {
			p.available = slices.Delete(p.available, pos, pos+1)
		}
		p.availPos %= max(len(p.available), 1)
	}
	snapshot := c.Clone()
	p.mu.Unlock()

	p.log.Warn("credential out of quota", "credential", id, "group", group)
	if global {
		p.persist(&snapshot)
	}
	p.emit(models.PoolEventExhausted, id, group)
}

// RestoreQuota returns id to the available state.
func (p *Pool) RestoreQuota(id string) {
	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return
	}
	c.Availability = models.Available()
	c.HasQuota = true
	p.rebuildAvailableLocked()
	snapshot := c.Clone()
	p.mu.Unlock()

	p.log.Info("credential quota restored", "credential", id)
	p.persist(&snapshot)
	p.emit(models.PoolEventRestored, id, "")
}

// RestoreGroups lifts the exhaustion mark of id when fresh quota data shows
// quota left in withQuota. A global mark is lifted by any such group.
func (p *Pool) RestoreGroups(id string, withQuota []string) {
	if len(withQuota) == 0 {
		return
	}

	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil || (c.Availability.IsAvailable() && c.HasQuota) {
		p.mu.Unlock()
		return
	}
	global := c.Availability.ExhaustedAll() || !c.HasQuota
	group := c.Availability.Group
	if !global && !slices.Contains(withQuota, group) {
		p.mu.Unlock()
		return
	}
	c.Availability = models.Available()
	c.HasQuota = true
	p.rebuildAvailableLocked()
	snapshot := c.Clone()
	p.mu.Unlock()

	p.log.Info("credential quota restored", "credential", id, "group", group)
	if global {
		p.persist(&snapshot)
	}
	p.emit(models.PoolEventRestored, id, group)
}

// Disable removes id from rotation and persists enable=false.
func (p *Pool) Disable(id string) {
	p.mu.Lock()
	pos := p.positionLocked(id)
	if pos < 0 {
		p.mu.Unlock()
		return
	}
	c := p.creds[pos]
	c.Enable = false
	snapshot := c.Clone()

	delete(p.counters, id)
	p.creds = slices.Delete(p.creds, pos, pos+1)
	p.index %= max(len(p.creds), 1)
	p.rebuildAvailableLocked()
	p.mu.Unlock()

	p.log.Warn("credential disabled", "credential", id, "token", snapshot.TokenSuffix())
	p.persist(&snapshot)
	p.emit(models.PoolEventDisabled, id, "")
}

// RecordRequest counts one request of modelID against id.
func (p *Pool) RecordRequest(id, modelID string) {
	if id == "" || modelID == "" || p.cfg.Quota == nil {
		return
	}
	p.cfg.Quota.RecordRequest(id, modelID)
}

// RotationConfig reports the live rotation state.
func (p *Pool) RotationConfig() models.RotationConfig {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[string]int, len(p.counters))
	for id, n := range p.counters {
		counts[id] = n
	}
	return models.RotationConfig{
		Strategy:     p.strategy,
		RequestCount: p.perToken,
		CurrentIndex: p.index,
		TokenCounts:  counts,
	}
}

// UpdateRotation switches strategy and per-token count. Invalid values are
// ignored individually; the request counters are always cleared.
func (p *Pool) UpdateRotation(strategy models.RotationStrategy, requestCount int) models.RotationConfig {
	p.mu.Lock()
	if strategy.Valid() {
		p.strategy = strategy
	}
	if requestCount > 0 {
		p.perToken = requestCount
	}
	p.counters = make(map[string]int)
	p.rebuildAvailableLocked()
	p.mu.Unlock()

	cfg := p.RotationConfig()
	p.log.Info("rotation updated", "strategy", cfg.Strategy, "request_count", cfg.RequestCount)
	return cfg
}

// Credentials returns the secret-free views of the active credentials.
func (p *Pool) Credentials() []models.CredentialView {
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]models.CredentialView, len(p.creds))
	for i, c := range p.creds {
		views[i] = c.View()
	}
	return views
}

// Get returns a copy of the active credential id.
func (p *Pool) Get(id string) (models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.findLocked(id); c != nil {
		return c.Clone(), true
	}
	return models.Credential{}, false
}

// Len returns the number of active credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Trim releases memory held by request counters of departed credentials.
func (p *Pool) Trim() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id := range p.counters {
		if p.positionLocked(id) < 0 {
			delete(p.counters, id)
			removed++
		}
	}
	return removed
}

func (p *Pool) resetQuotasLocked() {
	for _, c := range p.creds {
		c.HasQuota = true
		c.Availability = models.Available()
	}
	p.rebuildAvailableLocked()
}

func (p *Pool) rebuildAvailableLocked() {
	p.available = p.available[:0]
	for _, c := range p.creds {
		if c.HasQuota {
			p.available = append(p.available, c.ID)
		}
	}
	p.availPos %= max(len(p.available), 1)
}

func (p *Pool) positionLocked(id string) int {
	return slices.IndexFunc(p.creds, func(c *models.Credential) bool { return c.ID == id })
}

func (p *Pool) findLocked(id string) *models.Credential {
	if pos := p.positionLocked(id); pos >= 0 {
		return p.creds[pos]
	}
	return nil
}

func (p *Pool) refreshBuffer() time.Duration {
	return p.cfg.RefreshBuffer
}

// persist merges the active set (plus changed) into the store. Failures are
// logged and never undo the in-memory change.
func (p *Pool) persist(changed *models.Credential) {
	p.persistMu.Lock()
	defer p.persistMu.Unlock()

	p.mu.Lock()
	active := make([]models.Credential, len(p.creds))
	for i, c := range p.creds {
		active[i] = c.Clone()
	}
	p.mu.Unlock()

	if err := p.cfg.Store.MergeActive(active, changed); err != nil {
		p.log.Error("failed to save credentials",
			"error", &models.PersistenceError{Op: "save credentials", Err: err})
	}
}

func (p *Pool) emit(typ models.PoolEventType, id, detail string) {
	if p.cfg.OnEvent == nil {
		return
	}
	p.cfg.OnEvent(models.PoolEvent{
		Timestamp:    p.cfg.Clock.Now(),
		Type:         typ,
		CredentialID: id,
		Detail:       detail,
	})
}
