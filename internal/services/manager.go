// Package services wires the gateway core and routes its events to front ends.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/config"
	"github.com/j-veylop/antigravity-gateway/internal/db"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/admin"
	"github.com/j-veylop/antigravity-gateway/internal/services/credentials"
	"github.com/j-veylop/antigravity-gateway/internal/services/gateway"
	"github.com/j-veylop/antigravity-gateway/internal/services/quota"
	"github.com/j-veylop/antigravity-gateway/internal/services/sampler"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
	"github.com/j-veylop/antigravity-gateway/internal/services/stream"
	"github.com/j-veylop/antigravity-gateway/internal/services/toolnames"
)

type (
	// PoolChangedEvent is emitted for every credential lifecycle change.
	PoolChangedEvent struct {
		Event models.PoolEvent
	}

	// QuotaUpdatedEvent is emitted after a credential's quota was fetched.
	QuotaUpdatedEvent struct {
		CredentialID string
		Groups       []models.GroupSummary
	}

	// ErrorEvent is emitted when a background operation fails.
	ErrorEvent struct {
		Error   error
		Service string
	}

	// StatsEvent summarizes the pool.
	StatsEvent struct {
		Strategy       models.RotationStrategy
		Stored         int
		Active         int
		Exhausted      int
		Disabled       int
		PendingSamples int
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (PoolChangedEvent) isServiceEvent()  {}
func (QuotaUpdatedEvent) isServiceEvent() {}
func (ErrorEvent) isServiceEvent()        {}
func (StatsEvent) isServiceEvent()        {}

// NotifyFunc shows a desktop notification.
type NotifyFunc func(title, body string) error

// Option customizes a Manager.
type Option func(*options)

type options struct {
	clock      clock.Clock
	httpClient *http.Client
	notify     NotifyFunc
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithHTTPClient sets the client used for every upstream call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithNotifier replaces the desktop notifier.
func WithNotifier(fn NotifyFunc) Option {
	return func(o *options) { o.notify = fn }
}

func beeepNotify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// vacuumThreshold is the number of pruned rows that triggers a VACUUM.
const vacuumThreshold = 10000

// Manager owns the gateway core and its background jobs.
type Manager struct {
	cfg    *config.Config
	log    *slog.Logger
	clock  clock.Clock
	notify NotifyFunc

	database   *db.DB
	store      *credentials.FileStore
	pool       *credentials.Pool
	tracker    *quota.Tracker
	fetcher    *quota.Client
	sampler    *sampler.Sampler
	scheduler  *scheduler.Scheduler
	names      *toolnames.ToolNameCache
	signatures *toolnames.SignatureCache
	pools      *stream.Pools
	relay      *gateway.Relay
	admin      *admin.Service

	refreshing atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc

	mu          sync.RWMutex
	subscribers []chan ServiceEvent
	jobs        []func()
	closed      bool
}

// NewManager builds the core from cfg. No network calls are made until Start.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := options{clock: clock.Real(), notify: beeepNotify}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		log:    logger.With("manager"),
		clock:  o.clock,
		notify: o.notify,
		ctx:    ctx,
		cancel: cancel,
	}

	var err error
	m.database, err = db.New(cfg.DatabasePath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m.store, err = credentials.NewFileStore(cfg.CredentialsPath)
	if err != nil {
		cancel()
		_ = m.database.Close()
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	m.tracker = quota.New(quota.Config{
		Clock:          m.clock,
		Persister:      m.database,
		Tolerance:      cfg.Quota.Tolerance,
		ResetThreshold: cfg.Quota.ResetThreshold,
		CacheTTL:       cfg.Quota.CacheTTL,
		CleanupAge:     cfg.Quota.CleanupInterval,
		Retention:      cfg.Quota.Retention,
		MaxPoints:      cfg.Quota.MaxPoints,
		PreciseEnabled: cfg.Sampler.PreciseEnabled,
		OnUpdate:       m.onQuotaUpdate,
	})
	m.fetcher = quota.NewClient(o.httpClient, cfg.UserAgent).WithClock(m.clock)

	httpClient := o.httpClient
	m.pool = credentials.NewPool(credentials.Config{
		Store:     m.store,
		Refresher: credentials.NewOAuthRefresher(httpClient, cfg.GoogleClientID, cfg.GoogleClientSecret),
		Projects:  credentials.NewCodeAssistResolver(httpClient, cfg.APIHost, cfg.UserAgent, m.clock),
		Quota:     m.tracker,
		Clock:     m.clock,
		UserInfo: func(ctx context.Context, accessToken string) (*credentials.UserInfo, error) {
			return credentials.FetchUserInfo(ctx, httpClient, accessToken)
		},
		OnEvent:            m.handlePoolEvent,
		Strategy:           cfg.Rotation.Strategy,
		RequestCount:       cfg.Rotation.RequestCount,
		RefreshBuffer:      cfg.TokenRefreshBuffer,
		SkipProjectIDFetch: cfg.SkipProjectIDFetch,
	})

	m.sampler = sampler.New(sampler.Config{
		Fetcher:        m.fetcher,
		Tracker:        m.tracker,
		Clock:          m.clock,
		DefaultDelays:  cfg.Sampler.DefaultDelays,
		PreciseDelays:  cfg.Sampler.PreciseDelays,
		RateLimit:      cfg.Sampler.RateLimit,
		Enabled:        cfg.Sampler.Enabled,
		PreciseEnabled: cfg.Sampler.PreciseEnabled,
	})

	m.scheduler = scheduler.New(cfg.SchedulerTick, m.clock)
	m.names = toolnames.NewToolNameCache(m.clock)
	m.signatures = toolnames.NewSignatureCache(m.clock)
	m.pools = stream.NewPools()

	m.relay = gateway.NewRelay(gateway.Config{
		Pool:              m.pool,
		Upstream:          gateway.NewCloudCodeUpstream(httpClient, cfg.APIHost, cfg.UserAgent),
		Sampler:           m.sampler,
		Parser:            stream.NewParser(m.pools, m.names, m.signatures, true),
		Pools:             m.pools,
		Scheduler:         m.scheduler,
		Clock:             m.clock,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		MaxRetries:        cfg.Stream.MaxRetries,
	})

	m.admin = admin.New(admin.Config{
		Store:   m.store,
		Pool:    m.pool,
		Tracker: m.tracker,
		Fetcher: m.fetcher,
		Clock:   m.clock,
	})

	return m, nil
}

// Start restores persisted quota state, loads the pool, watches the
// credential file and starts the background jobs.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.tracker.Restore(); err != nil {
		m.log.Warn("failed to restore quota state", "error", err)
	}

	if err := m.pool.Init(ctx); err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if err := m.store.Watch(m.onStoreChange); err != nil {
		m.log.Warn("credential file watching disabled", "error", err)
	}

	m.registerJobs()
	if err := m.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	m.log.Info("gateway core started",
		"credentials", m.pool.Len(),
		"strategy", m.pool.RotationConfig().Strategy,
		"store", m.store.Path(),
		"database", m.database.Path())
	return nil
}

func (m *Manager) registerJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs = append(m.jobs,
		m.scheduler.Register("memory-cleanup", m.cfg.MemoryCleanupInterval, m.cleanupMemory),
		m.scheduler.Register("quota-cleanup", m.cfg.Quota.CleanupInterval, m.cleanupQuota),
		m.scheduler.Register("quota-refresh", m.cfg.Quota.CacheTTL, func(time.Time) {
			m.RefreshQuotas()
		}),
	)
}

func (m *Manager) cleanupMemory(now time.Time) {
	trimmed := m.pool.Trim() + m.pools.Trim()
	pruned := m.names.Prune(now) + m.signatures.Prune(now)
	m.log.Debug("memory cleanup", "trimmed", trimmed, "pruned", pruned)
}

func (m *Manager) cleanupQuota(now time.Time) {
	evicted := m.tracker.Cleanup(now)
	deleted, err := m.database.Prune(now.Add(-m.cfg.Quota.Retention))
	if err != nil {
		m.log.Warn("failed to prune usage database", "error", err)
	}
	if deleted >= vacuumThreshold {
		if err := m.database.Vacuum(m.ctx); err != nil {
			m.log.Warn("failed to vacuum usage database", "error", err)
		}
	}
	m.log.Debug("quota cleanup", "evicted", evicted, "deleted_rows", deleted)
}

// RefreshQuotas fetches stale quota records of every active credential in
// the background. It is a no-op while a previous refresh is still running.
func (m *Manager) RefreshQuotas() {
	if !m.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.refreshing.Store(false)
		m.refreshQuotas(m.ctx, false)
	}()
}

func (m *Manager) refreshQuotas(ctx context.Context, force bool) {
	for _, view := range m.pool.Credentials() {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.RefreshQuota(ctx, view.ID, force); err != nil {
			m.log.Debug("quota refresh failed", "credential", view.ID, "error", err)
		}
	}
}

// RefreshQuota returns the quota of one credential, fetching it when stale
// or when force is set, and broadcasts the result.
func (m *Manager) RefreshQuota(ctx context.Context, id string, force bool) (admin.QuotaView, error) {
	view, err := m.admin.Quota(ctx, id, force)
	if err != nil {
		m.broadcast(ErrorEvent{Service: "quota", Error: err})
		return view, err
	}
	if view.Fetched {
		m.broadcast(QuotaUpdatedEvent{CredentialID: id, Groups: view.Groups})
	}
	return view, nil
}

func (m *Manager) onStoreChange() {
	m.log.Info("credential file changed, reloading")
	if err := m.pool.Reload(m.ctx); err != nil {
		m.broadcast(ErrorEvent{Service: "credentials", Error: err})
	}
}

// onQuotaUpdate lifts exhaustion marks once fresh quota shows the group has quota again.
func (m *Manager) onQuotaUpdate(id string, withQuota []string) {
	if m.pool != nil {
		m.pool.RestoreGroups(id, withQuota)
	}
}

func (m *Manager) handlePoolEvent(ev models.PoolEvent) {
	if ev.Type != models.PoolEventReloaded {
		if err := m.database.InsertEvent(&ev); err != nil {
			m.log.Warn("failed to record credential event", "type", ev.Type, "error", err)
		}
	}

	if m.cfg.NotificationsEnabled && m.notify != nil {
		m.notifyEvent(ev)
	}

	m.broadcast(PoolChangedEvent{Event: ev})
}

func (m *Manager) notifyEvent(ev models.PoolEvent) {
	var title, body string
	switch ev.Type {
	case models.PoolEventDisabled:
		title = "Credential disabled"
		body = fmt.Sprintf("Credential %s was rejected upstream and disabled.", ev.CredentialID)
	case models.PoolEventExhausted:
		group := ev.Detail
		if group == "" {
			group = "all models"
		}
		title = "Quota exhausted"
		body = fmt.Sprintf("Credential %s is out of quota for %s.", ev.CredentialID, group)
	default:
		return
	}
	if err := m.notify(title, body); err != nil {
		m.log.Debug("desktop notification failed", "error", err)
	}
}

// broadcast sends an event to all subscribers without blocking.
func (m *Manager) broadcast(event ServiceEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// Subscribe creates a channel for receiving service events.
// Returns a tea.Cmd that waits for the first event.
func (m *Manager) Subscribe() (chan ServiceEvent, tea.Cmd) {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch, WaitForEvent(ch)
}

// WaitForEvent returns a tea.Cmd for the next event on a channel.
func WaitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Stats summarizes the stored and active credentials.
func (m *Manager) Stats() StatsEvent {
	stats := StatsEvent{
		Strategy:       m.pool.RotationConfig().Strategy,
		PendingSamples: m.sampler.Pending(),
	}

	stored, err := m.admin.ListCredentials()
	if err != nil {
		m.log.Warn("failed to list credentials", "error", err)
	}
	stats.Stored = len(stored)
	for _, v := range stored {
		if !v.Enable {
			stats.Disabled++
		}
	}
	for _, v := range m.pool.Credentials() {
		stats.Active++
		if v.Availability != models.Available().String() {
			stats.Exhausted++
		}
	}
	return stats
}

// RecentEvents returns the newest recorded credential events.
func (m *Manager) RecentEvents(limit int) ([]models.PoolEvent, error) {
	return m.database.RecentEvents(limit)
}

// ListCredentials returns every stored credential with its live availability.
func (m *Manager) ListCredentials() ([]models.CredentialView, error) {
	return m.admin.ListCredentials()
}

// Groups returns the cached quota groups of a credential.
func (m *Manager) Groups(id string) []models.GroupSummary {
	return m.tracker.Groups(id)
}

// Usage returns the usage series of a credential.
func (m *Manager) Usage(id string, q models.UsageQuery) models.UsageReport {
	return m.admin.QuotaUsage(id, q)
}

// AddCredential stores a new credential.
func (m *Manager) AddCredential(ctx context.Context, cred models.Credential) (models.CredentialView, error) {
	return m.admin.AddCredential(ctx, cred)
}

// UpdateCredential patches a stored credential and reloads the pool.
func (m *Manager) UpdateCredential(ctx context.Context, id string, patch models.CredentialPatch) (models.CredentialView, error) {
	return m.admin.UpdateCredential(ctx, id, patch)
}

// DeleteCredential removes a stored credential.
func (m *Manager) DeleteCredential(ctx context.Context, id string) error {
	return m.admin.DeleteCredential(ctx, id)
}

// RefreshCredential forces a token refresh.
func (m *Manager) RefreshCredential(ctx context.Context, id string) error {
	return m.admin.RefreshCredential(ctx, id)
}

// SetRotation switches the rotation strategy and broadcasts the new stats.
func (m *Manager) SetRotation(strategy string, requestCount int) (models.RotationConfig, error) {
	rot, err := m.admin.SetRotation(strategy, requestCount)
	if err != nil {
		return rot, err
	}
	m.broadcast(m.Stats())
	return rot, nil
}

// Jobs lists the registered background jobs.
func (m *Manager) Jobs() []scheduler.JobInfo {
	return m.scheduler.Jobs()
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config { return m.cfg }

// Admin returns the admin service.
func (m *Manager) Admin() *admin.Service { return m.admin }

// Relay returns the request relay.
func (m *Manager) Relay() *gateway.Relay { return m.relay }

// Pool returns the credential pool.
func (m *Manager) Pool() *credentials.Pool { return m.pool }

// Tracker returns the quota tracker.
func (m *Manager) Tracker() *quota.Tracker { return m.tracker }

// Scheduler returns the central scheduler.
func (m *Manager) Scheduler() *scheduler.Scheduler { return m.scheduler }

// Close stops background work and releases the store and database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	jobs := m.jobs
	m.jobs = nil
	for _, sub := range m.subscribers {
		close(sub)
	}
	m.subscribers = nil
	m.mu.Unlock()

	m.cancel()
	for _, unregister := range jobs {
		unregister()
	}
	m.scheduler.Stop()
	m.sampler.Close()

	var errs []error
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.database.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
