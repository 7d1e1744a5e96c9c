package credentials

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/quota"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu     sync.Mutex
	creds  []models.Credential
	reads  int
	writes int
	// readErrs fail the next reads in order.
	readErrs []error
}

func (m *memStore) ReadAll() ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return nil, err
	}
	out := make([]models.Credential, len(m.creds))
	copy(out, m.creds)
	return out, nil
}

func (m *memStore) WriteAll(creds []models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.creds = append([]models.Credential(nil), creds...)
	return nil
}

func (m *memStore) MergeActive(active []models.Credential, changed *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	overlay := func(c models.Credential) {
		for i := range m.creds {
			if m.creds[i].RefreshToken == c.RefreshToken {
				m.creds[i] = c
				return
			}
		}
		m.creds = append(m.creds, c)
	}
	for _, c := range active {
		overlay(c)
	}
	if changed != nil {
		overlay(*changed)
	}
	return nil
}

func (m *memStore) ID(refreshToken string) string {
	return "id-" + refreshToken
}

func (m *memStore) byToken(refreshToken string) models.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.RefreshToken == refreshToken {
			return c
		}
	}
	return models.Credential{}
}

type fakeRefresher struct {
	calls atomic.Int32
	fail  map[string]error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (Token, error) {
	f.calls.Add(1)
	if err, ok := f.fail[refreshToken]; ok {
		return Token{}, err
	}
	return Token{AccessToken: "fresh-access-" + refreshToken, ExpiresIn: 3599}, nil
}

type fakeResolver struct {
	calls   atomic.Int32
	project string
	err     error
	delay   time.Duration
}

func (f *fakeResolver) ResolveProject(context.Context, string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.project, f.err
}

type fakeGate struct {
	mu       sync.Mutex
	noQuota  map[string]bool
	requests map[string]int
}

func (g *fakeGate) HasQuotaForModel(id, _ string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.noQuota[id]
}

func (g *fakeGate) RecordRequest(id, _ string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.requests == nil {
		g.requests = make(map[string]int)
	}
	g.requests[id]++
}

func fresh(refreshToken string) models.Credential {
	return models.Credential{
		AccessToken:  "access-token-" + refreshToken,
		RefreshToken: refreshToken,
		ProjectID:    "project-" + refreshToken,
		ExpiresIn:    3600,
		Timestamp:    baseTime.UnixMilli(),
		Enable:       true,
		HasQuota:     true,
	}
}

type poolFixture struct {
	pool     *Pool
	store    *memStore
	refresh  *fakeRefresher
	resolver *fakeResolver
	gate     *fakeGate
	clock    *clock.Fake
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []models.PoolEvent
}

func (l *eventLog) add(ev models.PoolEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []models.PoolEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.PoolEventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func newPoolFixture(t *testing.T, creds []models.Credential, mutate func(*Config)) *poolFixture {
	t.Helper()
	f := &poolFixture{
		store:    &memStore{creds: creds},
		refresh:  &fakeRefresher{fail: map[string]error{}},
		resolver: &fakeResolver{project: "discovered-project"},
		gate:     &fakeGate{noQuota: map[string]bool{}},
		clock:    clock.NewFake(baseTime),
		events:   &eventLog{},
	}
	cfg := Config{
		Store:     f.store,
		Refresher: f.refresh,
		Projects:  f.resolver,
		Quota:     f.gate,
		Clock:     f.clock,
		OnEvent:   f.events.add,
		Strategy:  models.RoundRobin,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.pool = NewPool(cfg)
	return f
}

func selectIDs(t *testing.T, p *Pool, model string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for range n {
		c, err := p.Select(context.Background(), model)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	return ids
}

func TestPool_RoundRobin(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b"), fresh("c")}, nil)

	got := selectIDs(t, f.pool, "", 4)

	assert.Equal(t, []string{"id-a", "id-b", "id-c", "id-a"}, got)
	assert.Equal(t, 1, f.pool.RotationConfig().CurrentIndex)
}

func TestPool_RequestCount(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b"), fresh("c")}, func(c *Config) {
		c.Strategy = models.RequestCount
		c.RequestCount = 2
	})

	got := selectIDs(t, f.pool, "", 5)

	assert.Equal(t, []string{"id-a", "id-a", "id-b", "id-b", "id-c"}, got)
	rot := f.pool.RotationConfig()
	assert.Equal(t, 1, rot.TokenCounts["id-c"])
	assert.Equal(t, 0, rot.TokenCounts["id-a"], "counter resets when the credential rotates out")
}

func TestPool_QuotaExhausted(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b")}, func(c *Config) {
		c.Strategy = models.QuotaExhausted
	})

	assert.Equal(t, []string{"id-a", "id-a", "id-a"}, selectIDs(t, f.pool, "", 3))

	f.pool.MarkExhausted("id-a", "")
	assert.False(t, f.store.byToken("a").HasQuota, "global exhaustion is persisted")
	assert.Equal(t, []string{"id-b", "id-b"}, selectIDs(t, f.pool, "", 2))

	f.pool.MarkExhausted("id-b", "")
	got := selectIDs(t, f.pool, "", 1)
	assert.Equal(t, []string{"id-a"}, got, "an empty list resets every credential")
	assert.True(t, f.store.byToken("a").HasQuota)
	assert.True(t, f.store.byToken("b").HasQuota)
}

func TestPool_QuotaExhausted_FullPassFails(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b")}, func(c *Config) {
		c.Strategy = models.QuotaExhausted
	})
	require.NoError(t, f.pool.Init(context.Background()))

	// Both need a project and discovery keeps failing transiently.
	for _, id := range []string{"id-a", "id-b"} {
		f.pool.mu.Lock()
		f.pool.findLocked(id).ProjectID = ""
		f.pool.mu.Unlock()
	}
	f.resolver.err = errors.New("connection reset")

	c, err := f.pool.Select(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "id-a", c.ID, "falls back to the first active credential")
	assert.Equal(t, 2, f.pool.Len(), "transient failures never disable")
}

func TestPool_Admission(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b"), fresh("c")}, nil)
	f.gate.noQuota["id-a"] = true

	got := selectIDs(t, f.pool, "claude-sonnet-4-5", 3)
	assert.Equal(t, []string{"id-b", "id-c", "id-b"}, got)

	f.gate.noQuota["id-b"] = true
	f.gate.noQuota["id-c"] = true
	c, err := f.pool.Select(context.Background(), "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID, "admission is skipped once every credential fails it")

	c, err = f.pool.Select(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID, "no model means no admission check")
}

func TestPool_GroupScopedExhaustion(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b")}, nil)
	require.NoError(t, f.pool.Init(context.Background()))

	f.pool.MarkExhausted("id-a", models.GroupClaude)
	assert.True(t, f.store.byToken("a").HasQuota, "group exhaustion is not persisted")

	assert.Equal(t, []string{"id-b", "id-b"}, selectIDs(t, f.pool, "claude-opus-4-5", 2))

	got := selectIDs(t, f.pool, "gemini-2.5-pro", 2)
	assert.Contains(t, got, "id-a", "other groups still admit the credential")

	f.pool.RestoreQuota("id-a")
	cred, ok := f.pool.Get("id-a")
	require.True(t, ok)
	assert.True(t, cred.Availability.IsAvailable())
	assert.Contains(t, f.events.types(), models.PoolEventExhausted)
	assert.Contains(t, f.events.types(), models.PoolEventRestored)
}

func TestPool_RestoreGroups(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b")}, nil)
	require.NoError(t, f.pool.Init(context.Background()))

	f.pool.MarkExhausted("id-a", models.GroupClaude)
	f.pool.RestoreGroups("id-a", []string{models.GroupGemini})
	cred, _ := f.pool.Get("id-a")
	assert.True(t, cred.Availability.ExhaustedFor(models.GroupClaude), "quota in another group keeps the mark")

	f.pool.RestoreGroups("id-a", []string{models.GroupClaude, models.GroupGemini})
	cred, _ = f.pool.Get("id-a")
	assert.True(t, cred.Availability.IsAvailable())
	assert.Contains(t, f.events.types(), models.PoolEventRestored)

	f.pool.MarkExhausted("id-b", "")
	require.False(t, f.store.byToken("b").HasQuota)
	f.pool.RestoreGroups("id-b", []string{models.GroupGemini})
	cred, _ = f.pool.Get("id-b")
	assert.True(t, cred.Availability.IsAvailable(), "any group with quota lifts a global mark")
	assert.True(t, f.store.byToken("b").HasQuota, "lifting a global mark is persisted")

	before := len(f.events.types())
	f.pool.RestoreGroups("id-b", []string{models.GroupGemini})
	f.pool.RestoreGroups("id-b", nil)
	f.pool.RestoreGroups("id-unknown", []string{models.GroupGemini})
	assert.Len(t, f.events.types(), before, "nothing to lift emits nothing")
}

func TestPool_RestoreGroupsPersistedNoQuota(t *testing.T) {
	stale := fresh("a")
	stale.HasQuota = false
	f := newPoolFixture(t, []models.Credential{stale, fresh("b")}, nil)
	require.NoError(t, f.pool.Init(context.Background()))

	f.pool.RestoreGroups("id-a", []string{models.GroupClaude})

	cred, _ := f.pool.Get("id-a")
	assert.True(t, cred.HasQuota)
	assert.True(t, f.store.byToken("a").HasQuota, "fresh quota clears a stored hasQuota=false")
}

func TestPool_FreshQuotaLiftsGroupMark(t *testing.T) {
	clk := clock.NewFake(baseTime)
	var pool *Pool
	tracker := quota.New(quota.Config{
		Clock: clk,
		OnUpdate: func(id string, withQuota []string) {
			pool.RestoreGroups(id, withQuota)
		},
	})
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b")}, func(c *Config) {
		c.Clock = clk
		c.Quota = tracker
	})
	pool = f.pool
	require.NoError(t, pool.Init(context.Background()))

	pool.MarkExhausted("id-a", models.GroupClaude)
	assert.Equal(t, []string{"id-b", "id-b"}, selectIDs(t, pool, "claude-sonnet-4-5", 2))

	require.NoError(t, tracker.UpdateQuota("id-a", models.QuotaSnapshot{
		Models: map[string]models.ModelQuota{"claude-sonnet-4-5": {Remaining: "0"}},
	}))
	cred, _ := pool.Get("id-a")
	assert.False(t, cred.Availability.IsAvailable(), "an empty group keeps the mark")

	require.NoError(t, tracker.UpdateQuota("id-a", models.QuotaSnapshot{
		Models: map[string]models.ModelQuota{"claude-sonnet-4-5": {Remaining: "1"}},
	}))
	clk.Advance(48 * time.Hour)

	got := selectIDs(t, pool, "claude-sonnet-4-5", 6)
	assert.Equal(t, []string{"id-a", "id-b", "id-a", "id-b", "id-a", "id-b"}, got)
}

func TestPool_DisabledNeverReturnsAfterQuotaReset(t *testing.T) {
	noProject := fresh("a")
	noProject.ProjectID = ""
	f := newPoolFixture(t, []models.Credential{noProject, fresh("b"), fresh("c")}, func(c *Config) {
		c.Strategy = models.QuotaExhausted
	})
	f.resolver.err = &models.CredentialError{Message: "denied", Status: http.StatusForbidden}

	seen := selectIDs(t, f.pool, "", 1)
	require.NotContains(t, seen, "id-a")
	require.False(t, f.store.byToken("a").Enable, "403 on project discovery disables")

	for range 4 {
		for _, id := range []string{"id-b", "id-c"} {
			f.pool.MarkExhausted(id, "")
		}
		seen = append(seen, selectIDs(t, f.pool, "", 3)...)
	}

	assert.NotContains(t, seen, "id-a", "a quota reset never revives a disabled credential")
	assert.Equal(t, 2, f.pool.Len())
	assert.False(t, f.store.byToken("a").Enable, "the merge on reset keeps enable=false")

	require.NoError(t, f.pool.Reload(context.Background()))
	assert.NotContains(t, selectIDs(t, f.pool, "", 4), "id-a")
}

func TestPool_InitRetriesAfterReadError(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)
	f.store.readErrs = []error{errors.New("device busy")}

	_, err := f.pool.Select(context.Background(), "")
	require.Error(t, err)

	c, err := f.pool.Select(context.Background(), "")
	require.NoError(t, err, "a failed load is read again on the next call")
	assert.Equal(t, "id-a", c.ID)
	assert.Equal(t, 2, f.store.reads)
}

func TestPool_InitRefreshesExpired(t *testing.T) {
	expired := fresh("a")
	expired.Timestamp = baseTime.Add(-2 * time.Hour).UnixMilli()
	revoked := fresh("b")
	revoked.Timestamp = 0
	disabled := fresh("c")
	disabled.Enable = false

	f := newPoolFixture(t, []models.Credential{expired, revoked, disabled, fresh("d")}, nil)
	f.refresh.fail["b"] = &models.CredentialError{Message: "invalid_grant", Status: http.StatusBadRequest}

	require.NoError(t, f.pool.Init(context.Background()))

	assert.Equal(t, int32(2), f.refresh.calls.Load())
	assert.Equal(t, 2, f.pool.Len(), "disabled and revoked credentials are excluded")

	a := f.store.byToken("a")
	assert.Equal(t, "fresh-access-a", a.AccessToken)
	assert.Equal(t, int64(3599), a.ExpiresIn)
	assert.Equal(t, baseTime.UnixMilli(), a.Timestamp)

	assert.False(t, f.store.byToken("b").Enable, "400 on refresh disables permanently")
	assert.False(t, f.store.byToken("c").Enable, "disk-only entries survive the merge")
	assert.Contains(t, f.events.types(), models.PoolEventDisabled)
}

func TestPool_InitMemoized(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pool.Select(context.Background(), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.reads)

	require.NoError(t, f.pool.Reload(context.Background()))
	assert.Equal(t, 2, f.store.reads)
	cred, _ := f.pool.Get("id-a")
	assert.NotEmpty(t, cred.SessionID)
}

func TestPool_PrepareErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantDisable bool
	}{
		{"Forbidden", &models.CredentialError{Message: "denied", Status: http.StatusForbidden}, true},
		{"NoProject", ErrNoProject, true},
		{"Transient", errors.New("connection reset"), false},
		{"ServerError", &models.CredentialError{Message: "boom", Status: http.StatusInternalServerError}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noProject := fresh("a")
			noProject.ProjectID = ""
			f := newPoolFixture(t, []models.Credential{noProject, fresh("b")}, nil)
			f.resolver.err = tt.err

			c, err := f.pool.Select(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, "id-b", c.ID)

			_, stillActive := f.pool.Get("id-a")
			assert.Equal(t, !tt.wantDisable, stillActive)
			assert.Equal(t, !tt.wantDisable, f.store.byToken("a").Enable)
		})
	}
}

func TestPool_ProjectDiscovery(t *testing.T) {
	noProject := fresh("a")
	noProject.ProjectID = ""
	f := newPoolFixture(t, []models.Credential{noProject}, nil)
	f.resolver.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.pool.Select(context.Background(), "")
			if assert.NoError(t, err) {
				assert.Equal(t, "discovered-project", c.ProjectID)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.resolver.calls.Load(), "concurrent prepares share one discovery")
	assert.Equal(t, "discovered-project", f.store.byToken("a").ProjectID)
}

func TestPool_SkipProjectIDFetch(t *testing.T) {
	noProject := fresh("a")
	noProject.ProjectID = ""
	f := newPoolFixture(t, []models.Credential{noProject}, func(c *Config) {
		c.SkipProjectIDFetch = true
	})

	c, err := f.pool.Select(context.Background(), "")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9a-f]{5}$`), c.ProjectID)
	assert.Zero(t, f.resolver.calls.Load())
}

func TestPool_SelectRefreshesExpired(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)
	require.NoError(t, f.pool.Init(context.Background()))
	require.Zero(t, f.refresh.calls.Load())

	// Inside the refresh buffer.
	f.clock.Advance(56 * time.Minute)

	c, err := f.pool.Select(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-a", c.AccessToken)
	assert.Equal(t, int32(1), f.refresh.calls.Load())
}

func TestPool_Empty(t *testing.T) {
	f := newPoolFixture(t, nil, nil)

	_, err := f.pool.Select(context.Background(), "gemini-2.5-pro")
	assert.ErrorIs(t, err, models.ErrNoCredential)

	f.pool.UpdateRotation(models.QuotaExhausted, 0)
	_, err = f.pool.Select(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrNoCredential)
}

func TestPool_DisableClampsIndex(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b"), fresh("c")}, func(c *Config) {
		c.Strategy = models.RequestCount
		c.RequestCount = 5
	})
	selectIDs(t, f.pool, "", 1)
	f.pool.mu.Lock()
	f.pool.index = 2
	f.pool.mu.Unlock()

	f.pool.Disable("id-c")

	rot := f.pool.RotationConfig()
	assert.Equal(t, 0, rot.CurrentIndex)
	assert.NotContains(t, rot.TokenCounts, "id-c")
	assert.Equal(t, 2, f.pool.Len())
	assert.False(t, f.store.byToken("c").Enable)

	f.pool.Disable("id-unknown")
	assert.Equal(t, 2, f.pool.Len())
}

func TestPool_UpdateRotation(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a"), fresh("b")}, func(c *Config) {
		c.Strategy = models.RequestCount
		c.RequestCount = 10
	})
	selectIDs(t, f.pool, "", 3)
	require.Equal(t, 3, f.pool.RotationConfig().TokenCounts["id-a"])

	rot := f.pool.UpdateRotation("random", -1)
	assert.Equal(t, models.RequestCount, rot.Strategy, "invalid strategy is ignored")
	assert.Equal(t, 10, rot.RequestCount, "non-positive count is ignored")
	assert.Empty(t, rot.TokenCounts, "counters are cleared")

	rot = f.pool.UpdateRotation(models.RoundRobin, 3)
	assert.Equal(t, models.RoundRobin, rot.Strategy)
	assert.Equal(t, 3, rot.RequestCount)
}

func TestPool_RecordRequest(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)

	f.pool.RecordRequest("id-a", "claude-sonnet-4-5")
	f.pool.RecordRequest("id-a", "")
	f.pool.RecordRequest("", "claude-sonnet-4-5")

	assert.Equal(t, 1, f.gate.requests["id-a"])
}

func TestPool_RefreshFailure(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)
	require.NoError(t, f.pool.Init(context.Background()))
	f.refresh.fail["a"] = &models.CredentialError{Message: "invalid_grant", Status: http.StatusForbidden}

	err := f.pool.Refresh(context.Background(), "id-a")

	var credErr *models.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "id-a", credErr.CredentialID)
	assert.Equal(t, http.StatusForbidden, credErr.Status)
	assert.True(t, credErr.Permanent())
	assert.Contains(t, f.events.types(), models.PoolEventRefreshFailed)

	assert.ErrorIs(t, f.pool.Refresh(context.Background(), "missing"), models.ErrCredentialNotFound)
}

func TestPool_UserInfoBackfill(t *testing.T) {
	expired := fresh("a")
	expired.Timestamp = 0
	f := newPoolFixture(t, []models.Credential{expired}, func(c *Config) {
		c.UserInfo = func(_ context.Context, accessToken string) (*UserInfo, error) {
			return &UserInfo{Email: "user@example.com"}, nil
		}
	})

	require.NoError(t, f.pool.Init(context.Background()))

	assert.Equal(t, "user@example.com", f.store.byToken("a").Email)
	views := f.pool.Credentials()
	require.Len(t, views, 1)
	assert.Equal(t, "user@example.com", views[0].Email)
}

func TestPool_FetchProjectID(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)
	require.NoError(t, f.pool.Init(context.Background()))
	f.pool.MarkExhausted("id-a", "")

	projectID, err := f.pool.FetchProjectID(context.Background(), "id-a")
	require.NoError(t, err)

	assert.Equal(t, "discovered-project", projectID)
	stored := f.store.byToken("a")
	assert.Equal(t, "discovered-project", stored.ProjectID)
	assert.True(t, stored.HasQuota)
}

func TestPool_AccessToken(t *testing.T) {
	f := newPoolFixture(t, []models.Credential{fresh("a")}, nil)

	token, err := f.pool.AccessToken(context.Background(), "id-a")
	require.NoError(t, err)
	assert.Equal(t, "access-token-a", token)

	f.clock.Advance(2 * time.Hour)
	token, err = f.pool.AccessToken(context.Background(), "id-a")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-a", token)

	_, err = f.pool.AccessToken(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)
}
