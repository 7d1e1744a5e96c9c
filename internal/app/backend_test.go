package app

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services"
	"github.com/j-veylop/antigravity-gateway/internal/services/admin"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
)

var errBackend = errors.New("backend failure")

// fakeBackend records calls and returns canned data.
type fakeBackend struct {
	mu sync.Mutex

	views   []models.CredentialView
	groups  map[string][]models.GroupSummary
	events  []models.PoolEvent
	jobs    []scheduler.JobInfo
	stats   services.StatsEvent
	quota   admin.QuotaView
	fail    bool
	channel chan services.ServiceEvent

	added       []models.Credential
	patches     map[string]models.CredentialPatch
	deleted     []string
	refreshed   []string
	rotations   []string
	quotaCalls  []string
	refreshAll  int
	eventsLimit int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		groups:  make(map[string][]models.GroupSummary),
		patches: make(map[string]models.CredentialPatch),
		stats:   services.StatsEvent{Strategy: models.RoundRobin},
		channel: make(chan services.ServiceEvent, 4),
	}
}

func (f *fakeBackend) err() error {
	if f.fail {
		return errBackend
	}
	return nil
}

func (f *fakeBackend) Subscribe() (chan services.ServiceEvent, tea.Cmd) {
	return f.channel, nil
}

func (f *fakeBackend) Stats() services.StatsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeBackend) ListCredentials() ([]models.CredentialView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views, f.err()
}

func (f *fakeBackend) Groups(id string) []models.GroupSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[id]
}

func (f *fakeBackend) RecentEvents(limit int) ([]models.PoolEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventsLimit = limit
	return f.events, f.err()
}

func (f *fakeBackend) Jobs() []scheduler.JobInfo {
	return f.jobs
}

func (f *fakeBackend) RefreshQuota(_ context.Context, id string, force bool) (admin.QuotaView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotaCalls = append(f.quotaCalls, id)
	view := f.quota
	view.Fetched = force && view.Fetched
	return view, f.err()
}

func (f *fakeBackend) RefreshQuotas() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshAll++
}

func (f *fakeBackend) AddCredential(_ context.Context, cred models.Credential) (models.CredentialView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, cred)
	return models.CredentialView{ID: "new", ProjectID: cred.ProjectID, Enable: true}, f.err()
}

func (f *fakeBackend) UpdateCredential(_ context.Context, id string, patch models.CredentialPatch) (models.CredentialView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[id] = patch
	view := models.CredentialView{ID: id}
	if patch.Enable != nil {
		view.Enable = *patch.Enable
	}
	return view, f.err()
}

func (f *fakeBackend) DeleteCredential(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err()
}

func (f *fakeBackend) RefreshCredential(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, id)
	return f.err()
}

func (f *fakeBackend) SetRotation(strategy string, requestCount int) (models.RotationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotations = append(f.rotations, strategy)
	if f.fail {
		return models.RotationConfig{}, errBackend
	}
	return models.RotationConfig{Strategy: models.RotationStrategy(strategy), RequestCount: requestCount}, nil
}

var _ Backend = (*fakeBackend)(nil)
var _ Backend = (*services.Manager)(nil)

// collect runs cmd and flattens batches into the produced messages.
// Callers must not pass tick commands.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

// collectAll is collect over several commands.
func collectAll(cmds []tea.Cmd) []tea.Msg {
	var out []tea.Msg
	for _, c := range cmds {
		out = append(out, collect(c)...)
	}
	return out
}

func findMsg[T any](msgs []tea.Msg) (T, bool) {
	for _, msg := range msgs {
		if typed, ok := msg.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}
