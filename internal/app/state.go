// Package app provides the main Bubble Tea application model and state management.
package app

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
)

// NotificationType defines the type of notification.
type NotificationType int

const (
	// NotificationSuccess represents a success notification.
	NotificationSuccess NotificationType = iota
	// NotificationError represents an error notification.
	NotificationError
	// NotificationWarning represents a warning notification.
	NotificationWarning
	// NotificationInfo represents an informational notification.
	NotificationInfo
	// NotificationLoading represents a loading notification with spinner.
	NotificationLoading
)

// LoadingNotificationID is the fixed ID for loading notifications.
const LoadingNotificationID = "__loading__"

const (
	maxNotifications = 10
	maxEvents        = 50
)

// String returns the string representation of a NotificationType.
func (n NotificationType) String() string {
	switch n {
	case NotificationSuccess:
		return "success"
	case NotificationError:
		return "error"
	case NotificationWarning:
		return "warning"
	case NotificationInfo:
		return "info"
	case NotificationLoading:
		return "loading"
	default:
		return "unknown"
	}
}

// Notification represents a user-facing notification message.
type Notification struct {
	CreatedAt time.Time
	ID        string
	Message   string
	Type      NotificationType
	Duration  time.Duration
}

// IsExpired reports whether the notification outlived its duration at now.
// A zero duration never expires.
func (n *Notification) IsExpired(now time.Time) bool {
	if n.Duration <= 0 {
		return false
	}
	return now.Sub(n.CreatedAt) > n.Duration
}

// LoadingState tracks loading states for different resources.
type LoadingState struct {
	Initial     bool
	Credentials bool
	Quota       bool
	Events      bool
}

// CredentialRow is one credential as displayed, with its cached quota groups.
type CredentialRow struct {
	View   models.CredentialView
	Groups []models.GroupSummary
}

// Label returns the email, falling back to a shortened id.
func (r CredentialRow) Label() string {
	if r.View.Email != "" {
		return r.View.Email
	}
	if len(r.View.ID) > 12 {
		return r.View.ID[:12]
	}
	return r.View.ID
}

// Exhausted reports whether the row carries any exhaustion mark.
func (r CredentialRow) Exhausted() bool {
	return r.View.Availability != models.Available().String()
}

// State is shared between the root model and its tabs.
type State struct {
	mu    sync.RWMutex
	clock clock.Clock

	Credentials   []CredentialRow
	Stats         *services.StatsEvent
	Events        []models.PoolEvent
	Jobs          []scheduler.JobInfo
	SelectedIndex int

	Loading LoadingState

	LastUpdated time.Time

	notifications []Notification
}

// NewState creates the shared state. A nil clock uses the wall clock.
func NewState(clk clock.Clock) *State {
	if clk == nil {
		clk = clock.Real()
	}
	return &State{
		clock:         clk,
		Credentials:   make([]CredentialRow, 0),
		notifications: make([]Notification, 0),
		Loading:       LoadingState{Initial: true},
	}
}

// Now returns the state's notion of the current time.
func (s *State) Now() time.Time {
	return s.clock.Now()
}

// SetLoading sets the loading state for a specific resource.
func (s *State) SetLoading(resource string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch resource {
	case "initial":
		s.Loading.Initial = loading
	case "credentials":
		s.Loading.Credentials = loading
	case "quota":
		s.Loading.Quota = loading
	case "events":
		s.Loading.Events = loading
	}
}

// AnyLoading returns true if any resource is currently loading.
func (s *State) AnyLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.Loading.Initial ||
		s.Loading.Credentials ||
		s.Loading.Quota ||
		s.Loading.Events
}

// IsInitialLoading returns true if initial data is still loading.
func (s *State) IsInitialLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Loading.Initial
}

// LoadingResources returns the resources currently loading.
func (s *State) LoadingResources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var resources []string
	if s.Loading.Initial {
		resources = append(resources, "initial")
	}
	if s.Loading.Credentials {
		resources = append(resources, "credentials")
	}
	if s.Loading.Quota {
		resources = append(resources, "quota")
	}
	if s.Loading.Events {
		resources = append(resources, "events")
	}
	return resources
}

// SetCredentials replaces the credential rows and clamps the selection.
func (s *State) SetCredentials(rows []CredentialRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Credentials = rows
	s.LastUpdated = s.clock.Now()
	s.SelectedIndex = min(s.SelectedIndex, max(len(rows)-1, 0))
}

// GetCredentials returns a copy of the credential rows.
func (s *State) GetCredentials() []CredentialRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.Credentials)
}

// CredentialCount returns the number of credential rows.
func (s *State) CredentialCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Credentials)
}

// SetGroups updates the quota groups of one credential row.
func (s *State) SetGroups(id string, groups []models.GroupSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.Credentials {
		if s.Credentials[i].View.ID == id {
			s.Credentials[i].Groups = groups
			s.LastUpdated = s.clock.Now()
			return true
		}
	}
	return false
}

// SelectedCredential returns the selected row, if any.
func (s *State) SelectedCredential() (CredentialRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SelectedIndex < 0 || s.SelectedIndex >= len(s.Credentials) {
		return CredentialRow{}, false
	}
	return s.Credentials[s.SelectedIndex], true
}

// GetSelectedIndex returns the currently selected row index.
func (s *State) GetSelectedIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SelectedIndex
}

// SetSelectedIndex updates the selected row index.
func (s *State) SetSelectedIndex(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SelectedIndex = idx
}

// SetStats updates the pool statistics.
func (s *State) SetStats(stats services.StatsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats = &stats
}

// GetStats returns the current pool statistics.
func (s *State) GetStats() *services.StatsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// SetEvents replaces the recorded events, newest first.
func (s *State) SetEvents(events []models.PoolEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = events
}

// PrependEvent records a live event ahead of the loaded history.
func (s *State) PrependEvent(ev models.PoolEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Events = append([]models.PoolEvent{ev}, s.Events...)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[:maxEvents]
	}
}

// GetEvents returns a copy of the events.
func (s *State) GetEvents() []models.PoolEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.Events)
}

// SetJobs replaces the background job list.
func (s *State) SetJobs(jobs []scheduler.JobInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs = jobs
}

// GetJobs returns a copy of the background job list.
func (s *State) GetJobs() []scheduler.JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.Jobs)
}

// AddNotification adds a new notification and returns its ID.
func (s *State) AddNotification(notifType NotificationType, message string, duration time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.notifications = append(s.notifications, Notification{
		ID:        id,
		Type:      notifType,
		Message:   message,
		CreatedAt: s.clock.Now(),
		Duration:  duration,
	})

	if len(s.notifications) > maxNotifications {
		s.notifications = s.notifications[len(s.notifications)-maxNotifications:]
	}
	return id
}

// RemoveNotification removes a notification by ID.
func (s *State) RemoveNotification(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = slices.DeleteFunc(s.notifications, func(n Notification) bool {
		return n.ID == id
	})
}

// ClearExpiredNotifications removes all expired notifications.
func (s *State) ClearExpiredNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.notifications = slices.DeleteFunc(s.notifications, func(n Notification) bool {
		return n.IsExpired(now)
	})
}

// GetNotifications returns the notifications that have not expired.
func (s *State) GetNotifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	active := make([]Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if !n.IsExpired(now) {
			active = append(active, n)
		}
	}
	return active
}

// ClearAllNotifications removes all notifications.
func (s *State) ClearAllNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = make([]Notification, 0)
}

// SetLoadingNotification sets the loading notification message.
func (s *State) SetLoadingNotification(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == LoadingNotificationID {
			s.notifications[i].Message = message
			return
		}
	}

	s.notifications = append(s.notifications, Notification{
		ID:        LoadingNotificationID,
		Type:      NotificationLoading,
		Message:   message,
		CreatedAt: s.clock.Now(),
	})
}

// ClearLoadingNotification removes the loading notification.
func (s *State) ClearLoadingNotification() {
	s.RemoveNotification(LoadingNotificationID)
}

// TimeSinceUpdate returns the duration since the credentials were last loaded.
func (s *State) TimeSinceUpdate() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.LastUpdated.IsZero() {
		return 0
	}
	return s.clock.Now().Sub(s.LastUpdated)
}
