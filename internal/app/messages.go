package app

import (
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
)

// TickMsg is sent periodically to trigger state refresh.
type TickMsg struct {
	Time time.Time
}

// StartLoadingMsg signals that a resource is starting to load.
type StartLoadingMsg struct {
	Resource string
}

// StopLoadingMsg signals that a resource has finished loading.
type StopLoadingMsg struct {
	Resource string
}

// CredentialsLoadedMsg contains the credential rows and pool stats.
type CredentialsLoadedMsg struct {
	Error error
	Rows  []CredentialRow
	Stats services.StatsEvent
}

// EventsLoadedMsg contains recorded credential events and the job list.
type EventsLoadedMsg struct {
	Error  error
	Events []models.PoolEvent
	Jobs   []scheduler.JobInfo
}

// QuotaRefreshedMsg contains refreshed quota groups for a credential.
type QuotaRefreshedMsg struct {
	Error        error
	CredentialID string
	Groups       []models.GroupSummary
	Fetched      bool
}

// ToggleCredentialMsg requests enabling or disabling a credential.
type ToggleCredentialMsg struct {
	ID     string
	Enable bool
}

// CredentialUpdatedMsg contains the result of a credential update.
type CredentialUpdatedMsg struct {
	Error error
	View  models.CredentialView
}

// AddCredentialMsg requests storing a new credential.
type AddCredentialMsg struct {
	AccessToken  string
	RefreshToken string
	ProjectID    string
}

// AddCredentialResultMsg contains the result of adding a credential.
type AddCredentialResultMsg struct {
	Error error
	View  models.CredentialView
}

// DeleteCredentialMsg requests deletion of a credential.
type DeleteCredentialMsg struct {
	ID    string
	Label string
}

// DeleteCredentialResultMsg contains the result of a credential deletion.
type DeleteCredentialResultMsg struct {
	Error error
	Label string
}

// RefreshTokenMsg requests a forced token refresh.
type RefreshTokenMsg struct {
	ID    string
	Label string
}

// RefreshTokenResultMsg contains the result of a token refresh.
type RefreshTokenResultMsg struct {
	Error error
	Label string
}

// ForceQuotaMsg requests an uncached quota fetch for one credential.
type ForceQuotaMsg struct {
	ID string
}

// CycleRotationMsg requests switching to the next rotation strategy.
type CycleRotationMsg struct{}

// RotationChangedMsg contains the result of a rotation change.
type RotationChangedMsg struct {
	Error    error
	Rotation models.RotationConfig
}

// RefreshMsg requests a refresh of data.
type RefreshMsg struct {
	Resource string // "all", "credentials", "quota", "events"
}

// AddNotificationMsg requests adding a new notification.
type AddNotificationMsg struct {
	Message  string
	Type     NotificationType
	Duration time.Duration
}

// RemoveNotificationMsg requests removal of a notification.
type RemoveNotificationMsg struct {
	ID string
}

// ClearExpiredNotificationsMsg triggers clearing of expired notifications.
type ClearExpiredNotificationsMsg struct{}

// ServiceEventMsg wraps a service event from the service manager.
type ServiceEventMsg struct {
	Event services.ServiceEvent
}

// SubscriptionEventMsg is the callback wrapper for service subscription.
type SubscriptionEventMsg struct {
	Channel chan services.ServiceEvent
}

// ErrorMsg represents a general error.
type ErrorMsg struct {
	Error   error
	Context string
}

// TabSwitchMsg requests switching to a specific tab.
type TabSwitchMsg struct {
	Tab TabID
}

// ToggleHelpMsg toggles the help display.
type ToggleHelpMsg struct{}

// SelectedCredentialChangedMsg signals that the selected credential changed.
type SelectedCredentialChangedMsg struct {
	ID    string
	Index int
}
