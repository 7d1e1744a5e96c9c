package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services"
	"github.com/j-veylop/antigravity-gateway/internal/services/admin"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
)

const (
	// DefaultTickInterval is the default interval between ticks.
	DefaultTickInterval = 2 * time.Second

	// DefaultNotificationDuration is the default duration for notifications.
	DefaultNotificationDuration = 5 * time.Second

	// QuickNotificationDuration is for brief notifications.
	QuickNotificationDuration = 3 * time.Second

	// LongNotificationDuration is for important notifications.
	LongNotificationDuration = 10 * time.Second

	// eventHistoryLimit bounds the recorded events loaded on refresh.
	eventHistoryLimit = 20

	commandTimeout = 30 * time.Second
)

// Backend is the part of the service manager the monitor drives.
type Backend interface {
	Subscribe() (chan services.ServiceEvent, tea.Cmd)
	Stats() services.StatsEvent
	ListCredentials() ([]models.CredentialView, error)
	Groups(id string) []models.GroupSummary
	RecentEvents(limit int) ([]models.PoolEvent, error)
	Jobs() []scheduler.JobInfo
	RefreshQuota(ctx context.Context, id string, force bool) (admin.QuotaView, error)
	RefreshQuotas()
	AddCredential(ctx context.Context, cred models.Credential) (models.CredentialView, error)
	UpdateCredential(ctx context.Context, id string, patch models.CredentialPatch) (models.CredentialView, error)
	DeleteCredential(ctx context.Context, id string) error
	RefreshCredential(ctx context.Context, id string) error
	SetRotation(strategy string, requestCount int) (models.RotationConfig, error)
}

var rotationOrder = []models.RotationStrategy{models.RoundRobin, models.QuotaExhausted, models.RequestCount}

// nextStrategy returns the strategy after s in the cycling order.
func nextStrategy(s models.RotationStrategy) models.RotationStrategy {
	for i, candidate := range rotationOrder {
		if candidate == s {
			return rotationOrder[(i+1)%len(rotationOrder)]
		}
	}
	return rotationOrder[0]
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

func defaultTickCmd() tea.Cmd {
	return tickCmd(DefaultTickInterval)
}

func loadInitialData(b Backend) tea.Cmd {
	return tea.Batch(
		loadCredentialsCmd(b),
		loadEventsCmd(b),
	)
}

// loadCredentialsCmd lists every stored credential with its cached groups.
func loadCredentialsCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		views, err := b.ListCredentials()
		rows := make([]CredentialRow, 0, len(views))
		for _, v := range views {
			rows = append(rows, CredentialRow{View: v, Groups: b.Groups(v.ID)})
		}
		return CredentialsLoadedMsg{Rows: rows, Stats: b.Stats(), Error: err}
	}
}

func loadEventsCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		events, err := b.RecentEvents(eventHistoryLimit)
		return EventsLoadedMsg{Events: events, Jobs: b.Jobs(), Error: err}
	}
}

func refreshQuotaCmd(b Backend, id string, force bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		view, err := b.RefreshQuota(ctx, id, force)
		return QuotaRefreshedMsg{
			CredentialID: id,
			Groups:       view.Groups,
			Fetched:      view.Fetched,
			Error:        err,
		}
	}
}

// refreshAllQuotaCmd starts a background refresh; results arrive as
// quota events on the subscription.
func refreshAllQuotaCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		b.RefreshQuotas()
		return StopLoadingMsg{Resource: "quota"}
	}
}

func subscribeToServicesCmd(b Backend) tea.Cmd {
	ch, _ := b.Subscribe()
	return func() tea.Msg {
		return SubscriptionEventMsg{Channel: ch}
	}
}

func waitForServiceEventCmd(ch <-chan services.ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return ServiceEventMsg{Event: event}
	}
}

func clearNotificationCmd(id string, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(_ time.Time) tea.Msg {
		return RemoveNotificationMsg{ID: id}
	})
}

func toggleCredentialCmd(b Backend, id string, enable bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		view, err := b.UpdateCredential(ctx, id, models.CredentialPatch{Enable: &enable})
		return CredentialUpdatedMsg{View: view, Error: err}
	}
}

func addCredentialCmd(b Backend, cred models.Credential) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		view, err := b.AddCredential(ctx, cred)
		return AddCredentialResultMsg{View: view, Error: err}
	}
}

func deleteCredentialCmd(b Backend, id, label string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return DeleteCredentialResultMsg{Label: label, Error: b.DeleteCredential(ctx, id)}
	}
}

func refreshTokenCmd(b Backend, id, label string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return RefreshTokenResultMsg{Label: label, Error: b.RefreshCredential(ctx, id)}
	}
}

func setRotationCmd(b Backend, strategy models.RotationStrategy) tea.Cmd {
	return func() tea.Msg {
		rot, err := b.SetRotation(string(strategy), 0)
		return RotationChangedMsg{Rotation: rot, Error: err}
	}
}

func notifyCmd(t NotificationType, message string, d time.Duration) tea.Cmd {
	return func() tea.Msg {
		return AddNotificationMsg{Type: t, Message: message, Duration: d}
	}
}

func notifySuccessCmd(message string) tea.Cmd {
	return notifyCmd(NotificationSuccess, message, DefaultNotificationDuration)
}

func notifyErrorCmd(message string) tea.Cmd {
	return notifyCmd(NotificationError, message, LongNotificationDuration)
}

func notifyWarningCmd(message string) tea.Cmd {
	return notifyCmd(NotificationWarning, message, DefaultNotificationDuration)
}

func notifyInfoCmd(message string) tea.Cmd {
	return notifyCmd(NotificationInfo, message, QuickNotificationDuration)
}

// Commands exposes the command constructors to tabs.
type Commands struct {
	backend Backend
}

// NewCommands creates a new Commands instance.
func NewCommands(b Backend) *Commands {
	return &Commands{backend: b}
}

// Tick returns a tick command with the specified interval.
func (c *Commands) Tick(interval time.Duration) tea.Cmd {
	return tickCmd(interval)
}

// DefaultTick returns a tick command with the default interval.
func (c *Commands) DefaultTick() tea.Cmd {
	return defaultTickCmd()
}

// LoadCredentials returns a command that loads the credential rows.
func (c *Commands) LoadCredentials() tea.Cmd {
	if c.backend == nil {
		return nil
	}
	return loadCredentialsCmd(c.backend)
}

// LoadEvents returns a command that loads recorded events.
func (c *Commands) LoadEvents() tea.Cmd {
	if c.backend == nil {
		return nil
	}
	return loadEventsCmd(c.backend)
}

// RefreshQuota returns a command that refreshes quota for one credential.
func (c *Commands) RefreshQuota(id string, force bool) tea.Cmd {
	if c.backend == nil {
		return nil
	}
	return refreshQuotaCmd(c.backend, id, force)
}

// NotifySuccess returns a command that adds a success notification.
func (c *Commands) NotifySuccess(message string) tea.Cmd {
	return notifySuccessCmd(message)
}

// NotifyError returns a command that adds an error notification.
func (c *Commands) NotifyError(message string) tea.Cmd {
	return notifyErrorCmd(message)
}

// NotifyWarning returns a command that adds a warning notification.
func (c *Commands) NotifyWarning(message string) tea.Cmd {
	return notifyWarningCmd(message)
}

// NotifyInfo returns a command that adds an info notification.
func (c *Commands) NotifyInfo(message string) tea.Cmd {
	return notifyInfoCmd(message)
}

// ClearNotification returns a command that removes a notification after a delay.
func (c *Commands) ClearNotification(id string, delay time.Duration) tea.Cmd {
	return clearNotificationCmd(id, delay)
}

// Quit returns a command that quits the application.
func (c *Commands) Quit() tea.Cmd {
	return tea.Quit
}
