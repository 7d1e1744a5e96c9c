// Package admin exposes the credential, rotation and quota operations used by
// operator surfaces such as the monitor and the CLI.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/credentials"
	"github.com/j-veylop/antigravity-gateway/internal/services/quota"
)

// defaultExpiresIn is the lifetime assumed for manually added access tokens.
const defaultExpiresIn = 3599

// Pool is the part of the credential pool the admin surface drives.
type Pool interface {
	Get(id string) (models.Credential, bool)
	Reload(ctx context.Context) error
	Refresh(ctx context.Context, id string) error
	FetchProjectID(ctx context.Context, id string) (string, error)
	AccessToken(ctx context.Context, id string) (string, error)
	RotationConfig() models.RotationConfig
	UpdateRotation(strategy models.RotationStrategy, requestCount int) models.RotationConfig
}

// Tracker is the quota state the admin surface reads and refreshes.
type Tracker interface {
	Get(credentialID string, ignoreTTL bool) (models.QuotaRecord, bool)
	UpdateQuota(credentialID string, snap models.QuotaSnapshot) error
	Groups(credentialID string) []models.GroupSummary
	Usage(credentialID string, q models.UsageQuery) models.UsageReport
	Forget(credentialID string)
}

// Config wires a Service.
type Config struct {
	Store   credentials.Store
	Pool    Pool
	Tracker Tracker
	Fetcher quota.Fetcher
	Clock   clock.Clock
}

// QuotaView is a credential's quota record with its group aggregates.
type QuotaView struct {
	Record models.QuotaRecord    `json:"record"`
	Groups []models.GroupSummary `json:"groups"`
	// Fetched is set when the record came from the upstream rather than the cache.
	Fetched bool `json:"fetched"`
}

// Service implements the admin operations.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New creates the admin service.
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Service{cfg: cfg, log: logger.With("admin")}
}

// ListCredentials returns every stored credential, disabled ones included.
// Active credentials report their live availability.
func (s *Service) ListCredentials() ([]models.CredentialView, error) {
	stored, err := s.cfg.Store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	views := make([]models.CredentialView, 0, len(stored))
	for i := range stored {
		c := &stored[i]
		c.ID = s.cfg.Store.ID(c.RefreshToken)
		if live, ok := s.cfg.Pool.Get(c.ID); ok {
			views = append(views, live.View())
			continue
		}
		views = append(views, c.View())
	}
	return views, nil
}

// AddCredential stores a new credential and reloads the pool. Missing expiry,
// timestamp and enable fields take their defaults.
func (s *Service) AddCredential(ctx context.Context, cred models.Credential) (models.CredentialView, error) {
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return models.CredentialView{}, errors.New("access_token and refresh_token are required")
	}

	stored, err := s.cfg.Store.ReadAll()
	if err != nil {
		return models.CredentialView{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	if slices.ContainsFunc(stored, func(c models.Credential) bool { return c.RefreshToken == cred.RefreshToken }) {
		return models.CredentialView{}, models.ErrCredentialExists
	}

	if cred.ExpiresIn == 0 {
		cred.ExpiresIn = defaultExpiresIn
	}
	if cred.Timestamp == 0 {
		cred.Timestamp = s.cfg.Clock.Now().UnixMilli()
	}
	cred.Enable = true
	cred.HasQuota = true
	cred.Availability = models.Available()

	if err := s.write(ctx, append(stored, cred)); err != nil {
		return models.CredentialView{}, err
	}

	cred.ID = s.cfg.Store.ID(cred.RefreshToken)
	s.log.Info("credential added", "credential", cred.ID)
	return cred.View(), nil
}

// UpdateCredential applies patch to the stored credential id.
func (s *Service) UpdateCredential(ctx context.Context, id string, patch models.CredentialPatch) (models.CredentialView, error) {
	stored, err := s.cfg.Store.ReadAll()
	if err != nil {
		return models.CredentialView{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	i := s.index(stored, id)
	if i < 0 {
		return models.CredentialView{}, fmt.Errorf("%w: %s", models.ErrCredentialNotFound, id)
	}
	patch.Apply(&stored[i])

	if err := s.write(ctx, stored); err != nil {
		return models.CredentialView{}, err
	}

	s.log.Info("credential updated", "credential", id)
	updated := stored[i]
	updated.ID = id
	return updated.View(), nil
}

// DeleteCredential removes the credential and its quota state.
func (s *Service) DeleteCredential(ctx context.Context, id string) error {
	stored, err := s.cfg.Store.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	i := s.index(stored, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", models.ErrCredentialNotFound, id)
	}
	if err := s.write(ctx, slices.Delete(stored, i, i+1)); err != nil {
		return err
	}

	s.cfg.Tracker.Forget(id)
	s.log.Info("credential deleted", "credential", id)
	return nil
}

// RefreshCredential forces a token refresh of an active credential.
func (s *Service) RefreshCredential(ctx context.Context, id string) error {
	return s.cfg.Pool.Refresh(ctx, id)
}

// FetchProjectID resolves the project of an active credential.
func (s *Service) FetchProjectID(ctx context.Context, id string) (string, error) {
	return s.cfg.Pool.FetchProjectID(ctx, id)
}

// Rotation reports the live rotation state.
func (s *Service) Rotation() models.RotationConfig {
	return s.cfg.Pool.RotationConfig()
}

// SetRotation switches the rotation strategy. An empty strategy keeps the
// current one; a non-positive count keeps the current count.
func (s *Service) SetRotation(strategy string, requestCount int) (models.RotationConfig, error) {
	var next models.RotationStrategy
	if strategy != "" {
		parsed, err := models.ParseRotationStrategy(strategy)
		if err != nil {
			return models.RotationConfig{}, err
		}
		next = parsed
	}
	return s.cfg.Pool.UpdateRotation(next, requestCount), nil
}

// Quota returns the credential's quota. A fresh cached record is served as is;
// otherwise, or when force is set, the quota is fetched upstream first.
func (s *Service) Quota(ctx context.Context, id string, force bool) (QuotaView, error) {
	if !force {
		if rec, ok := s.cfg.Tracker.Get(id, false); ok {
			return QuotaView{Record: rec, Groups: s.cfg.Tracker.Groups(id)}, nil
		}
	}
	if s.cfg.Fetcher == nil {
		return QuotaView{}, errors.New("quota fetcher not configured")
	}

	token, err := s.cfg.Pool.AccessToken(ctx, id)
	if err != nil {
		return QuotaView{}, err
	}
	snap, err := s.cfg.Fetcher.FetchQuota(ctx, token)
	if err != nil {
		return QuotaView{}, fmt.Errorf("failed to fetch quota for %s: %w", id, err)
	}
	if err := s.cfg.Tracker.UpdateQuota(id, snap); err != nil {
		s.log.Warn("quota snapshot partially rejected", "credential", id, "error", err)
	}

	rec, _ := s.cfg.Tracker.Get(id, true)
	return QuotaView{Record: rec, Groups: s.cfg.Tracker.Groups(id), Fetched: true}, nil
}

// QuotaUsage returns the credential's usage series.
func (s *Service) QuotaUsage(id string, q models.UsageQuery) models.UsageReport {
	return s.cfg.Tracker.Usage(id, q)
}

func (s *Service) index(stored []models.Credential, id string) int {
	return slices.IndexFunc(stored, func(c models.Credential) bool {
		return s.cfg.Store.ID(c.RefreshToken) == id
	})
}

func (s *Service) write(ctx context.Context, creds []models.Credential) error {
	if err := s.cfg.Store.WriteAll(creds); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := s.cfg.Pool.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload credential pool: %w", err)
	}
	return nil
}
