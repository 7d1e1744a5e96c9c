// Package sampler attributes quota consumption to individual requests by
// polling the quota endpoint shortly after each request completes.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/quota"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("sampler closed")

// Tracker receives the post-request snapshots.
type Tracker interface {
	UpdateQuotaWithUsage(credentialID string, snap models.QuotaSnapshot, opts quota.UsageOptions) (quota.UsageResult, error)
}

// Job is one completed request to attribute.
type Job struct {
	Tokens       *models.TokenCounts
	CredentialID string
	AccessToken  string
	Model        string
	calledAt     time.Time
}

// Config wires a Sampler.
type Config struct {
	Fetcher quota.Fetcher
	Tracker Tracker
	Clock   clock.Clock

	DefaultDelays []time.Duration
	PreciseDelays []time.Duration
	// RateLimit bounds upstream quota polls across all credentials.
	RateLimit rate.Limit

	Enabled        bool
	PreciseEnabled bool
}

// Sampler runs one serial queue per credential.
type Sampler struct {
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]Job
	closed bool
}

// New creates a sampler. Missing delays fall back to [0] and [0, 8s, 20s].
func New(cfg Config) *Sampler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if len(cfg.DefaultDelays) == 0 {
		cfg.DefaultDelays = []time.Duration{0}
	}
	if len(cfg.PreciseDelays) == 0 {
		cfg.PreciseDelays = []time.Duration{0, 8 * time.Second, 20 * time.Second}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Inf
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sampler{
		cfg:     cfg,
		log:     logger.With("sampler"),
		limiter: rate.NewLimiter(cfg.RateLimit, 1),
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string][]Job),
	}
}

// Schedule queues job behind any earlier job of the same credential.
func (s *Sampler) Schedule(job Job) error {
	if !s.cfg.Enabled || job.CredentialID == "" || job.AccessToken == "" {
		return nil
	}
	job.calledAt = s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	pending, running := s.queues[job.CredentialID]
	s.queues[job.CredentialID] = append(pending, job)
	if !running {
		s.wg.Add(1)
		go s.worker(job.CredentialID)
	}
	return nil
}

// worker drains one credential's queue and exits when it is empty.
func (s *Sampler) worker(credentialID string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		pending := s.queues[credentialID]
		if len(pending) == 0 {
			delete(s.queues, credentialID)
			s.mu.Unlock()
			return
		}
		job := pending[0]
		s.queues[credentialID] = pending[1:]
		s.mu.Unlock()

		s.run(job)
	}
}

func (s *Sampler) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("usage sampling panicked", "credential", job.CredentialID, "panic", r)
		}
	}()

	recorded, err := s.sample(job, models.ModeDefault, s.cfg.DefaultDelays, !s.cfg.PreciseEnabled)
	if err == nil && !recorded && s.cfg.PreciseEnabled {
		_, err = s.sample(job, models.ModePrecise, s.cfg.PreciseDelays, false)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("usage sampling failed", "credential", job.CredentialID, "model", job.Model, "error", err)
	}
}

// sample polls at each delay offset and stops once a sample is recorded.
func (s *Sampler) sample(job Job, mode models.SamplingMode, delays []time.Duration, overwrite bool) (bool, error) {
	var prev time.Duration
	for _, delay := range delays {
		delay = max(0, delay)
		wait := max(0, delay-prev)
		prev = delay
		if wait > 0 {
			if err := s.cfg.Clock.Sleep(s.ctx, wait); err != nil {
				return false, err
			}
		}

		if err := s.limiter.Wait(s.ctx); err != nil {
			return false, err
		}
		snap, err := s.cfg.Fetcher.FetchQuota(s.ctx, job.AccessToken)
		if err != nil {
			return false, fmt.Errorf("failed to fetch quota: %w", err)
		}

		result, err := s.cfg.Tracker.UpdateQuotaWithUsage(job.CredentialID, snap, quota.UsageOptions{
			CalledAt:           job.calledAt,
			Tokens:             job.Tokens,
			RequestedModel:     job.Model,
			Mode:               mode,
			MirrorToPrecise:    mode == models.ModeDefault && s.cfg.PreciseEnabled,
			OverwriteOnNoUsage: overwrite,
		})
		if err != nil {
			s.log.Debug("quota snapshot not attributable", "credential", job.CredentialID, "error", err)
		}
		s.log.Debug("usage sample", "credential", job.CredentialID, "mode", mode,
			"delay", delay, "model", result.Model, "outcome", result.Outcome)
		if result.Recorded {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns the number of credentials with queued or running work.
func (s *Sampler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Wait blocks until every queue has drained.
func (s *Sampler) Wait() {
	s.wg.Wait()
}

// Close stops accepting jobs, cancels pending delays and waits for the workers.
func (s *Sampler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
