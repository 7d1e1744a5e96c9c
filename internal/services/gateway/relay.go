// Package gateway composes credential selection, retried upstream calls,
// stream parsing and usage sampling into a single request path.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/sampler"
	"github.com/j-veylop/antigravity-gateway/internal/services/stream"
)

const readBufferSize = 16 << 10

// Request is one generation call. Body is the upstream request payload.
type Request struct {
	Model     string
	SessionID string
	Body      []byte
}

// Result describes a completed relay.
type Result struct {
	Usage        *models.TokenCounts
	CredentialID string
	Attempts     int
	Events       int
}

// Pool is the part of the credential pool the relay uses.
type Pool interface {
	Select(ctx context.Context, modelID string) (*models.Credential, error)
	MarkExhausted(id, group string)
	RecordRequest(id, modelID string)
	Disable(id string)
}

// UsageScheduler queues post-request quota sampling.
type UsageScheduler interface {
	Schedule(job sampler.Job) error
}

// Config wires a Relay.
type Config struct {
	Pool      Pool
	Upstream  Upstream
	Sampler   UsageScheduler
	Parser    *stream.Parser
	Pools     *stream.Pools
	Scheduler stream.Registrar
	Clock     clock.Clock

	HeartbeatInterval time.Duration
	MaxRetries        int
}

// Relay serves streaming requests across the credential pool.
type Relay struct {
	cfg Config
	log *slog.Logger
}

// NewRelay creates a relay. Parser and Pools default to fresh instances.
func NewRelay(cfg Config) *Relay {
	if cfg.Pools == nil {
		cfg.Pools = stream.NewPools()
	}
	if cfg.Parser == nil {
		cfg.Parser = stream.NewParser(cfg.Pools, nil, nil, false)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Relay{cfg: cfg, log: logger.With("gateway")}
}

// Stream relays req to w as SSE frames with heartbeats, finishing with a
// [DONE] frame on success.
func (r *Relay) Stream(ctx context.Context, req Request, w io.Writer) (Result, error) {
	out := w
	if r.cfg.Scheduler != nil {
		hb := stream.StartHeartbeat(w, r.cfg.Scheduler, r.cfg.HeartbeatInterval)
		defer hb.Stop()
		out = hb
	}

	events := stream.NewEventWriter(out, r.cfg.Pools)
	res, err := r.Relay(ctx, req, events.Sink())
	if err != nil {
		return res, err
	}
	if err := events.WriteDone(); err != nil {
		return res, err
	}
	return res, nil
}

// Relay selects a credential, runs the upstream call with 429 retries and
// feeds every parsed event to sink.
func (r *Relay) Relay(ctx context.Context, req Request, sink stream.Sink) (Result, error) {
	cred, err := r.cfg.Pool.Select(ctx, req.Model)
	if err != nil {
		if errors.Is(err, models.ErrNoCredential) {
			return Result{}, fmt.Errorf("%w: no credential for %s", models.ErrServiceUnavailable, req.Model)
		}
		return Result{}, fmt.Errorf("failed to select credential: %w", err)
	}
	res := Result{CredentialID: cred.ID}

	body, err := stream.WithRetry(ctx, func(ctx context.Context, attempt int) (io.ReadCloser, error) {
		res.Attempts = attempt + 1
		return r.cfg.Upstream.StreamGenerate(ctx, cred, req)
	}, r.cfg.MaxRetries, stream.WithClock(r.cfg.Clock))
	if err != nil {
		if stream.StatusOf(err) == http.StatusTooManyRequests {
			group := models.QuotaGroupOf(req.Model)
			r.log.Warn("credential rate limited after retries", "credential", cred.ID, "group", group)
			r.cfg.Pool.MarkExhausted(cred.ID, group)
		}
		if models.IsPermanentCredentialError(err) {
			r.log.Warn("credential rejected by upstream", "credential", cred.ID, "error", err)
			r.cfg.Pool.Disable(cred.ID)
		}
		return res, fmt.Errorf("upstream call failed: %w", err)
	}
	defer func() {
		if err := body.Close(); err != nil {
			r.log.Debug("failed to close upstream body", "error", err)
		}
	}()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = cred.SessionID
	}
	state := &stream.State{SessionID: sessionID, Model: req.Model}
	defer r.cfg.Parser.Release(state)
	defer r.complete(cred, req.Model, &res)

	var sinkErr error
	emit := func(ev models.StreamEvent) {
		if ev.Type == models.EventUsage && ev.Usage != nil {
			usage := *ev.Usage
			res.Usage = &usage
		}
		if sinkErr != nil {
			return
		}
		res.Events++
		sinkErr = sink(ev)
	}

	if err := r.pump(ctx, body, state, emit, &sinkErr); err != nil {
		return res, err
	}
	if sinkErr != nil {
		return res, fmt.Errorf("downstream write failed: %w", sinkErr)
	}
	return res, nil
}

// pump reads body to EOF, parsing complete lines as they arrive.
func (r *Relay) pump(ctx context.Context, body io.Reader, state *stream.State, emit stream.Emit, sinkErr *error) error {
	lines := r.cfg.Pools.LineBuffers.Get()
	defer r.cfg.Pools.LineBuffers.Put(lines)

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range lines.Append(buf[:n]) {
				r.cfg.Parser.ParseLine(line, state, emit)
			}
			if *sinkErr != nil {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			if tail, ok := lines.Flush(); ok {
				r.cfg.Parser.ParseLine(tail, state, emit)
			}
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read upstream stream: %w", err)
		}
	}
}

// complete records the request and queues usage sampling once the upstream
// answered.
func (r *Relay) complete(cred *models.Credential, model string, res *Result) {
	r.cfg.Pool.RecordRequest(cred.ID, model)
	if r.cfg.Sampler == nil {
		return
	}
	err := r.cfg.Sampler.Schedule(sampler.Job{
		Tokens:       res.Usage,
		CredentialID: cred.ID,
		AccessToken:  cred.AccessToken,
		Model:        model,
	})
	if err != nil {
		r.log.Debug("usage sampling not scheduled", "credential", cred.ID, "error", err)
	}
}
