package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"arbiter/features/job"
	"arbiter/internal/middleware"
)

// ErrBreakerTripped means too many invocations in a row never completed. The
// backend is down or unreachable; running on would only churn the queue, so
// the process exits and lets the supervisor restart it.
var ErrBreakerTripped = errors.New("too many consecutive invocation failures")

// Store is the slice of the job repository the loop needs.
type Store interface {
	ClaimNext(ctx context.Context) (*job.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Invoker is the callback transport.
type Invoker interface {
	Health(ctx context.Context) error
	ProcessJob(ctx context.Context, jobID int64, payload json.RawMessage) (*Result, error)
}

type Config struct {
	PollInterval           time.Duration
	ErrorBackoff           time.Duration
	MaxConsecutiveFailures int
	RetentionPeriod        time.Duration
	PurgeInterval          time.Duration
}

type Orchestrator struct {
	store   Store
	invoker Invoker
	cfg     Config

	processed int
}

func New(store Store, invoker Invoker, cfg Config) *Orchestrator {
	return &Orchestrator{store: store, invoker: invoker, cfg: cfg}
}

// Run drives the claim-invoke-record loop until ctx is cancelled or the
// breaker trips. A cancelled ctx stops the loop between cycles; a claimed job
// is always carried through to a terminal status first.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.invoker.Health(ctx); err != nil {
		return fmt.Errorf("callback health check: %w", err)
	}
	slog.Info("job orchestrator ready", "poll_interval", o.cfg.PollInterval, "retention", o.cfg.RetentionPeriod)

	o.purge(ctx)
	lastPurge := time.Now()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator shutting down", "jobs_processed", o.processed)
			return nil
		default:
		}

		if time.Since(lastPurge) >= o.cfg.PurgeInterval {
			o.purge(ctx)
			lastPurge = time.Now()
		}

		j, err := o.store.ClaimNext(ctx)
		if err != nil {
			failures++
			slog.Error("failed to claim next job", "error", err, "consecutive_failures", failures)
			if failures >= o.cfg.MaxConsecutiveFailures {
				return ErrBreakerTripped
			}
			sleepCtx(ctx, o.cfg.ErrorBackoff)
			continue
		}
		if j == nil {
			sleepCtx(ctx, o.cfg.PollInterval)
			continue
		}

		// Shutdown must not abandon a job in processing, so the in-flight
		// cycle runs beyond cancellation. The callback timeout still bounds
		// how long that can take.
		if err := o.processJob(context.WithoutCancel(ctx), j); err != nil {
			failures++
			slog.Error("invocation failed", "job_id", j.ID, "error", err, "consecutive_failures", failures)
			if failures >= o.cfg.MaxConsecutiveFailures {
				return ErrBreakerTripped
			}
			sleepCtx(ctx, o.cfg.ErrorBackoff)
			continue
		}

		failures = 0
		o.processed++
		slog.Info("jobs processed", "total", o.processed)
	}
}

// processJob runs one claimed job to a terminal status. A returned error
// means the round trip never completed and counts against the breaker; a
// business failure recorded on the job does not.
func (o *Orchestrator) processJob(ctx context.Context, j *job.Job) error {
	ctx = middleware.WithJobID(ctx, j.ID)
	slog.InfoContext(ctx, "processing job", "natural_key", j.NaturalKey, "kind", j.Kind)

	res, err := o.invoker.ProcessJob(ctx, j.ID, j.Payload)
	if err != nil {
		if markErr := o.store.MarkFailed(ctx, j.ID, fmt.Sprintf("callback invocation failed: %v", err)); markErr != nil {
			slog.ErrorContext(ctx, "failed to record invocation failure", "error", markErr)
		}
		return fmt.Errorf("invoking callback: %w", err)
	}

	if res.Outcome == OutcomeSuccess {
		if err := o.store.MarkCompleted(ctx, j.ID); err != nil {
			return fmt.Errorf("marking job completed: %w", err)
		}
		slog.InfoContext(ctx, "job completed", "natural_key", j.NaturalKey)
		return nil
	}

	if err := o.store.MarkFailed(ctx, j.ID, res.Detail); err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	slog.WarnContext(ctx, "job failed", "natural_key", j.NaturalKey, "detail", res.Detail)
	return nil
}

// purge drops terminal jobs past the retention period. Failures are logged
// and retried on the next cadence, never escalated.
func (o *Orchestrator) purge(ctx context.Context) {
	n, err := o.store.PurgeOlderThan(ctx, o.cfg.RetentionPeriod)
	if err != nil {
		slog.Error("failed to purge old jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Info("purged old jobs", "count", n)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
