package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/internal/transport"
	"github.com/sendloop/wa-gateway/pkg/clock"
	"github.com/sendloop/wa-gateway/pkg/logger"
	"github.com/sendloop/wa-gateway/pkg/prom"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// ExecutorConfig bounds a single job execution.
type ExecutorConfig struct {
	SendTimeout     time.Duration // per send attempt
	SendMaxAttempts int           // total attempts per recipient, transient errors only
	RetryBackoff    time.Duration // base of the exponential backoff between attempts
	RatePerSecond   int           // fleet-wide send ceiling, 0 = unlimited
	MarkerTTL       time.Duration
}

func (c *ExecutorConfig) applyDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.SendMaxAttempts <= 0 {
		c.SendMaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Executor runs one leased delivery job to its terminal status: batches
// the recipient list, paces sends, retries transient failures, and
// persists progress so a crashed run can resume without double sends.
type Executor struct {
	cfg       ExecutorConfig
	jobs      *repository.DeliveryJobRepository
	logs      *repository.AttemptLogRepository
	schedules *repository.ScheduleRepository
	client    transport.Client
	markers   *markerStore
	limiter   *rate.Limiter
	clock     clock.Clock
}

func NewExecutor(
	cfg ExecutorConfig,
	jobs *repository.DeliveryJobRepository,
	logs *repository.AttemptLogRepository,
	schedules *repository.ScheduleRepository,
	client transport.Client,
	markers *markerStore,
) *Executor {
	cfg.applyDefaults()

	limit := rate.Inf
	burst := 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = cfg.RatePerSecond
	}

	return &Executor{
		cfg:       cfg,
		jobs:      jobs,
		logs:      logs,
		schedules: schedules,
		client:    client,
		markers:   markers,
		limiter:   rate.NewLimiter(limit, burst),
		clock:     clock.System(),
	}
}

// SetClock replaces the time source. Test hook.
func (e *Executor) SetClock(c clock.Clock) { e.clock = c }

// Execute drives the job with the given ID to a terminal status. A nil
// return means the lease can be acked; an error means the queue should
// redeliver and a later run will resume from the recorded markers.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Warn("[dispatch] leased job no longer exists", "job_id", jobID)
			return nil
		}
		return err
	}

	if job.Status.Terminal() {
		// duplicate delivery of an already finished job
		return nil
	}

	startedAt := e.clock.Now()
	if job.Status == model.JobStatusQueued && job.CancelRequested {
		// cancelled before any work started: skip running entirely
		err := e.jobs.TransitionStatus(ctx, job.ID, model.JobStatusQueued, model.JobStatusCancelled, startedAt)
		if err == nil {
			logger.Info("[dispatch] job cancelled before start", "job_id", job.ID)
			return nil
		}
		if !errors.Is(err, model.ErrOwnershipMismatch) {
			return err
		}
		// lost the transition race, fall through to the normal path
	}

	if err := e.jobs.TransitionStatus(ctx, job.ID, model.JobStatusQueued, model.JobStatusRunning, startedAt); err != nil {
		if !errors.Is(err, model.ErrOwnershipMismatch) || job.Status != model.JobStatusRunning {
			return err
		}
		// already running: a previous holder of this lease crashed
		// mid-job, resume and let the markers skip what went out
		logger.Info("[dispatch] resuming interrupted job", "job_id", job.ID)
	}

	run, err := e.runBatches(ctx, job)
	if err != nil {
		// interrupted, counters are already persisted per batch
		return err
	}

	final := finalStatus(run)
	finishedAt := e.clock.Now()
	if err := e.jobs.TransitionStatus(ctx, job.ID, model.JobStatusRunning, final, finishedAt); err != nil {
		logger.Error("[dispatch] final status transition failed", "job_id", job.ID, "status", final, "error", err)
	}

	if _, err := e.logs.Append(ctx, &model.DeliveryAttemptLog{
		JobID:       job.ID,
		DeviceID:    job.DeviceID,
		Occurrence:  job.IdempotencyKey,
		Outcomes:    run.outcomes,
		SentCount:   run.sent,
		FailedCount: run.failed,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}); err != nil {
		logger.Error("[dispatch] attempt log append failed", "job_id", job.ID, "error", err)
	}

	if job.Source == model.JobSourceSchedule && job.SourceID != "" {
		if err := e.schedules.AddCounters(ctx, job.SourceID, run.sent, run.failed); err != nil {
			logger.Error("[dispatch] schedule counter update failed", "schedule_id", job.SourceID, "error", err)
		}
	}

	prom.ObserveJobDuration(finishedAt.Sub(startedAt).Seconds())
	logger.Info("[dispatch] job finished",
		"job_id", job.ID,
		"device_id", job.DeviceID,
		"status", final,
		"sent", run.sent,
		"failed", run.failed,
		"duration", finishedAt.Sub(startedAt),
	)
	return nil
}

type runResult struct {
	outcomes  []model.RecipientOutcome
	sent      int
	failed    int
	cancelled bool
}

func (e *Executor) runBatches(ctx context.Context, job *model.DeliveryJob) (*runResult, error) {
	size := job.Batch.Size
	if size <= 0 {
		size = len(job.Recipients)
	}

	pacer := newDelayPacer(job.Delay)
	run := &runResult{outcomes: make([]model.RecipientOutcome, 0, len(job.Recipients))}

	for offset := 0; offset < len(job.Recipients); offset += size {
		// cancellation checkpoint, once per batch
		cancelled, err := e.jobs.IsCancelRequested(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			run.cancelled = true
			break
		}

		if offset > 0 && job.Batch.PauseBetween > 0 {
			if err := sleepCtx(ctx, job.Batch.PauseBetween); err != nil {
				return nil, err
			}
		}

		end := offset + size
		if end > len(job.Recipients) {
			end = len(job.Recipients)
		}

		for i, recipient := range job.Recipients[offset:end] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			done, err := e.markers.AlreadySent(job.ID, recipient)
			if err != nil {
				return nil, err
			}
			if done {
				run.sent++
				run.outcomes = append(run.outcomes, model.RecipientOutcome{
					Recipient: recipient,
					Status:    model.OutcomeSkipped,
					At:        e.clock.Now(),
				})
				continue
			}

			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}

			attempts, sendErr := e.sendWithRetry(ctx, job, recipient)
			if sendErr != nil && ctx.Err() != nil {
				// retry loop was cut short by shutdown, not by the
				// recipient itself
				return nil, ctx.Err()
			}

			run.outcomes = append(run.outcomes, e.recordOutcome(job, recipient, attempts, sendErr))
			if sendErr != nil {
				run.failed++
			} else {
				run.sent++
			}
			pacer.Record(sendErr != nil && model.IsTransientDelivery(sendErr))

			if i < end-offset-1 {
				if err := sleepCtx(ctx, pacer.Next()); err != nil {
					return nil, err
				}
			}
		}

		if err := e.jobs.UpdateCounters(ctx, job.ID, run.sent, run.failed); err != nil {
			logger.Error("[dispatch] counter update failed", "job_id", job.ID, "error", err)
		}
	}

	return run, nil
}

func (e *Executor) recordOutcome(job *model.DeliveryJob, recipient string, attempts int, sendErr error) model.RecipientOutcome {
	outcome := model.RecipientOutcome{
		Recipient: recipient,
		Attempts:  attempts,
		At:        e.clock.Now(),
	}

	if sendErr == nil {
		if err := e.markers.MarkSent(job.ID, recipient); err != nil {
			logger.Warn("[dispatch] marker write failed", "job_id", job.ID, "recipient", recipient, "error", err)
		}
		outcome.Status = model.OutcomeSent
		prom.AddDeliverySent(job.DeviceID, 1)
		return outcome
	}

	outcome.Status = model.OutcomeFailed
	outcome.Error = sendErr.Error()
	reason := "transient_exhausted"
	if model.IsPermanentDelivery(sendErr) {
		reason = "permanent"
	}
	prom.AddDeliveryFailed(job.DeviceID, reason, 1)
	logger.Warn("[dispatch] recipient failed",
		"job_id", job.ID,
		"recipient", recipient,
		"attempts", attempts,
		"reason", reason,
		"error", sendErr,
	)
	return outcome
}

// sendWithRetry delivers to one recipient, retrying transient errors
// with exponential backoff up to the attempt limit. Permanent errors
// fail immediately.
func (e *Executor) sendWithRetry(ctx context.Context, job *model.DeliveryJob, recipient string) (int, error) {
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(e.cfg.SendMaxAttempts-1), retry.NewExponential(e.cfg.RetryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()

		_, err := e.client.Send(sendCtx, &transport.SendRequest{
			DeviceID:  job.DeviceID,
			Recipient: recipient,
			Type:      job.Payload.Type,
			Text:      job.Payload.Text,
			MediaURL:  job.Payload.MediaURL,
		})
		if err == nil {
			return nil
		}
		if model.IsTransientDelivery(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts, err
}

func finalStatus(run *runResult) model.JobStatus {
	switch {
	case run.cancelled:
		return model.JobStatusCancelled
	case run.failed == 0:
		return model.JobStatusCompleted
	case run.sent == 0:
		return model.JobStatusFailed
	default:
		return model.JobStatusPartialFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
