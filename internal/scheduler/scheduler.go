// Package scheduler is the producer side: timer-driven ticks select due
// broadcasts and recurring occurrences and enqueue delivery jobs. There
// is no cross-process lock; overlapping ticks are safe because every
// occurrence carries a stable idempotency key the queue enforces.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/queue"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/pkg/clock"
	"github.com/sendloop/wa-gateway/pkg/logger"
)

type Config struct {
	ServerID     string
	TickInterval time.Duration
	DedupTTL     time.Duration
	BatchLimit   int

	// Defaults applied when a broadcast or schedule leaves its policies
	// zero-valued.
	DefaultBatch model.BatchPolicy
	DefaultDelay model.DelayPolicy
}

type Scheduler struct {
	cfg        Config
	broadcasts *repository.BroadcastRepository
	schedules  *repository.ScheduleRepository
	jobs       *repository.DeliveryJobRepository
	queue      *queue.Queue
	clock      clock.Clock
	recent     *dedupCache
}

func New(cfg Config, broadcasts *repository.BroadcastRepository, schedules *repository.ScheduleRepository, jobs *repository.DeliveryJobRepository, q *queue.Queue, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Scheduler{
		cfg:        cfg,
		broadcasts: broadcasts,
		schedules:  schedules,
		jobs:       jobs,
		queue:      q,
		clock:      clk,
		recent:     newDedupCache(cfg.DedupTTL, 4096, clk),
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one producer pass. A store or queue outage aborts the pass;
// the next tick retries the same due work, relying on idempotency keys
// for anything already enqueued.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()

	if err := s.enqueueDueBroadcasts(ctx, now); err != nil {
		logger.Error("broadcast pass failed, will retry next tick", "error", err.Error())
	}
	if err := s.fireDueSchedules(ctx, now); err != nil {
		logger.Error("schedule pass failed, will retry next tick", "error", err.Error())
	}
}

func (s *Scheduler) enqueueDueBroadcasts(ctx context.Context, now time.Time) error {
	due, err := s.broadcasts.ListDue(ctx, s.cfg.ServerID, now, s.cfg.BatchLimit)
	if err != nil {
		return err
	}

	for _, b := range due {
		key := "broadcast:" + b.ID
		if s.recent.Seen(key) {
			continue
		}

		job := s.jobFromBroadcast(b, key, now)
		if err := s.createAndEnqueue(ctx, job, nil); err != nil {
			return err
		}

		if err := s.broadcasts.MarkEnqueued(ctx, b.ID); err != nil && err != model.ErrDuplicateEnqueue {
			logger.Error("failed to mark broadcast enqueued", "broadcast_id", b.ID, "error", err.Error())
		}
		logger.Info("broadcast enqueued", "broadcast_id", b.ID, "job_id", job.ID, "recipients", len(b.Recipients))
	}
	return nil
}

func (s *Scheduler) fireDueSchedules(ctx context.Context, now time.Time) error {
	due, err := s.schedules.ListDue(ctx, s.cfg.ServerID, now, s.cfg.BatchLimit)
	if err != nil {
		return err
	}

	for _, sch := range due {
		if sch.Exhausted(now) {
			if err := s.schedules.Deactivate(ctx, sch.ID); err != nil {
				logger.Error("failed to deactivate exhausted schedule", "schedule_id", sch.ID, "error", err.Error())
			} else {
				logger.Info("schedule exhausted, deactivated", "schedule_id", sch.ID)
			}
			continue
		}

		occurrence := *sch.NextSendAt
		key := fmt.Sprintf("schedule:%s:%d", sch.ID, occurrence.Unix())
		if s.recent.Seen(key) {
			continue
		}

		job := s.jobFromSchedule(sch, key, now)
		if err := s.createAndEnqueue(ctx, job, nil); err != nil {
			return err
		}

		// Advance immediately after the enqueue, not after delivery, so
		// cadence stays independent of delivery latency. Next time is
		// computed from the occurrence to avoid drift on late ticks.
		next := NextAfter(sch, occurrence)
		if next.IsZero() {
			if derr := s.schedules.Deactivate(ctx, sch.ID); derr != nil {
				logger.Error("failed to deactivate finished schedule", "schedule_id", sch.ID, "error", derr.Error())
			}
			continue
		}
		if aerr := s.schedules.Advance(ctx, sch.ID, occurrence, next, now); aerr != nil {
			if aerr == model.ErrDuplicateEnqueue {
				// another tick advanced it first
				continue
			}
			logger.Error("failed to advance schedule", "schedule_id", sch.ID, "error", aerr.Error())
			continue
		}
		if ierr := s.schedules.IncrementExecutions(ctx, sch.ID); ierr != nil {
			logger.Error("failed to count schedule execution", "schedule_id", sch.ID, "error", ierr.Error())
		}
		logger.Info("schedule fired",
			"schedule_id", sch.ID,
			"occurrence", occurrence,
			"next_send_at", next,
			"job_id", job.ID)
	}
	return nil
}

// createAndEnqueue persists the job row and pushes its envelope. A crash
// between the two leaves a queued row with no stream entry; when the
// retry hits the store-level duplicate it reuses that row and still
// attempts the push, so the queue's key reservation — not the row — is
// what finally suppresses true duplicates. Returning nil means the
// occurrence is on the stream (or already picked up), so callers can
// safely mark and advance.
func (s *Scheduler) createAndEnqueue(ctx context.Context, job *model.DeliveryJob, opts *queue.EnqueueOptions) error {
	created, err := s.jobs.Create(ctx, job)
	if err == model.ErrDuplicateEnqueue {
		existing, gerr := s.jobs.GetByIdempotencyKey(ctx, job.IdempotencyKey)
		if gerr != nil {
			return gerr
		}
		if existing.Status != model.JobStatusQueued {
			// a worker already has it, nothing left to push
			return nil
		}
		logger.Debug("re-pushing stored occurrence", "idempotency_key", job.IdempotencyKey, "job_id", existing.ID)
		created = existing
	} else if err != nil {
		return err
	}

	_, err = s.queue.Enqueue(ctx, queue.Envelope{
		JobID:          created.ID,
		IdempotencyKey: created.IdempotencyKey,
	}, opts)
	if err == model.ErrDuplicateEnqueue {
		logger.Debug("duplicate occurrence suppressed at queue", "idempotency_key", created.IdempotencyKey)
		return nil
	}
	return err
}

func (s *Scheduler) jobFromBroadcast(b *model.Broadcast, key string, now time.Time) *model.DeliveryJob {
	return &model.DeliveryJob{
		ID:             uuid.NewString(),
		DeviceID:       b.DeviceID,
		OwnerID:        b.OwnerID,
		Source:         model.JobSourceBroadcast,
		SourceID:       b.ID,
		Recipients:     b.Recipients,
		Payload:        b.Payload,
		Batch:          s.batchOrDefault(b.Batch),
		Delay:          s.delayOrDefault(b.Delay),
		Status:         model.JobStatusQueued,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
}

func (s *Scheduler) jobFromSchedule(sch *model.RecurringSchedule, key string, now time.Time) *model.DeliveryJob {
	return &model.DeliveryJob{
		ID:             uuid.NewString(),
		DeviceID:       sch.DeviceID,
		OwnerID:        sch.OwnerID,
		Source:         model.JobSourceSchedule,
		SourceID:       sch.ID,
		Recipients:     sch.Recipients,
		Payload:        sch.Payload,
		Batch:          s.batchOrDefault(sch.Batch),
		Delay:          s.delayOrDefault(sch.Delay),
		Status:         model.JobStatusQueued,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
}

func (s *Scheduler) batchOrDefault(b model.BatchPolicy) model.BatchPolicy {
	if b.Size <= 0 {
		return s.cfg.DefaultBatch
	}
	return b
}

func (s *Scheduler) delayOrDefault(d model.DelayPolicy) model.DelayPolicy {
	if d.Mode == "" {
		return s.cfg.DefaultDelay
	}
	return d
}
