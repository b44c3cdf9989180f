// Package queue is the durable delivery queue: a Redis Stream consumer
// group with leases, retry accounting and a dead-letter stream. Enqueue
// is idempotent per logical occurrence; the reservation key in Redis is
// the authoritative de-dup mechanism.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/logger"
	"github.com/sendloop/wa-gateway/pkg/prom"
	"github.com/sendloop/wa-gateway/pkg/redis"
)

// Envelope is what travels through the stream. Workers load the full
// job row from the store; the queue only carries the reference.
type Envelope struct {
	JobID          string `json:"job_id"`
	IdempotencyKey string `json:"idempotency_key"`
	EnqueuedAt     int64  `json:"enqueued_at"`
}

// Lease is one claimed stream entry. The holder must Ack on success or
// Nack to leave it pending for reclaim after the visibility timeout.
type Lease struct {
	ID       string
	Envelope Envelope
	Attempts int

	acked  bool
	nacked bool
	queue  *Queue
}

func (l *Lease) Ack() error {
	if l.acked {
		return fmt.Errorf("lease already acknowledged")
	}
	if l.nacked {
		return fmt.Errorf("lease already rejected")
	}
	l.acked = true
	return l.queue.ack(l.ID)
}

// Nack leaves the entry pending; it is reclaimed once the visibility
// timeout expires.
func (l *Lease) Nack() error {
	if l.acked {
		return fmt.Errorf("lease already acknowledged")
	}
	l.nacked = true
	return nil
}

// Handler processes a leased job. Returning nil acks the lease;
// returning an error leaves it pending for retry.
type Handler func(ctx context.Context, lease *Lease) error

type Config struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool

	// IdempotencyTTL bounds how long an occurrence key blocks duplicate
	// enqueues. Must comfortably exceed the widest scheduler overlap.
	IdempotencyTTL time.Duration
}

type Queue struct {
	adapter redis.RedisAdapter
	config  Config
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EnqueueOptions modify a single enqueue.
type EnqueueOptions struct {
	// DelayUntil holds the job in the delayed set until the given time.
	DelayUntil time.Time
}

func New(adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "delivery-workers"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.IdempotencyTTL == 0 {
		config.IdempotencyTTL = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Group may already exist after a restart; that's fine.
	_ = q.adapter.XGroupCreateMkStream(q.config.Name, q.config.ConsumerGroup, "0")

	return q, nil
}

func (q *Queue) dedupKey(idempotencyKey string) string {
	return q.config.Name + ":idem:" + idempotencyKey
}

func (q *Queue) delayedKey() string {
	return q.config.Name + ":delayed"
}

// Enqueue reserves the idempotency key and adds the envelope to the
// stream (or the delayed set). A second enqueue with the same key within
// the TTL returns ErrDuplicateEnqueue and adds nothing.
func (q *Queue) Enqueue(ctx context.Context, env Envelope, opts *EnqueueOptions) (string, error) {
	if env.IdempotencyKey == "" {
		return "", fmt.Errorf("idempotency key is required")
	}
	if env.EnqueuedAt == 0 {
		env.EnqueuedAt = time.Now().Unix()
	}

	ok, err := q.adapter.SetNX(q.dedupKey(env.IdempotencyKey), []byte(env.JobID), q.config.IdempotencyTTL)
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if !ok {
		prom.IncCounter(prom.SystemScheduler, prom.MetricSchedulerDupSuppress)
		return "", model.ErrDuplicateEnqueue
	}

	if opts != nil && !opts.DelayUntil.IsZero() && opts.DelayUntil.After(time.Now()) {
		member, err := json.Marshal(env)
		if err != nil {
			q.releaseReservation(env.IdempotencyKey)
			return "", err
		}
		err = q.adapter.ZAdd(q.delayedKey(), redis.ZMember{
			Score:  float64(opts.DelayUntil.Unix()),
			Member: string(member),
		})
		if err != nil {
			q.releaseReservation(env.IdempotencyKey)
			return "", fmt.Errorf("failed to add delayed job: %w", err)
		}
		return "delayed:" + env.JobID, nil
	}

	id, err := q.add(env)
	if err != nil {
		q.releaseReservation(env.IdempotencyKey)
		return "", err
	}
	return id, nil
}

// releaseReservation frees the idempotency key when the reserved entry
// never made it onto the stream or the delayed set. Without this a
// failed enqueue would block its occurrence for the whole TTL.
func (q *Queue) releaseReservation(idempotencyKey string) {
	if err := q.adapter.Del(q.dedupKey(idempotencyKey)); err != nil {
		logger.Error("failed to release idempotency reservation", "idem_key", idempotencyKey, "error", err.Error())
	}
}

func (q *Queue) add(env Envelope) (string, error) {
	id, err := q.adapter.XAdd(q.config.Name, map[string]interface{}{
		"job_id":      env.JobID,
		"idem_key":    env.IdempotencyKey,
		"enqueued_at": env.EnqueuedAt,
		"attempts":    0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen)
	}

	prom.IncCounter(prom.SystemScheduler, prom.MetricSchedulerEnqueued)
	return id, nil
}

// Consume starts the poll loop: promote due delayed jobs, read new
// entries, reclaim stuck ones.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	q.handler = handler
	q.wg.Add(1)

	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.promoteDelayed()
			q.processNew()
			q.reclaimStuck()
			q.reportDepth()
		}
	}
}

// promoteDelayed moves due members of the delayed set onto the stream.
// XAdd before ZRem: a crash between the two re-promotes the entry on the
// next poll, and the duplicate stream entry is absorbed by the job
// status transition and the per-recipient markers downstream. The
// reverse order would lose the job outright.
func (q *Queue) promoteDelayed() {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := q.adapter.ZRangeByScoreWithLimit(q.delayedKey(), "-inf", now, q.config.BatchSize)
	if err != nil || len(members) == 0 {
		return
	}

	for _, member := range members {
		var env Envelope
		if err := json.Unmarshal([]byte(member), &env); err != nil {
			_ = q.adapter.ZRem(q.delayedKey(), member)
			logger.Error("dropping malformed delayed entry", "error", err.Error())
			continue
		}
		if _, err := q.add(env); err != nil {
			// still in the set; retried next poll
			logger.Error("failed to promote delayed job", "job_id", env.JobID, "error", err.Error())
			continue
		}
		_ = q.adapter.ZRem(q.delayedKey(), member)
	}
}

func (q *Queue) processNew() {
	messages, err := q.adapter.XReadGroup(
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
	)
	if err != nil {
		if err != redis.NilError {
			logger.Error("queue read failed", "queue", q.config.Name, "error", err.Error())
		}
		return
	}

	for _, streamMsg := range messages {
		q.handleLease(q.toLease(streamMsg))
	}
}

func (q *Queue) reclaimStuck() {
	pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	var stuck []string
	retries := make(map[string]int, len(pendingExt))
	for _, p := range pendingExt {
		if p.Idle >= q.config.VisibilityTimeout {
			stuck = append(stuck, p.ID)
			retries[p.ID] = int(p.RetryCount)
		}
	}
	if len(stuck) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(
		q.config.Name,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.VisibilityTimeout,
		stuck...,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		lease := q.toLease(streamMsg)
		// Redis tracks delivery count per pending entry; that survives
		// crashes where the stream payload's counter would not.
		lease.Attempts = retries[lease.ID]
		q.handleLease(lease)
	}
}

func (q *Queue) handleLease(lease *Lease) {
	if lease.Attempts >= q.config.MaxRetries {
		q.deadLetter(lease)
		_ = q.ack(lease.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, lease); err != nil {
		// leave pending; reclaimed after the visibility timeout
		logger.Warn("job handling failed, will retry",
			"job_id", lease.Envelope.JobID,
			"attempts", lease.Attempts,
			"error", err.Error())
		return
	}
	if !lease.acked && !lease.nacked {
		_ = lease.Ack()
	}
}

func (q *Queue) ack(id string) error {
	return q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, id)
}

func (q *Queue) deadLetter(lease *Lease) {
	if !q.config.EnableDLQ {
		return
	}

	_, err := q.adapter.XAdd(q.config.Name+":dlq", map[string]interface{}{
		"job_id":         lease.Envelope.JobID,
		"idem_key":       lease.Envelope.IdempotencyKey,
		"original_id":    lease.ID,
		"attempts":       lease.Attempts,
		"failed_at":      time.Now().Unix(),
		"original_queue": q.config.Name,
	})
	if err != nil {
		logger.Error("failed to dead-letter job", "job_id", lease.Envelope.JobID, "error", err.Error())
		return
	}
	prom.IncCounter(prom.SystemQueue, prom.MetricQueueDeadLettered)
	logger.Error("job moved to dead letter queue",
		"job_id", lease.Envelope.JobID,
		"attempts", lease.Attempts)
}

func (q *Queue) reportDepth() {
	depth, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return
	}
	prom.SetGaugeVec(prom.SystemQueue, prom.MetricQueueDepth, float64(depth), q.config.Name)
}

func (q *Queue) toLease(streamMsg redis.StreamMessage) *Lease {
	lease := &Lease{
		ID:    streamMsg.ID,
		queue: q,
	}

	for k, v := range streamMsg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "job_id":
			lease.Envelope.JobID = s
		case "idem_key":
			lease.Envelope.IdempotencyKey = s
		case "enqueued_at":
			lease.Envelope.EnqueuedAt, _ = strconv.ParseInt(s, 10, 64)
		case "attempts":
			lease.Attempts, _ = strconv.Atoi(s)
		}
	}

	return lease
}

type Stats struct {
	TotalEntries   int64
	PendingEntries int64
	DelayedEntries int64
	ConsumerCount  int64
}

func (q *Queue) Stats() (*Stats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalEntries: total}

	if pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingEntries = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	return stats, nil
}

// Stop cancels the consume loop and waits for in-flight handlers.
func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}
