// Package dispatch consumes the delivery queue and runs jobs on a
// worker pool. One leased job occupies one worker for its whole run;
// the pool buffer backpressures the queue consumer when all workers
// are busy.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sendloop/wa-gateway/internal/queue"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/internal/transport"
	"github.com/sendloop/wa-gateway/pkg/logger"
	"github.com/sendloop/wa-gateway/pkg/redis"
	"github.com/sendloop/wa-gateway/pkg/worker"
)

const statsInterval = 30 * time.Second

type Config struct {
	WorkerCount  int
	WorkerBuffer int

	Executor ExecutorConfig
}

type Service struct {
	cfg      Config
	queue    *queue.Queue
	executor *Executor
	pool     *worker.Pool

	inFlight atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(
	cfg Config,
	q *queue.Queue,
	adapter redis.RedisAdapter,
	jobs *repository.DeliveryJobRepository,
	logs *repository.AttemptLogRepository,
	schedules *repository.ScheduleRepository,
	client transport.Client,
) *Service {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	if cfg.WorkerBuffer <= 0 {
		cfg.WorkerBuffer = 256
	}

	markers := newMarkerStore(adapter, cfg.Executor.MarkerTTL)
	executor := NewExecutor(cfg.Executor, jobs, logs, schedules, client, markers)

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		queue:    q,
		executor: executor,
		pool:     worker.NewPool(cfg.WorkerBuffer, cfg.WorkerCount),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool and begins consuming leases.
func (s *Service) Start() error {
	s.pool.SetHandler(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pool.Start()
	}()

	if err := s.queue.Consume(s.leaseHandler); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	s.wg.Add(1)
	go s.statsReporter()

	logger.Info("[dispatch] service started", "workers", s.cfg.WorkerCount, "buffer", s.cfg.WorkerBuffer)
	return nil
}

// InFlight reports jobs currently executing plus jobs waiting in the
// pool buffer. Used as the load signal for assignment decisions.
func (s *Service) InFlight() int64 {
	return s.inFlight.Load() + s.pool.Backlog()
}

type leasedJob struct {
	lease      *queue.Lease
	resultChan chan error
	ctx        context.Context
}

// leaseHandler hands a lease to the worker pool and blocks until a
// worker finishes it or the lease context expires. The blocking is what
// ties queue redelivery to actual worker capacity.
func (s *Service) leaseHandler(ctx context.Context, lease *queue.Lease) error {
	resultChan := make(chan error, 1)

	job := &leasedJob{
		lease:      lease,
		resultChan: resultChan,
		ctx:        ctx,
	}

	s.pool.Enqueue(job)

	select {
	case err := <-resultChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for worker: %w", ctx.Err())
	}
}

func (s *Service) workerHandler(workerIndex int, job interface{}) {
	leased, ok := job.(*leasedJob)
	if !ok {
		logger.Error("[dispatch] invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-leased.ctx.Done():
		logger.Warn("[dispatch] lease expired before worker picked it up",
			"worker", workerIndex, "job_id", leased.lease.Envelope.JobID)
		return
	default:
	}

	s.inFlight.Add(1)
	err := s.executor.Execute(leased.ctx, leased.lease.Envelope.JobID)
	s.inFlight.Add(-1)

	// if the lease handler already gave up on this job, there is no
	// receiver; the lease stays pending and gets reclaimed
	select {
	case leased.resultChan <- err:
	case <-leased.ctx.Done():
		logger.Warn("[dispatch] lease context done while reporting result",
			"worker", workerIndex, "job_id", leased.lease.Envelope.JobID)
	}
}

func (s *Service) statsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.queue.Stats()
			if err != nil {
				logger.Warn("[dispatch] queue stats unavailable", "error", err)
				continue
			}
			logger.Info("[dispatch] stats",
				"in_flight", s.InFlight(),
				"queue_total", stats.TotalEntries,
				"queue_pending", stats.PendingEntries,
				"consumers", stats.ConsumerCount,
			)
		}
	}
}

// Stop drains in order: stop leasing new jobs, let workers finish what
// they hold, then stop the background reporters.
func (s *Service) Stop(timeout time.Duration) {
	logger.Info("[dispatch] shutting down", "in_flight", s.InFlight())

	if err := s.queue.Stop(timeout); err != nil {
		logger.Error("[dispatch] queue stop failed", "error", err)
	}

	s.pool.Shutdown()
	s.cancel()
	s.wg.Wait()

	logger.Info("[dispatch] service stopped")
}
