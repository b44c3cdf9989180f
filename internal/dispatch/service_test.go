package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/queue"
	"github.com/sendloop/wa-gateway/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_ConsumesAndExecutes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	adapter, err := redis.NewRedisAdapter(t.Name()+"-q-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	q, err := queue.New(adapter, queue.Config{
		Name:              "test:dispatch",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		IdempotencyTTL:    time.Minute,
	})
	require.NoError(t, err)

	svc := NewService(Config{
		WorkerCount:  2,
		WorkerBuffer: 16,
		Executor: ExecutorConfig{
			SendMaxAttempts: 3,
			RetryBackoff:    time.Millisecond,
		},
	}, q, adapter, env.jobs, env.logs, env.schedules, env.connector)

	job := env.createJob(t, recipients(5), 10)
	_, err = q.Enqueue(ctx, queue.Envelope{
		JobID:          job.ID,
		IdempotencyKey: job.IdempotencyKey,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Start())

	require.Eventually(t, func() bool {
		reloaded, err := env.jobs.Get(ctx, job.ID)
		return err == nil && reloaded.Status == model.JobStatusCompleted
	}, 5*time.Second, 50*time.Millisecond, "job never completed")

	assert.Equal(t, 5, env.connector.sentCount())

	reloaded, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.SentCount)

	svc.Stop(2 * time.Second)
	assert.Equal(t, int64(0), svc.InFlight())
}

func TestQueueRedeliveryFinishesJob(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	adapter, err := redis.NewRedisAdapter(t.Name()+"-q-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	q, err := queue.New(adapter, queue.Config{
		Name:              "test:dispatch-retry",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 200 * time.Millisecond,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		IdempotencyTTL:    time.Minute,
	})
	require.NoError(t, err)

	exec := env.executor(ExecutorConfig{SendMaxAttempts: 3})
	job := env.createJob(t, recipients(3), 10)

	// first delivery dies before touching the job; the queue must
	// redeliver after the visibility timeout and the second run
	// finishes the job
	var deliveries atomic.Int32
	require.NoError(t, q.Consume(func(ctx context.Context, lease *queue.Lease) error {
		if deliveries.Add(1) == 1 {
			return fmt.Errorf("worker crashed")
		}
		return exec.Execute(ctx, lease.Envelope.JobID)
	}))

	_, err = q.Enqueue(ctx, queue.Envelope{
		JobID:          job.ID,
		IdempotencyKey: job.IdempotencyKey,
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reloaded, err := env.jobs.Get(ctx, job.ID)
		return err == nil && reloaded.Status == model.JobStatusCompleted
	}, 5*time.Second, 50*time.Millisecond, "job never completed after redelivery")

	assert.GreaterOrEqual(t, deliveries.Load(), int32(2))
	assert.Equal(t, 3, env.connector.sentCount())

	require.NoError(t, q.Stop(2*time.Second))
}
