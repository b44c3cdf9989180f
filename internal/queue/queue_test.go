package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Unique connection name per test to avoid the global adapter cache
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testConfig(name string) Config {
	return Config{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
		IdempotencyTTL:    time.Minute,
	}
}

func TestQueue_EnqueueAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:jobs"))
	require.NoError(t, err)

	ctx := context.Background()

	_, err = q.Enqueue(ctx, Envelope{
		JobID:          "job-1",
		IdempotencyKey: "broadcast:bc-1",
	}, nil)
	require.NoError(t, err)

	received := make(chan Envelope, 1)
	err = q.Consume(func(ctx context.Context, lease *Lease) error {
		received <- lease.Envelope
		return nil
	})
	require.NoError(t, err)

	select {
	case env := <-received:
		assert.Equal(t, "job-1", env.JobID)
		assert.Equal(t, "broadcast:bc-1", env.IdempotencyKey)
	case <-time.After(2 * time.Second):
		t.Fatal("job not received")
	}

	require.NoError(t, q.Stop(time.Second))
}

func TestQueue_DuplicateEnqueueSuppressed(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:dedup"))
	require.NoError(t, err)

	ctx := context.Background()

	_, err = q.Enqueue(ctx, Envelope{JobID: "job-1", IdempotencyKey: "schedule:x:1700000000"}, nil)
	require.NoError(t, err)

	// second tick fires the same occurrence 100ms later
	time.Sleep(100 * time.Millisecond)
	_, err = q.Enqueue(ctx, Envelope{JobID: "job-2", IdempotencyKey: "schedule:x:1700000000"}, nil)
	assert.ErrorIs(t, err, model.ErrDuplicateEnqueue)

	depth, err := adapter.XLen("test:dedup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth, "exactly one job for the occurrence")
}

func TestQueue_EnqueueMissingKey(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:nokey"))
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), Envelope{JobID: "job-1"}, nil)
	assert.Error(t, err)
}

func TestQueue_DelayedEnqueue(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:delayed"))
	require.NoError(t, err)

	ctx := context.Background()

	_, err = q.Enqueue(ctx, Envelope{
		JobID:          "job-1",
		IdempotencyKey: "broadcast:bc-delayed",
	}, &EnqueueOptions{DelayUntil: time.Now().Add(time.Second)})
	require.NoError(t, err)

	depth, err := adapter.XLen("test:delayed")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth, "delayed job must not hit the stream yet")

	received := make(chan Envelope, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, lease *Lease) error {
		received <- lease.Envelope
		return nil
	}))
	defer q.Stop(time.Second)

	// not delivered before its due time
	select {
	case <-received:
		t.Fatal("delayed job delivered early")
	case <-time.After(500 * time.Millisecond):
	}

	// miniredis time does not advance on its own; push past the due time
	mr.FastForward(2 * time.Second)

	select {
	case env := <-received:
		assert.Equal(t, "job-1", env.JobID)
	case <-time.After(3 * time.Second):
		t.Fatal("delayed job never promoted")
	}
}

func TestQueue_FailedEnqueueReleasesReservation(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	// occupy the stream key with a plain string so XADD fails
	require.NoError(t, mr.Set("test:unreserve", "blocker"))

	q, err := New(adapter, testConfig("test:unreserve"))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = q.Enqueue(ctx, Envelope{JobID: "job-1", IdempotencyKey: "broadcast:bc-1"}, nil)
	require.Error(t, err)
	assert.False(t, mr.Exists("test:unreserve:idem:broadcast:bc-1"),
		"failed enqueue must not hold the idempotency key")

	// once the fault clears, the same occurrence goes through
	mr.Del("test:unreserve")
	_, err = q.Enqueue(ctx, Envelope{JobID: "job-1", IdempotencyKey: "broadcast:bc-1"}, nil)
	require.NoError(t, err)

	depth, err := adapter.XLen("test:unreserve")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestQueue_PromotionKeepsDelayedEntryUntilStreamed(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	// occupy the stream key with a plain string so XADD fails
	require.NoError(t, mr.Set("test:promote", "blocker"))

	q, err := New(adapter, testConfig("test:promote"))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = q.Enqueue(ctx, Envelope{
		JobID:          "job-1",
		IdempotencyKey: "broadcast:bc-1",
	}, &EnqueueOptions{DelayUntil: time.Now().Add(50 * time.Millisecond)})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	q.promoteDelayed()
	remaining, err := adapter.ZRangeByScoreWithLimit("test:promote:delayed", "-inf", "+inf", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "entry must survive a failed stream write")

	mr.Del("test:promote")
	q.promoteDelayed()

	depth, err := adapter.XLen("test:promote")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	remaining, err = adapter.ZRangeByScoreWithLimit("test:promote:delayed", "-inf", "+inf", 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestQueue_RetryAndDeadLetter(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	cfg := testConfig("test:retry")
	cfg.MaxRetries = 2
	cfg.VisibilityTimeout = 200 * time.Millisecond

	q, err := New(adapter, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = q.Enqueue(ctx, Envelope{JobID: "job-1", IdempotencyKey: "k1"}, nil)
	require.NoError(t, err)

	attempts := make(chan int, 16)
	require.NoError(t, q.Consume(func(ctx context.Context, lease *Lease) error {
		attempts <- lease.Attempts
		return assert.AnError
	}))
	defer q.Stop(time.Second)

	deadline := time.After(5 * time.Second)
	seen := 0
	for seen < cfg.MaxRetries {
		// reclaim needs the pending entry to look idle
		mr.FastForward(cfg.VisibilityTimeout)
		select {
		case <-attempts:
			seen++
		case <-deadline:
			t.Fatalf("saw %d attempts before deadline", seen)
		case <-time.After(150 * time.Millisecond):
		}
	}

	require.Eventually(t, func() bool {
		mr.FastForward(cfg.VisibilityTimeout)
		depth, err := adapter.XLen("test:retry:dlq")
		return err == nil && depth == 1
	}, 5*time.Second, 100*time.Millisecond, "exhausted job must land in the DLQ")
}

func TestQueue_Stats(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:stats"))
	require.NoError(t, err)

	ctx := context.Background()
	for i, key := range []string{"a", "b", "c"} {
		_, err = q.Enqueue(ctx, Envelope{JobID: string(rune('0' + i)), IdempotencyKey: key}, nil)
		require.NoError(t, err)
	}

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
}
