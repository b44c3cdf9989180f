package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSchedule(t *testing.T, repo *ScheduleRepository, id, deviceID string, next time.Time) *model.RecurringSchedule {
	t.Helper()
	s, err := repo.Create(context.Background(), &model.RecurringSchedule{
		ID:         id,
		OwnerID:    "owner-1",
		DeviceID:   deviceID,
		Name:       "daily promo",
		Frequency:  model.FrequencyDaily,
		TimeOfDay:  "09:00",
		Timezone:   "UTC",
		StartDate:  next.Add(-24 * time.Hour),
		Recipients: []string{"+15550001"},
		Payload:    model.MessagePayload{Type: "text", Text: "hi"},
		Active:     true,
		NextSendAt: &next,
	})
	require.NoError(t, err)
	return s
}

func TestScheduleRepository_ListDue(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	devices := NewDeviceRepository(db)
	ctx := context.Background()

	serverA := "server-a"
	serverB := "server-b"
	seedDevice(t, devices, "dev-1", "owner-1", &serverA)
	seedDevice(t, devices, "dev-2", "owner-1", &serverB)

	now := time.Now()
	seedSchedule(t, repo, "sch-due", "dev-1", now.Add(-time.Minute))
	seedSchedule(t, repo, "sch-future", "dev-1", now.Add(time.Hour))
	seedSchedule(t, repo, "sch-other-server", "dev-2", now.Add(-time.Minute))

	due, err := repo.ListDue(ctx, "server-a", now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sch-due", due[0].ID)
	assert.Equal(t, []string{"+15550001"}, due[0].Recipients)
}

func TestScheduleRepository_Advance(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	s := seedSchedule(t, repo, "sch-1", "dev-1", now)
	next := now.Add(24 * time.Hour)

	t.Run("first advance wins", func(t *testing.T) {
		err := repo.Advance(ctx, s.ID, *s.NextSendAt, next, now)
		require.NoError(t, err)

		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NextSendAt)
		assert.WithinDuration(t, next, *got.NextSendAt, time.Second)
		require.NotNil(t, got.LastSentAt)
	})

	t.Run("second advance with stale next_send_at loses", func(t *testing.T) {
		err := repo.Advance(ctx, s.ID, *s.NextSendAt, next.Add(24*time.Hour), now)
		assert.ErrorIs(t, err, model.ErrDuplicateEnqueue)
	})
}

func TestScheduleRepository_Counters(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	now := time.Now()
	s := seedSchedule(t, repo, "sch-1", "dev-1", now)

	require.NoError(t, repo.IncrementExecutions(ctx, s.ID))
	require.NoError(t, repo.IncrementExecutions(ctx, s.ID))
	require.NoError(t, repo.AddCounters(ctx, s.ID, 48, 2))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ExecutionCount)
	assert.Equal(t, 48, got.TotalSent)
	assert.Equal(t, 2, got.TotalFailed)
}

func TestScheduleRepository_Deactivate(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	s := seedSchedule(t, repo, "sch-1", "dev-1", time.Now())

	require.NoError(t, repo.Deactivate(ctx, s.ID))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}
