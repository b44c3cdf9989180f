package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRepository_UpsertMetrics(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewHealthRepository(db)
	ctx := context.Background()

	t.Run("insert then update", func(t *testing.T) {
		err := repo.UpsertMetrics(ctx, &model.DeviceMetrics{
			DeviceID:          "dev-1",
			Status:            model.DeviceStatusConnected,
			MessagesSentToday: 10,
		})
		require.NoError(t, err)

		err = repo.UpsertMetrics(ctx, &model.DeviceMetrics{
			DeviceID:            "dev-1",
			Status:              model.DeviceStatusConnected,
			MessagesSentToday:   90,
			MessagesFailedToday: 10,
		})
		require.NoError(t, err)

		got, err := repo.GetMetrics(ctx, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, int64(90), got.MessagesSentToday)
		assert.InDelta(t, 10.0, got.ErrorRatePercent, 0.01)
	})

	t.Run("missing device", func(t *testing.T) {
		_, err := repo.GetMetrics(ctx, "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestHealthRepository_ListMetricsForServer(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewHealthRepository(db)
	devices := NewDeviceRepository(db)
	ctx := context.Background()

	serverA := "server-a"
	serverB := "server-b"
	seedDevice(t, devices, "dev-1", "owner-1", &serverA)
	seedDevice(t, devices, "dev-2", "owner-1", &serverB)

	require.NoError(t, repo.UpsertMetrics(ctx, &model.DeviceMetrics{
		DeviceID: "dev-1", Status: model.DeviceStatusConnected,
	}))
	require.NoError(t, repo.UpsertMetrics(ctx, &model.DeviceMetrics{
		DeviceID: "dev-2", Status: model.DeviceStatusConnected,
	}))

	metrics, err := repo.ListMetricsForServer(ctx, "server-a")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "dev-1", metrics[0].DeviceID)
}

func TestHealthRepository_Issues(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewHealthRepository(db)
	ctx := context.Background()

	issue, err := repo.RecordIssue(ctx, "dev-1", model.HealthLevelCritical, "error rate 25.0% over threshold")
	require.NoError(t, err)
	assert.NotZero(t, issue.ID)

	_, err = repo.RecordIssue(ctx, "dev-1", model.HealthLevelWarning, "7 reconnects today")
	require.NoError(t, err)
	_, err = repo.RecordIssue(ctx, "dev-2", model.HealthLevelOffline, "device disconnected")
	require.NoError(t, err)

	issues, err := repo.ListIssues(ctx, "dev-1", 10)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestAttemptLogRepository_Append(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewAttemptLogRepository(db)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	log, err := repo.Append(ctx, &model.DeliveryAttemptLog{
		JobID:      "job-1",
		DeviceID:   "dev-1",
		Occurrence: "schedule:sch-1:1700000000",
		Outcomes: []model.RecipientOutcome{
			{Recipient: "+15550001", Status: model.OutcomeSent, Attempts: 1, At: time.Now()},
			{Recipient: "+15550002", Status: model.OutcomeFailed, Error: "timeout", Attempts: 3, At: time.Now()},
		},
		SentCount:   1,
		FailedCount: 1,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.NotZero(t, log.ID)

	byJob, err := repo.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Len(t, byJob[0].Outcomes, 2)
	assert.Equal(t, model.OutcomeFailed, byJob[0].Outcomes[1].Status)

	byDevice, err := repo.ListByDevice(ctx, "dev-1", 10)
	require.NoError(t, err)
	assert.Len(t, byDevice, 1)
}
