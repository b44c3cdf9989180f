package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/pkg/clock"
	"github.com/sendloop/wa-gateway/pkg/pg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStores(t *testing.T) (*repository.BroadcastRepository, *repository.ScheduleRepository, *repository.DeviceRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&repository.DeviceEntity{},
		&repository.BroadcastEntity{},
		&repository.RecurringScheduleEntity{},
	))
	store := pg.NewFromGorm(db, db)
	return repository.NewBroadcastRepository(store),
		repository.NewScheduleRepository(store),
		repository.NewDeviceRepository(store)
}

func createDevice(t *testing.T, devices *repository.DeviceRepository, ownerID string) *model.Device {
	d, err := devices.Create(context.Background(), &model.Device{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Name:    "primary",
		Status:  model.DeviceStatusConnected,
	})
	require.NoError(t, err)
	return d
}

func TestBroadcastService_Create(t *testing.T) {
	broadcasts, _, devices := setupStores(t)
	svc := NewBroadcastService(broadcasts, devices)
	ctx := context.Background()

	device := createDevice(t, devices, "owner-1")

	t.Run("immediate broadcast is pending", func(t *testing.T) {
		b, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Recipients: []string{"+15550001", "+15550002"},
			Payload:    model.MessagePayload{Type: "text", Text: "hi"},
		})
		require.NoError(t, err)
		assert.Equal(t, model.BroadcastStatusPending, b.Status)
		assert.NotEmpty(t, b.ID)
	})

	t.Run("recipients are deduplicated", func(t *testing.T) {
		b, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Recipients: []string{"+15550001", " +15550001 ", "", "+15550002"},
			Payload:    model.MessagePayload{Type: "text", Text: "hi"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"+15550001", "+15550002"}, b.Recipients)
	})

	t.Run("future scheduled_at is scheduled", func(t *testing.T) {
		at := time.Now().Add(time.Hour)
		b, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:     "owner-1",
			DeviceID:    device.ID,
			Recipients:  []string{"+15550001"},
			Payload:     model.MessagePayload{Type: "text", Text: "hi"},
			ScheduledAt: &at,
		})
		require.NoError(t, err)
		assert.Equal(t, model.BroadcastStatusScheduled, b.Status)
	})

	t.Run("past scheduled_at rejected", func(t *testing.T) {
		at := time.Now().Add(-time.Hour)
		_, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:     "owner-1",
			DeviceID:    device.ID,
			Recipients:  []string{"+15550001"},
			Payload:     model.MessagePayload{Type: "text", Text: "hi"},
			ScheduledAt: &at,
		})
		assert.ErrorIs(t, err, ErrScheduledInPast)
	})

	t.Run("foreign device rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:    "owner-2",
			DeviceID:   device.ID,
			Recipients: []string{"+15550001"},
			Payload:    model.MessagePayload{Type: "text", Text: "hi"},
		})
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("unknown device rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:    "owner-1",
			DeviceID:   uuid.NewString(),
			Recipients: []string{"+15550001"},
			Payload:    model.MessagePayload{Type: "text", Text: "hi"},
		})
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})

	t.Run("empty payload rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, model.BroadcastCreateRequest{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Recipients: []string{"+15550001"},
		})
		assert.True(t, model.IsValidation(err))
	})
}

func TestBroadcastService_Cancel(t *testing.T) {
	broadcasts, _, devices := setupStores(t)
	svc := NewBroadcastService(broadcasts, devices)
	ctx := context.Background()

	device := createDevice(t, devices, "owner-1")

	b, err := svc.Create(ctx, model.BroadcastCreateRequest{
		OwnerID:    "owner-1",
		DeviceID:   device.ID,
		Recipients: []string{"+15550001"},
		Payload:    model.MessagePayload{Type: "text", Text: "hi"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, b.ID))

	reloaded, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusCancelled, reloaded.Status)

	// enqueued and cancelled broadcasts cannot be cancelled again
	assert.ErrorIs(t, svc.Cancel(ctx, b.ID), model.ErrNotFound)
}

func TestScheduleService_Create(t *testing.T) {
	_, schedules, devices := setupStores(t)
	svc := NewScheduleService(schedules, devices)
	ctx := context.Background()

	device := createDevice(t, devices, "owner-1")

	// Monday 2026-08-31 08:00 UTC
	now := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	svc.SetClock(clock.NewFake(now))

	t.Run("first due time seeded", func(t *testing.T) {
		s, err := svc.Create(ctx, &model.RecurringSchedule{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Name:       "daily digest",
			Frequency:  model.FrequencyDaily,
			TimeOfDay:  "09:00",
			Timezone:   "UTC",
			StartDate:  now.AddDate(0, 0, -1),
			Recipients: []string{"+15550001"},
			Payload:    model.MessagePayload{Type: "text", Text: "digest"},
		})
		require.NoError(t, err)
		require.NotNil(t, s.NextSendAt)
		assert.Equal(t, time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC), s.NextSendAt.UTC())
		assert.True(t, s.Active)
	})

	t.Run("weekly seeds next listed weekday", func(t *testing.T) {
		s, err := svc.Create(ctx, &model.RecurringSchedule{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Name:       "tue+thu",
			Frequency:  model.FrequencyWeekly,
			Weekdays:   []time.Weekday{time.Tuesday, time.Thursday},
			TimeOfDay:  "10:30",
			Timezone:   "UTC",
			StartDate:  now,
			Recipients: []string{"+15550001"},
			Payload:    model.MessagePayload{Type: "text", Text: "digest"},
		})
		require.NoError(t, err)
		require.NotNil(t, s.NextSendAt)
		assert.Equal(t, time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC), s.NextSendAt.UTC())
	})

	t.Run("ended schedule rejected", func(t *testing.T) {
		end := now.AddDate(0, 0, -2)
		_, err := svc.Create(ctx, &model.RecurringSchedule{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Name:       "over",
			Frequency:  model.FrequencyDaily,
			TimeOfDay:  "09:00",
			Timezone:   "UTC",
			StartDate:  now.AddDate(0, 0, -10),
			EndDate:    &end,
			Recipients: []string{"+15550001"},
			Payload:    model.MessagePayload{Type: "text", Text: "digest"},
		})
		assert.ErrorIs(t, err, ErrNeverFires)
	})

	t.Run("bad cadence rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, &model.RecurringSchedule{
			OwnerID:    "owner-1",
			DeviceID:   device.ID,
			Name:       "broken",
			Frequency:  model.FrequencyWeekly,
			TimeOfDay:  "09:00",
			Timezone:   "UTC",
			StartDate:  now,
			Recipients: []string{"+15550001"},
			Payload:    model.MessagePayload{Type: "text", Text: "digest"},
		})
		assert.True(t, model.IsValidation(err))
	})
}
