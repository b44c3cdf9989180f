package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDevice(t *testing.T, repo *DeviceRepository, id, owner string, server *string) *model.Device {
	t.Helper()
	d, err := repo.Create(context.Background(), &model.Device{
		ID:               id,
		OwnerID:          owner,
		Name:             "device " + id,
		AssignedServerID: server,
		Status:           model.DeviceStatusDisconnected,
	})
	require.NoError(t, err)
	return d
}

func TestDeviceRepository_Claim(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	t.Run("claim unassigned device", func(t *testing.T) {
		seedDevice(t, repo, "dev-1", "owner-1", nil)

		err := repo.Claim(ctx, "dev-1", nil, "server-a")
		require.NoError(t, err)

		d, err := repo.Get(ctx, "dev-1")
		require.NoError(t, err)
		require.NotNil(t, d.AssignedServerID)
		assert.Equal(t, "server-a", *d.AssignedServerID)
	})

	t.Run("claim loses when another server won", func(t *testing.T) {
		seedDevice(t, repo, "dev-2", "owner-1", nil)

		require.NoError(t, repo.Claim(ctx, "dev-2", nil, "server-a"))

		err := repo.Claim(ctx, "dev-2", nil, "server-b")
		assert.ErrorIs(t, err, model.ErrAssignmentConflict)

		d, err := repo.Get(ctx, "dev-2")
		require.NoError(t, err)
		assert.Equal(t, "server-a", *d.AssignedServerID)
	})

	t.Run("reclaim own device is allowed", func(t *testing.T) {
		serverA := "server-a"
		seedDevice(t, repo, "dev-3", "owner-1", &serverA)

		err := repo.Claim(ctx, "dev-3", &serverA, "server-a")
		require.NoError(t, err)
	})

	t.Run("takeover with stale expectation fails", func(t *testing.T) {
		serverA := "server-a"
		seedDevice(t, repo, "dev-4", "owner-1", &serverA)

		stale := "server-x"
		err := repo.Claim(ctx, "dev-4", &stale, "server-b")
		assert.ErrorIs(t, err, model.ErrAssignmentConflict)
	})
}

func TestDeviceRepository_Release(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	serverA := "server-a"
	seedDevice(t, repo, "dev-1", "owner-1", &serverA)

	t.Run("release by non-owner fails", func(t *testing.T) {
		err := repo.Release(ctx, "dev-1", "server-b")
		assert.ErrorIs(t, err, model.ErrOwnershipMismatch)
	})

	t.Run("release by owner clears assignment", func(t *testing.T) {
		err := repo.Release(ctx, "dev-1", "server-a")
		require.NoError(t, err)

		d, err := repo.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.Nil(t, d.AssignedServerID)
	})
}

func TestDeviceRepository_ListClaimable(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	serverA := "server-a"
	serverB := "server-b"
	seedDevice(t, repo, "dev-1", "owner-1", nil)
	seedDevice(t, repo, "dev-2", "owner-1", &serverA)
	seedDevice(t, repo, "dev-3", "owner-2", &serverB)

	devices, err := repo.ListClaimable(ctx, "server-a")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	ids := []string{devices[0].ID, devices[1].ID}
	assert.Contains(t, ids, "dev-1")
	assert.Contains(t, ids, "dev-2")
}

func TestDeviceRepository_ClearAssignmentsForServer(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	serverA := "server-a"
	serverB := "server-b"
	seedDevice(t, repo, "dev-1", "owner-1", &serverA)
	seedDevice(t, repo, "dev-2", "owner-1", &serverA)
	seedDevice(t, repo, "dev-3", "owner-2", &serverB)

	freed, err := repo.ClearAssignmentsForServer(ctx, "server-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), freed)

	remaining, err := repo.ListByServer(ctx, "server-b")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestDeviceRepository_UpdateStatus(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	seedDevice(t, repo, "dev-1", "owner-1", nil)

	now := time.Now()
	err := repo.UpdateStatus(ctx, "dev-1", model.DeviceStatusConnected, now)
	require.NoError(t, err)

	d, err := repo.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeviceStatusConnected, d.Status)
	require.NotNil(t, d.LastConnectedAt)

	err = repo.UpdateStatus(ctx, "missing", model.DeviceStatusConnected, now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
