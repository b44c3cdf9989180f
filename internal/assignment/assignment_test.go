package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/pkg/clock"
	"github.com/sendloop/wa-gateway/pkg/pg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&repository.ServerInstanceEntity{}, &repository.DeviceEntity{})
	require.NoError(t, err)

	return pg.NewFromGorm(db, db)
}

func newService(t *testing.T, db *pg.DB, serverID string) *Service {
	return NewService(Config{
		ServerID:          serverID,
		Priority:          1,
		HeartbeatInterval: 30 * time.Second,
	}, repository.NewServerInstanceRepository(db), repository.NewDeviceRepository(db), clock.System())
}

func createDevice(t *testing.T, db *pg.DB, id, owner string, server *string) {
	t.Helper()
	_, err := repository.NewDeviceRepository(db).Create(context.Background(), &model.Device{
		ID:               id,
		OwnerID:          owner,
		Name:             "device " + id,
		AssignedServerID: server,
		Status:           model.DeviceStatusConnected,
	})
	require.NoError(t, err)
}

func TestService_Register(t *testing.T) {
	db := setupDB(t)
	svc := newService(t, db, "server-a")
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx))
	// register again, must be idempotent
	require.NoError(t, svc.Register(ctx))

	got, err := repository.NewServerInstanceRepository(db).Get(ctx, "server-a")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.True(t, got.Healthy)
}

func TestService_Assign(t *testing.T) {
	db := setupDB(t)
	svcA := newService(t, db, "server-a")
	svcB := newService(t, db, "server-b")
	ctx := context.Background()

	t.Run("claims unassigned device", func(t *testing.T) {
		createDevice(t, db, "dev-1", "owner-1", nil)
		require.NoError(t, svcA.Assign(ctx, "dev-1", "owner-1"))
	})

	t.Run("re-assign to self is a no-op success", func(t *testing.T) {
		require.NoError(t, svcA.Assign(ctx, "dev-1", "owner-1"))
	})

	t.Run("ownership mismatch is rejected", func(t *testing.T) {
		err := svcA.Assign(ctx, "dev-1", "someone-else")
		assert.ErrorIs(t, err, model.ErrOwnershipMismatch)
	})

	t.Run("claimed device cannot be stolen", func(t *testing.T) {
		// B reads the device while it still looks owned by A and loses
		// the conditional write.
		createDevice(t, db, "dev-2", "owner-1", nil)
		require.NoError(t, svcA.Assign(ctx, "dev-2", "owner-1"))

		err := svcB.Assign(ctx, "dev-2", "owner-1")
		assert.ErrorIs(t, err, model.ErrAssignmentConflict)
	})

	t.Run("unknown device", func(t *testing.T) {
		err := svcA.Assign(ctx, "missing", "owner-1")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestService_ListOwnedDevices(t *testing.T) {
	db := setupDB(t)
	svcA := newService(t, db, "server-a")
	ctx := context.Background()

	serverA := "server-a"
	serverB := "server-b"
	createDevice(t, db, "dev-mine", "owner-1", &serverA)
	createDevice(t, db, "dev-unclaimed", "owner-1", nil)
	createDevice(t, db, "dev-theirs", "owner-2", &serverB)

	t.Run("mine or unclaimed", func(t *testing.T) {
		devices, err := svcA.ListOwnedDevices(ctx)
		require.NoError(t, err)
		require.Len(t, devices, 2)
	})

	t.Run("status filter", func(t *testing.T) {
		devices, err := svcA.ListOwnedDevices(ctx, model.DeviceStatusDisconnected)
		require.NoError(t, err)
		assert.Len(t, devices, 0)

		devices, err = svcA.ListOwnedDevices(ctx, model.DeviceStatusConnected)
		require.NoError(t, err)
		assert.Len(t, devices, 2)
	})
}

func TestService_ClaimUnassigned(t *testing.T) {
	db := setupDB(t)
	svcA := newService(t, db, "server-a")
	ctx := context.Background()

	serverB := "server-b"
	createDevice(t, db, "dev-freed", "owner-1", nil)
	createDevice(t, db, "dev-new", "owner-2", nil)
	createDevice(t, db, "dev-theirs", "owner-3", &serverB)

	claimed, err := svcA.ClaimUnassigned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	devices := repository.NewDeviceRepository(db)
	for _, id := range []string{"dev-freed", "dev-new"} {
		got, err := devices.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.AssignedServerID)
		assert.Equal(t, "server-a", *got.AssignedServerID)
	}

	got, err := devices.Get(ctx, "dev-theirs")
	require.NoError(t, err)
	require.NotNil(t, got.AssignedServerID)
	assert.Equal(t, "server-b", *got.AssignedServerID, "another server's device is left alone")

	// second sweep finds nothing left to claim
	claimed, err = svcA.ClaimUnassigned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, claimed)
}

func TestService_ConnectedDevices(t *testing.T) {
	db := setupDB(t)
	svcA := newService(t, db, "server-a")
	ctx := context.Background()

	serverA := "server-a"
	createDevice(t, db, "dev-1", "owner-1", &serverA)
	createDevice(t, db, "dev-2", "owner-1", &serverA)
	createDevice(t, db, "dev-elsewhere", "owner-1", nil)

	devices := repository.NewDeviceRepository(db)
	require.NoError(t, devices.UpdateStatus(ctx, "dev-2", model.DeviceStatusDisconnected, time.Now()))

	count, err := svcA.ConnectedDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestService_HeartbeatAndShutdown(t *testing.T) {
	db := setupDB(t)
	svc := newService(t, db, "server-a")
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx))

	svc.SetLoadFunc(func() int { return 3 })
	require.NoError(t, svc.Heartbeat(ctx))

	servers := repository.NewServerInstanceRepository(db)
	got, err := servers.Get(ctx, "server-a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentLoad)

	svc.Shutdown(ctx)

	got, err = servers.Get(ctx, "server-a")
	require.NoError(t, err)
	assert.False(t, got.Active)
}
