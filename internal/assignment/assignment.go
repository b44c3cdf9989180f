// Package assignment owns the Device -> ServerInstance mapping. Claims
// go through a conditional write so two instances racing on the same
// device resolve to exactly one owner.
package assignment

import (
	"context"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/pkg/clock"
	"github.com/sendloop/wa-gateway/pkg/logger"
	"github.com/sendloop/wa-gateway/pkg/prom"
)

type Config struct {
	ServerID          string
	Priority          int
	HeartbeatInterval time.Duration
	ClaimInterval     time.Duration
}

type Service struct {
	cfg     Config
	servers *repository.ServerInstanceRepository
	devices *repository.DeviceRepository
	clock   clock.Clock

	// load is a callback reporting the current number of in-flight jobs,
	// written into every heartbeat. Nil means always zero.
	load func() int
}

func NewService(cfg Config, servers *repository.ServerInstanceRepository, devices *repository.DeviceRepository, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		cfg:     cfg,
		servers: servers,
		devices: devices,
		clock:   clk,
	}
}

// SetLoadFunc installs the in-flight job counter reported on heartbeats.
func (s *Service) SetLoadFunc(f func() int) {
	s.load = f
}

func (s *Service) ServerID() string {
	return s.cfg.ServerID
}

// Register upserts this instance's row as active and healthy. Safe to
// call again after a restart with the same id.
func (s *Service) Register(ctx context.Context) error {
	now := s.clock.Now()
	_, err := s.servers.Upsert(ctx, &model.ServerInstance{
		ID:            s.cfg.ServerID,
		Active:        true,
		Healthy:       true,
		LastHeartbeat: now,
		CurrentLoad:   s.currentLoad(),
		Priority:      s.cfg.Priority,
	})
	if err != nil {
		return err
	}
	logger.Info("server instance registered", "server_id", s.cfg.ServerID, "priority", s.cfg.Priority)
	return nil
}

// Assign claims a device for this instance on behalf of ownerID. Already
// owning the device is a no-op success. Losing the conditional write
// returns ErrAssignmentConflict; the caller backs off and re-polls.
func (s *Service) Assign(ctx context.Context, deviceID, ownerID string) error {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.OwnerID != ownerID {
		logger.Warn("assignment rejected, ownership mismatch",
			"device_id", deviceID, "owner_id", ownerID)
		return model.ErrOwnershipMismatch
	}

	prev := ""
	if device.AssignedServerID != nil {
		prev = *device.AssignedServerID
	}
	if prev == s.cfg.ServerID {
		return nil
	}

	if err := s.devices.Claim(ctx, deviceID, device.AssignedServerID, s.cfg.ServerID); err != nil {
		if err == model.ErrAssignmentConflict {
			prom.IncCounter(prom.SystemAssignment, prom.MetricAssignmentConflicts)
			logger.Warn("device claim lost to another server",
				"device_id", deviceID, "server_id", s.cfg.ServerID)
		}
		return err
	}

	prom.IncCounter(prom.SystemAssignment, prom.MetricAssignmentClaims)
	logger.Info("device assigned",
		"device_id", deviceID,
		"old_server_id", prev,
		"new_server_id", s.cfg.ServerID)
	return nil
}

// ListOwnedDevices returns this instance's devices plus unclaimed ones,
// optionally filtered by status. The "mine-or-unclaimed" shape is how
// new and failed-over devices get picked up on the next poll.
func (s *Service) ListOwnedDevices(ctx context.Context, statuses ...model.DeviceStatus) ([]*model.Device, error) {
	devices, err := s.devices.ListClaimable(ctx, s.cfg.ServerID)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return devices, nil
	}

	want := make(map[model.DeviceStatus]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	filtered := devices[:0]
	for _, d := range devices {
		if _, ok := want[d.Status]; ok {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// ClaimUnassigned sweeps the claimable list and takes ownership of
// devices that currently have no server: new registrations and devices
// freed when the health monitor cleared a dead instance. Losing a claim
// race just means another instance picked the device up first.
func (s *Service) ClaimUnassigned(ctx context.Context) (int, error) {
	devices, err := s.devices.ListClaimable(ctx, s.cfg.ServerID)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, d := range devices {
		if d.AssignedServerID != nil {
			continue
		}
		if err := s.devices.Claim(ctx, d.ID, nil, s.cfg.ServerID); err != nil {
			if err == model.ErrAssignmentConflict {
				prom.IncCounter(prom.SystemAssignment, prom.MetricAssignmentConflicts)
				continue
			}
			return claimed, err
		}
		claimed++
		prom.IncCounter(prom.SystemAssignment, prom.MetricAssignmentClaims)
		logger.Info("unassigned device claimed", "device_id", d.ID, "server_id", s.cfg.ServerID)
	}
	return claimed, nil
}

// RunClaimLoop polls for unassigned devices until the context is
// cancelled. Runs alongside RunHeartbeat so freed devices are picked up
// without operator action.
func (s *Service) RunClaimLoop(ctx context.Context) {
	interval := s.cfg.ClaimInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ClaimUnassigned(ctx); err != nil {
				logger.Error("claim sweep failed", "server_id", s.cfg.ServerID, "error", err.Error())
			}
		}
	}
}

// ConnectedDevices counts this instance's devices with a live session,
// reported on the health endpoint.
func (s *Service) ConnectedDevices(ctx context.Context) (int64, error) {
	return s.devices.CountByServerAndStatus(ctx, s.cfg.ServerID, model.DeviceStatusConnected)
}

// Heartbeat writes a single liveness update.
func (s *Service) Heartbeat(ctx context.Context) error {
	return s.servers.Heartbeat(ctx, s.cfg.ServerID, s.currentLoad(), s.clock.Now())
}

// RunHeartbeat loops until the context is cancelled. A missed write is
// logged and retried on the next tick; the health monitor decides when
// missed heartbeats add up to a dead server.
func (s *Service) RunHeartbeat(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Heartbeat(ctx); err != nil {
				logger.Error("heartbeat write failed", "server_id", s.cfg.ServerID, "error", err.Error())
			}
		}
	}
}

// Shutdown marks this instance inactive. Best effort: a failure is
// logged and swallowed, the health sweep will catch the dead row later.
func (s *Service) Shutdown(ctx context.Context) {
	if err := s.servers.MarkInactive(ctx, s.cfg.ServerID); err != nil {
		logger.Error("failed to mark server inactive on shutdown",
			"server_id", s.cfg.ServerID, "error", err.Error())
		return
	}
	logger.Info("server instance marked inactive", "server_id", s.cfg.ServerID)
}

func (s *Service) currentLoad() int {
	if s.load == nil {
		return 0
	}
	return s.load()
}
