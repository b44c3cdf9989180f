// Package health tracks server liveness and device delivery health. It
// reports and reconciles; it never retries or reconnects anything.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/pkg/clock"
	"github.com/sendloop/wa-gateway/pkg/logger"
)

// Classification thresholds for device error rate (percent) and daily
// reconnect counts.
const (
	warningErrorRate  = 5.0
	criticalErrorRate = 20.0

	warningReconnects  = 5
	criticalReconnects = 10
)

type Config struct {
	ServerID string

	// HeartbeatInterval and MissThreshold together define when a server
	// is declared dead: no heartbeat for MissThreshold * interval.
	HeartbeatInterval time.Duration
	MissThreshold     int

	SweepInterval time.Duration
}

type Monitor struct {
	cfg     Config
	servers *repository.ServerInstanceRepository
	devices *repository.DeviceRepository
	health  *repository.HealthRepository
	clock   clock.Clock

	// lastLevel remembers the previous classification per device so an
	// issue record is emitted only when the level changes. Guarded by mu:
	// the sweep loop and metric reports run on different goroutines.
	mu        sync.Mutex
	lastLevel map[string]model.HealthLevel
}

func NewMonitor(cfg Config, servers *repository.ServerInstanceRepository, devices *repository.DeviceRepository, health *repository.HealthRepository, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.System()
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = 3
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Monitor{
		cfg:       cfg,
		servers:   servers,
		devices:   devices,
		health:    health,
		clock:     clk,
		lastLevel: make(map[string]model.HealthLevel),
	}
}

// Run sweeps on an interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass: dead servers first, then device
// classification. Errors are logged, never fatal.
func (m *Monitor) Sweep(ctx context.Context) {
	if err := m.reconcileDeadServers(ctx); err != nil {
		logger.Error("dead server reconciliation failed", "error", err.Error())
	}
	if err := m.classifyDevices(ctx); err != nil {
		logger.Error("device classification failed", "error", err.Error())
	}
}

// reconcileDeadServers deactivates servers whose heartbeat is older than
// MissThreshold intervals and frees their devices for re-claim.
func (m *Monitor) reconcileDeadServers(ctx context.Context) error {
	cutoff := m.clock.Now().Add(-time.Duration(m.cfg.MissThreshold) * m.cfg.HeartbeatInterval)
	stale, err := m.servers.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, srv := range stale {
		if srv.ID == m.cfg.ServerID {
			// Our own row lagging means our heartbeat loop is stuck, not
			// that we are dead. Leave it to a healthier peer.
			continue
		}
		if err := m.servers.MarkInactive(ctx, srv.ID); err != nil {
			logger.Error("failed to deactivate dead server", "server_id", srv.ID, "error", err.Error())
			continue
		}
		freed, err := m.devices.ClearAssignmentsForServer(ctx, srv.ID)
		if err != nil {
			logger.Error("failed to clear assignments of dead server", "server_id", srv.ID, "error", err.Error())
			continue
		}
		logger.Warn("dead server deactivated, devices released",
			"server_id", srv.ID,
			"last_heartbeat", srv.LastHeartbeat,
			"devices_freed", freed)
	}
	return nil
}

func (m *Monitor) classifyDevices(ctx context.Context) error {
	metrics, err := m.health.ListMetricsForServer(ctx, m.cfg.ServerID)
	if err != nil {
		return err
	}

	for _, dm := range metrics {
		level, detail := Classify(dm)
		if !m.levelChanged(dm.DeviceID, level) {
			continue
		}
		if level == model.HealthLevelHealthy {
			continue
		}
		if _, err := m.health.RecordIssue(ctx, dm.DeviceID, level, detail); err != nil {
			logger.Error("failed to record health issue", "device_id", dm.DeviceID, "error", err.Error())
			continue
		}
		logger.Warn("device health issue", "device_id", dm.DeviceID, "level", string(level), "detail", detail)
	}
	return nil
}

// Classify maps a metrics snapshot to a health level with a short
// human-readable reason.
func Classify(dm *model.DeviceMetrics) (model.HealthLevel, string) {
	if dm.Status != model.DeviceStatusConnected {
		return model.HealthLevelOffline, fmt.Sprintf("device is %s", dm.Status)
	}

	switch {
	case dm.ErrorRatePercent > criticalErrorRate:
		return model.HealthLevelCritical, fmt.Sprintf("error rate %.1f%% above %.0f%%", dm.ErrorRatePercent, criticalErrorRate)
	case dm.ReconnectsToday >= criticalReconnects:
		return model.HealthLevelCritical, fmt.Sprintf("%d reconnects today", dm.ReconnectsToday)
	case dm.ErrorRatePercent >= warningErrorRate:
		return model.HealthLevelWarning, fmt.Sprintf("error rate %.1f%%", dm.ErrorRatePercent)
	case dm.ReconnectsToday >= warningReconnects:
		return model.HealthLevelWarning, fmt.Sprintf("%d reconnects today", dm.ReconnectsToday)
	}
	return model.HealthLevelHealthy, ""
}

// ReportMetrics stores a connector-side metrics snapshot and immediately
// classifies it, emitting an issue on a level change.
func (m *Monitor) ReportMetrics(ctx context.Context, dm *model.DeviceMetrics) error {
	if err := m.health.UpsertMetrics(ctx, dm); err != nil {
		return err
	}

	level, detail := Classify(dm)
	if !m.levelChanged(dm.DeviceID, level) {
		return nil
	}
	if level == model.HealthLevelHealthy {
		return nil
	}

	_, err := m.health.RecordIssue(ctx, dm.DeviceID, level, detail)
	return err
}

// levelChanged records the new level and reports whether it differs from
// the previous one.
func (m *Monitor) levelChanged(deviceID string, level model.HealthLevel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.lastLevel[deviceID]; ok && prev == level {
		return false
	}
	m.lastLevel[deviceID] = level
	return true
}
