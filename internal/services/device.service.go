package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sendloop/wa-gateway/internal/health"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/clock"
)

type DeviceStore interface {
	Create(ctx context.Context, d *model.Device) (*model.Device, error)
	Get(ctx context.Context, id string) (*model.Device, error)
	ListByServer(ctx context.Context, serverID string) ([]*model.Device, error)
	UpdateStatus(ctx context.Context, deviceID string, status model.DeviceStatus, at time.Time) error
}

type Assigner interface {
	Assign(ctx context.Context, deviceID, ownerID string) error
	ServerID() string
}

type HealthReporter interface {
	ReportMetrics(ctx context.Context, dm *model.DeviceMetrics) error
}

type HealthStore interface {
	GetMetrics(ctx context.Context, deviceID string) (*model.DeviceMetrics, error)
	ListIssues(ctx context.Context, deviceID string, limit int) ([]*model.DeviceHealthIssue, error)
}

// DeviceService registers devices and exposes their assignment and
// health state. Claim semantics live in the assignment service; this
// layer adds ownership checks on top.
type DeviceService struct {
	devices  DeviceStore
	assigner Assigner
	health   HealthReporter
	store    HealthStore
	clock    clock.Clock
}

func NewDeviceService(devices DeviceStore, assigner Assigner, health HealthReporter, store HealthStore) *DeviceService {
	return &DeviceService{
		devices:  devices,
		assigner: assigner,
		health:   health,
		store:    store,
		clock:    clock.System(),
	}
}

type DeviceCreateRequest struct {
	OwnerID string
	Name    string
}

func (s *DeviceService) Create(ctx context.Context, p DeviceCreateRequest) (*model.Device, error) {
	if p.OwnerID == "" {
		return nil, model.NewValidationError("owner_id", "required")
	}
	if p.Name == "" {
		return nil, model.NewValidationError("name", "required")
	}

	now := s.clock.Now()
	return s.devices.Create(ctx, &model.Device{
		ID:        uuid.NewString(),
		OwnerID:   p.OwnerID,
		Name:      p.Name,
		Status:    model.DeviceStatusDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *DeviceService) Get(ctx context.Context, id string) (*model.Device, error) {
	return s.devices.Get(ctx, id)
}

// Assign claims the device for this server instance on behalf of its
// owner. Losing the claim race surfaces as ErrAssignmentConflict.
func (s *DeviceService) Assign(ctx context.Context, deviceID, ownerID string) error {
	return s.assigner.Assign(ctx, deviceID, ownerID)
}

// ReportStatus records a connection state change pushed by the
// connector.
func (s *DeviceService) ReportStatus(ctx context.Context, deviceID string, status model.DeviceStatus) error {
	switch status {
	case model.DeviceStatusConnected, model.DeviceStatusConnecting,
		model.DeviceStatusDisconnected, model.DeviceStatusError:
	default:
		return model.NewValidationError("status", "unknown device status")
	}
	return s.devices.UpdateStatus(ctx, deviceID, status, s.clock.Now())
}

// ReportMetrics ingests a metrics snapshot from the connector and runs
// it through health classification.
func (s *DeviceService) ReportMetrics(ctx context.Context, dm *model.DeviceMetrics) error {
	if dm.DeviceID == "" {
		return model.NewValidationError("device_id", "required")
	}
	if _, err := s.devices.Get(ctx, dm.DeviceID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}
	return s.health.ReportMetrics(ctx, dm)
}

// DeviceHealth is the combined health view for one device.
type DeviceHealth struct {
	Device  *model.Device              `json:"device"`
	Level   model.HealthLevel          `json:"level"`
	Metrics *model.DeviceMetrics       `json:"metrics,omitempty"`
	Issues  []*model.DeviceHealthIssue `json:"issues,omitempty"`
}

func (s *DeviceService) Health(ctx context.Context, deviceID string) (*DeviceHealth, error) {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	view := &DeviceHealth{Device: device, Level: model.HealthLevelOffline}

	metrics, err := s.store.GetMetrics(ctx, deviceID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if metrics != nil {
		view.Metrics = metrics
		view.Level, _ = health.Classify(metrics)
	}

	issues, err := s.store.ListIssues(ctx, deviceID, 20)
	if err != nil {
		return nil, err
	}
	view.Issues = issues

	return view, nil
}
