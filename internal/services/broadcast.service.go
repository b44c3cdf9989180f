package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/clock"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrNotOwner          = errors.New("device does not belong to owner")
	ErrTooManyRecipients = errors.New("recipient list exceeds maximum size")
	ErrScheduledInPast   = errors.New("scheduled_at must be in the future")
)

const maxRecipients = 10_000

type BroadcastRepository interface {
	Create(ctx context.Context, b *model.Broadcast) (*model.Broadcast, error)
	Get(ctx context.Context, id string) (*model.Broadcast, error)
	Cancel(ctx context.Context, id string) error
}

type DeviceRepository interface {
	Get(ctx context.Context, id string) (*model.Device, error)
}

// BroadcastService is the intake path for one-shot broadcasts. It only
// writes the row; the scheduler turns due rows into delivery jobs on
// its next tick.
type BroadcastService struct {
	broadcasts BroadcastRepository
	devices    DeviceRepository
	clock      clock.Clock
}

func NewBroadcastService(broadcasts BroadcastRepository, devices DeviceRepository) *BroadcastService {
	return &BroadcastService{
		broadcasts: broadcasts,
		devices:    devices,
		clock:      clock.System(),
	}
}

func (s *BroadcastService) SetClock(c clock.Clock) { s.clock = c }

func (s *BroadcastService) Create(ctx context.Context, p model.BroadcastCreateRequest) (*model.Broadcast, error) {
	if err := p.Validate(); err != nil {
		return nil, model.NewValidationError("broadcast", err.Error())
	}

	recipients := normalizeRecipients(p.Recipients)
	if len(recipients) == 0 {
		return nil, model.NewValidationError("recipients", "no valid recipients")
	}
	if len(recipients) > maxRecipients {
		return nil, ErrTooManyRecipients
	}

	device, err := s.devices.Get(ctx, p.DeviceID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if device.OwnerID != p.OwnerID {
		return nil, ErrNotOwner
	}

	now := s.clock.Now()
	status := model.BroadcastStatusPending
	if p.ScheduledAt != nil {
		if !p.ScheduledAt.After(now) {
			return nil, ErrScheduledInPast
		}
		status = model.BroadcastStatusScheduled
	}

	return s.broadcasts.Create(ctx, &model.Broadcast{
		ID:          uuid.NewString(),
		OwnerID:     p.OwnerID,
		DeviceID:    p.DeviceID,
		Recipients:  recipients,
		Payload:     p.Payload,
		Batch:       p.Batch,
		Delay:       p.Delay,
		Status:      status,
		ScheduledAt: p.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *BroadcastService) Get(ctx context.Context, id string) (*model.Broadcast, error) {
	return s.broadcasts.Get(ctx, id)
}

// Cancel stops a broadcast that has not been enqueued yet. Once the
// scheduler took it, cancellation goes through the job instead.
func (s *BroadcastService) Cancel(ctx context.Context, id string) error {
	return s.broadcasts.Cancel(ctx, id)
}

// normalizeRecipients trims whitespace, drops empties and removes
// duplicates while keeping the original order.
func normalizeRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
