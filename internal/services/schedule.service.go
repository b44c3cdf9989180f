package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/scheduler"
	"github.com/sendloop/wa-gateway/pkg/clock"
)

var ErrNeverFires = errors.New("schedule would never fire")

type ScheduleRepository interface {
	Create(ctx context.Context, s *model.RecurringSchedule) (*model.RecurringSchedule, error)
	Get(ctx context.Context, id string) (*model.RecurringSchedule, error)
	Deactivate(ctx context.Context, id string) error
}

// ScheduleService validates recurring schedules and seeds their first
// due time. Subsequent due times are advanced by the scheduler after
// each firing.
type ScheduleService struct {
	schedules ScheduleRepository
	devices   DeviceRepository
	clock     clock.Clock
}

func NewScheduleService(schedules ScheduleRepository, devices DeviceRepository) *ScheduleService {
	return &ScheduleService{
		schedules: schedules,
		devices:   devices,
		clock:     clock.System(),
	}
}

func (s *ScheduleService) SetClock(c clock.Clock) { s.clock = c }

func (s *ScheduleService) Create(ctx context.Context, in *model.RecurringSchedule) (*model.RecurringSchedule, error) {
	if err := in.Validate(); err != nil {
		return nil, model.NewValidationError("schedule", err.Error())
	}

	in.Recipients = normalizeRecipients(in.Recipients)
	if len(in.Recipients) == 0 {
		return nil, model.NewValidationError("recipients", "no valid recipients")
	}
	if len(in.Recipients) > maxRecipients {
		return nil, ErrTooManyRecipients
	}

	device, err := s.devices.Get(ctx, in.DeviceID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if device.OwnerID != in.OwnerID {
		return nil, ErrNotOwner
	}

	now := s.clock.Now()
	first := scheduler.NextAfter(in, now)
	if first.IsZero() {
		return nil, ErrNeverFires
	}

	in.ID = uuid.NewString()
	in.Active = true
	in.NextSendAt = &first
	in.ExecutionCount = 0
	in.TotalSent = 0
	in.TotalFailed = 0
	in.CreatedAt = now
	in.UpdatedAt = now

	return s.schedules.Create(ctx, in)
}

func (s *ScheduleService) Get(ctx context.Context, id string) (*model.RecurringSchedule, error) {
	return s.schedules.Get(ctx, id)
}

func (s *ScheduleService) Deactivate(ctx context.Context, id string) error {
	return s.schedules.Deactivate(ctx, id)
}
