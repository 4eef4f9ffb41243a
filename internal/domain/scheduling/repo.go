package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
	// LockPractitioner serializes bookings of one practitioner until the
	// surrounding transaction ends.
	LockPractitioner(ctx context.Context, practitionerID string) error
	// HasOverlap ignores the appointment exclude.
	HasOverlap(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) (bool, error)
	ListByPractitionerDay(ctx context.Context, practitionerID string, from, to time.Time) ([]*Appointment, error)
}
