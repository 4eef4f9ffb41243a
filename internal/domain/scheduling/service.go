package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/queue"
	"github.com/clinic/clinic/internal/platform/db"
)

// TicketIssuer puts a checked-in patient into a queue. *queue.Service
// implements it.
type TicketIssuer interface {
	IssueTicket(ctx context.Context, queueID uuid.UUID, req queue.IssueTicketRequest) (*queue.Ticket, error)
}

type Service struct {
	appointments AppointmentRepository
	tickets      TicketIssuer
	tx           db.Transactor
	now          func() time.Time
}

func NewService(appointments AppointmentRepository, tickets TicketIssuer, tx db.Transactor) *Service {
	return &Service{appointments: appointments, tickets: tickets, tx: tx, now: time.Now}
}

func (s *Service) Book(ctx context.Context, req BookRequest, createdBy string) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &Appointment{
		PatientID:      req.PatientID,
		PractitionerID: strings.TrimSpace(req.PractitionerID),
		StartTime:      req.StartTime.UTC(),
		EndTime:        req.EndTime.UTC(),
		Status:         StatusBooked,
		Kind:           req.Kind,
		Reason:         req.Reason,
	}
	if a.Kind == "" {
		a.Kind = KindInPerson
	}
	if createdBy != "" {
		a.CreatedBy = &createdBy
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.checkFree(ctx, a.PractitionerID, a.StartTime, a.EndTime, uuid.Nil); err != nil {
			return err
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// checkFree must run inside a transaction so the practitioner lock holds
// until the insert or update commits.
func (s *Service) checkFree(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) error {
	if err := s.appointments.LockPractitioner(ctx, practitionerID); err != nil {
		return err
	}
	busy, err := s.appointments.HasOverlap(ctx, practitionerID, start, end, exclude)
	if err != nil {
		return err
	}
	if busy {
		return ErrOverlap
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// Reschedule moves a booked appointment, keeping the overlap rule.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var a *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.appointments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if a.Status != StatusBooked {
			return fmt.Errorf("%w: only booked appointments can be rescheduled", ErrInvalidTransition)
		}
		start, end := req.StartTime.UTC(), req.EndTime.UTC()
		if err := s.checkFree(ctx, a.PractitionerID, start, end, a.ID); err != nil {
			return err
		}
		a.StartTime, a.EndTime = start, end
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// transition loads id for update, moves it to status to and applies mutate
// before saving.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, mutate func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	var a *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.appointments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if !canTransition(a.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
		}
		a.Status = to
		if mutate != nil {
			if err := mutate(ctx, a); err != nil {
				return err
			}
		}
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusCancelled, func(_ context.Context, a *Appointment) error {
		if r := strings.TrimSpace(req.Reason); r != "" {
			a.CancelReason = &r
		}
		return nil
	})
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, nil)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, nil)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, nil)
}

// CheckIn marks the patient arrived and issues a ticket in the given queue.
// Both happen in one transaction.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, req CheckInRequest) (*Appointment, *queue.Ticket, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	var t *queue.Ticket
	a, err := s.transition(ctx, id, StatusArrived, func(ctx context.Context, a *Appointment) error {
		var err error
		t, err = s.tickets.IssueTicket(ctx, req.QueueID, queue.IssueTicketRequest{
			PatientID:     a.PatientID,
			Priority:      req.Priority,
			AppointmentID: &a.ID,
			Note:          req.Note,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCheckIn, err)
		}
		now := s.now()
		a.QueueID, a.TicketID, a.CheckedInAt = &req.QueueID, &t.ID, &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return a, t, nil
}

var validStatuses = map[string]bool{
	StatusBooked: true, StatusArrived: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

func (s *Service) SearchAppointments(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	if v, ok := params["status"]; ok && !validStatuses[v] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, v)
	}
	if v, ok := params["patient_id"]; ok {
		if _, err := uuid.Parse(v); err != nil {
			return nil, 0, fmt.Errorf("%w: invalid patient_id", ErrInvalidFilter)
		}
	}
	for _, k := range []string{"from", "to"} {
		if v, ok := params[k]; ok {
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return nil, 0, fmt.Errorf("%w: %s must be RFC 3339", ErrInvalidFilter, k)
			}
		}
	}
	return s.appointments.Search(ctx, params, limit, offset)
}

// PractitionerDay lists the appointments starting on day (YYYY-MM-DD) in loc.
func (s *Service) PractitionerDay(ctx context.Context, practitionerID, day string, loc *time.Location) ([]*Appointment, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalidFilter)
	}
	return s.appointments.ListByPractitionerDay(ctx, practitionerID, from, from.AddDate(0, 0, 1))
}
