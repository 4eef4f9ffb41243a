package scheduling

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/rules"
)

const (
	StatusBooked     = "booked"
	StatusArrived    = "arrived"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no_show"
)

const (
	KindInPerson = "in_person"
	KindOnline   = "online"
)

// blockingStatuses hold the practitioner's time.
var blockingStatuses = []string{StatusBooked, StatusArrived, StatusInProgress}

var transitions = map[string][]string{
	StatusBooked:     {StatusArrived, StatusCancelled, StatusNoShow},
	StatusArrived:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID string     `db:"practitioner_id" json:"practitioner_id"`
	StartTime      time.Time  `db:"start_time" json:"start_time"`
	EndTime        time.Time  `db:"end_time" json:"end_time"`
	Status         string     `db:"status" json:"status"`
	Kind           string     `db:"kind" json:"kind"`
	Reason         *string    `db:"reason" json:"reason,omitempty"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	QueueID        *uuid.UUID `db:"queue_id" json:"queue_id,omitempty"`
	TicketID       *uuid.UUID `db:"ticket_id" json:"ticket_id,omitempty"`
	CheckedInAt    *time.Time `db:"checked_in_at" json:"checked_in_at,omitempty"`
	CreatedBy      *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether [start, end) intersects the appointment.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

func (a *Appointment) Blocking() bool {
	for _, s := range blockingStatuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// -- Requests --

var endAfterStart = func(start time.Time) validation.Rule {
	return validation.By(func(v interface{}) error {
		end, _ := v.(time.Time)
		if !end.After(start) {
			return validation.NewError("validation_time_range", "must be after start_time")
		}
		return nil
	})
}

type BookRequest struct {
	PatientID      uuid.UUID `json:"patient_id"`
	PractitionerID string    `json:"practitioner_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Kind           string    `json:"kind"`
	Reason         *string   `json:"reason,omitempty"`
}

func (r BookRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.PractitionerID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.StartTime, validation.Required),
		validation.Field(&r.EndTime, validation.Required, endAfterStart(r.StartTime)),
		validation.Field(&r.Kind, validation.In(KindInPerson, KindOnline)),
		validation.Field(&r.Reason, validation.Length(0, 1000)),
	)
}

type RescheduleRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (r RescheduleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.StartTime, validation.Required),
		validation.Field(&r.EndTime, validation.Required, endAfterStart(r.StartTime)),
	)
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (r CancelRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

type CheckInRequest struct {
	QueueID  uuid.UUID `json:"queue_id"`
	Priority string    `json:"priority,omitempty"`
	Note     *string   `json:"note,omitempty"`
}

func (r CheckInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.QueueID, rules.RequiredID),
	)
}
