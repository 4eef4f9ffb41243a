package queue

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/rules"
)

const (
	KindTriage  = "triage"
	KindDoctor  = "doctor"
	KindGeneral = "general"
)

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServed    = "served"
	StatusCancelled = "cancelled"
)

const (
	PriorityEmergency = "emergency"
	PriorityUrgent    = "urgent"
	PriorityNormal    = "normal"
	PriorityLow       = "low"
)

// Lower rank is called first.
var priorityRanks = map[string]int{
	PriorityEmergency: 0,
	PriorityUrgent:    1,
	PriorityNormal:    2,
	PriorityLow:       3,
}

// PriorityRank returns the call order of p and false for unknown priorities.
func PriorityRank(p string) (int, bool) {
	r, ok := priorityRanks[p]
	return r, ok
}

var transitions = map[string]map[string]bool{
	StatusWaiting: {StatusCalled: true, StatusCancelled: true},
	StatusCalled:  {StatusWaiting: true, StatusServed: true, StatusCancelled: true},
}

func canTransition(from, to string) bool {
	return transitions[from][to]
}

// TokenLabel formats a token number for display boards, e.g. "T-007".
func TokenLabel(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// Queue maps to the queue table.
type Queue struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Kind           string    `db:"kind" json:"kind"`
	Department     *string   `db:"department" json:"department,omitempty"`
	PractitionerID *string   `db:"practitioner_id" json:"practitioner_id,omitempty"`
	TokenPrefix    string    `db:"token_prefix" json:"token_prefix"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (q Queue) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&q.Kind, validation.Required, validation.In(KindTriage, KindDoctor, KindGeneral)),
		validation.Field(&q.TokenPrefix, validation.Required, validation.Length(1, 8), rules.Code),
	)
}

// Ticket maps to the queue_ticket table.
type Ticket struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	QueueID        uuid.UUID  `db:"queue_id" json:"queue_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID  *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	TokenNumber    int        `db:"token_number" json:"token_number"`
	TokenLabel     string     `db:"token_label" json:"token_label"`
	Priority       string     `db:"priority" json:"priority"`
	Status         string     `db:"status" json:"status"`
	SourceTicketID *uuid.UUID `db:"source_ticket_id" json:"source_ticket_id,omitempty"`
	CalledBy       *string    `db:"called_by" json:"called_by,omitempty"`
	Counter        *string    `db:"counter" json:"counter,omitempty"`
	CalledAt       *time.Time `db:"called_at" json:"called_at,omitempty"`
	ServedAt       *time.Time `db:"served_at" json:"served_at,omitempty"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Note           *string    `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the ticket still holds a place in its queue.
func (t *Ticket) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusCalled
}

// before reports whether t is called ahead of o.
func (t *Ticket) before(o *Ticket) bool {
	tr, _ := PriorityRank(t.Priority)
	or, _ := PriorityRank(o.Priority)
	if tr != or {
		return tr < or
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.TokenNumber < o.TokenNumber
}

var priorityRule = validation.In(PriorityEmergency, PriorityUrgent, PriorityNormal, PriorityLow)

type IssueTicketRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	Priority      string     `json:"priority"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Note          *string    `json:"note,omitempty"`
}

func (r IssueTicketRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.Priority, priorityRule),
		validation.Field(&r.AppointmentID, rules.RequiredID),
	)
}

type CallNextRequest struct {
	Counter *string `json:"counter,omitempty"`
}

func (r CallNextRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Counter, validation.NilOrNotEmpty, validation.Length(1, 40)),
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

type CompleteTriageRequest struct {
	DoctorQueueID uuid.UUID `json:"doctor_queue_id"`
	Priority      string    `json:"priority"`
	Note          *string   `json:"note,omitempty"`
}

func (r CompleteTriageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DoctorQueueID, rules.RequiredID),
		validation.Field(&r.Priority, priorityRule),
	)
}

// Position is the number of waiting tickets called before a ticket.
type Position struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	TokenLabel string    `json:"token_label"`
	Ahead      int       `json:"ahead"`
	Position   int       `json:"position"`
}

// Board is what a waiting-room display renders.
type Board struct {
	Queue      *Queue    `json:"queue"`
	NowServing []*Ticket `json:"now_serving"`
	Waiting    []*Ticket `json:"waiting"`
}
