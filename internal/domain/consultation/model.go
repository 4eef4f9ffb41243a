package consultation

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/rules"
)

const (
	StatusRequested = "requested"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	ModeChat  = "chat"
	ModeVideo = "video"
)

const (
	SenderPatient      = "patient"
	SenderPractitioner = "practitioner"
)

var transitions = map[string][]string{
	StatusRequested: {StatusActive, StatusCancelled},
	StatusActive:    {StatusCompleted, StatusCancelled},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Consultation maps to the consultation table.
type Consultation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID string     `db:"practitioner_id" json:"practitioner_id"`
	AppointmentID  *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Mode           string     `db:"mode" json:"mode"`
	Status         string     `db:"status" json:"status"`
	Reason         *string    `db:"reason" json:"reason,omitempty"`
	RequestedBy    string     `db:"requested_by" json:"requested_by"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	Summary        *string    `db:"summary" json:"summary,omitempty"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Message maps to the consultation_message table.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	SenderRole     string    `db:"sender_role" json:"sender_role"`
	Body           string    `db:"body" json:"body"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// CreateRequest opens a consultation. PatientID is ignored when a patient
// requests for themselves.
type CreateRequest struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	PractitionerID string     `json:"practitioner_id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	Mode           string     `json:"mode"`
	Reason         *string    `json:"reason,omitempty"`
}

func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.PractitionerID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.AppointmentID, rules.RequiredID),
		validation.Field(&r.Mode, validation.In(ModeChat, ModeVideo)),
		validation.Field(&r.Reason, validation.Length(0, 1000)),
	)
}

type CompleteRequest struct {
	Summary string `json:"summary"`
}

func (r CompleteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Summary, validation.Length(0, 10000)),
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

type MessageRequest struct {
	Body string `json:"body"`
}

func (r MessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Body, validation.Required, validation.Length(1, 4000)),
	)
}
