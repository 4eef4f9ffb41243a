package emr

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/rules"
)

const (
	NoteDraft   = "draft"
	NoteSigned  = "signed"
	NoteAmended = "amended"
)

var noteTypes = []interface{}{"progress", "soap", "triage", "consultation", "procedure", "discharge"}

// ClinicalNote maps to the clinical_note table. Only drafts can change; a
// signed note is corrected by an amendment that references it.
type ClinicalNote struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AuthorID      string     `db:"author_id" json:"author_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	NoteType      string     `db:"note_type" json:"note_type"`
	Status        string     `db:"status" json:"status"`
	Subjective    *string    `db:"subjective" json:"subjective,omitempty"`
	Objective     *string    `db:"objective" json:"objective,omitempty"`
	Assessment    *string    `db:"assessment" json:"assessment,omitempty"`
	Plan          *string    `db:"plan" json:"plan,omitempty"`
	SignedBy      *string    `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt      *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	AmendsID      *uuid.UUID `db:"amends_id" json:"amends_id,omitempty"`
	AmendReason   *string    `db:"amend_reason" json:"amend_reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// SOAP is the editable body of a note.
type SOAP struct {
	Subjective *string `json:"subjective,omitempty"`
	Objective  *string `json:"objective,omitempty"`
	Assessment *string `json:"assessment,omitempty"`
	Plan       *string `json:"plan,omitempty"`
}

// soapRules validates the sections of s, which must be embedded in the
// struct being validated.
func soapRules(s *SOAP) []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(&s.Subjective, validation.Length(0, 20000)),
		validation.Field(&s.Objective, validation.Length(0, 20000)),
		validation.Field(&s.Assessment, validation.Length(0, 20000)),
		validation.Field(&s.Plan, validation.Length(0, 20000)),
	}
}

func (s SOAP) empty() bool {
	for _, v := range []*string{s.Subjective, s.Objective, s.Assessment, s.Plan} {
		if v != nil && *v != "" {
			return false
		}
	}
	return true
}

func (s SOAP) applyTo(n *ClinicalNote) {
	n.Subjective, n.Objective, n.Assessment, n.Plan = s.Subjective, s.Objective, s.Assessment, s.Plan
}

type CreateNoteRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	NoteType      string     `json:"note_type"`
	SOAP
}

func (r CreateNoteRequest) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.AppointmentID, rules.RequiredID),
		validation.Field(&r.NoteType, validation.Required, validation.In(noteTypes...)),
	}
	return validation.ValidateStruct(&r, append(fields, soapRules(&r.SOAP)...)...)
}

type UpdateNoteRequest struct {
	NoteType string `json:"note_type"`
	SOAP
}

func (r UpdateNoteRequest) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&r.NoteType, validation.In(noteTypes...)),
	}
	return validation.ValidateStruct(&r, append(fields, soapRules(&r.SOAP)...)...)
}

// AmendRequest replaces the sections it sets; unset sections carry over
// from the amended note.
type AmendRequest struct {
	Reason string `json:"reason"`
	SOAP
}

func (r AmendRequest) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 1000)),
	}
	return validation.ValidateStruct(&r, append(fields, soapRules(&r.SOAP)...)...)
}

// -- Assessments --

const (
	InstrumentPHQ9 = "phq9"
	InstrumentGAD7 = "gad7"
)

// Assessment maps to the assessment table. Responses hold the raw answers
// as JSON.
type Assessment struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	AssessmentType string          `db:"assessment_type" json:"assessment_type"`
	Score          *int            `db:"score" json:"score,omitempty"`
	Severity       *string         `db:"severity" json:"severity,omitempty"`
	Responses      json.RawMessage `db:"responses" json:"responses"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
	AssessedBy     string          `db:"assessed_by" json:"assessed_by"`
	AssessedAt     time.Time       `db:"assessed_at" json:"assessed_at"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

type AssessmentRequest struct {
	PatientID      uuid.UUID       `json:"patient_id"`
	AssessmentType string          `json:"assessment_type"`
	Score          *int            `json:"score,omitempty"`
	Severity       *string         `json:"severity,omitempty"`
	Responses      json.RawMessage `json:"responses,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	AssessedAt     *time.Time      `json:"assessed_at,omitempty"`
}

func (r AssessmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.AssessmentType, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Score, validation.Min(0)),
		validation.Field(&r.Severity, validation.Length(1, 64)),
		validation.Field(&r.Responses, validation.By(jsonValue)),
		validation.Field(&r.Notes, validation.Length(0, 4000)),
	)
}

func jsonValue(v interface{}) error {
	raw, _ := v.(json.RawMessage)
	if len(raw) > 0 && !json.Valid(raw) {
		return validation.NewError("validation_json", "must be valid JSON")
	}
	return nil
}

// -- Protocols --

// Protocol maps to the protocol table, a named list of care steps.
type Protocol struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Condition   *string   `db:"condition" json:"condition,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
	Steps       []string  `db:"steps" json:"steps"`
	Active      bool      `db:"active" json:"active"`
	CreatedBy   *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (p Protocol) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Condition, validation.Length(0, 200)),
		validation.Field(&p.Description, validation.Length(0, 4000)),
		validation.Field(&p.Steps, validation.Required, validation.Each(validation.Required, validation.Length(1, 1000))),
	)
}
