package patient

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

var (
	genders     = []interface{}{"male", "female", "other", "unknown"}
	bloodGroups = []interface{}{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
)

const (
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

const (
	AllergyActive   = "active"
	AllergyInactive = "inactive"
	AllergyResolved = "resolved"
)

// Patient maps to the patient table. Address and emergency contact columns
// are encrypted when a PHI key is configured.
type Patient struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	MRN                   string     `db:"mrn" json:"mrn"`
	UserID                *string    `db:"user_id" json:"user_id,omitempty"`
	FirstName             string     `db:"first_name" json:"first_name"`
	LastName              string     `db:"last_name" json:"last_name"`
	BirthDate             *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender                *string    `db:"gender" json:"gender,omitempty"`
	Phone                 *string    `db:"phone" json:"phone,omitempty"`
	Email                 *string    `db:"email" json:"email,omitempty"`
	Address               *string    `db:"address" json:"address,omitempty"`
	BloodGroup            *string    `db:"blood_group" json:"blood_group,omitempty"`
	EmergencyContactName  *string    `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	Active                bool       `db:"active" json:"active"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

func (p Patient) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MRN, validation.Length(0, 32)),
		validation.Field(&p.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.BirthDate, validation.By(notInFuture)),
		validation.Field(&p.Gender, validation.In(genders...)),
		validation.Field(&p.Phone, validation.Length(3, 32)),
		validation.Field(&p.Email, is.EmailFormat),
		validation.Field(&p.BloodGroup, validation.In(bloodGroups...)),
		validation.Field(&p.EmergencyContactPhone, validation.Length(3, 32)),
	)
}

func notInFuture(v interface{}) error {
	t, ok := v.(*time.Time)
	if !ok || t == nil {
		return nil
	}
	if t.After(time.Now()) {
		return validation.NewError("validation_future_date", "must not be in the future")
	}
	return nil
}

// FullName is "First Last".
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Allergy maps to the allergy table.
type Allergy struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Substance string    `db:"substance" json:"substance"`
	Reaction  *string   `db:"reaction" json:"reaction,omitempty"`
	Severity  string    `db:"severity" json:"severity"`
	Status    string    `db:"status" json:"status"`
	NotedAt   time.Time `db:"noted_at" json:"noted_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (a Allergy) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Substance, validation.Required, validation.Length(1, 200)),
		validation.Field(&a.Reaction, validation.Length(0, 500)),
		validation.Field(&a.Severity, validation.Required, validation.In(SeverityMild, SeverityModerate, SeveritySevere)),
		validation.Field(&a.Status, validation.Required, validation.In(AllergyActive, AllergyInactive, AllergyResolved)),
	)
}
