package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	patients  PatientRepository
	allergies AllergyRepository
	now       func() time.Time
}

func NewService(patients PatientRepository, allergies AllergyRepository) *Service {
	return &Service{patients: patients, allergies: allergies, now: time.Now}
}

func normalize(p *Patient) {
	p.MRN = strings.ToUpper(strings.TrimSpace(p.MRN))
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.UserID != nil && *p.UserID == "" {
		p.UserID = nil
	}
}

// -- Patient --

// CreatePatient generates an MRN when none is given.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	normalize(p)
	if err := p.Validate(); err != nil {
		return err
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.patients.GetByMRN(ctx, strings.TrimSpace(mrn))
}

// GetPatientByUserID resolves the record linked to a login.
func (s *Service) GetPatientByUserID(ctx context.Context, userID string) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	normalize(p)
	if err := p.Validate(); err != nil {
		return err
	}
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.MRN == "" {
		p.MRN = existing.MRN
	}
	p.CreatedAt = existing.CreatedAt
	return s.patients.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	if q, ok := params["q"]; ok {
		q = strings.TrimSpace(q)
		if q == "" {
			delete(params, "q")
		} else {
			params["q"] = q
		}
	}
	if v, ok := params["active"]; ok && v != "true" && v != "false" {
		return nil, 0, fmt.Errorf("%w: active must be true or false", ErrInvalidFilter)
	}
	return s.patients.Search(ctx, params, limit, offset)
}

// -- Allergy --

func (s *Service) AddAllergy(ctx context.Context, patientID uuid.UUID, a *Allergy) error {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return err
	}
	a.PatientID = patientID
	if a.Status == "" {
		a.Status = AllergyActive
	}
	if a.NotedAt.IsZero() {
		a.NotedAt = s.now()
	}
	if err := a.Validate(); err != nil {
		return err
	}
	return s.allergies.Create(ctx, a)
}

func (s *Service) ListAllergies(ctx context.Context, patientID uuid.UUID, status string) ([]*Allergy, error) {
	switch status {
	case "", AllergyActive, AllergyInactive, AllergyResolved:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, status)
	}
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.allergies.ListByPatient(ctx, patientID, status)
}

// UpdateAllergy keeps the patient and creation time of the stored record.
func (s *Service) UpdateAllergy(ctx context.Context, a *Allergy) error {
	existing, err := s.allergies.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	a.PatientID = existing.PatientID
	a.CreatedAt = existing.CreatedAt
	if a.NotedAt.IsZero() {
		a.NotedAt = existing.NotedAt
	}
	if err := a.Validate(); err != nil {
		return err
	}
	return s.allergies.Update(ctx, a)
}

func (s *Service) DeleteAllergy(ctx context.Context, id uuid.UUID) error {
	return s.allergies.Delete(ctx, id)
}
