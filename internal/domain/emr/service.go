package emr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/db"
)

type Service struct {
	notes       NoteRepository
	assessments AssessmentRepository
	protocols   ProtocolRepository
	tx          db.Transactor
	now         func() time.Time
}

func NewService(notes NoteRepository, assessments AssessmentRepository, protocols ProtocolRepository, tx db.Transactor) *Service {
	return &Service{notes: notes, assessments: assessments, protocols: protocols, tx: tx, now: time.Now}
}

// -- Clinical Notes --

func (s *Service) CreateNote(ctx context.Context, req CreateNoteRequest, authorID string) (*ClinicalNote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	n := &ClinicalNote{
		PatientID:     req.PatientID,
		AuthorID:      authorID,
		AppointmentID: req.AppointmentID,
		NoteType:      req.NoteType,
		Status:        NoteDraft,
	}
	req.SOAP.applyTo(n)
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return s.notes.GetByID(ctx, id)
}

// editDraft loads a note for update and checks that editor may change it.
func (s *Service) editDraft(ctx context.Context, id uuid.UUID, editor string) (*ClinicalNote, error) {
	n, err := s.notes.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != NoteDraft {
		return nil, ErrNoteLocked
	}
	if n.AuthorID != editor {
		return nil, ErrNotAuthor
	}
	return n, nil
}

// UpdateNote replaces the sections of a draft. Only the author may edit.
func (s *Service) UpdateNote(ctx context.Context, id uuid.UUID, req UpdateNoteRequest, editor string) (*ClinicalNote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var n *ClinicalNote
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.editDraft(ctx, id, editor); err != nil {
			return err
		}
		if req.NoteType != "" {
			n.NoteType = req.NoteType
		}
		req.SOAP.applyTo(n)
		return s.notes.Update(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) DeleteNote(ctx context.Context, id uuid.UUID, editor string) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.editDraft(ctx, id, editor); err != nil {
			return err
		}
		return s.notes.Delete(ctx, id)
	})
}

// SignNote locks a draft. Empty notes cannot be signed.
func (s *Service) SignNote(ctx context.Context, id uuid.UUID, signer string) (*ClinicalNote, error) {
	var n *ClinicalNote
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.editDraft(ctx, id, signer); err != nil {
			return err
		}
		body := SOAP{Subjective: n.Subjective, Objective: n.Objective, Assessment: n.Assessment, Plan: n.Plan}
		if body.empty() {
			return ErrEmptyNote
		}
		now := s.now()
		n.Status, n.SignedBy, n.SignedAt = NoteSigned, &signer, &now
		return s.notes.Update(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// AmendNote marks a signed note amended and returns the draft that
// replaces it. The draft copies every section the request leaves unset.
func (s *Service) AmendNote(ctx context.Context, id uuid.UUID, req AmendRequest, author string) (*ClinicalNote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var amendment *ClinicalNote
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		orig, err := s.notes.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if orig.Status != NoteSigned {
			return ErrNotSigned
		}
		orig.Status = NoteAmended
		if err := s.notes.Update(ctx, orig); err != nil {
			return err
		}

		reason := strings.TrimSpace(req.Reason)
		amendment = &ClinicalNote{
			PatientID:     orig.PatientID,
			AuthorID:      author,
			AppointmentID: orig.AppointmentID,
			NoteType:      orig.NoteType,
			Status:        NoteDraft,
			Subjective:    pick(req.Subjective, orig.Subjective),
			Objective:     pick(req.Objective, orig.Objective),
			Assessment:    pick(req.Assessment, orig.Assessment),
			Plan:          pick(req.Plan, orig.Plan),
			AmendsID:      &orig.ID,
			AmendReason:   &reason,
		}
		return s.notes.Create(ctx, amendment)
	})
	if err != nil {
		return nil, err
	}
	return amendment, nil
}

func pick(v, fallback *string) *string {
	if v != nil {
		return v
	}
	return fallback
}

var noteStatuses = map[string]bool{NoteDraft: true, NoteSigned: true, NoteAmended: true}

func (s *Service) SearchNotes(ctx context.Context, params map[string]string, limit, offset int) ([]*ClinicalNote, int, error) {
	if v, ok := params["status"]; ok && !noteStatuses[v] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, v)
	}
	for _, k := range []string{"patient_id", "appointment_id"} {
		if v, ok := params[k]; ok {
			if _, err := uuid.Parse(v); err != nil {
				return nil, 0, fmt.Errorf("%w: invalid %s", ErrInvalidFilter, k)
			}
		}
	}
	return s.notes.Search(ctx, params, limit, offset)
}

// -- Assessments --

// RecordAssessment scores PHQ-9 and GAD-7 answers when no score is given
// and derives the severity band when none is given.
func (s *Service) RecordAssessment(ctx context.Context, req AssessmentRequest, assessedBy string) (*Assessment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &Assessment{
		PatientID:      req.PatientID,
		AssessmentType: strings.ToLower(strings.TrimSpace(req.AssessmentType)),
		Score:          req.Score,
		Severity:       req.Severity,
		Responses:      req.Responses,
		Notes:          req.Notes,
		AssessedBy:     assessedBy,
		AssessedAt:     s.now(),
	}
	if req.AssessedAt != nil {
		a.AssessedAt = *req.AssessedAt
	}
	if len(a.Responses) == 0 {
		a.Responses = []byte("[]")
	}
	if err := score(a); err != nil {
		return nil, err
	}
	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return s.assessments.GetByID(ctx, id)
}

func (s *Service) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	return s.assessments.Delete(ctx, id)
}

func (s *Service) ListAssessments(ctx context.Context, patientID uuid.UUID, assessmentType string, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.ListByPatient(ctx, patientID, strings.ToLower(assessmentType), limit, offset)
}

// -- Protocols --

func normalizeProtocol(p *Protocol) {
	p.Name = strings.TrimSpace(p.Name)
	for i := range p.Steps {
		p.Steps[i] = strings.TrimSpace(p.Steps[i])
	}
}

func (s *Service) CreateProtocol(ctx context.Context, p *Protocol, createdBy string) error {
	normalizeProtocol(p)
	if err := p.Validate(); err != nil {
		return err
	}
	p.Active = true
	if createdBy != "" {
		p.CreatedBy = &createdBy
	}
	return s.protocols.Create(ctx, p)
}

func (s *Service) GetProtocol(ctx context.Context, id uuid.UUID) (*Protocol, error) {
	return s.protocols.GetByID(ctx, id)
}

func (s *Service) UpdateProtocol(ctx context.Context, p *Protocol) error {
	normalizeProtocol(p)
	if err := p.Validate(); err != nil {
		return err
	}
	existing, err := s.protocols.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedBy = existing.CreatedBy
	return s.protocols.Update(ctx, p)
}

func (s *Service) DeleteProtocol(ctx context.Context, id uuid.UUID) error {
	return s.protocols.Delete(ctx, id)
}

func (s *Service) ListProtocols(ctx context.Context, params map[string]string, limit, offset int) ([]*Protocol, int, error) {
	if v, ok := params["active"]; ok && v != "true" && v != "false" {
		return nil, 0, fmt.Errorf("%w: active must be true or false", ErrInvalidFilter)
	}
	return s.protocols.List(ctx, params, limit, offset)
}
