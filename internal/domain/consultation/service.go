package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/realtime"
)

// PatientLookup resolves the patient record behind a patient login.
// *patient.Service implements it.
type PatientLookup interface {
	GetPatientByUserID(ctx context.Context, userID string) (*patient.Patient, error)
}

type Service struct {
	consultations ConsultationRepository
	messages      MessageRepository
	patients      PatientLookup
	tx            db.Transactor
	events        realtime.Publisher
	now           func() time.Time
}

func NewService(consultations ConsultationRepository, messages MessageRepository, patients PatientLookup, tx db.Transactor, events realtime.Publisher) *Service {
	if events == nil {
		events = realtime.NopPublisher{}
	}
	return &Service{
		consultations: consultations,
		messages:      messages,
		patients:      patients,
		tx:            tx,
		events:        events,
		now:           time.Now,
	}
}

// actor is the caller of a consultation operation.
type actor struct {
	userID    string
	admin     bool
	patientID uuid.UUID // set for patient callers
}

func (a actor) isPatient() bool { return a.patientID != uuid.Nil }

func (a actor) role() string {
	if a.isPatient() {
		return SenderPatient
	}
	return SenderPractitioner
}

func (a actor) canAccess(c *Consultation) bool {
	switch {
	case a.admin:
		return true
	case a.isPatient():
		return c.PatientID == a.patientID
	default:
		return c.PractitionerID == a.userID
	}
}

func (s *Service) actor(ctx context.Context) (actor, error) {
	a := actor{userID: auth.UserIDFromContext(ctx)}
	switch {
	case auth.HasRole(ctx, auth.RoleAdmin):
		a.admin = true
		return a, nil
	case auth.HasRole(ctx, auth.RolePhysician):
		return a, nil
	case auth.HasRole(ctx, auth.RolePatient):
		p, err := s.patients.GetPatientByUserID(ctx, a.userID)
		if errors.Is(err, patient.ErrNotFound) {
			return a, fmt.Errorf("%w: no patient record linked to this login", ErrForbidden)
		}
		if err != nil {
			return a, err
		}
		a.patientID = p.ID
		return a, nil
	default:
		return a, ErrForbidden
	}
}

// load fetches id and checks the caller takes part in it.
func (s *Service) load(ctx context.Context, a actor, id uuid.UUID, forUpdate bool) (*Consultation, error) {
	get := s.consultations.GetByID
	if forUpdate {
		get = s.consultations.GetForUpdate
	}
	c, err := get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.canAccess(c) {
		return nil, ErrForbidden
	}
	return c, nil
}

// CanWatch reports whether the caller may follow consultation id live.
func (s *Service) CanWatch(ctx context.Context, id uuid.UUID) (bool, error) {
	a, err := s.actor(ctx)
	if errors.Is(err, ErrForbidden) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c, err := s.consultations.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.canAccess(c), nil
}

// publish pushes ev to everyone watching the consultation and to the
// practitioner's personal topic. Delivery is best effort.
func (s *Service) publish(ctx context.Context, c *Consultation, typ, resourceType, resourceID string, payload any) {
	for _, topic := range []string{realtime.ConsultationTopic(c.ID.String()), realtime.UserTopic(c.PractitionerID)} {
		ev := realtime.NewEvent(topic, typ, resourceType, resourceID, payload)
		if err := s.events.Publish(ctx, ev); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("consultation_id", c.ID.String()).Msg("publish consultation event")
		}
	}
}

// Request opens a consultation. A patient always requests for their own
// record.
func (s *Service) Request(ctx context.Context, req CreateRequest) (*Consultation, error) {
	a, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if a.isPatient() {
		req.PatientID = a.patientID
	}
	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c := &Consultation{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		AppointmentID:  req.AppointmentID,
		Mode:           req.Mode,
		Status:         StatusRequested,
		Reason:         req.Reason,
		RequestedBy:    a.userID,
	}
	if c.Mode == "" {
		c.Mode = ModeChat
	}
	if err := s.consultations.Create(ctx, c); err != nil {
		return nil, err
	}
	s.publish(ctx, c, "consultation.requested", "consultation", c.ID.String(), c)
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	a, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, a, id, false)
}

var validStatuses = map[string]bool{
	StatusRequested: true, StatusActive: true, StatusCompleted: true, StatusCancelled: true,
}

// List narrows params to the caller's own consultations unless the caller
// is an admin.
func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Consultation, int, error) {
	a, err := s.actor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if v, ok := params["status"]; ok && !validStatuses[v] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, v)
	}
	if v, ok := params["patient_id"]; ok {
		if _, err := uuid.Parse(v); err != nil {
			return nil, 0, fmt.Errorf("%w: invalid patient_id", ErrInvalidFilter)
		}
	}
	switch {
	case a.admin:
	case a.isPatient():
		params["patient_id"] = a.patientID.String()
	default:
		params["practitioner_id"] = a.userID
	}
	return s.consultations.Search(ctx, params, limit, offset)
}

// transition moves id to status to. practitionerOnly rejects patient callers.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, practitionerOnly bool, mutate func(c *Consultation, now time.Time)) (*Consultation, error) {
	a, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if practitionerOnly && a.isPatient() {
		return nil, fmt.Errorf("%w: only the practitioner can do this", ErrForbidden)
	}
	var c *Consultation
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.load(ctx, a, id, true); err != nil {
			return err
		}
		if !canTransition(c.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
		}
		c.Status = to
		mutate(c, s.now())
		return s.consultations.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, c, "consultation."+to, "consultation", c.ID.String(), c)
	return c, nil
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.transition(ctx, id, StatusActive, true, func(c *Consultation, now time.Time) {
		c.StartedAt = &now
	})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, req CompleteRequest) (*Consultation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusCompleted, true, func(c *Consultation, now time.Time) {
		c.EndedAt = &now
		if sum := strings.TrimSpace(req.Summary); sum != "" {
			c.Summary = &sum
		}
	})
}

// Cancel is open to both participants.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*Consultation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusCancelled, false, func(c *Consultation, now time.Time) {
		c.EndedAt = &now
		if r := strings.TrimSpace(req.Reason); r != "" {
			c.CancelReason = &r
		}
	})
}

// PostMessage appends to an active consultation and pushes the message to
// subscribers.
func (s *Service) PostMessage(ctx context.Context, id uuid.UUID, req MessageRequest) (*Message, error) {
	req.Body = strings.TrimSpace(req.Body)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	var (
		c *Consultation
		m *Message
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.load(ctx, a, id, true); err != nil {
			return err
		}
		if c.Status != StatusActive {
			return ErrNotActive
		}
		m = &Message{ConsultationID: c.ID, SenderID: a.userID, SenderRole: a.role(), Body: req.Body}
		return s.messages.Create(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, c, "message.created", "consultation_message", m.ID.String(), m)
	return m, nil
}

func (s *Service) ListMessages(ctx context.Context, id uuid.UUID, limit, offset int) ([]*Message, int, error) {
	a, err := s.actor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.load(ctx, a, id, false); err != nil {
		return nil, 0, err
	}
	return s.messages.ListByConsultation(ctx, id, limit, offset)
}
