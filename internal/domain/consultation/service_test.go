package consultation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/realtime"
)

// -- Mocks --

type mockConsultationRepo struct {
	store map[uuid.UUID]*Consultation
}

func (m *mockConsultationRepo) Create(_ context.Context, c *Consultation) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockConsultationRepo) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	c, ok := m.store[id]
	if !ok {
		return nil, errConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConsultationRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return m.GetByID(ctx, id)
}

func (m *mockConsultationRepo) Update(_ context.Context, c *Consultation) error {
	if _, ok := m.store[c.ID]; !ok {
		return errConsultationNotFound
	}
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockConsultationRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*Consultation, int, error) {
	var out []*Consultation
	for _, c := range m.store {
		if v, ok := params["patient_id"]; ok && c.PatientID.String() != v {
			continue
		}
		if v, ok := params["practitioner_id"]; ok && c.PractitionerID != v {
			continue
		}
		if v, ok := params["status"]; ok && c.Status != v {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

type mockMessageRepo struct {
	items []*Message
}

func (m *mockMessageRepo) Create(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	m.items = append(m.items, msg)
	return nil
}

func (m *mockMessageRepo) ListByConsultation(_ context.Context, id uuid.UUID, _, _ int) ([]*Message, int, error) {
	var out []*Message
	for _, msg := range m.items {
		if msg.ConsultationID == id {
			out = append(out, msg)
		}
	}
	return out, len(out), nil
}

type mockPatients map[string]*patient.Patient

func (m mockPatients) GetPatientByUserID(_ context.Context, userID string) (*patient.Patient, error) {
	p, ok := m[userID]
	if !ok {
		return nil, fmt.Errorf("patient %w", patient.ErrNotFound)
	}
	return p, nil
}

type recordingPublisher struct {
	events []realtime.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	r.events = append(r.events, ev)
	return nil
}

var (
	testNow      = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	alice        = &patient.Patient{ID: uuid.New(), FirstName: "Alice", LastName: "Ng"}
	bob          = &patient.Patient{ID: uuid.New(), FirstName: "Bob", LastName: "Ode"}
	doctorCtx    = auth.WithIdentity(context.Background(), "dr-1", auth.RolePhysician)
	otherDocCtx  = auth.WithIdentity(context.Background(), "dr-2", auth.RolePhysician)
	aliceCtx     = auth.WithIdentity(context.Background(), "alice-login", auth.RolePatient)
	bobCtx       = auth.WithIdentity(context.Background(), "bob-login", auth.RolePatient)
	adminCtx     = auth.WithIdentity(context.Background(), "root", auth.RoleAdmin)
	strangerCtx  = auth.WithIdentity(context.Background(), "eve-login", auth.RolePatient)
	nurseOnlyCtx = auth.WithIdentity(context.Background(), "nurse-1", auth.RoleNurse)
)

type fixture struct {
	svc      *Service
	repo     *mockConsultationRepo
	messages *mockMessageRepo
	events   *recordingPublisher
}

func newFixture() *fixture {
	f := &fixture{
		repo:     &mockConsultationRepo{store: make(map[uuid.UUID]*Consultation)},
		messages: &mockMessageRepo{},
		events:   &recordingPublisher{},
	}
	patients := mockPatients{"alice-login": alice, "bob-login": bob}
	f.svc = NewService(f.repo, f.messages, patients, db.NopTransactor{}, f.events)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) request(t *testing.T) *Consultation {
	t.Helper()
	c, err := f.svc.Request(aliceCtx, CreateRequest{PractitionerID: "dr-1"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return c
}

// -- Tests --

func TestService_Request_AsPatient(t *testing.T) {
	f := newFixture()
	// a patient cannot open a consultation for someone else
	c, err := f.svc.Request(aliceCtx, CreateRequest{PatientID: bob.ID, PractitionerID: " dr-1 ", Mode: ModeVideo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PatientID != alice.ID || c.PractitionerID != "dr-1" || c.Status != StatusRequested || c.Mode != ModeVideo {
		t.Errorf("unexpected consultation: %+v", c)
	}
	if c.RequestedBy != "alice-login" {
		t.Errorf("expected requested_by alice-login, got %s", c.RequestedBy)
	}
	if len(f.events.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.events.events))
	}
	if f.events.events[0].Topic != realtime.ConsultationTopic(c.ID.String()) || f.events.events[1].Topic != realtime.UserTopic("dr-1") {
		t.Errorf("unexpected topics %s, %s", f.events.events[0].Topic, f.events.events[1].Topic)
	}
}

func TestService_Request_AsPhysician(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Request(doctorCtx, CreateRequest{PractitionerID: "dr-1"}); err == nil {
		t.Error("expected patient_id to be required for staff")
	}
	c, err := f.svc.Request(doctorCtx, CreateRequest{PatientID: bob.ID, PractitionerID: "dr-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != ModeChat {
		t.Errorf("expected default chat mode, got %s", c.Mode)
	}
}

func TestService_Request_Forbidden(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Request(strangerCtx, CreateRequest{PractitionerID: "dr-1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for unlinked login, got %v", err)
	}
	if _, err := f.svc.Request(nurseOnlyCtx, CreateRequest{PatientID: bob.ID, PractitionerID: "dr-1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for nurse, got %v", err)
	}
}

func TestService_Access(t *testing.T) {
	f := newFixture()
	c := f.request(t)
	for name, ctx := range map[string]context.Context{"patient": aliceCtx, "doctor": doctorCtx, "admin": adminCtx} {
		if _, err := f.svc.Get(ctx, c.ID); err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
		}
	}
	for name, ctx := range map[string]context.Context{"other patient": bobCtx, "other doctor": otherDocCtx} {
		if _, err := f.svc.Get(ctx, c.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", name, err)
		}
	}
}

func TestService_CanWatch(t *testing.T) {
	f := newFixture()
	c := f.request(t)

	tests := []struct {
		name string
		ctx  context.Context
		id   uuid.UUID
		want bool
	}{
		{"own patient", aliceCtx, c.ID, true},
		{"assigned physician", doctorCtx, c.ID, true},
		{"admin", adminCtx, c.ID, true},
		{"other patient", bobCtx, c.ID, false},
		{"other physician", otherDocCtx, c.ID, false},
		{"unlinked login", strangerCtx, c.ID, false},
		{"nurse", nurseOnlyCtx, c.ID, false},
		{"unknown consultation", aliceCtx, uuid.New(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.CanWatch(tt.ctx, tt.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanWatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_Lifecycle(t *testing.T) {
	f := newFixture()
	c := f.request(t)

	if _, err := f.svc.Start(aliceCtx, c.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected patient start to be forbidden, got %v", err)
	}
	if _, err := f.svc.Complete(doctorCtx, c.ID, CompleteRequest{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected complete from requested to fail, got %v", err)
	}

	got, err := f.svc.Start(doctorCtx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusActive || got.StartedAt == nil || !got.StartedAt.Equal(testNow) {
		t.Errorf("unexpected started consultation: %+v", got)
	}

	got, err = f.svc.Complete(doctorCtx, c.ID, CompleteRequest{Summary: " rest and fluids "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.EndedAt == nil || *got.Summary != "rest and fluids" {
		t.Errorf("unexpected completed consultation: %+v", got)
	}
	if _, err := f.svc.Cancel(aliceCtx, c.ID, CancelRequest{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected cancel after completion to fail, got %v", err)
	}
}

func TestService_Cancel_ByPatient(t *testing.T) {
	f := newFixture()
	c := f.request(t)
	got, err := f.svc.Cancel(aliceCtx, c.ID, CancelRequest{Reason: "feeling better"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled || *got.CancelReason != "feeling better" || got.EndedAt == nil {
		t.Errorf("unexpected cancelled consultation: %+v", got)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Type != "consultation.cancelled" {
		t.Errorf("expected cancelled event, got %s", last.Type)
	}
}

func TestService_Messages(t *testing.T) {
	f := newFixture()
	c := f.request(t)

	if _, err := f.svc.PostMessage(aliceCtx, c.ID, MessageRequest{Body: "hello"}); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive before start, got %v", err)
	}
	if _, err := f.svc.Start(doctorCtx, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	m, err := f.svc.PostMessage(aliceCtx, c.ID, MessageRequest{Body: "  I have a rash  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.SenderRole != SenderPatient || m.SenderID != "alice-login" || m.Body != "I have a rash" {
		t.Errorf("unexpected message: %+v", m)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Type != "message.created" || last.ResourceID != m.ID.String() {
		t.Errorf("unexpected event: %+v", last)
	}

	reply, err := f.svc.PostMessage(doctorCtx, c.ID, MessageRequest{Body: "Send a photo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.SenderRole != SenderPractitioner {
		t.Errorf("expected practitioner role, got %s", reply.SenderRole)
	}

	if _, err := f.svc.PostMessage(bobCtx, c.ID, MessageRequest{Body: "hi"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.PostMessage(aliceCtx, c.ID, MessageRequest{Body: "   "}); err == nil {
		t.Error("expected empty body to be rejected")
	}

	items, total, err := f.svc.ListMessages(doctorCtx, c.ID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || items[0].ID != m.ID {
		t.Errorf("expected 2 messages oldest first, got %d", total)
	}
	if _, _, err := f.svc.ListMessages(otherDocCtx, c.ID, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestService_List_Scoped(t *testing.T) {
	f := newFixture()
	f.request(t)
	if _, err := f.svc.Request(doctorCtx, CreateRequest{PatientID: bob.ID, PractitionerID: "dr-2"}); err != nil {
		t.Fatalf("request: %v", err)
	}

	_, total, err := f.svc.List(aliceCtx, map[string]string{"patient_id": bob.ID.String()}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("expected patient to see only their own consultation, got %d", total)
	}
	if _, total, _ := f.svc.List(otherDocCtx, map[string]string{}, 20, 0); total != 1 {
		t.Errorf("expected dr-2 to see 1, got %d", total)
	}
	if _, total, _ := f.svc.List(adminCtx, map[string]string{}, 20, 0); total != 2 {
		t.Errorf("expected admin to see 2, got %d", total)
	}
	if _, _, err := f.svc.List(adminCtx, map[string]string{"status": "open"}, 20, 0); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("expected ErrInvalidFilter, got %v", err)
	}
}
