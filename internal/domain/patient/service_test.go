package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	store map[uuid.UUID]*Patient
	seq   int
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) conflict(p *Patient) error {
	for id, o := range m.store {
		if id == p.ID {
			continue
		}
		if strings.EqualFold(o.MRN, p.MRN) {
			return ErrDuplicateMRN
		}
		if p.UserID != nil && o.UserID != nil && *o.UserID == *p.UserID {
			return ErrUserLinked
		}
	}
	return nil
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	if p.MRN == "" {
		m.seq++
		p.MRN = fmt.Sprintf("MRN-2026-%06d", m.seq)
	}
	if err := m.conflict(p); err != nil {
		return err
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, errPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	for _, p := range m.store {
		if strings.EqualFold(p.MRN, mrn) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errPatientNotFound
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID string) (*Patient, error) {
	for _, p := range m.store {
		if p.UserID != nil && *p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errPatientNotFound
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.store[p.ID]; !ok {
		return errPatientNotFound
	}
	if err := m.conflict(p); err != nil {
		return err
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return errPatientNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockPatientRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.store {
		if q, ok := params["q"]; ok {
			q = strings.ToLower(q)
			hay := strings.ToLower(p.FullName() + " " + p.MRN)
			if p.Phone != nil {
				hay += " " + *p.Phone
			}
			if !strings.Contains(hay, q) {
				continue
			}
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockAllergyRepo struct {
	store map[uuid.UUID]*Allergy
}

func newMockAllergyRepo() *mockAllergyRepo {
	return &mockAllergyRepo{store: make(map[uuid.UUID]*Allergy)}
}

func (m *mockAllergyRepo) Create(_ context.Context, a *Allergy) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockAllergyRepo) GetByID(_ context.Context, id uuid.UUID) (*Allergy, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, errAllergyNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAllergyRepo) Update(_ context.Context, a *Allergy) error {
	if _, ok := m.store[a.ID]; !ok {
		return errAllergyNotFound
	}
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockAllergyRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return errAllergyNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockAllergyRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status string) ([]*Allergy, error) {
	var out []*Allergy
	for _, a := range m.store {
		if a.PatientID == patientID && (status == "" || a.Status == status) {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestService() *Service {
	return NewService(newMockPatientRepo(), newMockAllergyRepo())
}

func ptrStr(s string) *string { return &s }

func mustPatient(t *testing.T, svc *Service, p *Patient) *Patient {
	t.Helper()
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

// -- Patient Tests --

func TestService_CreatePatient_GeneratesMRN(t *testing.T) {
	svc := newTestService()
	p := mustPatient(t, svc, &Patient{FirstName: " Ada ", LastName: "Lovelace"})
	if !strings.HasPrefix(p.MRN, "MRN-") {
		t.Errorf("expected generated MRN, got %q", p.MRN)
	}
	if !p.Active {
		t.Error("expected new patient to be active")
	}
	if p.FirstName != "Ada" {
		t.Errorf("expected trimmed first name, got %q", p.FirstName)
	}
}

func TestService_CreatePatient_KeepsGivenMRN(t *testing.T) {
	svc := newTestService()
	p := mustPatient(t, svc, &Patient{MRN: " legacy-42 ", FirstName: "Alan", LastName: "Turing"})
	if p.MRN != "LEGACY-42" {
		t.Errorf("expected normalized MRN, got %q", p.MRN)
	}

	err := svc.CreatePatient(context.Background(), &Patient{MRN: "Legacy-42", FirstName: "X", LastName: "Y"})
	if !errors.Is(err, ErrDuplicateMRN) {
		t.Errorf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestService_CreatePatient_Validation(t *testing.T) {
	svc := newTestService()
	future := time.Now().AddDate(1, 0, 0)
	cases := []*Patient{
		{LastName: "NoFirst"},
		{FirstName: "NoLast"},
		{FirstName: "A", LastName: "B", Email: ptrStr("not-an-email")},
		{FirstName: "A", LastName: "B", Gender: ptrStr("robot")},
		{FirstName: "A", LastName: "B", BloodGroup: ptrStr("C+")},
		{FirstName: "A", LastName: "B", BirthDate: &future},
	}
	for i, p := range cases {
		if err := svc.CreatePatient(context.Background(), p); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestService_UpdatePatient_KeepsMRN(t *testing.T) {
	svc := newTestService()
	p := mustPatient(t, svc, &Patient{FirstName: "Grace", LastName: "Hopper"})
	mrn := p.MRN

	upd := &Patient{ID: p.ID, FirstName: "Grace", LastName: "Hopper", Phone: ptrStr("555-0100"), Active: true}
	if err := svc.UpdatePatient(context.Background(), upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.MRN != mrn {
		t.Errorf("expected MRN %q kept, got %q", mrn, upd.MRN)
	}
	got, _ := svc.GetPatient(context.Background(), p.ID)
	if got.Phone == nil || *got.Phone != "555-0100" {
		t.Errorf("expected phone stored, got %v", got.Phone)
	}
}

func TestService_UpdatePatient_NotFound(t *testing.T) {
	svc := newTestService()
	err := svc.UpdatePatient(context.Background(), &Patient{ID: uuid.New(), FirstName: "A", LastName: "B"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_LinkUser(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustPatient(t, svc, &Patient{FirstName: "A", LastName: "One", UserID: ptrStr("user-1")})

	got, err := svc.GetPatientByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LastName != "One" {
		t.Errorf("unexpected patient: %+v", got)
	}

	err = svc.CreatePatient(ctx, &Patient{FirstName: "B", LastName: "Two", UserID: ptrStr("user-1")})
	if !errors.Is(err, ErrUserLinked) {
		t.Errorf("expected ErrUserLinked, got %v", err)
	}

	// empty user id means unlinked
	p := mustPatient(t, svc, &Patient{FirstName: "C", LastName: "Three", UserID: ptrStr("")})
	if p.UserID != nil {
		t.Errorf("expected nil user id, got %q", *p.UserID)
	}
}

func TestService_GetPatientByMRN(t *testing.T) {
	svc := newTestService()
	p := mustPatient(t, svc, &Patient{FirstName: "Mary", LastName: "Seacole"})
	got, err := svc.GetPatientByMRN(context.Background(), " "+strings.ToLower(p.MRN)+" ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("expected %s, got %s", p.ID, got.ID)
	}
}

func TestService_SearchPatients(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustPatient(t, svc, &Patient{FirstName: "Florence", LastName: "Nightingale"})
	mustPatient(t, svc, &Patient{FirstName: "Edward", LastName: "Jenner", Phone: ptrStr("0800123")})

	items, total, err := svc.SearchPatients(ctx, map[string]string{"q": "  night "}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].LastName != "Nightingale" {
		t.Errorf("expected Nightingale, got %d results", total)
	}

	_, total, _ = svc.SearchPatients(ctx, map[string]string{"q": "0800"}, 20, 0)
	if total != 1 {
		t.Errorf("expected phone match, got %d", total)
	}

	_, total, _ = svc.SearchPatients(ctx, map[string]string{"q": "   "}, 20, 0)
	if total != 2 {
		t.Errorf("expected blank q to match all, got %d", total)
	}

	if _, _, err := svc.SearchPatients(ctx, map[string]string{"active": "yes"}, 20, 0); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("expected ErrInvalidFilter, got %v", err)
	}
}

// -- Allergy Tests --

func TestService_AddAllergy_Defaults(t *testing.T) {
	svc := newTestService()
	p := mustPatient(t, svc, &Patient{FirstName: "A", LastName: "B"})

	a := &Allergy{Substance: "Penicillin", Severity: SeveritySevere}
	if err := svc.AddAllergy(context.Background(), p.ID, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != AllergyActive {
		t.Errorf("expected active, got %s", a.Status)
	}
	if a.NotedAt.IsZero() {
		t.Error("expected noted_at to be set")
	}
	if a.PatientID != p.ID {
		t.Errorf("expected patient %s, got %s", p.ID, a.PatientID)
	}
}

func TestService_AddAllergy_UnknownPatient(t *testing.T) {
	svc := newTestService()
	err := svc.AddAllergy(context.Background(), uuid.New(), &Allergy{Substance: "Latex", Severity: SeverityMild})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_AddAllergy_Invalid(t *testing.T) {
	svc := newTestService()
	p := mustPatient(t, svc, &Patient{FirstName: "A", LastName: "B"})
	if err := svc.AddAllergy(context.Background(), p.ID, &Allergy{Substance: "Nuts", Severity: "deadly"}); err == nil {
		t.Error("expected validation error for severity")
	}
	if err := svc.AddAllergy(context.Background(), p.ID, &Allergy{Severity: SeverityMild}); err == nil {
		t.Error("expected validation error for missing substance")
	}
}

func TestService_ListAndUpdateAllergies(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := mustPatient(t, svc, &Patient{FirstName: "A", LastName: "B"})
	a := &Allergy{Substance: "Pollen", Severity: SeverityMild}
	if err := svc.AddAllergy(ctx, p.ID, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.AddAllergy(ctx, p.ID, &Allergy{Substance: "Dust", Severity: SeverityModerate}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	upd := &Allergy{ID: a.ID, Substance: "Pollen", Severity: SeverityMild, Status: AllergyResolved}
	if err := svc.UpdateAllergy(ctx, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.PatientID != p.ID || !upd.NotedAt.Equal(a.NotedAt) {
		t.Errorf("expected patient and noted_at kept, got %+v", upd)
	}

	active, err := svc.ListAllergies(ctx, p.ID, AllergyActive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].Substance != "Dust" {
		t.Errorf("expected only Dust active, got %d", len(active))
	}

	if _, err := svc.ListAllergies(ctx, p.ID, "gone"); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("expected ErrInvalidFilter, got %v", err)
	}
}
