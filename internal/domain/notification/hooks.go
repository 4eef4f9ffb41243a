package notification

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/queue"
)

const (
	CategoryQueue   = "queue"
	CategoryBilling = "billing"
)

// PatientLookup resolves the patient behind a ticket or invoice.
// *patient.Service implements it.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Hooks turns domain events into notifications. It implements
// queue.CallListener and billing.IssueListener.
type Hooks struct {
	svc      *Service
	patients PatientLookup
}

func NewHooks(svc *Service, patients PatientLookup) *Hooks {
	return &Hooks{svc: svc, patients: patients}
}

var (
	_ queue.CallListener    = (*Hooks)(nil)
	_ billing.IssueListener = (*Hooks)(nil)
)

// TicketCalled tells a patient with a portal login that their token is up.
func (h *Hooks) TicketCalled(ctx context.Context, q *queue.Queue, t *queue.Ticket) {
	log := zerolog.Ctx(ctx).With().Str("ticket_id", t.ID.String()).Logger()
	p, err := h.patients.GetPatient(ctx, t.PatientID)
	if err != nil {
		log.Warn().Err(err).Msg("ticket called: patient lookup failed")
		return
	}
	if p.UserID == nil {
		return
	}
	data := map[string]string{"token": t.TokenLabel, "queue": q.Name, "counter": ""}
	if t.Counter != nil {
		data["counter"] = ", counter " + *t.Counter
	}
	if _, err := h.svc.Notify(ctx, *p.UserID, CategoryQueue, TemplateTicketCalled, data); err != nil {
		log.Warn().Err(err).Msg("ticket called: notify failed")
	}
}

// InvoiceIssued notifies the patient in-app and, when an address is on
// file, by email.
func (h *Hooks) InvoiceIssued(ctx context.Context, inv *billing.Invoice) {
	log := zerolog.Ctx(ctx).With().Str("invoice_id", inv.ID.String()).Logger()
	p, err := h.patients.GetPatient(ctx, inv.PatientID)
	if err != nil {
		log.Warn().Err(err).Msg("invoice issued: patient lookup failed")
		return
	}
	data := map[string]string{
		"patient_name":   p.FirstName + " " + p.LastName,
		"invoice_number": inv.InvoiceNumber,
		"total":          money(inv.Total),
		"balance_due":    money(inv.BalanceDue),
		"currency":       inv.Currency,
	}
	if p.UserID != nil {
		if _, err := h.svc.Notify(ctx, *p.UserID, CategoryBilling, TemplateInvoiceIssued, data); err != nil {
			log.Warn().Err(err).Msg("invoice issued: notify failed")
		}
	}
	if p.Email != nil && *p.Email != "" {
		_, err := h.svc.FanOut(ctx, FanOutRequest{
			Recipients: []string{*p.Email},
			Channel:    ChannelEmail,
			Category:   CategoryBilling,
			TemplateID: TemplateInvoiceIssued,
			Data:       data,
		})
		if err != nil {
			log.Warn().Err(err).Msg("invoice issued: email failed")
		}
	}
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
