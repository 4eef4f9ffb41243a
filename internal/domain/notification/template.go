package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	TemplateTicketCalled        = "ticket-called"
	TemplateInvoiceIssued       = "invoice-issued"
	TemplateAppointmentReminder = "appointment-reminder"
	TemplateConsultationMessage = "consultation-message"
)

type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine renders {{key}} templates. Placeholders without data are
// left in place.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:    TemplateTicketCalled,
			Title: "Token {{token}} is being called",
			Body:  "Please proceed to {{queue}}{{counter}}.",
		},
		{
			ID:    TemplateInvoiceIssued,
			Title: "Invoice {{invoice_number}}",
			Body:  "Dear {{patient_name}}, invoice {{invoice_number}} for {{total}} {{currency}} has been issued. Balance due: {{balance_due}} {{currency}}.",
		},
		{
			ID:    TemplateAppointmentReminder,
			Title: "Appointment reminder",
			Body:  "Dear {{patient_name}}, this is a reminder of your appointment on {{date}} at {{time}}.",
		},
		{
			ID:    TemplateConsultationMessage,
			Title: "New consultation message",
			Body:  "{{sender}} sent you a message.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) Get(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// List returns the templates ordered by id.
func (e *TemplateEngine) List() []Template {
	e.mu.RLock()
	out := make([]Template, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *TemplateEngine) Render(id string, data map[string]string) (title, body string, err error) {
	t, ok := e.Get(id)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	return Substitute(t.Title, data), Substitute(t.Body, data), nil
}

func Substitute(s string, data map[string]string) string {
	if len(data) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
