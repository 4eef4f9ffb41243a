package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/rules"
)

const defaultDueDays = 30

// IssueListener is told about every invoice that leaves draft.
type IssueListener interface {
	InvoiceIssued(ctx context.Context, inv *Invoice)
}

type Config struct {
	DefaultTaxRate float64
	Currency       string
}

type Service struct {
	invoices InvoiceRepository
	coupons  CouponRepository
	payments PaymentRepository
	tx       db.Transactor
	cfg      Config
	listener IssueListener
	now      func() time.Time
}

func NewService(invoices InvoiceRepository, coupons CouponRepository, payments PaymentRepository, tx db.Transactor, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Service{
		invoices: invoices,
		coupons:  coupons,
		payments: payments,
		tx:       tx,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) SetIssueListener(l IssueListener) { s.listener = l }

func newLine(r LineRequest) *InvoiceLine {
	return &InvoiceLine{
		ItemType:    r.ItemType,
		ItemRef:     r.ItemRef,
		Description: strings.TrimSpace(r.Description),
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		LineTotal:   LineTotal(r.Quantity, r.UnitPrice),
	}
}

func subtotalOf(lines []*InvoiceLine) float64 {
	return ComputeTotals(lines, 0, nil).Subtotal
}

// usableCoupon loads code and runs the coupon gate against subtotal.
func (s *Service) usableCoupon(ctx context.Context, code string, subtotal float64) (*Coupon, error) {
	c, err := s.coupons.GetByCode(ctx, rules.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if err := CheckCoupon(c, subtotal, s.now()); err != nil {
		return nil, err
	}
	return c, nil
}

// -- Quote --

func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lines := make([]*InvoiceLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, newLine(l))
	}
	taxRate := s.cfg.DefaultTaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}

	q := &Quote{Lines: lines}
	var c *Coupon
	if req.CouponCode != "" {
		var err error
		if c, err = s.usableCoupon(ctx, req.CouponCode, subtotalOf(lines)); err != nil {
			return nil, err
		}
		q.CouponCode = &c.Code
	}
	q.Totals = ComputeTotals(lines, taxRate, c)
	return q, nil
}

// -- Invoices --

func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, createdBy string) (*Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	inv := &Invoice{
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		Status:        StatusDraft,
		Currency:      strings.ToUpper(req.Currency),
		TaxRate:       s.cfg.DefaultTaxRate,
		DueDate:       req.DueDate,
		Note:          req.Note,
	}
	if inv.Currency == "" {
		inv.Currency = s.cfg.Currency
	}
	if req.TaxRate != nil {
		inv.TaxRate = *req.TaxRate
	}
	if createdBy != "" {
		inv.CreatedBy = &createdBy
	}
	for _, l := range req.Lines {
		inv.Lines = append(inv.Lines, newLine(l))
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var c *Coupon
		if req.CouponCode != "" {
			var err error
			if c, err = s.claimCoupon(ctx, req.CouponCode, subtotalOf(inv.Lines)); err != nil {
				return err
			}
			inv.CouponID, inv.CouponCode = &c.ID, &c.Code
		}
		recalculate(inv, c)
		return s.invoices.Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// claimCoupon checks the coupon and consumes one use of it.
func (s *Service) claimCoupon(ctx context.Context, code string, subtotal float64) (*Coupon, error) {
	c, err := s.usableCoupon(ctx, code, subtotal)
	if err != nil {
		return nil, err
	}
	if err := s.coupons.IncrementUsage(ctx, c.ID); err != nil {
		return nil, err
	}
	c.UsageCount++
	return c, nil
}

func (s *Service) releaseCoupon(ctx context.Context, inv *Invoice) error {
	if inv.CouponID == nil {
		return nil
	}
	if err := s.coupons.DecrementUsage(ctx, *inv.CouponID); err != nil {
		return err
	}
	inv.CouponID, inv.CouponCode, inv.DiscountAmount = nil, nil, 0
	return nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Lines, err = s.invoices.Lines(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

var validInvoiceStatuses = map[string]bool{
	StatusDraft: true, StatusIssued: true, StatusPartiallyPaid: true,
	StatusPaid: true, StatusCancelled: true, StatusRefunded: true,
}

func (s *Service) SearchInvoices(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	if st, ok := params["status"]; ok && !validInvoiceStatuses[st] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st)
	}
	if pid, ok := params["patient_id"]; ok {
		if _, err := uuid.Parse(pid); err != nil {
			return nil, 0, fmt.Errorf("%w: invalid patient_id", ErrInvalidInput)
		}
	}
	return s.invoices.Search(ctx, params, limit, offset)
}

// lockDraft loads a draft invoice with its lines for modification.
func (s *Service) lockDraft(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, ErrNotDraft
	}
	return inv, nil
}

// reprice reloads the lines of inv and recomputes its totals. A coupon whose
// minimum purchase is no longer met is released.
func (s *Service) reprice(ctx context.Context, inv *Invoice) error {
	lines, err := s.invoices.Lines(ctx, inv.ID)
	if err != nil {
		return err
	}
	inv.Lines = lines

	var c *Coupon
	if inv.CouponID != nil {
		if c, err = s.coupons.GetByID(ctx, *inv.CouponID); err != nil {
			return err
		}
		if c.MinPurchase != nil && subtotalOf(lines) < *c.MinPurchase {
			if err := s.releaseCoupon(ctx, inv); err != nil {
				return err
			}
			c = nil
		}
	}
	recalculate(inv, c)
	return s.invoices.Update(ctx, inv)
}

func (s *Service) AddLine(ctx context.Context, invoiceID uuid.UUID, req LineRequest) (*Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.lockDraft(ctx, invoiceID); err != nil {
			return err
		}
		l := newLine(req)
		l.InvoiceID = invoiceID
		if err := s.invoices.AddLine(ctx, l); err != nil {
			return err
		}
		return s.reprice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) RemoveLine(ctx context.Context, invoiceID, lineID uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.lockDraft(ctx, invoiceID); err != nil {
			return err
		}
		if err := s.invoices.DeleteLine(ctx, invoiceID, lineID); err != nil {
			return err
		}
		return s.reprice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// lockUnpaid loads an invoice whose discount may still change.
func (s *Service) lockUnpaid(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft && inv.Status != StatusIssued {
		return nil, ErrInvalidTransition
	}
	if inv.AmountPaid > 0 || inv.AmountRefunded > 0 {
		return nil, ErrHasPayments
	}
	if inv.Lines, err = s.invoices.Lines(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

// ApplyCoupon replaces any coupon already on the invoice.
func (s *Service) ApplyCoupon(ctx context.Context, invoiceID uuid.UUID, req ApplyCouponRequest) (*Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.lockUnpaid(ctx, invoiceID); err != nil {
			return err
		}
		if err := s.releaseCoupon(ctx, inv); err != nil {
			return err
		}
		c, err := s.claimCoupon(ctx, req.Code, subtotalOf(inv.Lines))
		if err != nil {
			return err
		}
		inv.CouponID, inv.CouponCode = &c.ID, &c.Code
		recalculate(inv, c)
		restatus(inv)
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) RemoveCoupon(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.lockUnpaid(ctx, invoiceID); err != nil {
			return err
		}
		if err := s.releaseCoupon(ctx, inv); err != nil {
			return err
		}
		recalculate(inv, nil)
		restatus(inv)
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// IssueInvoice finalizes a draft. A zero total is paid on issue.
func (s *Service) IssueInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.lockDraft(ctx, id); err != nil {
			return err
		}
		if inv.Lines, err = s.invoices.Lines(ctx, id); err != nil {
			return err
		}
		if len(inv.Lines) == 0 {
			return fmt.Errorf("%w: invoice has no lines", ErrInvalidInput)
		}
		now := s.now()
		inv.IssuedAt = &now
		if inv.DueDate == nil {
			due := now.AddDate(0, 0, defaultDueDays)
			inv.DueDate = &due
		}
		inv.Status = PaidStatus(inv.Total, inv.AmountPaid, inv.AmountRefunded)
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	if s.listener != nil {
		s.listener.InvoiceIssued(ctx, inv)
	}
	return inv, nil
}

// CancelInvoice voids a draft or an unpaid issued invoice and gives the
// coupon use back.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.lockUnpaid(ctx, id); err != nil {
			return err
		}
		if err := s.releaseCoupon(ctx, inv); err != nil {
			return err
		}
		inv.Status = StatusCancelled
		recalculate(inv, nil)
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// -- Payments --

func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, req PaymentRequest, receivedBy string) (*Payment, *Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	var (
		p   *Payment
		inv *Invoice
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.invoices.GetForUpdate(ctx, invoiceID); err != nil {
			return err
		}
		if inv.Status != StatusIssued && inv.Status != StatusPartiallyPaid {
			return fmt.Errorf("%w: invoice is %s", ErrNotPayable, inv.Status)
		}
		if Round(req.Amount) > inv.BalanceDue {
			return fmt.Errorf("%w (%.2f)", ErrOverpayment, inv.BalanceDue)
		}

		p = &Payment{
			InvoiceID: invoiceID,
			Amount:    Round(req.Amount),
			Method:    req.Method,
			Reference: req.Reference,
		}
		if receivedBy != "" {
			p.ReceivedBy = &receivedBy
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}

		inv.AmountPaid = Round(inv.AmountPaid + p.Amount)
		inv.BalanceDue = BalanceDue(inv.Total, inv.AmountPaid)
		inv.Status = PaidStatus(inv.Total, inv.AmountPaid, inv.AmountRefunded)
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, nil, err
	}
	return p, inv, nil
}

func (s *Service) RefundPayment(ctx context.Context, paymentID uuid.UUID, req RefundRequest, refundedBy string) (*Refund, *Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	var (
		rf  *Refund
		inv *Invoice
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		amount := Round(req.Amount)
		if amount > p.Refundable() {
			return fmt.Errorf("%w (%.2f)", ErrOverRefund, p.Refundable())
		}
		if inv, err = s.invoices.GetForUpdate(ctx, p.InvoiceID); err != nil {
			return err
		}
		if err := s.payments.AddRefunded(ctx, p.ID, amount); err != nil {
			return err
		}

		rf = &Refund{
			PaymentID: p.ID,
			InvoiceID: p.InvoiceID,
			Amount:    amount,
			Reason:    strings.TrimSpace(req.Reason),
		}
		if refundedBy != "" {
			rf.RefundedBy = &refundedBy
		}
		if err := s.payments.CreateRefund(ctx, rf); err != nil {
			return err
		}

		inv.AmountPaid = Round(inv.AmountPaid - amount)
		inv.AmountRefunded = Round(inv.AmountRefunded + amount)
		inv.BalanceDue = BalanceDue(inv.Total, inv.AmountPaid)
		inv.Status = PaidStatus(inv.Total, inv.AmountPaid, inv.AmountRefunded)
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, nil, err
	}
	return rf, inv, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID)
}

func (s *Service) ListRefunds(ctx context.Context, invoiceID uuid.UUID) ([]*Refund, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListRefunds(ctx, invoiceID)
}

// -- Coupons --

func (s *Service) CreateCoupon(ctx context.Context, c *Coupon) error {
	c.Code = rules.NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return err
	}
	c.Active = true
	c.UsageCount = 0
	return s.coupons.Create(ctx, c)
}

func (s *Service) GetCoupon(ctx context.Context, code string) (*Coupon, error) {
	return s.coupons.GetByCode(ctx, rules.NormalizeCode(code))
}

// UpdateCoupon rewrites the terms of the coupon stored under code. The code
// itself and the usage count are kept.
func (s *Service) UpdateCoupon(ctx context.Context, code string, c *Coupon) error {
	existing, err := s.coupons.GetByCode(ctx, rules.NormalizeCode(code))
	if err != nil {
		return err
	}
	c.ID = existing.ID
	c.Code = existing.Code
	c.CreatedAt = existing.CreatedAt
	if err := c.Validate(); err != nil {
		return err
	}
	return s.coupons.Update(ctx, c)
}

func (s *Service) DeleteCoupon(ctx context.Context, code string) error {
	c, err := s.coupons.GetByCode(ctx, rules.NormalizeCode(code))
	if err != nil {
		return err
	}
	return s.coupons.Delete(ctx, c.ID)
}

func (s *Service) ListCoupons(ctx context.Context, activeOnly bool, limit, offset int) ([]*Coupon, int, error) {
	return s.coupons.List(ctx, activeOnly, limit, offset)
}

// CouponCheck previews a coupon against a subtotal.
type CouponCheck struct {
	Code     string  `json:"code"`
	Valid    bool    `json:"valid"`
	Reason   string  `json:"reason,omitempty"`
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
}

func (s *Service) CheckCouponCode(ctx context.Context, code string, subtotal float64) (*CouponCheck, error) {
	if subtotal < 0 {
		return nil, fmt.Errorf("%w: subtotal must not be negative", ErrInvalidInput)
	}
	c, err := s.coupons.GetByCode(ctx, rules.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	res := &CouponCheck{Code: c.Code, Subtotal: Round(subtotal)}
	if err := CheckCoupon(c, res.Subtotal, s.now()); err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.Discount = CouponDiscount(c, res.Subtotal)
	return res, nil
}
