package billing

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/rules"
)

const (
	StatusDraft         = "draft"
	StatusIssued        = "issued"
	StatusPartiallyPaid = "partially_paid"
	StatusPaid          = "paid"
	StatusCancelled     = "cancelled"
	StatusRefunded      = "refunded"
)

const (
	ItemService = "service"
	ItemPackage = "package"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

var paymentMethods = []interface{}{"cash", "card", "insurance", "online", "bank_transfer"}

// Invoice maps to the invoice table.
type Invoice struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	InvoiceNumber  string         `db:"invoice_number" json:"invoice_number"`
	PatientID      uuid.UUID      `db:"patient_id" json:"patient_id"`
	AppointmentID  *uuid.UUID     `db:"appointment_id" json:"appointment_id,omitempty"`
	Status         string         `db:"status" json:"status"`
	Currency       string         `db:"currency" json:"currency"`
	Subtotal       float64        `db:"subtotal" json:"subtotal"`
	TaxRate        float64        `db:"tax_rate" json:"tax_rate"`
	TaxAmount      float64        `db:"tax_amount" json:"tax_amount"`
	DiscountAmount float64        `db:"discount_amount" json:"discount_amount"`
	CouponID       *uuid.UUID     `db:"coupon_id" json:"coupon_id,omitempty"`
	CouponCode     *string        `db:"coupon_code" json:"coupon_code,omitempty"`
	Total          float64        `db:"total" json:"total"`
	AmountPaid     float64        `db:"amount_paid" json:"amount_paid"`
	AmountRefunded float64        `db:"amount_refunded" json:"amount_refunded"`
	BalanceDue     float64        `db:"balance_due" json:"balance_due"`
	IssuedAt       *time.Time     `db:"issued_at" json:"issued_at,omitempty"`
	DueDate        *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Note           *string        `db:"note" json:"note,omitempty"`
	CreatedBy      *string        `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	Lines          []*InvoiceLine `db:"-" json:"lines,omitempty"`
}

// InvoiceLine maps to the invoice_line table.
type InvoiceLine struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	ItemType    string    `db:"item_type" json:"item_type"`
	ItemRef     *string   `db:"item_ref" json:"item_ref,omitempty"`
	Description string    `db:"description" json:"description"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price"`
	LineTotal   float64   `db:"line_total" json:"line_total"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Coupon maps to the coupon table. Code is stored upper-case.
type Coupon struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Code         string     `db:"code" json:"code"`
	Description  *string    `db:"description" json:"description,omitempty"`
	DiscountType string     `db:"discount_type" json:"discount_type"`
	Value        float64    `db:"value" json:"value"`
	MaxDiscount  *float64   `db:"max_discount" json:"max_discount,omitempty"`
	MinPurchase  *float64   `db:"min_purchase" json:"min_purchase,omitempty"`
	ValidFrom    *time.Time `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil   *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	UsageLimit   *int       `db:"usage_limit" json:"usage_limit,omitempty"`
	UsageCount   int        `db:"usage_count" json:"usage_count"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (c Coupon) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Code, validation.Required, validation.Length(2, 32), rules.Code),
		validation.Field(&c.DiscountType, validation.Required, validation.In(DiscountPercentage, DiscountFixed)),
		validation.Field(&c.Value, validation.Required, validation.Min(0.01), rules.Money,
			validation.When(c.DiscountType == DiscountPercentage, validation.Max(100.0))),
		validation.Field(&c.MaxDiscount, validation.Min(0.0), rules.Money),
		validation.Field(&c.MinPurchase, validation.Min(0.0), rules.Money),
		validation.Field(&c.UsageLimit, validation.Min(1)),
		validation.Field(&c.ValidUntil, validation.When(c.ValidFrom != nil && c.ValidUntil != nil,
			validation.By(func(interface{}) error {
				if c.ValidUntil.Before(*c.ValidFrom) {
					return validation.NewError("validation_range", "must not be before valid_from")
				}
				return nil
			}))),
	)
}

// Payment maps to the payment table.
type Payment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	InvoiceID      uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Amount         float64   `db:"amount" json:"amount"`
	Method         string    `db:"method" json:"method"`
	Reference      *string   `db:"reference" json:"reference,omitempty"`
	ReceivedBy     *string   `db:"received_by" json:"received_by,omitempty"`
	ReceivedAt     time.Time `db:"received_at" json:"received_at"`
	RefundedAmount float64   `db:"refunded_amount" json:"refunded_amount"`
}

// Refundable is what is left of the payment to give back.
func (p *Payment) Refundable() float64 {
	return Round(p.Amount - p.RefundedAmount)
}

// Refund maps to the refund table.
type Refund struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PaymentID  uuid.UUID `db:"payment_id" json:"payment_id"`
	InvoiceID  uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Amount     float64   `db:"amount" json:"amount"`
	Reason     string    `db:"reason" json:"reason"`
	RefundedBy *string   `db:"refunded_by" json:"refunded_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// -- Requests --

type LineRequest struct {
	ItemType    string  `json:"item_type"`
	ItemRef     *string `json:"item_ref,omitempty"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

func (r LineRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ItemType, validation.Required, validation.In(ItemService, ItemPackage)),
		validation.Field(&r.ItemRef, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&r.Description, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&r.UnitPrice, validation.Min(0.0), rules.Money),
	)
}

type QuoteRequest struct {
	Lines      []LineRequest `json:"lines"`
	TaxRate    *float64      `json:"tax_rate,omitempty"`
	CouponCode string        `json:"coupon_code,omitempty"`
}

func (r QuoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Lines, validation.Required),
		validation.Field(&r.TaxRate, validation.Min(0.0), validation.Max(100.0)),
	)
}

// Quote is an unsaved invoice computation.
type Quote struct {
	Lines      []*InvoiceLine `json:"lines"`
	Totals     Totals         `json:"totals"`
	CouponCode *string        `json:"coupon_code,omitempty"`
}

type CreateInvoiceRequest struct {
	PatientID     uuid.UUID     `json:"patient_id"`
	AppointmentID *uuid.UUID    `json:"appointment_id,omitempty"`
	Lines         []LineRequest `json:"lines"`
	TaxRate       *float64      `json:"tax_rate,omitempty"`
	CouponCode    string        `json:"coupon_code,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	Note          *string       `json:"note,omitempty"`
}

func (r CreateInvoiceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.AppointmentID, rules.RequiredID),
		validation.Field(&r.Lines),
		validation.Field(&r.TaxRate, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&r.Currency, validation.Length(3, 3)),
	)
}

type ApplyCouponRequest struct {
	Code string `json:"code"`
}

func (r ApplyCouponRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
	)
}

type PaymentRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference *string `json:"reference,omitempty"`
}

func (r PaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.Required, validation.Min(0.01), rules.Money),
		validation.Field(&r.Method, validation.Required, validation.In(paymentMethods...)),
		validation.Field(&r.Reference, validation.Length(0, 120)),
	)
}

type RefundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

func (r RefundRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.Required, validation.Min(0.01), rules.Money),
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 500)),
	)
}
