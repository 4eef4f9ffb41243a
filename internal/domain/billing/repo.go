package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Create assigns ID and InvoiceNumber and stores inv with its lines.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error)

	AddLine(ctx context.Context, l *InvoiceLine) error
	DeleteLine(ctx context.Context, invoiceID, lineID uuid.UUID) error
	Lines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error)
}

type CouponRepository interface {
	Create(ctx context.Context, c *Coupon) error
	GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	// GetByCode matches case-insensitively.
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Coupon, int, error)
	// IncrementUsage fails with ErrCouponExhausted when the limit is reached.
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	DecrementUsage(ctx context.Context, id uuid.UUID) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	AddRefunded(ctx context.Context, id uuid.UUID, amount float64) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	CreateRefund(ctx context.Context, r *Refund) error
	ListRefunds(ctx context.Context, invoiceID uuid.UUID) ([]*Refund, error)
}
