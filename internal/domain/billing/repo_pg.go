package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

const invoiceCols = `id, invoice_number, patient_id, appointment_id, status, currency, subtotal,
	tax_rate, tax_amount, discount_amount, coupon_id, coupon_code, total, amount_paid,
	amount_refunded, balance_due, issued_at, due_date, note, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.AppointmentID, &inv.Status,
		&inv.Currency, &inv.Subtotal, &inv.TaxRate, &inv.TaxAmount, &inv.DiscountAmount,
		&inv.CouponID, &inv.CouponCode, &inv.Total, &inv.AmountPaid, &inv.AmountRefunded,
		&inv.BalanceDue, &inv.IssuedAt, &inv.DueDate, &inv.Note, &inv.CreatedBy,
		&inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errInvoiceNotFound
	}
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		INSERT INTO invoice (id, invoice_number, patient_id, appointment_id, status, currency,
			subtotal, tax_rate, tax_amount, discount_amount, coupon_id, coupon_code, total,
			amount_paid, amount_refunded, balance_due, due_date, note, created_by)
		VALUES ($1,
			'INV-' || to_char(NOW(), 'YYYY') || '-' || lpad(nextval('invoice_number_seq')::text, 6, '0'),
			$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING invoice_number, created_at, updated_at`,
		inv.ID, inv.PatientID, inv.AppointmentID, inv.Status, inv.Currency,
		inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.DiscountAmount, inv.CouponID, inv.CouponCode,
		inv.Total, inv.AmountPaid, inv.AmountRefunded, inv.BalanceDue, inv.DueDate, inv.Note,
		inv.CreatedBy,
	).Scan(&inv.InvoiceNumber, &inv.CreatedAt, &inv.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return missingReference(err)
	}
	if err != nil {
		return err
	}
	for _, l := range inv.Lines {
		l.InvoiceID = inv.ID
		if err := r.AddLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// missingReference names the row a billing foreign key points at.
func missingReference(err error) error {
	switch db.ViolatedConstraint(err) {
	case "invoice_patient_id_fkey":
		return ErrPatientNotFound
	case "invoice_appointment_id_fkey":
		return errAppointmentNotFound
	case "invoice_coupon_id_fkey":
		return errCouponNotFound
	case "payment_invoice_id_fkey":
		return errInvoiceNotFound
	}
	return fmt.Errorf("referenced record %w", ErrNotFound)
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id))
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE invoice SET status=$2, subtotal=$3, tax_rate=$4, tax_amount=$5, discount_amount=$6,
			coupon_id=$7, coupon_code=$8, total=$9, amount_paid=$10, amount_refunded=$11,
			balance_due=$12, issued_at=$13, due_date=$14, note=$15, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.Status, inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.DiscountAmount,
		inv.CouponID, inv.CouponCode, inv.Total, inv.AmountPaid, inv.AmountRefunded,
		inv.BalanceDue, inv.IssuedAt, inv.DueDate, inv.Note,
	).Scan(&inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errInvoiceNotFound
	}
	return err
}

func (r *invoiceRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	var f db.Filter
	if v, ok := params["patient_id"]; ok {
		f.Add("patient_id = ?", v)
	}
	if v, ok := params["status"]; ok {
		f.Add("status = ?", v)
	}
	if v, ok := params["appointment_id"]; ok {
		f.Add("appointment_id = ?", v)
	}
	if v, ok := params["invoice_number"]; ok {
		f.Add("invoice_number = ?", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+invoiceCols+` FROM invoice`+f.Where()+
		` ORDER BY created_at DESC`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanInvoice)
	return items, total, err
}

const lineCols = `id, invoice_id, item_type, item_ref, description, quantity, unit_price, line_total, created_at`

func scanLine(row pgx.Row) (*InvoiceLine, error) {
	var l InvoiceLine
	err := row.Scan(&l.ID, &l.InvoiceID, &l.ItemType, &l.ItemRef, &l.Description, &l.Quantity,
		&l.UnitPrice, &l.LineTotal, &l.CreatedAt)
	return &l, err
}

func (r *invoiceRepoPG) AddLine(ctx context.Context, l *InvoiceLine) error {
	l.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO invoice_line (id, invoice_id, item_type, item_ref, description, quantity,
			unit_price, line_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		l.ID, l.InvoiceID, l.ItemType, l.ItemRef, l.Description, l.Quantity, l.UnitPrice, l.LineTotal,
	).Scan(&l.CreatedAt)
}

func (r *invoiceRepoPG) DeleteLine(ctx context.Context, invoiceID, lineID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM invoice_line WHERE id = $1 AND invoice_id = $2`, lineID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errLineNotFound
	}
	return nil
}

func (r *invoiceRepoPG) Lines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+lineCols+` FROM invoice_line WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, scanLine)
}

// =========== Coupon Repository ===========

type couponRepoPG struct{ pool *pgxpool.Pool }

func NewCouponRepoPG(pool *pgxpool.Pool) CouponRepository { return &couponRepoPG{pool: pool} }

const couponCols = `id, code, description, discount_type, value, max_discount, min_purchase,
	valid_from, valid_until, usage_limit, usage_count, active, created_at, updated_at`

func scanCoupon(row pgx.Row) (*Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Description, &c.DiscountType, &c.Value, &c.MaxDiscount,
		&c.MinPurchase, &c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.UsageCount, &c.Active,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errCouponNotFound
	}
	return &c, err
}

func (r *couponRepoPG) Create(ctx context.Context, c *Coupon) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO coupon (id, code, description, discount_type, value, max_discount, min_purchase,
			valid_from, valid_until, usage_limit, usage_count, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11)
		RETURNING created_at, updated_at`,
		c.ID, c.Code, c.Description, c.DiscountType, c.Value, c.MaxDiscount, c.MinPurchase,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrCouponExists
	}
	return err
}

func (r *couponRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	return scanCoupon(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+couponCols+` FROM coupon WHERE id = $1`, id))
}

func (r *couponRepoPG) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	return scanCoupon(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+couponCols+` FROM coupon WHERE upper(code) = upper($1)`, code))
}

func (r *couponRepoPG) Update(ctx context.Context, c *Coupon) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE coupon SET description=$2, discount_type=$3, value=$4, max_discount=$5,
			min_purchase=$6, valid_from=$7, valid_until=$8, usage_limit=$9, active=$10,
			updated_at=NOW()
		WHERE id = $1
		RETURNING usage_count, updated_at`,
		c.ID, c.Description, c.DiscountType, c.Value, c.MaxDiscount, c.MinPurchase,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.Active,
	).Scan(&c.UsageCount, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errCouponNotFound
	}
	return err
}

func (r *couponRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM coupon WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrCouponInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errCouponNotFound
	}
	return nil
}

func (r *couponRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Coupon, int, error) {
	var f db.Filter
	if activeOnly {
		f.Add("active = ?", true)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM coupon`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+couponCols+` FROM coupon`+f.Where()+` ORDER BY code`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanCoupon)
	return items, total, err
}

func (r *couponRepoPG) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE coupon SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func (r *couponRepoPG) DecrementUsage(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE coupon SET usage_count = GREATEST(usage_count - 1, 0), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

const paymentCols = `id, invoice_id, amount, method, reference, received_by, received_at, refunded_amount`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy,
		&p.ReceivedAt, &p.RefundedAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errPaymentNotFound
	}
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, amount, method, reference, received_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING received_at, refunded_amount`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.ReceivedBy,
	).Scan(&p.ReceivedAt, &p.RefundedAmount)
	if db.IsForeignKeyViolation(err) {
		return missingReference(err)
	}
	return err
}

func (r *paymentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE id = $1 FOR UPDATE`, id))
}

func (r *paymentRepoPG) AddRefunded(ctx context.Context, id uuid.UUID, amount float64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payment SET refunded_amount = refunded_amount + $2
		WHERE id = $1 AND refunded_amount + $2 <= amount`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverRefund
	}
	return nil
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE invoice_id = $1 ORDER BY received_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, scanPayment)
}

const refundCols = `id, payment_id, invoice_id, amount, reason, refunded_by, created_at`

func scanRefund(row pgx.Row) (*Refund, error) {
	var rf Refund
	err := row.Scan(&rf.ID, &rf.PaymentID, &rf.InvoiceID, &rf.Amount, &rf.Reason, &rf.RefundedBy, &rf.CreatedAt)
	return &rf, err
}

func (r *paymentRepoPG) CreateRefund(ctx context.Context, rf *Refund) error {
	rf.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO refund (id, payment_id, invoice_id, amount, reason, refunded_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		rf.ID, rf.PaymentID, rf.InvoiceID, rf.Amount, rf.Reason, rf.RefundedBy,
	).Scan(&rf.CreatedAt)
}

func (r *paymentRepoPG) ListRefunds(ctx context.Context, invoiceID uuid.UUID) ([]*Refund, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+refundCols+` FROM refund WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, scanRefund)
}
