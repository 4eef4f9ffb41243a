package billing

import (
	"math"
	"time"
)

// Round rounds half away from zero to cents. The epsilon absorbs binary
// representation error such as 1.005 being stored as 1.00499...
func Round(v float64) float64 {
	if v < 0 {
		return -Round(-v)
	}
	return math.Round(v*100+1e-7) / 100
}

func LineTotal(quantity int, unitPrice float64) float64 {
	return Round(float64(quantity) * unitPrice)
}

// Totals is the money breakdown of an invoice.
type Totals struct {
	Subtotal       float64 `json:"subtotal"`
	TaxRate        float64 `json:"tax_rate"`
	TaxAmount      float64 `json:"tax_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	Total          float64 `json:"total"`
}

// ComputeTotals applies tax on the subtotal and subtracts the coupon
// discount. c may be nil.
func ComputeTotals(lines []*InvoiceLine, taxRate float64, c *Coupon) Totals {
	var subtotal float64
	for _, l := range lines {
		subtotal += l.LineTotal
	}
	subtotal = Round(subtotal)

	t := Totals{
		Subtotal:  subtotal,
		TaxRate:   taxRate,
		TaxAmount: Round(subtotal * taxRate / 100),
	}
	if c != nil {
		t.DiscountAmount = CouponDiscount(c, subtotal)
	}
	t.Total = math.Max(Round(t.Subtotal+t.TaxAmount-t.DiscountAmount), 0)
	return t
}

// CouponDiscount is the discount c grants on subtotal, never more than the
// subtotal itself.
func CouponDiscount(c *Coupon, subtotal float64) float64 {
	var d float64
	switch c.DiscountType {
	case DiscountPercentage:
		d = subtotal * c.Value / 100
		if c.MaxDiscount != nil && d > *c.MaxDiscount {
			d = *c.MaxDiscount
		}
	case DiscountFixed:
		d = c.Value
	}
	if d > subtotal {
		d = subtotal
	}
	if d < 0 {
		d = 0
	}
	return Round(d)
}

// CheckCoupon reports why c cannot be used on subtotal at now, or nil.
func CheckCoupon(c *Coupon, subtotal float64, now time.Time) error {
	switch {
	case !c.Active:
		return ErrCouponInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return ErrCouponNotYetValid
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return ErrCouponExpired
	case c.MinPurchase != nil && subtotal < *c.MinPurchase:
		return ErrCouponMinPurchase
	case c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit:
		return ErrCouponExhausted
	}
	return nil
}

func BalanceDue(total, amountPaid float64) float64 {
	return math.Max(Round(total-amountPaid), 0)
}

// PaidStatus derives the status of an issued invoice after money moved.
func PaidStatus(total, amountPaid, amountRefunded float64) string {
	switch {
	case amountPaid <= 0 && amountRefunded > 0:
		return StatusRefunded
	case amountPaid >= total:
		return StatusPaid
	case amountPaid > 0:
		return StatusPartiallyPaid
	default:
		return StatusIssued
	}
}

// restatus re-derives the payment status of an invoice that left draft.
func restatus(inv *Invoice) {
	if inv.Status == StatusDraft || inv.Status == StatusCancelled {
		return
	}
	inv.Status = PaidStatus(inv.Total, inv.AmountPaid, inv.AmountRefunded)
}

// recalculate refreshes every derived money field of inv from its lines.
func recalculate(inv *Invoice, c *Coupon) {
	t := ComputeTotals(inv.Lines, inv.TaxRate, c)
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.DiscountAmount = t.DiscountAmount
	inv.Total = t.Total
	inv.BalanceDue = BalanceDue(inv.Total, inv.AmountPaid)
}
