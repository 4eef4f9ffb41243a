package billing

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotDraft          = errors.New("invoice is not a draft")
	ErrHasPayments       = errors.New("invoice already has payments")
	ErrNotPayable        = errors.New("invoice does not accept payments")
	ErrOverpayment       = errors.New("amount exceeds balance due")
	ErrOverRefund        = errors.New("amount exceeds refundable amount")
	ErrCouponExists      = errors.New("coupon code already exists")
	ErrCouponInactive    = errors.New("coupon is inactive")
	ErrCouponNotYetValid = errors.New("coupon is not yet valid")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrCouponMinPurchase = errors.New("subtotal is below the coupon minimum purchase")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
	ErrCouponInUse       = errors.New("coupon is referenced by invoices, deactivate it instead")
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
)

var (
	errInvoiceNotFound     = fmt.Errorf("invoice %w", ErrNotFound)
	errLineNotFound        = fmt.Errorf("invoice line %w", ErrNotFound)
	errCouponNotFound      = fmt.Errorf("coupon %w", ErrNotFound)
	errPaymentNotFound     = fmt.Errorf("payment %w", ErrNotFound)
	errAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

func isCouponRejection(err error) bool {
	return errors.Is(err, ErrCouponInactive) || errors.Is(err, ErrCouponNotYetValid) ||
		errors.Is(err, ErrCouponExpired) || errors.Is(err, ErrCouponMinPurchase) ||
		errors.Is(err, ErrCouponExhausted)
}

// httpError maps service errors to echo errors, keeping the message.
func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrOverpayment), errors.Is(err, ErrOverRefund), isCouponRejection(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotDraft),
		errors.Is(err, ErrHasPayments), errors.Is(err, ErrNotPayable),
		errors.Is(err, ErrCouponExists), errors.Is(err, ErrCouponInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
