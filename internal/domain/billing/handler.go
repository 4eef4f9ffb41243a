package billing

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Front desk and billing staff
	deskGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReceptionist))
	deskGroup.POST("/billing/quote", h.Quote)
	deskGroup.GET("/invoices", h.ListInvoices)
	deskGroup.GET("/invoices/:id", h.GetInvoice)
	deskGroup.GET("/invoices/:id/payments", h.ListPayments)
	deskGroup.GET("/invoices/:id/refunds", h.ListRefunds)
	deskGroup.POST("/invoices", h.CreateInvoice)
	deskGroup.POST("/invoices/:id/lines", h.AddLine)
	deskGroup.DELETE("/invoices/:id/lines/:lineId", h.RemoveLine)
	deskGroup.POST("/invoices/:id/coupon", h.ApplyCoupon)
	deskGroup.DELETE("/invoices/:id/coupon", h.RemoveCoupon)
	deskGroup.POST("/invoices/:id/issue", h.IssueInvoice)
	deskGroup.POST("/invoices/:id/payments", h.RecordPayment)
	deskGroup.GET("/coupons/:code/check", h.CheckCoupon)

	// Money going back out and coupon terms – billing only
	billingGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	billingGroup.POST("/invoices/:id/cancel", h.CancelInvoice)
	billingGroup.POST("/payments/:id/refunds", h.RefundPayment)
	billingGroup.GET("/coupons", h.ListCoupons)
	billingGroup.GET("/coupons/:code", h.GetCoupon)
	billingGroup.POST("/coupons", h.CreateCoupon)
	billingGroup.PUT("/coupons/:code", h.UpdateCoupon)
	billingGroup.DELETE("/coupons/:code", h.DeleteCoupon)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Quote(c echo.Context) error {
	var req QuoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q, err := h.svc.Quote(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

// -- Invoice Handlers --

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req CreateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	inv, err := h.svc.CreateInvoice(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"patient_id", "status", "appointment_id", "invoice_number"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchInvoices(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddLine(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req LineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.AddLine(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RemoveLine(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := parseID(c, "lineId")
	if err != nil {
		return err
	}
	inv, err := h.svc.RemoveLine(c.Request().Context(), id, lineID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ApplyCoupon(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req ApplyCouponRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.ApplyCoupon(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RemoveCoupon(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.RemoveCoupon(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) IssueInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.IssueInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

// -- Payment Handlers --

type paymentResponse struct {
	Payment *Payment `json:"payment"`
	Invoice *Invoice `json:"invoice"`
}

type refundResponse struct {
	Refund  *Refund  `json:"refund"`
	Invoice *Invoice `json:"invoice"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	p, inv, err := h.svc.RecordPayment(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, paymentResponse{Payment: p, Invoice: inv})
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

func (h *Handler) RefundPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rf, inv, err := h.svc.RefundPayment(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, refundResponse{Refund: rf, Invoice: inv})
}

func (h *Handler) ListRefunds(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListRefunds(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

// -- Coupon Handlers --

func (h *Handler) CreateCoupon(c echo.Context) error {
	var cp Coupon
	if err := c.Bind(&cp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCoupon(c.Request().Context(), &cp); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cp)
}

func (h *Handler) GetCoupon(c echo.Context) error {
	cp, err := h.svc.GetCoupon(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (h *Handler) ListCoupons(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"
	items, total, err := h.svc.ListCoupons(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCoupon(c echo.Context) error {
	var cp Coupon
	if err := c.Bind(&cp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateCoupon(c.Request().Context(), c.Param("code"), &cp); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (h *Handler) DeleteCoupon(c echo.Context) error {
	if err := h.svc.DeleteCoupon(c.Request().Context(), c.Param("code")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CheckCoupon(c echo.Context) error {
	subtotal, err := strconv.ParseFloat(c.QueryParam("subtotal"), 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subtotal")
	}
	res, err := h.svc.CheckCouponCode(c.Request().Context(), c.Param("code"), subtotal)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
