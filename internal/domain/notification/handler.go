package notification

import (
	"net/http"

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
	staffGroup := api.Group("", auth.RequireRole(auth.Staff...))
	staffGroup.POST("/notifications/fan-out", h.FanOut)
	staffGroup.GET("/notifications/templates", h.ListTemplates)

	// Everyone reads their own inbox.
	inboxGroup := api.Group("", auth.RequireRole(append([]string{auth.RolePatient}, auth.Staff...)...))
	inboxGroup.GET("/notifications", h.List)
	inboxGroup.GET("/notifications/unread-count", h.UnreadCount)
	inboxGroup.POST("/notifications/read-all", h.MarkAllRead)
	inboxGroup.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) FanOut(c echo.Context) error {
	var req FanOutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.FanOut(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	items := h.svc.Templates().List()
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var unreadOnly bool
	switch c.QueryParam("unread") {
	case "", "false":
	case "true":
		unreadOnly = true
	default:
		return httpError(ErrInvalidFilter)
	}
	ctx := c.Request().Context()
	items, total, err := h.svc.List(ctx, auth.UserIDFromContext(ctx), unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	n, err := h.svc.MarkRead(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.MarkAllRead(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.UnreadCount(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}
