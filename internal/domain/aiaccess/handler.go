package aiaccess

import (
	"net/http"

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
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.GET("/ai/grants", h.ListGrants)
	adminGroup.GET("/ai/grants/:userId", h.GetGrant)
	adminGroup.PUT("/ai/grants/:userId", h.UpsertGrant)
	adminGroup.DELETE("/ai/grants/:userId", h.RevokeGrant)
	adminGroup.GET("/ai/usage", h.ListUsage)
	adminGroup.GET("/ai/usage/summary", h.UsageSummary)

	// Any staff member may try; the grant decides.
	staffGroup := api.Group("", auth.RequireRole(auth.Staff...))
	staffGroup.GET("/ai/access", h.MyAccess)
	staffGroup.POST("/ai/chat", h.Chat)
}

func (h *Handler) UpsertGrant(c echo.Context) error {
	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	g, err := h.svc.UpsertGrant(ctx, c.Param("userId"), req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) GetGrant(c echo.Context) error {
	g, err := h.svc.GetGrant(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) RevokeGrant(c echo.Context) error {
	ctx := c.Request().Context()
	g, err := h.svc.RevokeGrant(ctx, c.Param("userId"), auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListGrants(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"enabled", "feature"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.ListGrants(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListUsage(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"user_id", "feature", "status", "patient_id", "from", "to"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.ListUsage(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UsageSummary(c echo.Context) error {
	items, err := h.svc.UsageSummary(c.Request().Context(), c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

func (h *Handler) MyAccess(c echo.Context) error {
	ctx := c.Request().Context()
	a, err := h.svc.MyAccess(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.Chat(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
