package queue

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
	// Read endpoints – all staff
	readGroup := api.Group("", auth.RequireRole(auth.Staff...))
	readGroup.GET("/queues", h.ListQueues)
	readGroup.GET("/queues/:id", h.GetQueue)
	readGroup.GET("/queues/:id/tickets", h.ListTickets)
	readGroup.GET("/queues/:id/board", h.GetBoard)
	readGroup.GET("/tickets/:id", h.GetTicket)

	// Patients may poll their own place in line.
	positionGroup := api.Group("", auth.RequireRole(append(auth.Staff, auth.RolePatient)...))
	positionGroup.GET("/tickets/:id/position", h.GetPosition)

	// Queue administration – admin, receptionist
	adminGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	adminGroup.POST("/queues", h.CreateQueue)
	adminGroup.PUT("/queues/:id", h.UpdateQueue)
	adminGroup.DELETE("/queues/:id", h.DeleteQueue)

	// Ticket flow – front desk and clinical staff
	flowGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RolePhysician))
	flowGroup.POST("/queues/:id/tickets", h.IssueTicket)
	flowGroup.POST("/queues/:id/call-next", h.CallNext)
	flowGroup.POST("/tickets/:id/recall", h.Recall)
	flowGroup.POST("/tickets/:id/requeue", h.Requeue)
	flowGroup.POST("/tickets/:id/serve", h.Serve)
	flowGroup.POST("/tickets/:id/cancel", h.Cancel)

	triageGroup := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician))
	triageGroup.POST("/tickets/:id/complete-triage", h.CompleteTriage)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Queue Handlers --

func (h *Handler) CreateQueue(c echo.Context) error {
	var q Queue
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateQueue(c.Request().Context(), &q); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) GetQueue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	q, err := h.svc.GetQueue(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) ListQueues(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"kind", "active", "department", "practitioner_id"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchQueues(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateQueue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var q Queue
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ID = id
	if err := h.svc.UpdateQueue(c.Request().Context(), &q); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DeleteQueue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteQueue(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetBoard(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Board(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- Ticket Handlers --

func (h *Handler) IssueTicket(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req IssueTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.IssueTicket(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTickets(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTickets(c.Request().Context(), id, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTicket(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTicket(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetPosition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Position(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CallNext(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CallNextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.svc.CallNext(ctx, id, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Recall(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Recall(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Requeue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Requeue(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Serve(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Serve(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Cancel(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CompleteTriage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CompleteTriageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	original, next, err := h.svc.CompleteTriage(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]*Ticket{
		"triage_ticket": original,
		"doctor_ticket": next,
	})
}
