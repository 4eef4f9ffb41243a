package scheduling

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/queue"
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
	readGroup := api.Group("", auth.RequireRole(auth.Staff...))
	readGroup.GET("/appointments", h.SearchAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.GET("/practitioners/:id/appointments", h.PractitionerDay)

	deskGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	deskGroup.POST("/appointments", h.Book)
	deskGroup.POST("/appointments/:id/reschedule", h.Reschedule)
	deskGroup.POST("/appointments/:id/cancel", h.Cancel)
	deskGroup.POST("/appointments/:id/no-show", h.MarkNoShow)
	deskGroup.POST("/appointments/:id/check-in", h.CheckIn)

	clinicalGroup := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician))
	clinicalGroup.POST("/appointments/:id/start", h.Start)
	clinicalGroup.POST("/appointments/:id/complete", h.Complete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.Book(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SearchAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"patient_id", "practitioner_id", "status", "kind", "from", "to"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchAppointments(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// PractitionerDay reads ?day=YYYY-MM-DD (default today) and ?tz=<IANA zone>.
func (h *Handler) PractitionerDay(c echo.Context) error {
	loc := time.UTC
	if tz := c.QueryParam("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tz")
		}
		loc = l
	}
	day := c.QueryParam("day")
	if day == "" {
		day = time.Now().In(loc).Format(time.DateOnly)
	}
	items, err := h.svc.PractitionerDay(c.Request().Context(), c.Param("id"), day, loc)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
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
	a, err := h.svc.Cancel(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.simple(c, h.svc.MarkNoShow)
}

func (h *Handler) Start(c echo.Context) error {
	return h.simple(c, h.svc.Start)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.simple(c, h.svc.Complete)
}

func (h *Handler) simple(c echo.Context, op func(ctx context.Context, id uuid.UUID) (*Appointment, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := op(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type checkInResponse struct {
	Appointment *Appointment  `json:"appointment"`
	Ticket      *queue.Ticket `json:"ticket"`
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CheckInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, t, err := h.svc.CheckIn(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, checkInResponse{Appointment: a, Ticket: t})
}
