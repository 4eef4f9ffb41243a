package scheduling

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/queue"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrOverlap           = errors.New("practitioner already has an appointment in this time range")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrCheckIn           = errors.New("check-in failed")
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
)

var errAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, queue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOverlap), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrCheckIn):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
