package consultation

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("not a participant of this consultation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotActive         = errors.New("consultation is not active")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
)

var errConsultationNotFound = fmt.Errorf("consultation %w", ErrNotFound)

func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
