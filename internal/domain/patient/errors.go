package patient

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateMRN  = errors.New("mrn already exists")
	ErrUserLinked    = errors.New("user is already linked to another patient")
	ErrPatientInUse  = errors.New("patient has clinical or billing records, deactivate instead")
	ErrInvalidFilter = errors.New("invalid filter")
)

var (
	errPatientNotFound = fmt.Errorf("patient %w", ErrNotFound)
	errAllergyNotFound = fmt.Errorf("allergy %w", ErrNotFound)
)

func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateMRN), errors.Is(err, ErrUserLinked), errors.Is(err, ErrPatientInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
