package aiaccess

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/aigateway"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("ai access denied")
	ErrTokenLimit    = errors.New("daily ai token limit reached")
	ErrGateway       = errors.New("ai request failed")
	ErrInvalidFilter = errors.New("invalid filter")
)

var errGrantNotFound = fmt.Errorf("ai access grant %w", ErrNotFound)

func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrTokenLimit):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, aigateway.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrGateway):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
