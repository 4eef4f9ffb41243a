package emr

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoteLocked        = errors.New("note is signed and cannot be changed")
	ErrNotSigned         = errors.New("only signed notes can be amended")
	ErrNotAuthor         = errors.New("only the author can change a draft note")
	ErrEmptyNote         = errors.New("note has no content")
	ErrDuplicateProtocol = errors.New("protocol name already exists")
	ErrInvalidScore      = errors.New("invalid score")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
)

var (
	errNoteNotFound       = fmt.Errorf("clinical note %w", ErrNotFound)
	errAssessmentNotFound = fmt.Errorf("assessment %w", ErrNotFound)
	errProtocolNotFound   = fmt.Errorf("protocol %w", ErrNotFound)
)

func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidFilter), errors.Is(err, ErrInvalidScore):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotAuthor):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNoteLocked), errors.Is(err, ErrNotSigned), errors.Is(err, ErrEmptyNote),
		errors.Is(err, ErrDuplicateProtocol):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
