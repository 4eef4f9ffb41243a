package queue

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrQueueInactive     = errors.New("queue is not active")
	ErrQueueBusy         = errors.New("queue has active tickets")
	ErrQueueInUse        = errors.New("queue has ticket history, deactivate it instead")
	ErrActiveTicket      = errors.New("patient already holds an active ticket in this queue")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotTriage         = errors.New("ticket is not in a triage queue")
	ErrInvalidTarget     = errors.New("target must be an active doctor queue")
	ErrNotWaiting        = errors.New("ticket is not waiting")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
)

var (
	errQueueNotFound  = fmt.Errorf("queue %w", ErrNotFound)
	errTicketNotFound = fmt.Errorf("ticket %w", ErrNotFound)
)

// httpError maps service errors to echo errors, keeping the message.
func httpError(err error) error {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrQueueEmpty):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrQueueInactive), errors.Is(err, ErrQueueBusy), errors.Is(err, ErrQueueInUse),
		errors.Is(err, ErrActiveTicket), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotTriage), errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrNotWaiting):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
