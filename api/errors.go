package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard/domain"
	"taskboard/session"
)

// statusFor maps a board or session error onto an HTTP status. Anything not
// recognised is a failed store write and maps to 502.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errInvalidBody), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, errMissingAuthorization), errors.Is(err, errBadAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.String(status, err.Error())
}
