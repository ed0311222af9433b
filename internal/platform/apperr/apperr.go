// Package apperr defines the error taxonomy shared by the notification,
// reminder and chat services, and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrNotFound is returned when a notification, appointment or message id
	// does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrRecipientNotFound is returned when a notification targets an unknown user.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrUserNotFound is returned when a chat participant does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrValidation is returned for input rejected before persistence.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated is returned when a caller presents no identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Validation wraps ErrValidation with a field-level reason.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind of resource that was missing.
func NotFound(resource string) error {
	return fmt.Errorf("%s %w", resource, ErrNotFound)
}

// HTTPStatus maps an error to the status code an API caller should see.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRecipientNotFound),
		errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo HTTP error. Internal failures are reported
// with a generic message so driver details never reach the client.
func ToHTTP(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
