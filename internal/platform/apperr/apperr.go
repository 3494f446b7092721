// Package apperr defines the error taxonomy shared by the domain services and
// maps it onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ValidationError reports malformed input: bad date format, bad zip,
// unknown enum value. Callers reset their view state when they see one.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConstraintError reports a request that conflicts with a store constraint.
type ConstraintError struct {
	Message string
}

func (e *ConstraintError) Error() string { return e.Message }

// StoreError reports that the underlying store could not be reached or
// could not complete a transaction.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Constraint(format string, args ...interface{}) error {
	return &ConstraintError{Message: fmt.Sprintf(format, args...)}
}

func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConstraint(err error) bool {
	var c *ConstraintError
	return errors.As(err, &c)
}

func IsStore(err error) bool {
	var s *StoreError
	return errors.As(err, &s)
}

// Body is the JSON payload of every error response.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
	// Reset tells the caller to drop its sort/filter view state.
	Reset bool `json:"reset,omitempty"`
}

// HTTP converts a service error into an echo HTTP error. Unknown errors are
// reported as 500 without leaking their text.
func HTTP(err error) *echo.HTTPError {
	var (
		v  *ValidationError
		nf *NotFoundError
		c  *ConstraintError
		s  *StoreError
	)
	switch {
	case errors.As(err, &v):
		return echo.NewHTTPError(http.StatusBadRequest, Body{Error: v.Error(), Code: "validation_error", Field: v.Field, Reset: true}).SetInternal(err)
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, Body{Error: nf.Error(), Code: "not_found"}).SetInternal(err)
	case errors.As(err, &c):
		return echo.NewHTTPError(http.StatusConflict, Body{Error: c.Error(), Code: "constraint_error"}).SetInternal(err)
	case errors.As(err, &s):
		return echo.NewHTTPError(http.StatusServiceUnavailable, Body{Error: "store unavailable", Code: "store_error"}).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, Body{Error: "internal server error", Code: "internal"}).SetInternal(err)
	}
}
