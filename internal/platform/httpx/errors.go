// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrConflict      = errors.New("conflicting state")
	ErrValidation    = errors.New("validation failed")
	ErrUnprocessable = errors.New("request cannot be applied")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
)

// Classify tags err with one of the sentinels above. The message stays err's
// own, so the problem detail reads like the domain error.
func Classify(category, err error) error {
	if err == nil {
		return nil
	}
	return &classified{category: category, err: err}
}

type classified struct {
	category error
	err      error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Is(target error) bool { return target == c.category }

func (c *classified) Unwrap() error { return c.err }

// FieldError is implemented by validation errors that name the offending field.
type FieldError interface {
	error
	FieldName() string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		var fe FieldError
		if errors.As(err, &fe) {
			ValidationProblem(w, err.Error(), map[string]string{fe.FieldName(): err.Error()})
			return
		}
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnprocessable):
		Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
