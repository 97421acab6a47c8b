// Package apierror centralizes the error taxonomy surfaced at the Upload
// Control Plane boundary: one typed error mapped to a uniform HTTP envelope
// instead of per-handler response literals.
package apierror

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code is one of the error kinds named by the system's error handling design.
type Code string

const (
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeNotReady              Code = "NOT_READY"
	CodeConflict              Code = "CONFLICT"
	CodeDurationExceeded      Code = "DURATION_EXCEEDED"
	CodeInvalidMedia          Code = "INVALID_MEDIA"
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"
	CodeInternal              Code = "INTERNAL"
)

// Error is the typed error carried through the UCP and pipeline.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that carries an underlying cause for logging, without
// leaking it to the client (INTERNAL never emits raw diagnostics).
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func httpStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotReady:
		return http.StatusConflict
	case CodeConflict:
		return http.StatusConflict
	case CodeDurationExceeded, CodeInvalidMedia:
		return http.StatusUnprocessableEntity
	case CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes the uniform {error: {code, message}} envelope for err,
// falling back to INTERNAL for errors that were never classified.
func Respond(c *gin.Context, err error) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = Wrap(CodeInternal, "internal error", err)
	}

	body := gin.H{
		"error": gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	}
	c.JSON(httpStatus(apiErr.Code), body)
}
