package common

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

const (
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeGeocodeFailed            = "GEOCODE_FAILED"
	CodeRouteProviderUnavailable = "ROUTE_PROVIDER_UNAVAILABLE"
	CodeCancelled                = "CANCELLED"
	CodePartialDataFailure       = "PARTIAL_DATA_FAILURE"
	CodeInternal                 = "INTERNAL"
)

// StatusClientClosedRequest is the non-standard status used when the caller
// went away before a result was produced.
const StatusClientClosedRequest = 499

// CodeError is a failure that is reported to the client as-is.
type CodeError struct {
	Code   string
	Status int
	Msg    string
	cause  error
}

func (c CodeError) Error() string {
	if c.cause != nil {
		return c.Msg + ": " + c.cause.Error()
	}
	return c.Msg
}

func (c CodeError) Unwrap() error {
	return c.cause
}

func NewCodeError(code string, status int, msg string) CodeError {
	return CodeError{Code: code, Status: status, Msg: msg}
}

// WithCause attaches an internal cause which is logged but never shown.
func (c CodeError) WithCause(err error) CodeError {
	c.cause = err
	return c
}

func InvalidRequest(msg string) CodeError {
	return NewCodeError(CodeInvalidRequest, http.StatusBadRequest, msg)
}

func Cancelled(err error) CodeError {
	return NewCodeError(CodeCancelled, StatusClientClosedRequest, "request cancelled").WithCause(err)
}

// AsCodeError maps any error to a CodeError. Context cancellation becomes
// CANCELLED; anything unknown is INTERNAL.
func AsCodeError(err error) CodeError {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(err)
	}
	return NewCodeError(CodeInternal, http.StatusInternalServerError, "internal error").WithCause(err)
}
