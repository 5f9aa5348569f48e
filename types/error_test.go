package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := NewError(ErrBadRequest, "malformed body")
	assert.Equal(t, "[BAD_REQUEST] malformed body", err.Error())

	withCause := NewError(ErrUpstreamError, "request failed").WithCause(errors.New("dial tcp: refused"))
	assert.Contains(t, withCause.Error(), "UPSTREAM_ERROR")
	assert.Contains(t, withCause.Error(), "dial tcp: refused")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root")
	err := NewError(ErrInternalError, "wrapper").WithCause(cause)

	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("outer: %w", err)
	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrInternalError, target.Code)
}

func TestError_Status(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrAuthRequired, http.StatusUnauthorized},
		{ErrAuthInvalid, http.StatusUnauthorized},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrRouteUnresolved, http.StatusBadGateway},
		{ErrUpstreamError, http.StatusBadGateway},
		{ErrConfigInvalid, http.StatusUnprocessableEntity},
		{ErrInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, NewError(tt.code, "x").Status())
		})
	}
}

func TestError_StatusOverride(t *testing.T) {
	err := NewError(ErrUpstreamError, "overloaded").WithHTTPStatus(529)
	assert.Equal(t, 529, err.Status())
}

func TestAsError(t *testing.T) {
	typed := NewError(ErrAuthInvalid, "bad key")
	assert.Same(t, typed, AsError(typed))

	plain := errors.New("boom")
	converted := AsError(plain)
	assert.Equal(t, ErrInternalError, converted.Code)
	assert.True(t, errors.Is(converted, plain))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrRouteUnresolved, GetErrorCode(NewError(ErrRouteUnresolved, "no provider")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrBadRequest, GetErrorCode(fmt.Errorf("wrap: %w", NewError(ErrBadRequest, "x"))))
}
