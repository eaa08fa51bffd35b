package appliance

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrSession},
		{http.StatusForbidden, ErrSession},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusRequestTimeout, ErrTimeout},
		{http.StatusBadGateway, ErrServiceUnavailable},
		{http.StatusServiceUnavailable, ErrServiceUnavailable},
		{http.StatusGatewayTimeout, ErrServiceUnavailable},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusTeapot, ErrRequest},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStatus(tt.code))
		})
	}
}

func TestError_Format(t *testing.T) {
	err := &Error{Err: ErrValidation, StatusCode: 422, Message: "bad file"}
	assert.Equal(t, "appliance: validation failed (HTTP 422): bad file", err.Error())
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", err), ErrValidation))

	assert.Equal(t, "appliance: network error", (&Error{Err: ErrNetwork}).Error())
	assert.Equal(t, "appliance: network error: reset", (&Error{Err: ErrNetwork, Message: "reset"}).Error())
}

func TestIsSessionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrSession, true},
		{"wrapped sentinel", fmt.Errorf("submit: %w", &Error{Err: ErrSession}), true},
		{"phrase", errors.New("Session expired, please log in"), true},
		{"missing token phrase", errors.New("missing security token"), true},
		{"validation mentioning forbidden", &Error{Err: ErrValidation, Message: "forbidden characters in row 3"}, false},
		{"bad request mentioning unauthorized", &Error{Err: ErrRequest, StatusCode: 400, Message: "unauthorized column"}, false},
		{"token not found", ErrTokenNotFound, false},
		{"timeout", &Error{Err: ErrTimeout}, false},
		{"plain", errors.New("disk full"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSessionError(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "The appliance rejected the file: bad header",
		UserMessage(&Error{Err: ErrValidation, StatusCode: 422, Message: "bad header"}))
	assert.Equal(t, "The appliance rejected the file.", UserMessage(ErrValidation))
	assert.Contains(t, UserMessage(&Error{Err: ErrServerError, StatusCode: 500}), "HTTP 500")
	assert.Contains(t, UserMessage(ErrBusy), "already running")
	assert.Contains(t, UserMessage(&Error{Err: ErrSession, StatusCode: 302}), "session expired")
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}

func TestStatusAndExcerptOf(t *testing.T) {
	err := fmt.Errorf("x: %w", &Error{Err: ErrServerError, StatusCode: 500, Excerpt: "trace"})
	assert.Equal(t, 500, StatusOf(err))
	assert.Equal(t, "trace", ExcerptOf(err))
	assert.Zero(t, StatusOf(errors.New("y")))
	assert.Empty(t, ExcerptOf(errors.New("y")))
}
