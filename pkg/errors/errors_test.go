package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusErrorFormatting(t *testing.T) {
	plain := New(ErrNoSubscription, "no subscription matched")
	assert.Equal(t, "NO_SUBSCRIPTION: no subscription matched", plain.Error())

	scoped := New(ErrProviderRejected, "provider refused").WithChannel("imtalk")
	assert.Equal(t, "PROVIDER_REJECTED: provider refused (channel: imtalk)", scoped.Error())
}

func TestBusErrorChaining(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrTransport, "smtp connect").
		WithChannel("email").
		WithTarget("a@x.com").
		WithRequestID("req-1")

	assert.Equal(t, ErrTransport, err.Code)
	assert.Equal(t, "email", err.Channel)
	assert.Equal(t, "a@x.com", err.Target)
	assert.Equal(t, "req-1", err.RequestID)
	assert.Same(t, cause, stderrors.Unwrap(err))
	assert.False(t, err.Timestamp.IsZero())
}

func TestBusErrorIsMatchesByCode(t *testing.T) {
	err := Newf(ErrNoRecipients, "channel %s resolved nobody", "email")
	assert.True(t, stderrors.Is(err, New(ErrNoRecipients, "")))
	assert.False(t, stderrors.Is(err, New(ErrNoSubscription, "")))
	assert.False(t, stderrors.Is(err, fmt.Errorf("plain")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrTimeout, GetCode(New(ErrTimeout, "deadline")))
	// Non-bus errors default to internal.
	assert.Equal(t, ErrInternal, GetCode(fmt.Errorf("plain")))
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New(ErrProviderRejected, "rejected")
	wrapped := fmt.Errorf("send failed: %w", inner)

	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrProviderRejected, code)

	_, ok = CodeOf(fmt.Errorf("plain"))
	assert.False(t, ok)

	_, ok = CodeOf(nil)
	assert.False(t, ok)
}

func TestCategories(t *testing.T) {
	assert.Equal(t, "resolution", GetCategory(ErrNoSubscription))
	assert.Equal(t, "provider", GetCategory(ErrTokenExchange))
	assert.Equal(t, "network", GetCategory(ErrTimeout))
	assert.Equal(t, "internal", GetCategory(ErrorCode("BOGUS")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransport))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrTokenExchange))
	assert.False(t, IsRetryable(ErrBadRequest))
	assert.False(t, IsRetryable(ErrProviderRejected))

	assert.True(t, New(ErrStore, "down").IsRetryable())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrBadRequest, http.StatusBadRequest},
		{ErrNoSubscription, http.StatusUnprocessableEntity},
		{ErrNoRecipients, http.StatusUnprocessableEntity},
		{ErrTimeout, http.StatusGatewayTimeout},
		{ErrProviderRejected, http.StatusInternalServerError},
		{ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.code), string(tt.code))
	}
}
