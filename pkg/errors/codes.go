// Package errors provides the error taxonomy for the message bus.
package errors

import "net/http"

// ErrorCode represents a stable, machine-readable error identifier.
type ErrorCode string

// Request-phase errors. These abort a dispatch before any connector is touched.
const (
	// ErrBadRequest indicates a malformed or missing inbound payload.
	ErrBadRequest ErrorCode = "BAD_REQUEST"
	// ErrNoSubscription indicates no subscription matched and no explicit
	// recipients were supplied.
	ErrNoSubscription ErrorCode = "NO_SUBSCRIPTION"
	// ErrNoRecipients indicates resolution completed but produced zero
	// deliverable recipients on every channel.
	ErrNoRecipients ErrorCode = "NO_RECIPIENTS"
)

// Dispatch-phase errors. These are scoped to a single channel and never abort
// sibling channels.
const (
	// ErrProviderRejected indicates the remote provider refused the delivery,
	// either with a non-2xx status or an error code embedded in a 200 envelope.
	ErrProviderRejected ErrorCode = "PROVIDER_REJECTED"
	// ErrTransport indicates a network-level failure talking to a provider.
	ErrTransport ErrorCode = "TRANSPORT_FAILED"
	// ErrTimeout indicates the caller's deadline expired before the channel
	// finished sending.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrUnknownChannel indicates a channel name with no registered connector.
	ErrUnknownChannel ErrorCode = "UNKNOWN_CHANNEL"
	// ErrTokenExchange indicates a credential exchange with a provider failed.
	ErrTokenExchange ErrorCode = "TOKEN_EXCHANGE_FAILED"
)

// Infrastructure errors.
const (
	// ErrInvalidConfig indicates a configuration problem detected at startup
	// or connector construction.
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrStore indicates a failure in the subscription/recipient/token store.
	ErrStore ErrorCode = "STORE_FAILED"
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal ErrorCode = "INTERNAL"
)

// categories maps each code to a coarse grouping used for logging and metrics.
var categories = map[ErrorCode]string{
	ErrBadRequest:       "request",
	ErrNoSubscription:   "resolution",
	ErrNoRecipients:     "resolution",
	ErrProviderRejected: "provider",
	ErrTransport:        "network",
	ErrTimeout:          "network",
	ErrUnknownChannel:   "configuration",
	ErrTokenExchange:    "provider",
	ErrInvalidConfig:    "configuration",
	ErrStore:            "store",
	ErrInternal:         "internal",
}

// retryable marks codes whose operations may succeed on a later attempt.
var retryable = map[ErrorCode]bool{
	ErrTransport:     true,
	ErrTimeout:       true,
	ErrTokenExchange: true,
	ErrStore:         true,
}

// GetCategory returns the category of a code, or "internal" when unknown.
func GetCategory(code ErrorCode) string {
	if c, ok := categories[code]; ok {
		return c
	}
	return "internal"
}

// IsRetryable reports whether operations failing with this code may be retried.
func IsRetryable(code ErrorCode) bool {
	return retryable[code]
}

// HTTPStatus maps an error code to the status the transport layer should
// return for it.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrNoSubscription, ErrNoRecipients:
		return http.StatusUnprocessableEntity
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
