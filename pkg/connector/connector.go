// Package connector provides the channel connector abstraction and the
// registry that maps channel names to configured connector instances.
package connector

import (
	"context"
	"fmt"

	"github.com/kart-io/msgbus/pkg/message"
)

// Connector is a protocol-specific sender for one channel. The dispatcher
// acquires the connection immediately before send and releases it immediately
// after, on every exit path.
type Connector interface {
	// Name returns the channel name this connector serves.
	Name() string
	// Connect establishes the transport session or acquires a valid
	// credential. Send must not be called on an unconnected connector.
	Connect(ctx context.Context) error
	// Send delivers the message to the full deduplicated recipient list in
	// one provider contact. Connectors do not retry; retry policy belongs to
	// the caller.
	Send(ctx context.Context, msg *message.Message, recipients []string) error
	// Disconnect releases the session. It must be safe to call after a
	// failed Connect or Send.
	Disconnect(ctx context.Context) error
}

// ProviderError is a provider-side rejection: a non-2xx response or an error
// code embedded in a 200 envelope. It is channel-scoped and never aborts
// sibling channels.
type ProviderError struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider rejected send on %s: [%s] %s", e.Channel, e.Code, e.Message)
}

// NewProviderError creates a typed provider rejection.
func NewProviderError(channel, code, message string) *ProviderError {
	return &ProviderError{Channel: channel, Code: code, Message: message}
}
