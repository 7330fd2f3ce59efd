package errors

import (
	"fmt"
	"time"
)

// BusError is the structured error carried through the dispatch pipeline.
type BusError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Channel string    `json:"channel,omitempty"`
	Target  string    `json:"target,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *BusError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("%s: %s (channel: %s)", e.Code, e.Message, e.Channel)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *BusError) Unwrap() error {
	return e.Cause
}

// Is matches BusErrors by code so callers can use errors.Is with sentinel
// instances such as errors.New(errors.ErrNoRecipients, "").
func (e *BusError) Is(target error) bool {
	if targetErr, ok := target.(*BusError); ok {
		return e.Code == targetErr.Code
	}
	return false
}

// WithCause attaches the originating error.
func (e *BusError) WithCause(cause error) *BusError {
	e.Cause = cause
	return e
}

// WithChannel scopes the error to a channel.
func (e *BusError) WithChannel(channel string) *BusError {
	e.Channel = channel
	return e
}

// WithTarget scopes the error to a recipient address.
func (e *BusError) WithTarget(target string) *BusError {
	e.Target = target
	return e
}

// WithRequestID records the correlation id of the request that failed.
func (e *BusError) WithRequestID(id string) *BusError {
	e.RequestID = id
	return e
}

// IsRetryable reports whether the failed operation may be retried.
func (e *BusError) IsRetryable() bool {
	return IsRetryable(e.Code)
}

// New creates a new BusError.
func New(code ErrorCode, message string) *BusError {
	return &BusError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new BusError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *BusError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a BusError.
func Wrap(err error, code ErrorCode, message string) *BusError {
	return New(code, message).WithCause(err)
}

// Wrapf wraps an existing error with a BusError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *BusError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// GetCode extracts the error code from an error, defaulting to ErrInternal
// for errors that did not originate in this package.
func GetCode(err error) ErrorCode {
	if busErr, ok := err.(*BusError); ok {
		return busErr.Code
	}
	return ErrInternal
}

// CodeOf walks the error chain looking for a BusError and returns its code.
func CodeOf(err error) (ErrorCode, bool) {
	for err != nil {
		if busErr, ok := err.(*BusError); ok {
			return busErr.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
