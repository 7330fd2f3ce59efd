// Package idgen provides message and correlation id generation.
package idgen

import (
	"github.com/google/uuid"
)

// NewUUID returns a random (v4) UUID string. Every inbound request gets one as
// its correlation id, and it becomes the message uuid when the caller does not
// supply one.
func NewUUID() string {
	return uuid.NewString()
}

// IsValid reports whether s parses as a UUID in any accepted textual form.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
