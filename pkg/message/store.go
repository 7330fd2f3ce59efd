package message

import (
	"context"
	"time"
)

// Store persists messages and their terminal status.
type Store interface {
	// Create inserts a new message and fills in its numeric ID.
	Create(ctx context.Context, msg *Message) error
	// UpdateStatus writes the terminal status and sent time for a message.
	UpdateStatus(ctx context.Context, uuid string, status Status, sentAt *time.Time) error
	// GetByUUID returns the message for a UUID, or nil when absent.
	GetByUUID(ctx context.Context, uuid string) (*Message, error)
}

// DeliveryLog records one recipient's outcome on one channel for one
// dispatch attempt.
type DeliveryLog struct {
	ID         int64     `json:"id"`
	UUID       string    `json:"uuid"`
	TaskID     string    `json:"task_id"`
	Recipient  string    `json:"recipient"`
	EmployeeID string    `json:"employee_id,omitempty"`
	Channel    string    `json:"channel"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DeliveryLogStore persists per-recipient delivery outcomes.
type DeliveryLogStore interface {
	// Append inserts delivery log rows for one dispatch attempt.
	Append(ctx context.Context, logs []*DeliveryLog) error
	// ByMessageUUID returns all delivery rows for a message.
	ByMessageUUID(ctx context.Context, uuid string) ([]*DeliveryLog, error)
}
