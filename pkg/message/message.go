// Package message provides the message structure carried through the dispatch
// pipeline.
package message

import (
	"time"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/utils/idgen"
)

// Status represents the lifecycle state of a message.
type Status string

const (
	// StatusCreated is the initial state of an accepted message.
	StatusCreated Status = "created"
	// StatusCompleted marks a message that was delivered on at least one channel.
	StatusCompleted Status = "completed"
	// StatusFailed marks a message whose every channel attempt failed.
	StatusFailed Status = "failed"
)

// Message is one inbound notification. The UUID is the correlation key for all
// delivery attempts belonging to the message; content is immutable once the
// message has been dispatched.
type Message struct {
	ID        int64      `json:"id"`
	UUID      string     `json:"uuid"`
	Sender    string     `json:"sender"`
	Category  string     `json:"category"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// New creates a message in the created state with a fresh uuid.
func New(sender, category, title, content string) *Message {
	return &Message{
		UUID:      idgen.NewUUID(),
		Sender:    sender,
		Category:  category,
		Title:     title,
		Content:   content,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
	}
}

// WithUUID overrides the generated uuid with a caller-supplied one.
func (m *Message) WithUUID(uuid string) *Message {
	if uuid != "" {
		m.UUID = uuid
	}
	return m
}

// MarkCompleted transitions the message to completed and stamps SentAt.
func (m *Message) MarkCompleted(at time.Time) {
	m.Status = StatusCompleted
	m.SentAt = &at
}

// MarkFailed transitions the message to failed. SentAt stays nil because
// nothing was delivered.
func (m *Message) MarkFailed() {
	m.Status = StatusFailed
}

// Validate checks the fields the dispatcher requires.
func (m *Message) Validate() error {
	if m.Sender == "" {
		return errors.New(errors.ErrBadRequest, "message sender cannot be empty")
	}
	if m.Category == "" {
		return errors.New(errors.ErrBadRequest, "message category cannot be empty")
	}
	if m.Title == "" && m.Content == "" {
		return errors.New(errors.ErrBadRequest, "message title and content cannot both be empty")
	}
	if m.UUID == "" {
		return errors.New(errors.ErrBadRequest, "message uuid cannot be empty")
	}
	return nil
}
