// Package memory provides in-process store implementations for single-node
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/recipient"
	"github.com/kart-io/msgbus/pkg/subscription"
)

// SubscriptionStore is an in-memory subscription table.
type SubscriptionStore struct {
	mu     sync.RWMutex
	nextID int64
	subs   []*subscription.Subscription
}

// NewSubscriptionStore creates an empty subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{nextID: 1}
}

// Add inserts a subscription, assigning its id.
func (s *SubscriptionStore) Add(sub *subscription.Subscription) *subscription.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	cp.ID = s.nextID
	s.nextID++
	if cp.CronExpr == "" {
		cp.CronExpr = subscription.DefaultCronExpr
	}
	s.subs = append(s.subs, &cp)
	return &cp
}

// ActiveBySenderCategory returns active subscriptions matching exactly.
func (s *SubscriptionStore) ActiveBySenderCategory(_ context.Context, sender, category string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if sub.IsActive && sub.Sender == sender && sub.Category == category {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// RecipientStore is an in-memory recipient and membership table.
type RecipientStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*recipient.Recipient
	members map[int64][]recipient.GroupMember
}

// NewRecipientStore creates an empty recipient store.
func NewRecipientStore() *RecipientStore {
	return &RecipientStore{
		nextID:  1,
		byID:    make(map[int64]*recipient.Recipient),
		members: make(map[int64][]recipient.GroupMember),
	}
}

// Add inserts a recipient, assigning its id.
func (s *RecipientStore) Add(r *recipient.Recipient) *recipient.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.ID = s.nextID
	s.nextID++
	s.byID[cp.ID] = &cp
	return &cp
}

// AddMember links a recipient into a group.
func (s *RecipientStore) AddMember(groupID, recipientID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[groupID] = append(s.members[groupID], recipient.GroupMember{
		Group:     groupID,
		Recipient: recipientID,
		Active:    active,
	})
}

// GetByIDs returns the recipients with the given ids; missing ids are omitted.
func (s *RecipientStore) GetByIDs(_ context.Context, ids []int64) ([]*recipient.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*recipient.Recipient, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.byID[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetGroupMembers returns the active direct members of a group.
func (s *RecipientStore) GetGroupMembers(_ context.Context, groupID int64) ([]*recipient.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*recipient.Recipient
	for _, m := range s.members[groupID] {
		if !m.Active {
			continue
		}
		if r, ok := s.byID[m.Recipient]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpsertByEmployeeID inserts or updates an individual keyed by employee id.
func (s *RecipientStore) UpsertByEmployeeID(_ context.Context, r *recipient.Recipient) error {
	if r.EmployeeID == "" {
		return errors.New(errors.ErrBadRequest, "recipient employee id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if !existing.IsGroup && existing.EmployeeID == r.EmployeeID {
			existing.Name = r.Name
			existing.Email = r.Email
			existing.IMHandle = r.IMHandle
			existing.SMSHandle = r.SMSHandle
			return nil
		}
	}

	cp := *r
	cp.ID = s.nextID
	cp.IsGroup = false
	s.nextID++
	s.byID[cp.ID] = &cp
	return nil
}

// DeleteMissing removes individuals whose employee id is not in keep.
func (s *RecipientStore) DeleteMissing(_ context.Context, keep []string) (int64, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, r := range s.byID {
		if r.IsGroup || r.EmployeeID == "" {
			continue
		}
		if _, ok := keepSet[r.EmployeeID]; !ok {
			delete(s.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

// MessageStore is an in-memory message table.
type MessageStore struct {
	mu     sync.RWMutex
	nextID int64
	byUUID map[string]*message.Message
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{nextID: 1, byUUID: make(map[string]*message.Message)}
}

// Create inserts a new message and fills in its numeric id.
func (s *MessageStore) Create(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUUID[msg.UUID]; exists {
		return errors.Newf(errors.ErrStore, "message uuid=%s already exists", msg.UUID)
	}
	msg.ID = s.nextID
	s.nextID++

	cp := *msg
	s.byUUID[msg.UUID] = &cp
	return nil
}

// UpdateStatus writes the terminal status and sent time for a message.
func (s *MessageStore) UpdateStatus(_ context.Context, uuid string, status message.Status, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byUUID[uuid]
	if !ok {
		return errors.Newf(errors.ErrStore, "message uuid=%s not found", uuid)
	}
	msg.Status = status
	msg.SentAt = sentAt
	return nil
}

// GetByUUID returns the message for a uuid, or nil when absent.
func (s *MessageStore) GetByUUID(_ context.Context, uuid string) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byUUID[uuid]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

// DeliveryLogStore is an in-memory delivery log.
type DeliveryLogStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*message.DeliveryLog
}

// NewDeliveryLogStore creates an empty delivery log store.
func NewDeliveryLogStore() *DeliveryLogStore {
	return &DeliveryLogStore{nextID: 1}
}

// Append inserts delivery log rows for one dispatch attempt.
func (s *DeliveryLogStore) Append(_ context.Context, logs []*message.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range logs {
		cp := *row
		cp.ID = s.nextID
		s.nextID++
		s.rows = append(s.rows, &cp)
	}
	return nil
}

// ByMessageUUID returns all delivery rows for a message.
func (s *DeliveryLogStore) ByMessageUUID(_ context.Context, uuid string) ([]*message.DeliveryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*message.DeliveryLog
	for _, row := range s.rows {
		if row.UUID == uuid {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}
