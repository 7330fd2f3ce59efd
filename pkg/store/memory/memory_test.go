package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/recipient"
	"github.com/kart-io/msgbus/pkg/subscription"
)

func TestSubscriptionStore(t *testing.T) {
	s := NewSubscriptionStore()
	ctx := context.Background()

	active := s.Add(&subscription.Subscription{Sender: "svc-a", Category: "alert", Channel: "email", Recipient: 1, IsActive: true})
	s.Add(&subscription.Subscription{Sender: "svc-a", Category: "alert", Channel: "imtalk", Recipient: 2, IsActive: false})
	s.Add(&subscription.Subscription{Sender: "svc-b", Category: "alert", Channel: "email", Recipient: 3, IsActive: true})

	assert.Equal(t, subscription.DefaultCronExpr, active.CronExpr, "empty cron defaults to always-open")

	subs, err := s.ActiveBySenderCategory(ctx, "svc-a", "alert")
	require.NoError(t, err)
	require.Len(t, subs, 1, "inactive and other-sender rows are excluded")
	assert.Equal(t, active.ID, subs[0].ID)

	none, err := s.ActiveBySenderCategory(ctx, "svc-a", "report")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecipientStoreLookup(t *testing.T) {
	s := NewRecipientStore()
	ctx := context.Background()

	alice := s.Add(&recipient.Recipient{Name: "Alice", Email: "alice@example.com"})
	bob := s.Add(&recipient.Recipient{Name: "Bob", Email: "bob@example.com"})
	group := s.Add(&recipient.Recipient{Name: "oncall", IsGroup: true})
	s.AddMember(group.ID, alice.ID, true)
	s.AddMember(group.ID, bob.ID, false)

	got, err := s.GetByIDs(ctx, []int64{alice.ID, 999})
	require.NoError(t, err)
	require.Len(t, got, 1, "missing ids are omitted, not errors")
	assert.Equal(t, "Alice", got[0].Name)

	members, err := s.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 1, "inactive memberships are not expanded")
	assert.Equal(t, "Alice", members[0].Name)
}

func TestRecipientStoreSync(t *testing.T) {
	s := NewRecipientStore()
	ctx := context.Background()

	group := s.Add(&recipient.Recipient{Name: "oncall", IsGroup: true})

	require.NoError(t, s.UpsertByEmployeeID(ctx, &recipient.Recipient{
		Name: "Alice", EmployeeID: "E100", Email: "alice@example.com",
	}))
	require.NoError(t, s.UpsertByEmployeeID(ctx, &recipient.Recipient{
		Name: "Bob", EmployeeID: "E200", Email: "bob@example.com",
	}))

	// Upsert with an existing employee id updates in place.
	require.NoError(t, s.UpsertByEmployeeID(ctx, &recipient.Recipient{
		Name: "Alice Liddell", EmployeeID: "E100", Email: "alice.liddell@example.com", IMHandle: "alice",
	}))

	all, err := s.GetByIDs(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	byName := map[string]*recipient.Recipient{}
	for _, r := range all {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "Alice Liddell")
	assert.Equal(t, "alice.liddell@example.com", byName["Alice Liddell"].Email)
	assert.Equal(t, "alice", byName["Alice Liddell"].IMHandle)

	assert.Error(t, s.UpsertByEmployeeID(ctx, &recipient.Recipient{Name: "NoID"}))

	deleted, err := s.DeleteMissing(ctx, []string{"E100"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted, "only Bob is dropped")

	// Groups survive sync untouched.
	kept, err := s.GetByIDs(ctx, []int64{group.ID})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.True(t, kept[0].IsGroup)
}

func TestMessageStore(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()

	msg := message.New("svc-a", "alert", "T", "C")
	require.NoError(t, s.Create(ctx, msg))
	assert.NotZero(t, msg.ID)

	// Duplicate uuids are rejected.
	assert.Error(t, s.Create(ctx, &message.Message{UUID: msg.UUID}))

	sentAt := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateStatus(ctx, msg.UUID, message.StatusCompleted, &sentAt))

	stored, err := s.GetByUUID(ctx, msg.UUID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, message.StatusCompleted, stored.Status)
	require.NotNil(t, stored.SentAt)
	assert.Equal(t, sentAt, *stored.SentAt)

	missing, err := s.GetByUUID(ctx, "no-such-uuid")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.UpdateStatus(ctx, "no-such-uuid", message.StatusFailed, nil))
}

func TestMessageStoreReturnsCopies(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()

	msg := message.New("svc-a", "alert", "T", "C")
	require.NoError(t, s.Create(ctx, msg))

	first, err := s.GetByUUID(ctx, msg.UUID)
	require.NoError(t, err)
	first.Title = "mutated"

	second, err := s.GetByUUID(ctx, msg.UUID)
	require.NoError(t, err)
	assert.Equal(t, "T", second.Title)
}

func TestDeliveryLogStore(t *testing.T) {
	s := NewDeliveryLogStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []*message.DeliveryLog{
		{UUID: "m-1", TaskID: "t-1", Recipient: "a@x.com", Channel: "email", Status: "ok"},
		{UUID: "m-1", TaskID: "t-1", Recipient: "alice", Channel: "imtalk", Status: "error"},
		{UUID: "m-2", TaskID: "t-2", Recipient: "b@x.com", Channel: "email", Status: "ok"},
	}))

	rows, err := s.ByMessageUUID(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NotZero(t, rows[0].ID)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)

	empty, err := s.ByMessageUUID(ctx, "m-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
