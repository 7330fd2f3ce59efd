// Package recipient provides recipient and group structures plus the
// read-only store interface the resolver consults.
package recipient

import "context"

// Channel names. Each channel owns one connector and one address field on the
// recipient record.
const (
	ChannelEmail   = "email"
	ChannelIMTalk  = "imtalk"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// Channels lists every channel the bus knows how to address.
func Channels() []string {
	return []string{ChannelEmail, ChannelIMTalk, ChannelSMS, ChannelWebhook}
}

// Recipient is either an individual (leaf, carries address fields) or a group
// (IsGroup set, addressed only through its membership).
type Recipient struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	IsGroup    bool   `json:"is_group"`
	EmployeeID string `json:"employee_id,omitempty"`
	Email      string `json:"email,omitempty"`
	IMHandle   string `json:"im_handle,omitempty"`
	SMSHandle  string `json:"sms_handle,omitempty"`
}

// GroupMember is one membership edge of a recipient group. Only direct members
// with Active set are expanded; group-of-groups is never recursed.
type GroupMember struct {
	Group     int64 `json:"group"`
	Recipient int64 `json:"recipient"`
	Active    bool  `json:"active"`
}

// AddressFor returns the recipient's address on the given channel. The
// channel-to-field mapping is a fixed switch: an unknown channel, a group, or
// a recipient without that address yields ok=false and the recipient is
// dropped from that channel's send list.
func (r *Recipient) AddressFor(channel string) (string, bool) {
	if r.IsGroup {
		return "", false
	}

	var addr string
	switch channel {
	case ChannelEmail:
		addr = r.Email
	case ChannelIMTalk:
		addr = r.IMHandle
	case ChannelSMS:
		addr = r.SMSHandle
	case ChannelWebhook:
		addr = r.EmployeeID
	default:
		return "", false
	}
	return addr, addr != ""
}

// Store is the read-only recipient lookup interface. Implementations must
// return consistent snapshots for the duration of one resolution.
type Store interface {
	// GetByIDs returns the recipients with the given ids. Missing ids are
	// omitted, not errors.
	GetByIDs(ctx context.Context, ids []int64) ([]*Recipient, error)
	// GetGroupMembers returns the active direct members of a group, one
	// level deep.
	GetGroupMembers(ctx context.Context, groupID int64) ([]*Recipient, error)
}

// SyncStore is the write interface the identity sync job uses to mirror the
// directory into the recipient table. Groups are never touched by sync.
type SyncStore interface {
	// UpsertByEmployeeID inserts or updates an individual keyed by employee id.
	UpsertByEmployeeID(ctx context.Context, r *Recipient) error
	// DeleteMissing removes individuals whose employee id is not in keep.
	DeleteMissing(ctx context.Context, keep []string) (int64, error)
}
