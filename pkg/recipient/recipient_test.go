package recipient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressFor(t *testing.T) {
	alice := &Recipient{
		ID:         1,
		Name:       "Alice",
		EmployeeID: "E100",
		Email:      "alice@example.com",
		IMHandle:   "alice",
		SMSHandle:  "+15550100",
	}

	tests := []struct {
		channel string
		want    string
		wantOK  bool
	}{
		{ChannelEmail, "alice@example.com", true},
		{ChannelIMTalk, "alice", true},
		{ChannelSMS, "+15550100", true},
		{ChannelWebhook, "E100", true},
		{"carrier-pigeon", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			got, ok := alice.AddressFor(tt.channel)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddressForMissingAddress(t *testing.T) {
	bob := &Recipient{ID: 2, Name: "Bob", Email: "bob@example.com"}

	_, ok := bob.AddressFor(ChannelIMTalk)
	assert.False(t, ok, "a recipient without an IM handle is dropped from that channel")

	addr, ok := bob.AddressFor(ChannelEmail)
	assert.True(t, ok)
	assert.Equal(t, "bob@example.com", addr)
}

func TestAddressForGroup(t *testing.T) {
	oncall := &Recipient{ID: 3, Name: "oncall", IsGroup: true, Email: "oncall@example.com"}

	// Groups are addressed only through their members.
	_, ok := oncall.AddressFor(ChannelEmail)
	assert.False(t, ok)
}

func TestChannels(t *testing.T) {
	assert.Equal(t, []string{ChannelEmail, ChannelIMTalk, ChannelSMS, ChannelWebhook}, Channels())
}
