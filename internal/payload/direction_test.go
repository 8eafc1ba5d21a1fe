package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adeosun07/CTIserver-sub001/internal/payload"
)

func TestNormalizeDirection(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"inbound", "inbound"},
		{"incoming", "inbound"},
		{"in", "inbound"},
		{"outbound", "outbound"},
		{"outgoing", "outbound"},
		{"out", "outbound"},
		{"INBOUND", "inbound"},
		{" Outgoing ", "outbound"},
		{"sideways", ""},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, payload.NormalizeDirection(tc.raw))
		})
	}
}

func TestDirectionFromEventType(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"sms.received", "inbound"},
		{"sms.sent", "outbound"},
		{"message.inbound", "inbound"},
		{"message.outbound", "outbound"},
		{"sms.unknown", ""},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.eventType, func(t *testing.T) {
			assert.Equal(t, tc.want, payload.DirectionFromEventType(tc.eventType))
		})
	}
}
