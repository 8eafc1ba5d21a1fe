package payload

import "strings"

// Canonical call directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// NormalizeDirection maps the upstream's direction variants onto the two
// canonical values. Unknown variants return "" and the caller logs them;
// an existing stored direction is never overwritten with "".
func NormalizeDirection(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "inbound", "incoming", "in":
		return DirectionInbound
	case "outbound", "outgoing", "out":
		return DirectionOutbound
	default:
		return ""
	}
}

// DirectionFromEventType derives a message direction from the event type
// string when the payload carries no explicit direction field.
func DirectionFromEventType(eventType string) string {
	t := strings.ToLower(eventType)
	switch {
	case strings.Contains(t, "received") || strings.Contains(t, "inbound"):
		return DirectionInbound
	case strings.Contains(t, "sent") || strings.Contains(t, "outbound"):
		return DirectionOutbound
	default:
		return ""
	}
}
